package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/keyspace"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
)

// gatedStore blocks every Get until release is closed.
type gatedStore struct {
	*store.MemoryStore
	release chan struct{}
}

func (s *gatedStore) Get(ctx context.Context, name string) ([]byte, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MemoryStore.Get(ctx, name)
}

func putShard(t *testing.T, s *store.MemoryStore, bucketID string, keys ...string) {
	t.Helper()
	shard := &index.Shard{BucketID: bucketID}
	for _, k := range keys {
		shard.Entries = append(shard.Entries, index.Entry{
			Key:          k,
			DisplayLabel: k,
			Occurrences:  []index.Occurrence{{Anchor: "../index.html#" + k}},
		})
	}
	data, err := index.EncodeShard(shard)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), index.ShardName(bucketID), data))
}

func putManifest(t *testing.T, s *store.MemoryStore, scheme string, ids ...string) {
	t.Helper()
	data, err := index.EncodeManifest(&index.Manifest{
		Version:   index.FormatVersion,
		Scheme:    scheme,
		PrefixLen: 1,
		BucketIDs: ids,
	})
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), index.ManifestName, data))
}

func newRegistry(t *testing.T, s store.Store, opts Options) *Registry {
	t.Helper()
	r, err := New(s, keyspace.DefaultBucketer, opts)
	require.NoError(t, err)
	return r
}

func TestEnsureLoadedCachesShard(t *testing.T) {
	mem := store.NewMemoryStore()
	putShard(t, mem, "66", "forward", "fsr")
	r := newRegistry(t, mem, Options{})

	assert.Equal(t, StateUnloaded, r.State("66"))
	s1, err := r.EnsureLoaded(context.Background(), "66")
	require.NoError(t, err)
	assert.Equal(t, 2, s1.Len())
	s2, err := r.EnsureLoaded(context.Background(), "66")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, StateLoaded, r.State("66"))
	assert.Equal(t, 1, mem.Gets(index.ShardName("66")))
}

func TestConcurrentCallersShareOneLoad(t *testing.T) {
	mem := store.NewMemoryStore()
	putShard(t, mem, "66", "forward")
	gated := &gatedStore{MemoryStore: mem, release: make(chan struct{})}
	r := newRegistry(t, gated, Options{})

	const callers = 32
	var wg sync.WaitGroup
	shards := make([]*index.Shard, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			shards[i], errs[i] = r.EnsureLoaded(context.Background(), "66")
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gated.release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, shards[0], shards[i])
	}
	assert.Equal(t, 1, mem.Gets(index.ShardName("66")))
}

func TestFailedBucketIsNotRetriedUntilReload(t *testing.T) {
	mem := store.NewMemoryStore()
	require.NoError(t, mem.Put(context.Background(), index.ShardName("66"), []byte("{not json")))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := newRegistry(t, mem, Options{Metrics: m})

	_, err := r.EnsureLoaded(context.Background(), "66")
	require.Error(t, err)
	var sle *apperrors.ShardLoadError
	require.True(t, errors.As(err, &sle))
	assert.Equal(t, "66", sle.BucketID)
	assert.True(t, errors.Is(err, apperrors.ErrShardLoad))

	_, err = r.EnsureLoaded(context.Background(), "66")
	require.Error(t, err)
	assert.Equal(t, StateFailed, r.State("66"))
	assert.Equal(t, 1, mem.Gets(index.ShardName("66")), "failure is cached")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShardLoadsTotal.WithLabelValues("failed")))

	putShard(t, mem, "66", "forward")
	r.Reload("66")
	assert.Equal(t, StateUnloaded, r.State("66"))
	s, err := r.EnsureLoaded(context.Background(), "66")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, mem.Gets(index.ShardName("66")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShardsLoaded))
}

func TestMalformedShardIsReported(t *testing.T) {
	mem := store.NewMemoryStore()
	// Out-of-order keys.
	shard := &index.Shard{BucketID: "66", Entries: []index.Entry{
		{Key: "fsr", Occurrences: []index.Occurrence{{Anchor: "#a"}}},
		{Key: "forward", Occurrences: []index.Occurrence{{Anchor: "#b"}}},
	}}
	data, err := index.EncodeShard(shard)
	require.NoError(t, err)
	require.NoError(t, mem.Put(context.Background(), index.ShardName("66"), data))
	r := newRegistry(t, mem, Options{})

	_, err = r.EnsureLoaded(context.Background(), "66")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrShardLoad))
	assert.True(t, errors.Is(err, apperrors.ErrMalformedIndex))
}

func TestUnknownBucket(t *testing.T) {
	r := newRegistry(t, store.NewMemoryStore(), Options{})
	_, err := r.EnsureLoaded(context.Background(), "7a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrShardLoad))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestCancelledCallerDoesNotPoisonLoad(t *testing.T) {
	mem := store.NewMemoryStore()
	putShard(t, mem, "66", "forward")
	gated := &gatedStore{MemoryStore: mem, release: make(chan struct{})}
	r := newRegistry(t, gated, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.EnsureLoaded(ctx, "66")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))

	close(gated.release)
	s, err := r.EnsureLoaded(context.Background(), "66")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, StateLoaded, r.State("66"))
	assert.Equal(t, 1, mem.Gets(index.ShardName("66")))
}

func TestLoadTimeoutFailsBucket(t *testing.T) {
	gated := &gatedStore{MemoryStore: store.NewMemoryStore(), release: make(chan struct{})}
	r := newRegistry(t, gated, Options{LoadTimeout: 5 * time.Millisecond})

	_, err := r.EnsureLoaded(context.Background(), "66")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, StateFailed, r.State("66"))
}

func TestManifest(t *testing.T) {
	mem := store.NewMemoryStore()
	putManifest(t, mem, keyspace.DefaultBucketer.Scheme(), "74", "66", "66")
	r := newRegistry(t, mem, Options{})

	m, err := r.Manifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"66", "74"}, m.BucketIDs)
	assert.True(t, m.Has("66"))

	_, err = r.Manifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Gets(index.ManifestName))

	r.Reload()
	_, err = r.Manifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, mem.Gets(index.ManifestName))
}

func TestBucketReloadRefreshesManifest(t *testing.T) {
	mem := store.NewMemoryStore()
	putManifest(t, mem, keyspace.DefaultBucketer.Scheme(), "66")
	r := newRegistry(t, mem, Options{})

	m, err := r.Manifest(context.Background())
	require.NoError(t, err)
	assert.False(t, m.Has("74"))

	putManifest(t, mem, keyspace.DefaultBucketer.Scheme(), "66", "74")
	r.Reload("74")
	m, err = r.Manifest(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Has("74"))
	assert.Equal(t, 2, mem.Gets(index.ManifestName))
}

func TestManifestSchemeMismatch(t *testing.T) {
	mem := store.NewMemoryStore()
	putManifest(t, mem, keyspace.Bucketer{PrefixLen: 2, Buckets: 256}.Scheme(), "0a")
	r := newRegistry(t, mem, Options{})

	_, err := r.Manifest(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrSchemeMismatch))
}

func TestStatusAndFullReload(t *testing.T) {
	mem := store.NewMemoryStore()
	putShard(t, mem, "66", "forward")
	putShard(t, mem, "74", "tt_imagetoangles_py_tt")
	r := newRegistry(t, mem, Options{})

	for _, id := range []string{"74", "66", "7a"} {
		r.EnsureLoaded(context.Background(), id)
	}
	st := r.Status()
	require.Len(t, st, 3)
	assert.Equal(t, "66", st[0].BucketID)
	assert.Equal(t, StateLoaded, st[0].State)
	assert.Equal(t, 1, st[0].Entries)
	assert.Equal(t, StateFailed, st[2].State)
	assert.NotEmpty(t, st[2].Error)

	r.Reload()
	assert.Empty(t, r.Status())
}

func TestNewRejectsInvalidBucketer(t *testing.T) {
	_, err := New(store.NewMemoryStore(), keyspace.Bucketer{}, Options{})
	assert.Error(t, err)
}
