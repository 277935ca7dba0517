// Package registry maps bucket ids to loaded shards. Each bucket is loaded at
// most once for the registry's lifetime: concurrent requests for the same
// uncached bucket share one in-flight load, successes and failures are both
// cached, and only an explicit Reload returns a bucket to the unloaded state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/keyspace"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
)

// State is the lifecycle of one bucket.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoaded   State = "loaded"
	StateFailed   State = "failed"
)

// manifestKey cannot collide with a bucket id, which is always hex.
const manifestKey = "manifest"

const defaultLoadTimeout = 10 * time.Second

// Options tunes a Registry. The zero value is usable.
type Options struct {
	LoadTimeout time.Duration
	Metrics     *metrics.Metrics
}

// BucketStatus is a snapshot of one bucket for diagnostics.
type BucketStatus struct {
	BucketID string    `json:"bucket_id"`
	State    State     `json:"state"`
	Entries  int       `json:"entries,omitempty"`
	Error    string    `json:"error,omitempty"`
	LoadedAt time.Time `json:"loaded_at,omitzero"`
}

type slot struct {
	shard    *index.Shard
	err      error
	loadedAt time.Time
}

type manifestSlot struct {
	manifest *index.Manifest
	err      error
}

// Registry is safe for concurrent use.
type Registry struct {
	store    store.Store
	bucketer keyspace.Bucketer
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	group    singleflight.Group

	mu         sync.RWMutex
	slots      map[string]*slot
	manifest   *manifestSlot
	generation uint64
}

func New(s store.Store, bucketer keyspace.Bucketer, opts Options) (*Registry, error) {
	if err := bucketer.Validate(); err != nil {
		return nil, err
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	return &Registry{
		store:    s,
		bucketer: bucketer,
		timeout:  opts.LoadTimeout,
		metrics:  opts.Metrics,
		logger:   slog.Default().With("component", "shard-registry"),
		slots:    make(map[string]*slot),
	}, nil
}

// Bucketer returns the bucketing function shards are looked up with.
func (r *Registry) Bucketer() keyspace.Bucketer {
	return r.bucketer
}

// Manifest returns the index manifest, loading it on first use. A manifest
// built with a different bucketing scheme is rejected.
func (r *Registry) Manifest(ctx context.Context) (*index.Manifest, error) {
	r.mu.RLock()
	if m := r.manifest; m != nil {
		r.mu.RUnlock()
		return m.manifest, m.err
	}
	r.mu.RUnlock()

	ch := r.group.DoChan(manifestKey, func() (any, error) {
		return r.loadManifest()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*index.Manifest), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnsureLoaded returns the shard for bucketID, loading it if needed. A failed
// bucket keeps returning its *errors.ShardLoadError until Reload. If ctx ends
// first the caller stops waiting but the load continues for other callers.
func (r *Registry) EnsureLoaded(ctx context.Context, bucketID string) (*index.Shard, error) {
	if s, ok := r.cached(bucketID); ok {
		return s.shard, s.err
	}

	ch := r.group.DoChan("shard/"+bucketID, func() (any, error) {
		return r.loadShard(bucketID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*index.Shard), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reload forgets the named buckets, or every bucket when none are named, so
// the next request loads them again. The manifest is always forgotten since a
// rebuild may add or drop buckets. Loads already in flight complete for their
// waiters but are not cached.
func (r *Registry) Reload(bucketIDs ...string) {
	r.mu.Lock()
	r.generation++
	if len(bucketIDs) == 0 {
		for id := range r.slots {
			r.group.Forget("shard/" + id)
		}
		r.slots = make(map[string]*slot)
	} else {
		for _, id := range bucketIDs {
			delete(r.slots, id)
			r.group.Forget("shard/" + id)
		}
	}
	r.manifest = nil
	r.group.Forget(manifestKey)
	loaded := r.loadedLocked()
	r.mu.Unlock()

	r.setLoadedGauge(loaded)
	r.logger.Info("registry reloaded", "buckets", bucketIDs, "still_loaded", loaded)
}

// Status returns every bucket the registry has seen, sorted by id.
func (r *Registry) Status() []BucketStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BucketStatus, 0, len(r.slots))
	for id, s := range r.slots {
		st := BucketStatus{BucketID: id, LoadedAt: s.loadedAt}
		if s.err != nil {
			st.State = StateFailed
			st.Error = s.err.Error()
		} else {
			st.State = StateLoaded
			st.Entries = s.shard.Len()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketID < out[j].BucketID })
	return out
}

// State reports the lifecycle state of one bucket.
func (r *Registry) State(bucketID string) State {
	s, ok := r.cached(bucketID)
	switch {
	case !ok:
		return StateUnloaded
	case s.err != nil:
		return StateFailed
	default:
		return StateLoaded
	}
}

func (r *Registry) cached(bucketID string) (*slot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[bucketID]
	return s, ok
}

func (r *Registry) loadShard(bucketID string) (*index.Shard, error) {
	// A load that finished between the caller's cache check and DoChan
	// must not be repeated.
	r.mu.RLock()
	if s, ok := r.slots[bucketID]; ok {
		r.mu.RUnlock()
		return s.shard, s.err
	}
	gen := r.generation
	r.mu.RUnlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	shard, err := r.fetchShard(ctx, bucketID)
	duration := time.Since(start)
	if err != nil {
		err = &apperrors.ShardLoadError{BucketID: bucketID, Cause: err}
	}

	r.mu.Lock()
	committed := gen == r.generation
	if committed {
		r.slots[bucketID] = &slot{shard: shard, err: err, loadedAt: time.Now()}
	}
	loaded := r.loadedLocked()
	r.mu.Unlock()

	r.observeLoad(err, duration, loaded)
	if err != nil {
		r.logger.Warn("shard load failed",
			"bucket_id", bucketID,
			"duration_ms", duration.Milliseconds(),
			"cached", committed,
			"error", err,
		)
		return nil, err
	}
	r.logger.Debug("shard loaded",
		"bucket_id", bucketID,
		"entries", shard.Len(),
		"duration_ms", duration.Milliseconds(),
		"cached", committed,
	)
	return shard, nil
}

func (r *Registry) fetchShard(ctx context.Context, bucketID string) (*index.Shard, error) {
	data, err := r.store.Get(ctx, index.ShardName(bucketID))
	if err != nil {
		return nil, err
	}
	return index.DecodeShard(bucketID, data)
}

func (r *Registry) loadManifest() (*index.Manifest, error) {
	r.mu.RLock()
	if m := r.manifest; m != nil {
		r.mu.RUnlock()
		return m.manifest, m.err
	}
	gen := r.generation
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	m, err := r.fetchManifest(ctx)

	r.mu.Lock()
	if gen == r.generation {
		r.manifest = &manifestSlot{manifest: m, err: err}
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("manifest load failed", "error", err)
		return nil, err
	}
	r.logger.Info("manifest loaded",
		"scheme", m.Scheme,
		"buckets", len(m.BucketIDs),
		"entries", m.EntryCount,
		"built_at", m.BuiltAt,
	)
	return m, nil
}

func (r *Registry) fetchManifest(ctx context.Context) (*index.Manifest, error) {
	data, err := r.store.Get(ctx, index.ManifestName)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}
	m, err := index.DecodeManifest(data)
	if err != nil {
		return nil, err
	}
	if m.Scheme != r.bucketer.Scheme() {
		return nil, fmt.Errorf("%w: index built with %q, resolver uses %q",
			apperrors.ErrSchemeMismatch, m.Scheme, r.bucketer.Scheme())
	}
	return m, nil
}

func (r *Registry) loadedLocked() int {
	n := 0
	for _, s := range r.slots {
		if s.err == nil {
			n++
		}
	}
	return n
}

func (r *Registry) observeLoad(err error, d time.Duration, loaded int) {
	if r.metrics == nil {
		return
	}
	outcome := "loaded"
	switch {
	case errors.Is(err, apperrors.ErrMalformedIndex):
		outcome = "malformed"
	case err != nil:
		outcome = "failed"
	}
	r.metrics.ShardLoadsTotal.WithLabelValues(outcome).Inc()
	r.metrics.ShardLoadDuration.Observe(d.Seconds())
	r.metrics.ShardsLoaded.Set(float64(loaded))
}

func (r *Registry) setLoadedGauge(loaded int) {
	if r.metrics != nil {
		r.metrics.ShardsLoaded.Set(float64(loaded))
	}
}
