package builder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/keyspace"
)

func occ(title, anchor string) index.Occurrence {
	return index.Occurrence{Title: title, Anchor: anchor}
}

func sampleEntries() []index.Entry {
	return []index.Entry{
		{Key: "Forward Kinematics", DisplayLabel: "Forward Kinematics", Occurrences: []index.Occurrence{occ("", "../index.html#autotoc_md31")}},
		{Key: "tt_imagetoangles.py", DisplayLabel: "tt_imagetoangles.py", Occurrences: []index.Occurrence{occ("", "../tt__imagetoangles_8py.html")}},
		{Key: "forward and inverse kinematics", DisplayLabel: "Forward and Inverse Kinematics", Occurrences: []index.Occurrence{occ("", "../index.html#autotoc_md29")}},
		{Key: "tt_imagetoangles_py", DisplayLabel: "tt_imagetoangles.py", Occurrences: []index.Occurrence{occ("", "../tt__imagetoangles_8py.html"), occ("", "../namespacett__imagetoangles.html")}},
		{Key: "FSR", DisplayLabel: "FSR", Occurrences: []index.Occurrence{occ("", "../index.html#autotoc_md39")}},
		{Key: "  ", DisplayLabel: "blank", Occurrences: []index.Occurrence{occ("", "#x")}},
		{Key: "orphan"},
	}
}

func TestPartition(t *testing.T) {
	shards, err := Partition(sampleEntries(), keyspace.DefaultBucketer)
	require.NoError(t, err)
	require.Len(t, shards, 2)

	assert.Equal(t, "66", shards[0].BucketID)
	keys := make([]string, 0, shards[0].Len())
	for _, e := range shards[0].Entries {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"forward_and_inverse_kinematics", "forward_kinematics", "fsr"}, keys)

	assert.Equal(t, "74", shards[1].BucketID)
	require.Equal(t, 1, shards[1].Len())
	tt := shards[1].Entries[0]
	assert.Equal(t, "tt_imagetoangles_py", tt.Key)
	assert.Equal(t, "tt_imagetoangles.py", tt.DisplayLabel)
	assert.Equal(t, []index.Occurrence{
		occ("", "../tt__imagetoangles_8py.html"),
		occ("", "../namespacett__imagetoangles.html"),
	}, tt.Occurrences, "duplicate occurrences are merged in input order")
}

func TestPartitionHashed(t *testing.T) {
	b := keyspace.Bucketer{PrefixLen: 2, Buckets: 16}
	shards, err := Partition(sampleEntries(), b)
	require.NoError(t, err)

	total := 0
	for i, s := range shards {
		if i > 0 {
			assert.Less(t, shards[i-1].BucketID, s.BucketID)
		}
		for _, e := range s.Entries {
			assert.Equal(t, s.BucketID, b.Bucket(e.Key))
		}
		total += s.Len()
	}
	assert.Equal(t, 4, total)
}

func TestPartitionRejectsInvalidBucketer(t *testing.T) {
	_, err := Partition(sampleEntries(), keyspace.Bucketer{})
	assert.Error(t, err)
}

func TestPublishRoundTrip(t *testing.T) {
	shards, err := Partition(sampleEntries(), keyspace.DefaultBucketer)
	require.NoError(t, err)

	mem := store.NewMemoryStore()
	m, err := Publish(context.Background(), mem, shards, keyspace.DefaultBucketer)
	require.NoError(t, err)
	assert.Equal(t, []string{"66", "74"}, m.BucketIDs)
	assert.Equal(t, 4, m.EntryCount)
	assert.ElementsMatch(t, []string{"manifest.json", "shard_66.json", "shard_74.json"}, mem.Names())

	data, err := mem.Get(context.Background(), index.ManifestName)
	require.NoError(t, err)
	decoded, err := index.DecodeManifest(data)
	require.NoError(t, err)
	assert.Equal(t, keyspace.DefaultBucketer.Scheme(), decoded.Scheme)

	data, err = mem.Get(context.Background(), index.ShardName("66"))
	require.NoError(t, err)
	s, err := index.DecodeShard("66", data)
	require.NoError(t, err)
	assert.Equal(t, shards[0].Entries, s.Entries)
}

func TestPublishWithoutBatchWrites(t *testing.T) {
	shards, err := Partition(sampleEntries(), keyspace.DefaultBucketer)
	require.NoError(t, err)

	dir := store.NewDirStore(t.TempDir())
	_, err = Publish(context.Background(), dir, shards, keyspace.DefaultBucketer)
	require.NoError(t, err)

	data, err := dir.Get(context.Background(), index.ShardName("74"))
	require.NoError(t, err)
	_, err = index.DecodeShard("74", data)
	assert.NoError(t, err)
}
