// Package builder partitions index entries into bucketed shards and
// publishes them, together with a manifest, to a shard store.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/keyspace"
)

// Partition normalizes every key, merges entries that share a key, sorts and
// splits them into shards by bucketer. Entries whose key normalizes to the
// empty string or that have no occurrences are dropped. Shards are returned in
// ascending bucket id order and are already validated.
func Partition(entries []index.Entry, bucketer keyspace.Bucketer) ([]*index.Shard, error) {
	if err := bucketer.Validate(); err != nil {
		return nil, err
	}

	merged := make([]index.Entry, 0, len(entries))
	byKey := make(map[string]int, len(entries))
	dropped := 0
	for _, e := range entries {
		key := keyspace.Normalize(e.Key)
		if key == "" || len(e.Occurrences) == 0 {
			dropped++
			continue
		}
		i, ok := byKey[key]
		if !ok {
			byKey[key] = len(merged)
			label := e.DisplayLabel
			if label == "" {
				label = e.Key
			}
			merged = append(merged, index.Entry{Key: key, DisplayLabel: label})
			i = len(merged) - 1
		}
		for _, occ := range e.Occurrences {
			if !slices.Contains(merged[i].Occurrences, occ) {
				merged[i].Occurrences = append(merged[i].Occurrences, occ)
			}
		}
	}
	if dropped > 0 {
		slog.Warn("entries dropped while partitioning", "dropped", dropped)
	}

	slices.SortStableFunc(merged, index.Compare)

	var shards []*index.Shard
	byBucket := make(map[string]*index.Shard)
	for _, e := range merged {
		id := bucketer.Bucket(e.Key)
		s, ok := byBucket[id]
		if !ok {
			s = &index.Shard{BucketID: id}
			byBucket[id] = s
			shards = append(shards, s)
		}
		s.Entries = append(s.Entries, e)
	}
	slices.SortFunc(shards, func(a, b *index.Shard) int {
		return strings.Compare(a.BucketID, b.BucketID)
	})

	for _, s := range shards {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("partitioned shard: %w", err)
		}
	}
	return shards, nil
}

// Publish writes every shard and then the manifest. Stores that support
// batch writes receive the whole build in one call; otherwise the manifest is
// written last so readers never see it before the shards it lists.
func Publish(ctx context.Context, st store.Store, shards []*index.Shard, bucketer keyspace.Bucketer) (*index.Manifest, error) {
	manifest := &index.Manifest{
		Version:   index.FormatVersion,
		Scheme:    bucketer.Scheme(),
		PrefixLen: bucketer.PrefixLen,
		Buckets:   bucketer.Buckets,
		BuiltAt:   time.Now().UTC(),
		BucketIDs: make([]string, 0, len(shards)),
	}

	objects := make(map[string][]byte, len(shards)+1)
	names := make([]string, 0, len(shards))
	for _, s := range shards {
		data, err := index.EncodeShard(s)
		if err != nil {
			return nil, err
		}
		name := index.ShardName(s.BucketID)
		objects[name] = data
		names = append(names, name)
		manifest.BucketIDs = append(manifest.BucketIDs, s.BucketID)
		manifest.EntryCount += s.Len()
	}
	slices.Sort(manifest.BucketIDs)

	manifestData, err := index.EncodeManifest(manifest)
	if err != nil {
		return nil, err
	}

	if bp, ok := st.(store.BatchPutter); ok {
		objects[index.ManifestName] = manifestData
		if err := bp.PutAll(ctx, objects); err != nil {
			return nil, fmt.Errorf("publishing index: %w", err)
		}
	} else {
		for _, name := range names {
			if err := st.Put(ctx, name, objects[name]); err != nil {
				return nil, fmt.Errorf("publishing %s: %w", name, err)
			}
		}
		if err := st.Put(ctx, index.ManifestName, manifestData); err != nil {
			return nil, fmt.Errorf("publishing manifest: %w", err)
		}
	}

	slog.Info("index published",
		"scheme", manifest.Scheme,
		"shards", len(shards),
		"entries", manifest.EntryCount,
	)
	return manifest, nil
}
