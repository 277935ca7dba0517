// Package index defines the read-only lookup model: entries, their
// occurrences and the sorted shards that hold them, together with the
// backing formats shards are loaded from.
package index

import (
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/keyspace"
)

// Occurrence is one concrete location of an entry.
type Occurrence struct {
	Title  string `json:"title"`
	Anchor string `json:"anchor"`
}

// Entry is a unique normalized key with every place it occurs, in build order.
type Entry struct {
	Key          string       `json:"key"`
	DisplayLabel string       `json:"display_label"`
	Occurrences  []Occurrence `json:"occurrences"`
}

// Compare orders entries by key. It is the same byte-wise order the builder
// sorts by, so binary search over a validated shard is sound.
func Compare(a, b Entry) int {
	return strings.Compare(a.Key, b.Key)
}

// Shard is one bucket's entries, sorted strictly ascending by key.
type Shard struct {
	BucketID string
	Entries  []Entry
}

// Match is an entry whose key starts with the searched prefix.
type Match struct {
	Entry    *Entry
	Exact    bool
	Position int
}

// Validate checks the invariants the resolver relies on. Shards are never
// repaired at load time; a violation is a build defect.
func (s *Shard) Validate() error {
	for i := range s.Entries {
		e := &s.Entries[i]
		if e.Key == "" {
			return malformed(s.BucketID, i, "empty key")
		}
		if !keyspace.IsNormalized(e.Key) {
			return malformed(s.BucketID, i, "key "+strconv.Quote(e.Key)+" is not normalized")
		}
		if len(e.Occurrences) == 0 {
			return malformed(s.BucketID, i, "key "+strconv.Quote(e.Key)+" has no occurrences")
		}
		if i == 0 {
			continue
		}
		switch c := Compare(s.Entries[i-1], *e); {
		case c == 0:
			return malformed(s.BucketID, i, "duplicate key "+strconv.Quote(e.Key))
		case c > 0:
			return malformed(s.BucketID, i, "key "+strconv.Quote(e.Key)+" sorts before "+strconv.Quote(s.Entries[i-1].Key))
		}
	}
	return nil
}

// PrefixMatches returns every entry whose key has prefix as a prefix, in
// shard order. The shard must be valid.
func (s *Shard) PrefixMatches(prefix string) []Match {
	start := sort.Search(len(s.Entries), func(i int) bool {
		return s.Entries[i].Key >= prefix
	})
	var matches []Match
	for i := start; i < len(s.Entries); i++ {
		key := s.Entries[i].Key
		if !strings.HasPrefix(key, prefix) {
			break
		}
		matches = append(matches, Match{
			Entry:    &s.Entries[i],
			Exact:    key == prefix,
			Position: i,
		})
	}
	return matches
}

// Len returns the number of entries in the shard.
func (s *Shard) Len() int {
	return len(s.Entries)
}

func malformed(bucketID string, idx int, reason string) error {
	return &apperrors.MalformedIndexError{BucketID: bucketID, Index: idx, Reason: reason}
}
