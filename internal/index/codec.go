package index

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

// FormatVersion is the version of the native shard and manifest encoding.
const FormatVersion = 1

// ManifestName is the object name of the manifest in every store.
const ManifestName = "manifest.json"

// ShardName returns the object name a bucket's shard is stored under.
func ShardName(bucketID string) string {
	return "shard_" + bucketID + ".json"
}

// shardFile is the on-disk layout:
//
//	{"version":1,"bucket":"66","entries":[["forward_kinematics","Forward Kinematics",[["","../index.html#autotoc_md31"]]]]}
type shardFile struct {
	Version int          `json:"version"`
	Bucket  string       `json:"bucket"`
	Entries []entryTuple `json:"entries"`
}

// entryTuple encodes an Entry as [key, displayLabel, [[title, anchor], ...]].
type entryTuple Entry

func (t entryTuple) MarshalJSON() ([]byte, error) {
	occs := make([][2]string, len(t.Occurrences))
	for i, o := range t.Occurrences {
		occs[i] = [2]string{o.Title, o.Anchor}
	}
	return json.Marshal([]any{t.Key, t.DisplayLabel, occs})
}

func (t *entryTuple) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("entry tuple has %d fields, want 3", len(raw))
	}
	if err := json.Unmarshal(raw[0], &t.Key); err != nil {
		return fmt.Errorf("entry key: %w", err)
	}
	if err := json.Unmarshal(raw[1], &t.DisplayLabel); err != nil {
		return fmt.Errorf("entry %q label: %w", t.Key, err)
	}
	var occs [][]string
	if err := json.Unmarshal(raw[2], &occs); err != nil {
		return fmt.Errorf("entry %q occurrences: %w", t.Key, err)
	}
	t.Occurrences = make([]Occurrence, 0, len(occs))
	for i, o := range occs {
		if len(o) != 2 {
			return fmt.Errorf("entry %q occurrence %d has %d fields, want 2", t.Key, i, len(o))
		}
		t.Occurrences = append(t.Occurrences, Occurrence{Title: o[0], Anchor: o[1]})
	}
	return nil
}

// EncodeShard serialises a shard in the native format.
func EncodeShard(s *Shard) ([]byte, error) {
	f := shardFile{
		Version: FormatVersion,
		Bucket:  s.BucketID,
		Entries: make([]entryTuple, len(s.Entries)),
	}
	for i, e := range s.Entries {
		f.Entries[i] = entryTuple(e)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding shard %q: %w", s.BucketID, err)
	}
	return data, nil
}

// DecodeShard parses and validates a native shard. The file must declare the
// bucket it was requested for.
func DecodeShard(bucketID string, data []byte) (*Shard, error) {
	var f shardFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding shard %q: %w", bucketID, err)
	}
	if f.Version != FormatVersion {
		return nil, &apperrors.MalformedIndexError{
			BucketID: bucketID,
			Index:    -1,
			Reason:   fmt.Sprintf("unsupported format version %d", f.Version),
		}
	}
	if f.Bucket != bucketID {
		return nil, &apperrors.MalformedIndexError{
			BucketID: bucketID,
			Index:    -1,
			Reason:   fmt.Sprintf("file declares bucket %q", f.Bucket),
		}
	}
	s := &Shard{
		BucketID: bucketID,
		Entries:  make([]Entry, len(f.Entries)),
	}
	for i, t := range f.Entries {
		s.Entries[i] = Entry(t)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Manifest lists the buckets of one index build and the bucketing scheme it
// was partitioned with.
type Manifest struct {
	Version    int       `json:"version"`
	Scheme     string    `json:"scheme"`
	PrefixLen  int       `json:"prefix_len"`
	Buckets    int       `json:"buckets"`
	BuiltAt    time.Time `json:"built_at"`
	EntryCount int       `json:"entry_count"`
	BucketIDs  []string  `json:"bucket_ids"`
}

// Has reports whether the build produced a shard for bucketID.
func (m *Manifest) Has(bucketID string) bool {
	_, found := slices.BinarySearch(m.BucketIDs, bucketID)
	return found
}

func EncodeManifest(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses a manifest and sorts its bucket ids.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported manifest version %d", apperrors.ErrMalformedIndex, m.Version)
	}
	if m.Scheme == "" {
		return nil, fmt.Errorf("%w: manifest has no bucketing scheme", apperrors.ErrMalformedIndex)
	}
	slices.Sort(m.BucketIDs)
	m.BucketIDs = slices.Compact(m.BucketIDs)
	return &m, nil
}
