package index

import (
	"errors"
	"fmt"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(key string, anchors ...string) Entry {
	e := Entry{Key: key, DisplayLabel: key}
	for _, a := range anchors {
		e.Occurrences = append(e.Occurrences, Occurrence{Anchor: a})
	}
	return e
}

func forwardShard() *Shard {
	return &Shard{
		BucketID: "66",
		Entries: []Entry{
			entry("files_code_structure", "../index.html#autotoc_md44"),
			entry("forward", "../index.html#forward"),
			entry("forward_and_inverse_kinematics", "../index.html#autotoc_md29"),
			entry("forward_kinematics", "../index.html#autotoc_md31"),
			entry("fsr", "../index.html#autotoc_md39"),
		},
	}
}

func TestValidateAcceptsSortedUniqueShard(t *testing.T) {
	assert.NoError(t, forwardShard().Validate())
	assert.NoError(t, (&Shard{BucketID: "00"}).Validate(), "an empty shard is valid")
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		index   int
	}{
		{"duplicate key", []Entry{entry("fsr", "#a"), entry("fsr", "#b")}, 1},
		{"out of order", []Entry{entry("fsr", "#a"), entry("forward", "#b")}, 1},
		{"empty key", []Entry{entry("", "#a")}, 0},
		{"not normalized", []Entry{entry("Forward Kinematics", "#a")}, 0},
		{"no occurrences", []Entry{entry("fsr")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Shard{BucketID: "66", Entries: tt.entries}).Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrMalformedIndex))

			var mie *apperrors.MalformedIndexError
			require.True(t, errors.As(err, &mie))
			assert.Equal(t, "66", mie.BucketID)
			assert.Equal(t, tt.index, mie.Index)
		})
	}
}

func TestPrefixMatches(t *testing.T) {
	s := forwardShard()

	got := s.PrefixMatches("forward")
	require.Len(t, got, 3)
	assert.Equal(t, "forward", got[0].Entry.Key)
	assert.True(t, got[0].Exact)
	assert.Equal(t, 1, got[0].Position)
	assert.Equal(t, "forward_and_inverse_kinematics", got[1].Entry.Key)
	assert.False(t, got[1].Exact)
	assert.Equal(t, "forward_kinematics", got[2].Entry.Key)

	assert.Len(t, s.PrefixMatches("f"), 5)
	assert.Len(t, s.PrefixMatches("fs"), 1)
	assert.Empty(t, s.PrefixMatches("g"))
	assert.Empty(t, s.PrefixMatches("forward_z"))
	assert.Empty(t, s.PrefixMatches("a"), "prefix sorting before every key")
	assert.Empty(t, (&Shard{}).PrefixMatches("a"))
}

func TestPrefixMatchesNoFalsePositives(t *testing.T) {
	s := forwardShard()
	for _, prefix := range []string{"f", "fo", "for", "forward_", "forward_k", "fi", "fsr", "zz"} {
		for _, m := range s.PrefixMatches(prefix) {
			assert.Truef(t, len(m.Entry.Key) >= len(prefix) && m.Entry.Key[:len(prefix)] == prefix,
				"key %q does not start with %q", m.Entry.Key, prefix)
		}
	}
}

func BenchmarkPrefixMatches(b *testing.B) {
	s := &Shard{BucketID: "73"}
	for i := 0; i < 50000; i++ {
		s.Entries = append(s.Entries, entry(fmt.Sprintf("symbol_%06d", i), "#a"))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.PrefixMatches("symbol_0421")
	}
}
