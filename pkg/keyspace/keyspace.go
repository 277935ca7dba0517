// Package keyspace holds the contract shared by the index builder and the
// query resolver: how raw text becomes a search key and how a key maps to the
// bucket (shard) that stores it. Both sides must import this package rather
// than reimplementing either function, and the scheme string produced by
// Bucketer.Scheme is written into every manifest so a mismatch is detected at
// load time.
package keyspace

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Separator joins the words of a multi-word key.
const Separator = '_'

// SchemeVersion changes whenever Normalize or Bucket change behaviour.
const SchemeVersion = 2

// Normalize composes s to NFC, lowercases it, collapses every run of
// characters that are neither letters nor numbers into a single Separator and
// trims separators from both ends. Combining marks that follow a letter or
// number stay in the word. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		if unicode.Is(unicode.Mark, r) && !pendingSep && b.Len() > 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteRune(Separator)
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// IsNormalized reports whether key is already in normalized form.
func IsNormalized(key string) bool {
	return key != "" && Normalize(key) == key
}

// Bucketer partitions the key space. Buckets == 0 selects the literal scheme,
// where the bucket id is the hex encoding of the key's first PrefixLen runes;
// Buckets > 0 hashes that prefix into Buckets buckets.
type Bucketer struct {
	PrefixLen int
	Buckets   int
}

// DefaultBucketer partitions by first character.
var DefaultBucketer = Bucketer{PrefixLen: 1}

func (b Bucketer) Validate() error {
	if b.PrefixLen < 1 {
		return fmt.Errorf("bucketer prefix length must be at least 1, got %d", b.PrefixLen)
	}
	if b.Buckets < 0 {
		return fmt.Errorf("bucketer bucket count must not be negative, got %d", b.Buckets)
	}
	return nil
}

// Scheme identifies the bucketing function and its parameters.
func (b Bucketer) Scheme() string {
	if b.Buckets == 0 {
		return fmt.Sprintf("v%d/literal/%d", SchemeVersion, b.PrefixLen)
	}
	return fmt.Sprintf("v%d/fnv32a/%d/%d", SchemeVersion, b.PrefixLen, b.Buckets)
}

// Bucket returns the bucket id for a normalized key. Keys shorter than
// PrefixLen are bucketed over the whole key.
func (b Bucketer) Bucket(key string) string {
	prefix := leadingRunes(key, b.PrefixLen)
	if b.Buckets == 0 {
		return hex.EncodeToString([]byte(prefix))
	}
	h := fnv.New32a()
	h.Write([]byte(prefix))
	return fmt.Sprintf("%0*x", b.idWidth(), h.Sum32()%uint32(b.Buckets))
}

// Candidates returns the single bucket a normalized query can live in, or
// fanOut == true when the query is shorter than PrefixLen and may therefore
// be the prefix of a key in any bucket.
func (b Bucketer) Candidates(query string) (bucketID string, fanOut bool) {
	if utf8.RuneCountInString(query) < b.PrefixLen {
		return "", true
	}
	return b.Bucket(query), false
}

// AllBuckets enumerates every bucket id of the hashed scheme. The literal
// scheme has an open-ended id space and returns nil; callers use the
// manifest's bucket list instead.
func (b Bucketer) AllBuckets() []string {
	if b.Buckets == 0 {
		return nil
	}
	ids := make([]string, b.Buckets)
	for i := range ids {
		ids[i] = fmt.Sprintf("%0*x", b.idWidth(), i)
	}
	return ids
}

func (b Bucketer) idWidth() int {
	width := len(fmt.Sprintf("%x", b.Buckets-1))
	if width < 2 {
		width = 2
	}
	return width
}

func leadingRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
