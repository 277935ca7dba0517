package index

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/keyspace"
)

var (
	htmlTag = regexp.MustCompile(`<[^>]*>`)
	ordinal = regexp.MustCompile(`_[0-9]+$`)
)

// memberScopeSep separates a member signature from its declaring file.
const memberScopeSep = ":\u00a0"

// DecodeDoxygen reads a Doxygen search data file of the form
//
//	var searchData=
//	[
//	  ['forward_20kinematics_7',['Forward Kinematics',['../index.html#autotoc_md31',1,'']]],
//	  ...
//	];
//
// Doxygen ids use its own escape scheme and collation, so the returned entries
// are re-keyed with keyspace.Normalize, merged per key (occurrences keep file
// order) and re-sorted. The result is builder input, not a servable shard.
func DecodeDoxygen(data []byte) ([]Entry, error) {
	start := bytes.IndexByte(data, '[')
	if start < 0 {
		return nil, fmt.Errorf("doxygen search data: no array literal")
	}
	p := &jsParser{src: data, pos: start}
	v, err := p.value()
	if err != nil {
		return nil, fmt.Errorf("doxygen search data: %w", err)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("doxygen search data: top level is not an array")
	}

	var entries []Entry
	byKey := make(map[string]int)
	for i, raw := range items {
		item, ok := raw.([]any)
		if !ok || len(item) != 2 {
			return nil, fmt.Errorf("doxygen search data: item %d is not an [id, data] pair", i)
		}
		id, _ := item[0].(string)
		body, ok := item[1].([]any)
		if id == "" || !ok || len(body) < 2 {
			return nil, fmt.Errorf("doxygen search data: item %d has no label or occurrences", i)
		}
		label, _ := body[0].(string)
		key := keyspace.Normalize(decodeDoxygenID(id))
		if key == "" {
			continue
		}
		occs := make([]Occurrence, 0, len(body)-1)
		for j, rawOcc := range body[1:] {
			occ, ok := rawOcc.([]any)
			if !ok || len(occ) < 1 {
				return nil, fmt.Errorf("doxygen search data: item %d occurrence %d is malformed", i, j)
			}
			anchor, _ := occ[0].(string)
			var scope string
			if len(occ) >= 3 {
				scope, _ = occ[2].(string)
			}
			occs = append(occs, Occurrence{Title: cleanScope(scope), Anchor: anchor})
		}

		idx, seen := byKey[key]
		if !seen {
			byKey[key] = len(entries)
			entries = append(entries, Entry{Key: key, DisplayLabel: cleanText(label)})
			idx = len(entries) - 1
		}
		entries[idx].Occurrences = appendUnique(entries[idx].Occurrences, occs...)
	}
	slices.SortStableFunc(entries, Compare)
	return entries, nil
}

// decodeDoxygenID drops the trailing ordinal and expands _xx hex escapes:
// "tim3_5firqhandler_4" -> "tim3_irqhandler".
func decodeDoxygenID(id string) string {
	id = ordinal.ReplaceAllString(id, "")
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		if id[i] == '_' && i+2 < len(id) {
			if v, err := strconv.ParseUint(id[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(id[i])
	}
	return b.String()
}

// cleanScope turns "TIM3_IRQHandler(void):&#160;stm32f4xx_it.c" into
// "stm32f4xx_it.c"; section scopes are kept whole.
func cleanScope(scope string) string {
	s := html.UnescapeString(scope)
	if i := strings.LastIndex(s, memberScopeSep); i >= 0 {
		s = s[i+len(memberScopeSep):]
	}
	return stripTags(s)
}

func cleanText(s string) string {
	return stripTags(html.UnescapeString(s))
}

func stripTags(s string) string {
	return strings.TrimSpace(htmlTag.ReplaceAllString(s, ""))
}

// appendUnique appends occurrences that are not already present.
func appendUnique(dst []Occurrence, occs ...Occurrence) []Occurrence {
	for _, o := range occs {
		if !slices.Contains(dst, o) {
			dst = append(dst, o)
		}
	}
	return dst
}

// jsParser reads the subset of JavaScript literals Doxygen emits: arrays,
// single- or double-quoted strings and integers.
type jsParser struct {
	src []byte
	pos int
}

func (p *jsParser) value() (any, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("unexpected end of input")
	}
	switch c := p.src[p.pos]; {
	case c == '[':
		return p.array()
	case c == '\'' || c == '"':
		return p.str(c)
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", c, p.pos)
	}
}

func (p *jsParser) array() ([]any, error) {
	p.pos++ // '['
	var out []any
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, fmt.Errorf("unterminated array")
		}
		if p.src[p.pos] == ']' {
			p.pos++
			return out, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
		}
	}
}

func (p *jsParser) str(quote byte) (string, error) {
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\\' && p.pos+1 < len(p.src):
			p.pos++
			switch esc := p.src[p.pos]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(esc)
			}
		default:
			b.WriteByte(c)
		}
		p.pos++
	}
	return "", fmt.Errorf("unterminated string")
}

func (p *jsParser) number() (int, error) {
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	n, err := strconv.Atoi(string(p.src[start:p.pos]))
	if err != nil {
		return 0, fmt.Errorf("bad number at offset %d: %w", start, err)
	}
	return n, nil
}

func (p *jsParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}
