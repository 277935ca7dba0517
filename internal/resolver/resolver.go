// Package resolver turns a raw query into the ranked list of index entries
// whose normalized key starts with the normalized query.
package resolver

import (
	"context"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/keyspace"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
)

const (
	defaultMaxQueryLength     = 256
	defaultMaxConcurrentLoads = 8
)

// Options tunes a Resolver. Zero values select the defaults; MaxResults 0
// means unlimited.
type Options struct {
	MaxQueryLength     int
	MaxResults         int
	MaxConcurrentLoads int
	Metrics            *metrics.Metrics
}

// Result is one displayable row: one occurrence of a matching entry.
type Result struct {
	Key          string `json:"key"`
	DisplayLabel string `json:"display_label"`
	Title        string `json:"title,omitempty"`
	Anchor       string `json:"anchor"`
	Exact        bool   `json:"exact"`
}

// Warning records a shard that could not contribute to a response.
type Warning struct {
	BucketID string `json:"bucket_id,omitempty"`
	Message  string `json:"message"`
}

type Response struct {
	Query         string    `json:"query"`
	Normalized    string    `json:"normalized"`
	Seq           uint64    `json:"seq,omitempty"`
	Results       []Result  `json:"results"`
	Warnings      []Warning `json:"warnings,omitempty"`
	ShardsQueried int       `json:"shards_queried"`
}

type Resolver struct {
	registry *registry.Registry
	bucketer keyspace.Bucketer
	opts     Options
	metrics  *metrics.Metrics
}

func New(reg *registry.Registry, opts Options) *Resolver {
	if opts.MaxQueryLength <= 0 {
		opts.MaxQueryLength = defaultMaxQueryLength
	}
	if opts.MaxConcurrentLoads <= 0 {
		opts.MaxConcurrentLoads = defaultMaxConcurrentLoads
	}
	return &Resolver{
		registry: reg,
		bucketer: reg.Bucketer(),
		opts:     opts,
		metrics:  opts.Metrics,
	}
}

// ranked is a match tagged with what the ordering needs.
type ranked struct {
	match  index.Match
	bucket int
	runes  int
}

// Search resolves raw. Shard failures are reported as warnings and never fail
// the query; only an invalid query or the end of ctx returns an error.
func (r *Resolver) Search(ctx context.Context, raw string) (*Response, error) {
	start := time.Now()
	log := logger.FromContext(ctx).With("component", "query-resolver")

	if err := r.validate(raw); err != nil {
		r.observe("invalid", start, nil)
		return nil, err
	}

	resp := &Response{
		Query:      raw,
		Normalized: keyspace.Normalize(raw),
		Results:    []Result{},
	}
	if resp.Normalized == "" {
		r.observe("empty", start, resp)
		return resp, nil
	}

	ids, warning, err := r.candidates(ctx, resp.Normalized)
	if err != nil {
		r.observe("cancelled", start, nil)
		return nil, err
	}
	if warning != nil {
		log.Warn("manifest unavailable", "query", raw, "error", warning.Message)
		resp.Warnings = append(resp.Warnings, *warning)
	}

	shards, errs := r.load(ctx, ids)
	if err := ctx.Err(); err != nil {
		r.observe("cancelled", start, nil)
		return nil, err
	}
	resp.ShardsQueried = len(ids)

	var matches []ranked
	for i, shard := range shards {
		if errs[i] != nil {
			log.Warn("shard unavailable", "bucket_id", ids[i], "error", errs[i])
			resp.Warnings = append(resp.Warnings, Warning{BucketID: ids[i], Message: errs[i].Error()})
			continue
		}
		for _, m := range shard.PrefixMatches(resp.Normalized) {
			matches = append(matches, ranked{
				match:  m,
				bucket: i,
				runes:  utf8.RuneCountInString(m.Entry.Key),
			})
		}
	}

	slices.SortStableFunc(matches, compareRanked)
	resp.Results = expand(matches, r.opts.MaxResults)

	outcome := "hit"
	switch {
	case len(resp.Warnings) > 0:
		outcome = "partial"
	case len(resp.Results) == 0:
		outcome = "zero_result"
	}
	r.observe(outcome, start, resp)
	log.Debug("query resolved",
		"query", raw,
		"normalized", resp.Normalized,
		"shards_queried", resp.ShardsQueried,
		"results", len(resp.Results),
		"warnings", len(resp.Warnings),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (r *Resolver) validate(raw string) error {
	if !utf8.ValidString(raw) {
		return fmt.Errorf("%w: not valid UTF-8", apperrors.ErrInvalidQuery)
	}
	if n := utf8.RuneCountInString(raw); n > r.opts.MaxQueryLength {
		return fmt.Errorf("%w: %d characters exceeds the limit of %d",
			apperrors.ErrInvalidQuery, n, r.opts.MaxQueryLength)
	}
	return nil
}

// candidates returns the buckets that may hold keys starting with normalized,
// in ascending id order. A missing manifest is reported as a warning.
func (r *Resolver) candidates(ctx context.Context, normalized string) ([]string, *Warning, error) {
	manifest, err := r.registry.Manifest(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, &Warning{Message: err.Error()}, nil
	}
	bucketID, fanOut := r.bucketer.Candidates(normalized)
	if fanOut {
		return manifest.BucketIDs, nil, nil
	}
	if !manifest.Has(bucketID) {
		return nil, nil, nil
	}
	return []string{bucketID}, nil, nil
}

func (r *Resolver) load(ctx context.Context, ids []string) ([]*index.Shard, []error) {
	shards := make([]*index.Shard, len(ids))
	errs := make([]error, len(ids))
	if len(ids) == 1 {
		shards[0], errs[0] = r.registry.EnsureLoaded(ctx, ids[0])
		return shards, errs
	}

	var g errgroup.Group
	g.SetLimit(r.opts.MaxConcurrentLoads)
	for i, id := range ids {
		g.Go(func() error {
			shards[i], errs[i] = r.registry.EnsureLoaded(ctx, id)
			return nil
		})
	}
	g.Wait()
	return shards, errs
}

// compareRanked puts exact matches first, then shorter keys. Ties keep the
// order matches were collected in: bucket order, then shard position.
func compareRanked(a, b ranked) int {
	if a.match.Exact != b.match.Exact {
		if a.match.Exact {
			return -1
		}
		return 1
	}
	return a.runes - b.runes
}

func expand(matches []ranked, limit int) []Result {
	results := []Result{}
	for _, m := range matches {
		e := m.match.Entry
		for _, occ := range e.Occurrences {
			if limit > 0 && len(results) == limit {
				return results
			}
			results = append(results, Result{
				Key:          e.Key,
				DisplayLabel: e.DisplayLabel,
				Title:        occ.Title,
				Anchor:       occ.Anchor,
				Exact:        m.match.Exact,
			})
		}
	}
	return results
}

func (r *Resolver) observe(outcome string, start time.Time, resp *Response) {
	if r.metrics == nil {
		return
	}
	r.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	r.metrics.SearchLatency.Observe(time.Since(start).Seconds())
	if resp != nil {
		r.metrics.SearchResultsCount.Observe(float64(len(resp.Results)))
		r.metrics.SearchShardsQueried.Observe(float64(resp.ShardsQueried))
	}
}
