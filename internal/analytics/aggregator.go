package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
)

// maxLatencySamples bounds the latency window percentiles are computed over.
const maxLatencySamples = 10000

// trackedPerTopN bounds each query count map to trackedPerTopN*topN entries.
// When a map overflows it is cut to its most frequent half, so rare queries
// (most keystroke prefixes) are forgotten while frequent ones keep counting.
const trackedPerTopN = 10

type Stats struct {
	TotalSearches     int64        `json:"total_searches"`
	ZeroResults       int64        `json:"zero_results"`
	PartialResults    int64        `json:"partial_results"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running query statistics. Queries are counted by their
// normalized form so "Forward Kin" and "forward kin" are one query; empty
// queries are ignored.
type Aggregator struct {
	mu          sync.RWMutex
	total       int64
	zero        int64
	partial     int64
	latencies   []int64
	next        int
	queries     map[string]int64
	zeroQueries map[string]int64
	topN        int
	start       time.Time
	logger      *slog.Logger
}

func NewAggregator(topN int) *Aggregator {
	if topN <= 0 {
		topN = 10
	}
	return &Aggregator{
		latencies:   make([]int64, 0, 1024),
		queries:     make(map[string]int64),
		zeroQueries: make(map[string]int64),
		topN:        topN,
		start:       time.Now(),
		logger:      slog.Default().With("component", "analytics-aggregator"),
	}
}

func (a *Aggregator) Track(ev SearchEvent) {
	if ev.Normalized == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.count(a.queries, ev.Normalized)
	if ev.Warnings > 0 {
		a.partial++
	}
	if ev.Results == 0 {
		a.zero++
		a.count(a.zeroQueries, ev.Normalized)
	}
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, ev.LatencyMs)
	} else {
		a.latencies[a.next] = ev.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
}

func (a *Aggregator) count(counts map[string]int64, query string) {
	counts[query]++
	limit := trackedPerTopN * a.topN
	if len(counts) <= limit {
		return
	}
	keep := topN(counts, limit/2)
	clear(counts)
	for _, qc := range keep {
		counts[qc.Query] = qc.Count
	}
}

// HandleMessage feeds a search-events message into the aggregator. It is a
// kafka.Handler.
func (a *Aggregator) HandleMessage(ctx context.Context, key, value []byte) error {
	ev, err := kafka.DecodeJSON[SearchEvent](value)
	if err != nil {
		a.logger.Warn("skipping undecodable search event", "error", err)
		return nil
	}
	a.Track(ev)
	return nil
}

func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{
		TotalSearches:  a.total,
		ZeroResults:    a.zero,
		PartialResults: a.partial,
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queries, a.topN)
	stats.ZeroResultQueries = topN(a.zeroQueries, a.topN)
	if elapsed := time.Since(a.start).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(a.total) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := pct * len(sorted) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n most frequent queries; ties are ordered by query.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for q, c := range counts {
		result = append(result, QueryCount{Query: q, Count: c})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
