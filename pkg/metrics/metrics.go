// Package metrics defines the Prometheus metric collectors used by the lookup
// service and serves them for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	ShardLoadsTotal      *prometheus.CounterVec
	ShardLoadDuration    prometheus.Histogram
	ShardsLoaded         prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        prometheus.Histogram
	SearchResultsCount   prometheus.Histogram
	SearchShardsQueried  prometheus.Histogram
	SearchSuperseded     prometheus.Counter
}

// New creates all collectors and registers them with reg. Tests pass a fresh
// prometheus.NewRegistry() each.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		ShardLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shard_loads_total",
				Help: "Shard load attempts by outcome (loaded, failed, malformed).",
			},
			[]string{"outcome"},
		),
		ShardLoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shard_load_duration_seconds",
				Help:    "Time to fetch, decode and validate one shard.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		ShardsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shards_loaded",
				Help: "Number of shards currently resident in the registry.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by outcome (hit, zero_result, partial, empty, invalid, cancelled).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
			},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of result rows returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
		SearchShardsQueried: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_shards_queried",
				Help:    "Number of shards consulted per search query.",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
			},
		),
		SearchSuperseded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_superseded_total",
				Help: "Search responses discarded because a newer query was issued.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ShardLoadsTotal,
		m.ShardLoadDuration,
		m.ShardsLoaded,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.SearchShardsQueried,
		m.SearchSuperseded,
	)

	return m
}
