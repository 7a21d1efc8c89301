// Package metrics defines the Prometheus metric collectors used across the
// index engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the index engine.
type Metrics struct {
	DocsIndexedTotal       prometheus.Counter
	IndexFlushesTotal      *prometheus.CounterVec
	SegmentMergesTotal     *prometheus.CounterVec
	WALAppendsTotal        prometheus.Counter
	WALRotationsTotal      prometheus.Counter
	ActiveSegments         prometheus.Gauge
	SearchQueriesTotal     *prometheus.CounterVec
	SearchLatency          *prometheus.HistogramVec
	SearchResultsCount     prometheus.Histogram
	CacheHitsTotal         prometheus.Counter
	CacheMissesTotal       prometheus.Counter
	CircuitBreakerState    *prometheus.GaugeVec
	QueryAdmissionRejected prometheus.Counter

	// HTTP* back cmd/fsearchd's thin /search, /healthz, /metrics surface.
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fsearch_docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsearch_index_flushes_total",
				Help: "Total index flush operations by status.",
			},
			[]string{"status"},
		),
		SegmentMergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsearch_segment_merges_total",
				Help: "Total tiered-merge operations by destination level.",
			},
			[]string{"level"},
		),
		WALAppendsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fsearch_wal_appends_total",
				Help: "Total write-ahead log record appends.",
			},
		),
		WALRotationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fsearch_wal_rotations_total",
				Help: "Total write-ahead log segment rotations.",
			},
		),
		ActiveSegments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fsearch_active_segments",
				Help: "Number of segments currently referenced by the manifest.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsearch_search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fsearch_search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fsearch_search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fsearch_cache_hits_total",
				Help: "Total number of query-cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fsearch_cache_misses_total",
				Help: "Total number of query-cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fsearch_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		QueryAdmissionRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fsearch_query_admission_rejected_total",
				Help: "Total queries rejected by the concurrency admission limiter.",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsearch_http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fsearch_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fsearch_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
	}

	prometheus.MustRegister(
		m.DocsIndexedTotal,
		m.IndexFlushesTotal,
		m.SegmentMergesTotal,
		m.WALAppendsTotal,
		m.WALRotationsTotal,
		m.ActiveSegments,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
		m.QueryAdmissionRejected,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
