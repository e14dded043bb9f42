// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ExternalSearches counts external catalog searches by outcome
	// (ok, error, rejected).
	ExternalSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_external_search_total",
			Help: "External catalog searches by outcome",
		},
		[]string{"outcome"},
	)

	ExternalSearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "folio_external_search_duration_seconds",
			Help:    "External catalog search latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// BreakerState is 0=closed, 1=half-open, 2=open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "folio_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SearchCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_search_cache_total",
			Help: "Search cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	FeedRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "folio_feed_rows",
			Help:    "Rows returned per composed feed",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8},
		},
	)

	FeedRowsOmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "folio_feed_rows_omitted_total",
			Help: "Feed rows dropped because the external catalog returned nothing usable",
		},
	)

	IndexBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_similarity_index_builds_total",
			Help: "Similarity index builds by outcome",
		},
		[]string{"outcome"},
	)

	IndexBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "folio_similarity_index_build_duration_seconds",
			Help:    "Time to build the similarity index",
			Buckets: prometheus.DefBuckets,
		},
	)

	IndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "folio_similarity_index_items",
			Help: "Catalog items in the published similarity index",
		},
	)

	// Imports counts import attempts by outcome (inserted, reused, duplicate).
	Imports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_catalog_imports_total",
			Help: "External book imports by outcome",
		},
		[]string{"outcome"},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_api_requests_total",
			Help: "HTTP API requests by route and status code",
		},
		[]string{"route", "status"},
	)
)

// Handler serves the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
