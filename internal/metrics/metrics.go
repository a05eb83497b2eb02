// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Provider fan-out latency and outcomes
// - Circuit breaker state per provider
// - Quota enforcement decisions
// - Merge/dedupe drop counts
// - Preview cache lifecycle
// - Ingestion outcomes
// - DuckDB query performance
// - API endpoint latency and throughput

var (
	// Provider fan-out metrics
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Duration of external provider requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "operation"},
	)

	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total number of external provider requests by outcome",
		},
		[]string{"provider", "operation", "outcome"}, // "success", "failure", "timeout"
	)

	ProviderResultsReturned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_results_returned_total",
			Help: "Total number of candidate records returned by providers",
		},
		[]string{"provider"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"provider", "from", "to"},
	)

	CircuitBreakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures recorded by the circuit breaker",
		},
		[]string{"provider"},
	)

	// Quota metrics
	QuotaDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_decisions_total",
			Help: "Total number of external-search quota decisions",
		},
		[]string{"decision"}, // "allowed", "denied"
	)

	// Merge/dedupe metrics
	DedupeDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_dedupe_drops_total",
			Help: "Total number of external candidates dropped as duplicates",
		},
		[]string{"reason"}, // "canonical_url", "title_date"
	)

	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Total number of search requests",
		},
		[]string{"source"}, // "internal", "internal+external"
	)

	// Preview cache metrics
	PreviewsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "previews_created_total",
			Help: "Total number of preview records written to the cache store",
		},
	)

	PreviewExpiredReads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "preview_expired_reads_total",
			Help: "Total number of preview reads that found an expired or missing entry",
		},
	)

	// Ingestion metrics
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_total",
			Help: "Total number of ingestion attempts by outcome",
		},
		[]string{"provider", "outcome"}, // "created", "existing", "refreshed", "error"
	)

	ProvenanceRedactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "provenance_redactions_total",
			Help: "Total number of provenance raw payloads redacted by the retention sweep",
		},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// API endpoint metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)
)

// ObserveDBQuery records a database query duration and any error.
func ObserveDBQuery(operation, table string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// ObserveAPIRequest records an API request outcome.
func ObserveAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
