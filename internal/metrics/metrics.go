// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Marker Store Metrics
	MarkerMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marker_mutations_total",
			Help: "Total number of marker mutations",
		},
		[]string{"operation"}, // "create", "update", "delete"
	)

	MarkerMutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marker_mutation_duration_seconds",
			Help:    "Duration of marker mutations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	VersionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marker_version_conflicts_total",
			Help: "Total number of mutations rejected by the version guard",
		},
	)

	// Spatial Index Metrics
	SpatialIndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spatial_index_entries",
			Help: "Current number of markers in the spatial index",
		},
	)

	SpatialQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spatial_queries_total",
			Help: "Total number of spatial queries",
		},
		[]string{"query_type"}, // "bounds", "radius"
	)

	// Query Engine Metrics
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marker_query_duration_seconds",
			Help:    "Marker query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"query_type"}, // "list", "bounds", "radius", "history"
	)

	// Database Metrics
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

	// API Endpoint Metrics
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

	// Bulk Import Metrics
	BulkJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_jobs_total",
			Help: "Total number of bulk import jobs by terminal status",
		},
		[]string{"status"}, // "completed", "failed", "cancelled"
	)

	BulkRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_records_processed_total",
			Help: "Total number of bulk import records by outcome",
		},
		[]string{"outcome"}, // "succeeded", "failed", "skipped"
	)

	BulkJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bulk_job_duration_seconds",
			Help:    "Duration of bulk import jobs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	BulkBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bulk_batch_size",
			Help:    "Number of records in submitted bulk batches",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)

	BulkActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bulk_active_jobs",
			Help: "Current number of running bulk import jobs",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)
)

// RecordMutation records a marker mutation metric.
func RecordMutation(operation string, duration time.Duration) {
	MarkerMutations.WithLabelValues(operation).Inc()
	MarkerMutationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordQuery records a query engine metric.
func RecordQuery(queryType string, duration time.Duration) {
	QueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
}

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordBulkJob records a finished bulk job and its record outcomes.
func RecordBulkJob(status string, duration time.Duration, succeeded, failed, skipped int64) {
	BulkJobsTotal.WithLabelValues(status).Inc()
	BulkJobDuration.Observe(duration.Seconds())
	BulkRecordsProcessed.WithLabelValues("succeeded").Add(float64(succeeded))
	BulkRecordsProcessed.WithLabelValues("failed").Add(float64(failed))
	BulkRecordsProcessed.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordCircuitBreakerResult records one request outcome through a breaker.
func RecordCircuitBreakerResult(name, result string) {
	CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

// SetCircuitBreakerState sets the gauge for a breaker's current state.
func SetCircuitBreakerState(name string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
}
