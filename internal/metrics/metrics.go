// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tandem_ws_connections",
			Help: "Current number of registered realtime connections",
		},
	)

	WSUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tandem_ws_users",
			Help: "Current number of users with at least one registered connection",
		},
	)

	WSDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ws_deliveries_total",
			Help: "Total number of per-connection deliveries",
		},
		[]string{"result"}, // "sent", "failed"
	)

	WSAuthResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ws_auth_total",
			Help: "Total number of realtime authentication attempts",
		},
		[]string{"result"}, // "ok", "rejected", "timeout"
	)

	WSSupersededConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tandem_ws_superseded_total",
			Help: "Total number of connections replaced by a newer one for the same browser",
		},
	)

	WSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ws_messages_received_total",
			Help: "Total number of inbound realtime messages",
		},
		[]string{"type"},
	)

	// Change-Capture Metrics
	CaptureEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_capture_events_total",
			Help: "Total number of row changes received from the change feed",
		},
		[]string{"table", "operation"},
	)

	CaptureRecipients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tandem_capture_recipients_total",
			Help: "Total number of per-recipient payloads built",
		},
	)

	CaptureEnrichmentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_capture_enrichment_failures_total",
			Help: "Total number of failed enrichment lookups (delivery continued)",
		},
		[]string{"lookup"}, // "match", "profile"
	)

	CaptureProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tandem_capture_processing_duration_seconds",
			Help:    "Time from receiving a row change to handing it to the gateway",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	CaptureFeedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_capture_feed_errors_total",
			Help: "Total number of undecodable or failed change feed messages",
		},
		[]string{"feed"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Client Store Metrics
	StoreMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_store_mutations_total",
			Help: "Total number of settled optimistic mutations",
		},
		[]string{"store", "kind", "outcome"}, // outcome: "ok", "rollback"
	)

	StorePushEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_store_push_events_total",
			Help: "Total number of realtime pushes reconciled into a store",
		},
		[]string{"store", "result"}, // "applied", "suppressed", "deferred", "ignored"
	)

	RealtimeReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_realtime_reconnects_total",
			Help: "Total number of client channel reconnect attempts",
		},
		[]string{"result"},
	)

	CachePartitionOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_cache_partition_ops_total",
			Help: "Total number of persistent cache partition reads and writes",
		},
		[]string{"op", "result"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tandem_db_query_duration_seconds",
			Help:    "Duration of datastore queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_db_query_errors_total",
			Help: "Total number of datastore query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tandem_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tandem_api_active_requests",
			Help: "Number of API requests currently being served",
		},
	)
)

// RecordDBQuery records a datastore query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordCircuitBreakerTransition updates breaker gauges on a state change.
// States use gobreaker's names: "closed", "half-open", "open".
func RecordCircuitBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// SetConnectionGauges publishes the gateway's registry size.
func SetConnectionGauges(connections, users int) {
	WSConnections.Set(float64(connections))
	WSUsers.Set(float64(users))
}
