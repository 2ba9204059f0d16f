// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - GPS ingestion throughput and rejections
// - Database query performance (DuckDB)
// - Broadcast fan-out (publishes, deliveries, drops)
// - Live stream connections (SSE and WebSocket)
// - API endpoint latency and throughput

var (
	// Ingestion Metrics
	IngestReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gps_reports_total",
			Help: "Total number of GPS reports received",
		},
		[]string{"result"}, // "accepted", "rejected", "failed"
	)

	IngestUpsertConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gps_stale_reports_total",
			Help: "Total number of reports older than the stored current position",
		},
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

	// Broadcast Metrics
	BroadcastPublishesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_publishes_total",
			Help: "Total number of location updates published to the broadcast channel",
		},
	)

	BroadcastPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_publish_errors_total",
			Help: "Total number of failed broadcast publishes",
		},
	)

	BroadcastDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_deliveries_total",
			Help: "Total number of location updates delivered to subscribers",
		},
	)

	BroadcastDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_drops_total",
			Help: "Total number of updates dropped for slow subscribers",
		},
	)

	BroadcastSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_subscribers",
			Help: "Current number of broadcast subscribers",
		},
	)

	// Live Stream Metrics
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Current number of open SSE stream connections",
		},
	)

	SSEConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sse_connections_total",
			Help: "Total number of SSE stream connections accepted",
		},
	)

	SSEHeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sse_heartbeats_total",
			Help: "Total number of SSE keep-alive comments written",
		},
	)

	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Current number of open WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_messages_sent_total",
			Help: "Total number of messages sent to WebSocket clients",
		},
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
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordIngest records the outcome of one GPS report.
func RecordIngest(result string) {
	IngestReportsTotal.WithLabelValues(result).Inc()
}

// RecordBroadcastPublish records a publish attempt on the broadcast channel.
func RecordBroadcastPublish(err error) {
	if err != nil {
		BroadcastPublishErrors.Inc()
		return
	}
	BroadcastPublishesTotal.Inc()
}
