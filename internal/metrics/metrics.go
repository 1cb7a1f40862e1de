// Package metrics holds the Prometheus collectors shared by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Presence metrics
var (
	// PresenceJoinsTotal counts join calls by outcome (new, heartbeat).
	PresenceJoinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_joins_total",
			Help: "Viewer join calls by outcome",
		},
		[]string{"outcome"},
	)

	// PresenceLeavesTotal counts removed viewer sessions by reason (leave, expired, cleanup).
	PresenceLeavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_leaves_total",
			Help: "Viewer sessions removed by reason",
		},
		[]string{"reason"},
	)

	// PresenceActiveSessions tracks viewer sessions held in memory across all broadcasts.
	PresenceActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_active_sessions",
			Help: "Viewer sessions currently tracked in memory",
		},
	)

	// PresencePersistFailures counts durable viewer-count writes that failed, by operation.
	PresencePersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_persist_failures_total",
			Help: "Failed viewer count writes by operation",
		},
		[]string{"operation"},
	)

	// PresenceStoreBreakerState tracks the store circuit breaker (0=closed, 1=half-open, 2=open).
	PresenceStoreBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_store_breaker_state",
			Help: "Presence store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Ranking metrics
var (
	// RankingRefreshDuration tracks ranking recomputation latency by content type.
	RankingRefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ranking_refresh_duration_seconds",
			Help:    "Ranking refresh duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"type"},
	)

	// RankingRefreshErrors counts failed ranking recomputations by content type.
	RankingRefreshErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_refresh_errors_total",
			Help: "Failed ranking refreshes by content type",
		},
		[]string{"type"},
	)
)

// Redis metrics
var (
	// RedisOpsTotal tracks Redis operations by command and status.
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds.
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors counts failed Redis dials.
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)
)

// Realtime metrics
var (
	// WebSocketConnections tracks open live room sockets on this instance.
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Open live room WebSocket connections",
		},
	)
)
