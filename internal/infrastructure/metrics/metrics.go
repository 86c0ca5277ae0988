package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "bella"
	subsystem = "server"
)

// Service metrics
var (
	// Request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Request duration histogram
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// Conversation actor operations
	EntityCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "entity_calls_total",
			Help:      "Conversation entity calls by operation, route and outcome",
		},
		[]string{"operation", "route", "outcome"},
	)

	// Queue depth gauge
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workflow_queue_depth",
			Help:      "Pending workflow executions",
		},
	)

	// Owned shards gauge
	OwnedShards = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "owned_shards",
			Help:      "Shards whose lease this runner holds",
		},
	)

	// Recovery sweep re-triggers
	RecoveredMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovered_messages_total",
			Help:      "Stale generating messages re-triggered by the recovery sweep",
		},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordEntityCall records a routed conversation entity call
func RecordEntityCall(operation, route, outcome string) {
	EntityCallsTotal.WithLabelValues(operation, route, outcome).Inc()
}

// SetQueueDepth sets the current queue depth
func SetQueueDepth(depth int64) {
	QueueDepth.Set(float64(depth))
}

// SetOwnedShards sets the number of shards this runner owns
func SetOwnedShards(n int) {
	OwnedShards.Set(float64(n))
}

// RecordRecoveredMessages adds re-triggered messages
func RecordRecoveredMessages(n int) {
	RecoveredMessagesTotal.Add(float64(n))
}
