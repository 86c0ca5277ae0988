package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Workflow execution metrics
var (
	// Execution outcome counters
	WorkflowExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workflow_executions_total",
			Help:      "Workflow execution runs by outcome",
		},
		[]string{"workflow", "outcome"},
	)

	// Execution duration histogram
	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow execution run duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"workflow"},
	)

	// Activity attempt counters
	ActivityAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "activity_attempts_total",
			Help:      "Workflow activity attempts by outcome",
		},
		[]string{"workflow", "activity", "outcome"},
	)

	// Activity duration histogram
	ActivityDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "activity_duration_seconds",
			Help:      "Workflow activity attempt duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"workflow", "activity"},
	)

	// Compensation counter
	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workflow_compensations_total",
			Help:      "Compensations run after a workflow failed",
		},
		[]string{"workflow"},
	)

	// Response plan counters
	ResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "response_total",
			Help:      "Generated responses by plan type",
		},
		[]string{"type"},
	)

	// Model usage counters
	ModelUsageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "model_usage_total",
			Help:      "Answers generated per model",
		},
		[]string{"model"},
	)

	// Generation outcome counters
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generations_total",
			Help:      "Answer streams by final message status",
		},
		[]string{"status"},
	)
)

// RecordExecution records one finished run of a workflow execution
func RecordExecution(workflow, outcome string, durationSec float64) {
	WorkflowExecutionsTotal.WithLabelValues(workflow, outcome).Inc()
	WorkflowDuration.WithLabelValues(workflow).Observe(durationSec)
}

// RecordActivityAttempt records one activity attempt
func RecordActivityAttempt(workflow, activity, outcome string, durationSec float64) {
	ActivityAttemptsTotal.WithLabelValues(workflow, activity, outcome).Inc()
	ActivityDuration.WithLabelValues(workflow, activity).Observe(durationSec)
}

// RecordCompensation records a compensation run
func RecordCompensation(workflow string) {
	CompensationsTotal.WithLabelValues(workflow).Inc()
}

// RecordResponse records a generated response's plan type and model
func RecordResponse(planType, model string) {
	ResponsesTotal.WithLabelValues(planType).Inc()
	if model != "" {
		ModelUsageTotal.WithLabelValues(model).Inc()
	}
}

// RecordGeneration records how an answer stream ended
func RecordGeneration(status string) {
	GenerationsTotal.WithLabelValues(status).Inc()
}

// GenerationRecorder forwards generator metrics to the package collectors.
type GenerationRecorder struct{}

func (GenerationRecorder) RecordResponse(planType, model string) { RecordResponse(planType, model) }

func (GenerationRecorder) RecordGeneration(status string) { RecordGeneration(status) }
