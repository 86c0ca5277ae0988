package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"bella-server/internal/domain/status"
	"bella-server/internal/domain/workflow"
	"bella-server/internal/infrastructure/metrics"
)

// WorkflowObserver instruments workflow executions and activities with
// spans, Prometheus metrics and an OTEL active-execution gauge.
type WorkflowObserver struct {
	active metric.Int64UpDownCounter
	log    zerolog.Logger
}

var _ workflow.Observer = (*WorkflowObserver)(nil)

// NewWorkflowObserver creates the observer against the global meter provider.
func NewWorkflowObserver(log zerolog.Logger) (*WorkflowObserver, error) {
	active, err := otel.Meter(tracerName).Int64UpDownCounter(
		"bella_workflow_executions_active",
		metric.WithDescription("Workflow executions currently running on this runner"),
	)
	if err != nil {
		return nil, err
	}
	return &WorkflowObserver{
		active: active,
		log:    log.With().Str("component", "workflow-observer").Logger(),
	}, nil
}

func (o *WorkflowObserver) ExecutionStarted(ctx context.Context, execution *workflow.Execution) (context.Context, func(error)) {
	attrs := metric.WithAttributes(attribute.String("workflow", execution.Workflow))
	o.active.Add(ctx, 1, attrs)

	ctx, span := StartExecutionSpan(ctx, execution.ID, execution.Workflow, execution.Attempts)
	AddStatusTransition(span, execution.Status.String(), status.ExecutionRunning.String())
	start := time.Now()

	return ctx, func(err error) {
		defer span.End()
		o.active.Add(context.WithoutCancel(ctx), -1, attrs)

		outcome, final := "completed", status.ExecutionCompleted
		if err != nil {
			outcome, final = "failed", status.ExecutionFailed
			RecordError(span, err, "error")
		}
		AddStatusTransition(span, status.ExecutionRunning.String(), final.String())
		metrics.RecordExecution(execution.Workflow, outcome, time.Since(start).Seconds())
	}
}

func (o *WorkflowObserver) ActivityStarted(ctx context.Context, execution *workflow.Execution, activity string, attempt int) (context.Context, func(error)) {
	ctx, span := StartActivitySpan(ctx, execution.ID, activity)
	if attempt > 1 {
		AddRetryEvent(span, attempt, "previous attempt failed")
	}
	start := time.Now()

	return ctx, func(err error) {
		defer span.End()
		outcome := "success"
		if err != nil {
			outcome = "error"
			RecordError(span, err, "warning")
		}
		metrics.RecordActivityAttempt(execution.Workflow, activity, outcome, time.Since(start).Seconds())
	}
}

func (o *WorkflowObserver) Compensated(ctx context.Context, execution *workflow.Execution, cause error) {
	metrics.RecordCompensation(execution.Workflow)
	AddCompensationEvent(trace.SpanFromContext(ctx), cause.Error())
	o.log.Warn().
		Err(cause).
		Str("workflow", execution.Workflow).
		Str("execution_id", execution.ID).
		Msg("workflow compensated")
}
