package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "bella-server"
)

// GetTracer returns the tracer for the service.
func GetTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// ExecutionAttributes returns common attributes for workflow execution spans.
func ExecutionAttributes(executionID, workflow string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("workflow.execution_id", executionID),
		attribute.String("workflow.name", workflow),
		attribute.Int("workflow.attempt", attempt),
	}
}

// StartExecutionSpan starts a span covering one run of a workflow execution.
func StartExecutionSpan(ctx context.Context, executionID, workflow string, attempt int) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "workflow."+workflow,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(ExecutionAttributes(executionID, workflow, attempt)...),
	)
}

// StartActivitySpan starts a span for one activity of a workflow execution.
func StartActivitySpan(ctx context.Context, executionID, activity string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "activity."+activity,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.execution_id", executionID),
			attribute.String("activity.name", activity),
		),
	)
}

// StartEntityCallSpan starts a span for a routed conversation entity call.
func StartEntityCallSpan(ctx context.Context, operation, conversationID string, shard int) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "entity.conversation."+operation,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("shard.id", shard),
		),
	)
}

// StartJobSpan starts a span for a scheduled background job.
func StartJobSpan(ctx context.Context, job string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "job."+job, trace.WithSpanKind(trace.SpanKindInternal))
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error, severity string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.severity", severity))
}

// AddStatusTransition adds a status transition event to a span.
func AddStatusTransition(span trace.Span, fromStatus, toStatus string) {
	span.AddEvent("status.transition",
		trace.WithAttributes(
			attribute.String("status.from", fromStatus),
			attribute.String("status.to", toStatus),
		),
	)
}

// AddRetryEvent adds a retry event to a span.
func AddRetryEvent(span trace.Span, attempt int, reason string) {
	span.AddEvent("retry",
		trace.WithAttributes(
			attribute.Int("retry.attempt", attempt),
			attribute.String("retry.reason", reason),
		),
	)
}

// AddCompensationEvent marks that a failed workflow ran its compensation.
func AddCompensationEvent(span trace.Span, reason string) {
	span.AddEvent("compensation",
		trace.WithAttributes(attribute.String("compensation.reason", reason)),
	)
}
