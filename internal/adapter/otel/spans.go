package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "banister-workers"

// StartTaskSpan starts a span covering one task run.
func StartTaskSpan(ctx context.Context, taskID int64, taskType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.Int64("task.id", taskID),
			attribute.String("task.type", taskType),
		),
	)
}

// StartBatchSpan starts a span for one batch within a task run.
func StartBatchSpan(ctx context.Context, taskID int64, index int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "batch",
		trace.WithAttributes(
			attribute.Int64("task.id", taskID),
			attribute.Int("batch.index", index),
		),
	)
}
