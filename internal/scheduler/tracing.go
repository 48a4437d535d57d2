package scheduler

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer emits spans around Tick/Run so a scheduler deployment can be
// observed through the same OTLP pipeline as the rest of the host
// process, without coupling this package to a particular exporter.
var tracer = otel.Tracer("scheduler")

// startRunSpan opens a span covering one background run of task uuid,
// tagging it with the fields an operator would filter traces by.
func startRunSpan(ctx context.Context, taskUUID, taskType, taskName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "scheduler.run",
		trace.WithAttributes(
			attribute.String("scheduler.task_uuid", taskUUID),
			attribute.String("scheduler.task_type", taskType),
			attribute.String("scheduler.task_name", taskName),
		),
	)
}

// endRunSpan records the run outcome on span and closes it.
func endRunSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("scheduler.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// startTickSpan opens a span covering one Tick invocation.
func startTickSpan(ctx context.Context, window string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "scheduler.tick",
		trace.WithAttributes(attribute.String("scheduler.window", window)),
	)
}
