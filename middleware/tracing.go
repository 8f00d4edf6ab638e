package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/tempo/job"
)

// tracerName is the instrumentation scope name for tempo tracing.
const tracerName = "github.com/xraph/tempo"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// Without a global TracerProvider the noop tracer is used.
//
// Span attributes: tempo.job.id, tempo.job.kind, tempo.queue,
// tempo.retry_count and, for fired jobs, tempo.schedule.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("tempo.job.id", j.ID.String()),
			attribute.String("tempo.job.kind", j.Kind),
			attribute.String("tempo.queue", j.Queue),
			attribute.Int("tempo.retry_count", j.RetryCount),
		}
		if j.Schedule != "" {
			attrs = append(attrs, attribute.String("tempo.schedule", j.Schedule))
		}

		ctx, span := tracer.Start(ctx, "tempo.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
