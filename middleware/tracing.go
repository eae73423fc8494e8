package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/punt/job"
)

// tracerName is the instrumentation scope name for punt tracing.
const tracerName = "github.com/xraph/punt"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through.
//
// Span attributes: punt.delivery.id, punt.job.name, punt.stream,
// punt.retry_count. On error, the span status is set to codes.Error.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, d *job.Delivery, next Handler) error {
		ctx, span := tracer.Start(ctx, "punt.job.execute",
			trace.WithAttributes(
				attribute.String("punt.delivery.id", d.ID),
				attribute.String("punt.job.name", d.Job),
				attribute.String("punt.stream", d.Stream),
				attribute.Int("punt.retry_count", d.Message.RetryCount),
			),
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
