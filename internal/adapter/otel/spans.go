package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "hookrelay"

// StartIngestSpan starts a span for one raw event on the ingest path.
func StartIngestSpan(ctx context.Context, processContext string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ingest",
		trace.WithAttributes(attribute.String("hook.process_context", processContext)),
	)
}

// StartFlushSpan starts a span for a session flush.
func StartFlushSpan(ctx context.Context, sessionID, reason string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "flush",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("flush.reason", reason),
		),
	)
}
