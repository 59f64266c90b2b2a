package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// zeroTraceID is returned when the context carries no recording span, so log
// records always have a fixed-width trace_id field.
const zeroTraceID = "00000000000000000000000000000000"

// GetTraceID extracts the trace id of the span carried by ctx.
func GetTraceID(ctx context.Context) string {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return zeroTraceID
}
