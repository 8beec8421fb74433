package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartRPCSpan opens a span for one of the three RPC-facing calls the
// engine makes per candidate: nonce acquire, simulate, broadcast. The
// caller's End func records the error (if any) and closes the span.
func StartRPCSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	spanCtx, span := Tracer().Start(ctx, operation, trace.WithAttributes(attrs...))
	return spanCtx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// CandidateAttrs builds the common span attributes attached to every
// per-candidate RPC call: mint, source slot, priority, correlation ID.
func CandidateAttrs(mint string, sourceSlot uint64, priority string, correlationID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("candidate.mint", mint),
		attribute.Int64("candidate.source_slot", int64(sourceSlot)),
		attribute.String("candidate.priority", priority),
		attribute.String("candidate.correlation_id", correlationID),
	}
}
