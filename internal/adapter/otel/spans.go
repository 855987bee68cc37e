package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "arbor"

// StartMoveSpan starts a span for a subtree move.
func StartMoveSpan(ctx context.Context, nodeID, targetID, position string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tree.move",
		trace.WithAttributes(
			attribute.String("node.id", nodeID),
			attribute.String("target.id", targetID),
			attribute.String("move.position", position),
		),
	)
}

// StartForestSpan starts a span for any other structural write on a forest.
func StartForestSpan(ctx context.Context, op, forestID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tree."+op,
		trace.WithAttributes(attribute.String("forest.id", forestID)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
