package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Span names
	SpanAcceptOrder  = "accept_order"
	SpanAcceptCancel = "accept_cancel"

	// Attribute keys
	AttributeOrderID       = "order.id"
	AttributeOrderSide     = "order.side"
	AttributeOrderQuantity = "order.quantity"
	AttributeOrderPrice    = "order.price"
)

// StartSpan starts a span on the engine tracer. Returns a nil span
// when tracing is disabled; callers guard End with a nil check or use
// EndSpan.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetEngineTracer()
	if tracer == nil {
		return ctx, nil
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan ends a span if one was started.
func EndSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

// AddAttributes adds attributes to a span
func AddAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}
