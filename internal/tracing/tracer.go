package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func span(ctx context.Context, name string, kind trace.SpanKind, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...), trace.WithSpanKind(kind))
}

// StartSpan opens an internal span around a local stage of a dispatch.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return span(ctx, name, trace.SpanKindInternal, attrs)
}

// StartServerSpan opens a server span around an invocation arriving from a peer.
func StartServerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return span(ctx, name, trace.SpanKindServer, attrs)
}

// SetSpanError records err on the span and marks it failed.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as completed cleanly.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Attribute keys shared by dispatch and respond spans.
var (
	AttrGroup     = attribute.Key("quasar.group")
	AttrAction    = attribute.Key("quasar.action")
	AttrCallID    = attribute.Key("quasar.call_id")
	AttrTransport = attribute.Key("quasar.transport")
	AttrMembers   = attribute.Key("quasar.members")
	AttrTimeoutMs = attribute.Key("quasar.timeout_ms")
	AttrResolved  = attribute.Key("quasar.resolved")
	AttrMemberID  = attribute.Key("quasar.member.id")
)
