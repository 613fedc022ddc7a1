package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanEngineStart      = "engine.start"
	SpanEngineStop       = "engine.stop"
	SpanGateActivate     = "gate.activate"
	SpanEndpointRegister = "endpoint.register"
	SpanFilterAttach     = "filter.attach"
	SpanHTTPRequest      = "http.request"
)

// Span attribute keys.
const (
	AttrProviderID      = "provider.id"
	AttrProviderKind    = "provider.kind"
	AttrEndpointAddress = "endpoint.address"
	AttrFilterBase      = "filter.base"
	AttrSelectorCount   = "gate.selectors"
	AttrRunID           = "engine.run_id"

	AttrHTTPMethod = "http.method"
	AttrHTTPPath   = "http.path"
	AttrHTTPStatus = "http.status_code"
)

// Start opens an internal span.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
