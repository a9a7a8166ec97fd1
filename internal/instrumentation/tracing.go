package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for spans created by mailgate.
const TracerName = "github.com/teemow/mailgate"

// Span attribute keys.
const (
	SpanAttrService   = "mail.service"
	SpanAttrOperation = "mail.operation"
	SpanAttrLimit     = "mail.inbox.limit"
	SpanAttrCount     = "mail.inbox.count"
	SpanAttrErrorKind = "mail.error_kind"
	SpanAttrRequestID = "http.request_id"
)

// StartSpan starts an internal span. The caller must end it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartUpstreamSpan starts a client span named "graph.<operation>" for a
// call to the upstream mail API.
func StartUpstreamSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+2)
	all = append(all,
		attribute.String(SpanAttrService, ServiceGraph),
		attribute.String(SpanAttrOperation, operation),
	)
	all = append(all, attrs...)

	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, ServiceGraph+"."+operation,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan records err and its kind on span, or marks it OK, then ends it.
func EndSpan(span trace.Span, kind string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind != "" {
			span.SetAttributes(attribute.String(SpanAttrErrorKind, kind))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AnnotateSpan sets attrs on the span in ctx, if any.
func AnnotateSpan(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
