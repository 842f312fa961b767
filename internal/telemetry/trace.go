package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a gateway operation.
//
// Usage:
//
//	ctx, span := telemetry.StartSpan(ctx, "edge/proxy", "proxy.Forward",
//	    attribute.String("upstream.url", target),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Common attribute keys for gateway spans
const (
	AttrPrincipalKey  = "principal.key"
	AttrUpstreamURL   = "upstream.url"
	AttrUpstreamRetry = "upstream.retry"
	AttrOIDCIssuer    = "oidc.issuer"
)
