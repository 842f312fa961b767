package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GatewayMetrics holds metric instruments for the request pipeline.
// Initialize once at server startup and reuse for the process lifetime.
// All instruments are no-ops until a meter provider is installed.
type GatewayMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests through the pipeline
	RequestDuration metric.Float64Histogram // Request latency
	RateLimited     metric.Int64Counter     // Requests rejected with 429
	UpstreamErrors  metric.Int64Counter     // Backend forwards that ended in fallback
}

// NewGatewayMetrics creates the pipeline metric instruments.
func NewGatewayMetrics() (*GatewayMetrics, error) {
	meter := otel.Meter("edge/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	rateLimited, err := meter.Int64Counter(
		"http.server.rate_limited.count",
		metric.WithDescription("Requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	upstreamErrors, err := meter.Int64Counter(
		"upstream.fallback.count",
		metric.WithDescription("Backend forwards that fell back after upstream failure"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &GatewayMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		RateLimited:     rateLimited,
		UpstreamErrors:  upstreamErrors,
	}, nil
}

// RecordRequest records one pipeline request with method, path and status.
func (m *GatewayMetrics) RecordRequest(ctx context.Context, method, path, status string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.String("http.status_code", status),
	)
	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)
	if status == "429" {
		m.RateLimited.Add(ctx, 1, attrs)
	}
}

// RecordFallback records a backend forward that could not reach any upstream.
func (m *GatewayMetrics) RecordFallback(ctx context.Context, method string) {
	m.UpstreamErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.method", method),
	))
}
