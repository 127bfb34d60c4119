package obs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName    = "order-pipeline"
	ServiceVersion = "0.1.0"
)

const exportTimeout = 10 * time.Second

// Tracer returns the pipeline tracer from the global provider. Without
// InitTracing the global provider is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(ServiceName)
}

// InitTracing installs an SDK tracer provider exporting over OTLP/HTTP to
// endpoint. An empty endpoint leaves the no-op provider in place. The
// returned shutdown flushes pending spans.
func InitTracing(ctx context.Context, endpoint string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		return noop, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("tracing resource: %w", err)
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return noop, fmt.Errorf("otlp trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp, sdktrace.WithExportTimeout(exportTimeout)),
	)
	otel.SetTracerProvider(tp)
	Logger.Info("tracing_enabled", "endpoint", endpoint)
	return tp.Shutdown, nil
}
