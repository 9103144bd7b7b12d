// Package tracing installs the process OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// ServiceName identifies aide's spans to the collector.
const ServiceName = "aide"

// Options selects where spans go.
type Options struct {
	Endpoint string // OTLP/HTTP host:port; empty disables export
	Insecure bool
	Version  string
}

// Setup installs a global provider that batches spans to opts.Endpoint. With
// no endpoint the no-op provider stays in place. The returned function
// flushes and stops the provider; it is always non-nil.
func Setup(ctx context.Context, opts Options, logger *zap.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	tp := NewProvider(exp, opts.Version)
	otel.SetTracerProvider(tp)
	logger.Named("tracing").Info("exporting spans", zap.String("endpoint", opts.Endpoint))
	return tp.Shutdown, nil
}

// NewProvider builds a batching provider for exp tagged with the service
// name and version.
func NewProvider(exp sdktrace.SpanExporter, version string) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", version),
	)
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
}
