// Package otelinit wires OpenTelemetry tracing and metrics the way the
// rest of the fleet does: OTLP over gRPC, resource tagging from the
// service name, env-configured collector endpoint.
package otelinit

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// InitTracer installs a batch-exporting TracerProvider and returns a
// shutdown func. Callers that don't need a live collector (tests, the
// virtual-time harness) can leave OTEL_EXPORTER_OTLP_ENDPOINT unset;
// the exporter then fails silently in the background and spans are a
// no-op sink cost.
func InitTracer(ctx context.Context, service string) (func(context.Context) error, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(service),
		))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// WithSpan starts a span named name on the service tracer and returns
// the derived context plus the span's End func.
func WithSpan(ctx context.Context, tracerName, name string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, name)
}

// Flush shuts the given provider down within a bounded window so a
// slow collector never blocks process exit indefinitely.
func Flush(ctx context.Context, shutdown func(context.Context) error) error {
	if shutdown == nil {
		return nil
	}
	fctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return shutdown(fctx)
}
