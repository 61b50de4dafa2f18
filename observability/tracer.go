// Package observability wires OpenTelemetry tracing for the engine.
// Tracing is opt-in; when disabled a noop provider is installed so
// instrumented code paths need no guards.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span names used across the engine.
const (
	SpanRunExecute    = "run.execute"
	SpanToolExecution = "tool.execute"
	SpanRetrieval     = "retrieval.search"
	SpanIngest        = "retrieval.ingest"
)

// Attribute keys used across the engine.
const (
	AttrToolName  = "tool.name"
	AttrRunID     = "run.id"
	AttrSessionID = "session.id"
	AttrScope     = "retrieval.scope"
)

// TracerConfig configures the global tracer provider.
type TracerConfig struct {
	Enabled      bool    `json:"enabled"`
	EndpointURL  string  `json:"endpoint_url"`
	SamplingRate float64 `json:"sampling_rate"`
	ServiceName  string  `json:"service_name"`
}

// SetDefaults fills zero-valued config.
func (c *TracerConfig) SetDefaults() {
	if c.EndpointURL == "" {
		c.EndpointURL = "localhost:4317"
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
	if c.ServiceName == "" {
		c.ServiceName = "threadline"
	}
}

// InitGlobalTracer installs the global tracer provider. Returns the
// provider so callers can shut it down.
func InitGlobalTracer(ctx context.Context, cfg TracerConfig) (trace.TracerProvider, error) {
	cfg.SetDefaults()
	if !cfg.Enabled {
		return noop.NewTracerProvider(), nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.EndpointURL),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// GetTracer returns a named tracer from the global provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
