package main

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.9.0"
)

//nolint:tagalign // later
type tracingConfig struct {
	ReporterURI string  `env:"TRACING_REPORTER_URI" env-default:""`
	ServiceName string  `env:"TRACING_SERVICE_NAME" env-default:"crashlog"`
	Probability float64 `env:"TRACING_PROBABILITY"  env-default:"1.0"`
	Insecure    bool    `env:"TRACING_INSECURE"     env-default:"true"`
	// Propagators names the trace context formats injected into report requests.
	Propagators []string `env:"TRACING_PROPAGATORS" env-default:"tracecontext,baggage"`
}

// startTracing exports the spans of a command run to an OTLP collector.
// The provider is installed globally and must be closed before exit.
func startTracing(ctx context.Context, cfg tracingConfig) (*trace.TracerProvider, error) {
	propagator, err := textMapPropagator(cfg.Propagators)
	if err != nil {
		return nil, err
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.ReporterURI)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("creating new exporter: %w", err)
	}

	traceProvider := trace.NewTracerProvider(
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.Probability))),
		trace.WithBatcher(exporter),
		trace.WithResource(
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String(cfg.ServiceName),
				semconv.ServiceVersionKey.String(version),
			),
		),
	)

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagator)

	return traceProvider, nil
}

// textMapPropagator combines the named propagators. "none" disables propagation.
func textMapPropagator(names []string) (propagation.TextMapPropagator, error) {
	props := make([]propagation.TextMapPropagator, 0, len(names))
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case "tracecontext":
			props = append(props, propagation.TraceContext{})
		case "baggage":
			props = append(props, propagation.Baggage{})
		case "none", "":
		default:
			return nil, fmt.Errorf("unknown TRACING_PROPAGATORS entry %q, expected tracecontext, baggage or none", name)
		}
	}
	return propagation.NewCompositeTextMapPropagator(props...), nil
}
