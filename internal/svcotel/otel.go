// Package svcotel provides the tracer provider handed to the reporting pipeline
// and a no-op implementation used when tracing is not configured.
package svcotel

import (
	"context"
	"errors"

	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProvider is a trace.TracerProvider whose buffered spans can be
// flushed before a short-lived process exits.
type TracerProvider interface {
	trace.TracerProvider
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

var (
	_ TracerProvider = (*tracesdk.TracerProvider)(nil)
	_ TracerProvider = (*NoopProvider)(nil)
)

// NoopProvider is a no-op tracer provider implementation.
type NoopProvider struct {
	trace.TracerProvider
}

// NewNoopProvider returns a no-op tracer provider.
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{
		TracerProvider: noop.NewTracerProvider(),
	}
}

// ForceFlush is a no-op implementation of the ForceFlush method.
func (p *NoopProvider) ForceFlush(context.Context) error {
	return nil
}

// Shutdown is a no-op implementation of the Shutdown method.
func (p *NoopProvider) Shutdown(context.Context) error {
	return nil
}

// Close flushes the spans of tp and shuts it down.
func Close(ctx context.Context, tp TracerProvider) error {
	return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
}
