// Package telemetry wraps OpenTelemetry tracing behind a handle that is a
// silent no-op whenever no collector endpoint is configured, grounded on
// the teacher's internal/observability/tracing.go shutdown-function
// pattern. The one process-wide piece of state (the global tracer
// provider) is guarded by sync.Once with an explicit test reset hook, per
// the spec's design note on global mutable state.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the handle callers start spans through; no other package in
// this module calls it. Endpoint empty means spans go to the global
// provider, a no-op unless something else installed one.
type Tracer struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

var (
	once    sync.Once
	current *Tracer
)

// Configure builds the process-wide tracer. Safe to call multiple times;
// only the first call (per process, or since ResetForTest) takes effect.
func Configure(ctx context.Context, endpoint, serviceName string) (*Tracer, error) {
	var err error
	once.Do(func() {
		current, err = build(ctx, endpoint, serviceName)
	})
	return current, err
}

func build(ctx context.Context, endpoint, serviceName string) (*Tracer, error) {
	if endpoint == "" {
		return &Tracer{tracer: otel.Tracer(serviceName), shutdown: func(context.Context) error { return nil }}, nil
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return &Tracer{tracer: provider.Tracer(serviceName), shutdown: provider.Shutdown}, nil
}

// ResetForTest drops the process-wide singleton so a subsequent Configure
// call rebuilds it; existing *Tracer handles remain valid.
func ResetForTest() {
	once = sync.Once{}
	current = nil
}

// StartSpan starts a span named name, a no-op when Configure was never
// called with a real endpoint.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name)
}

// Shutdown flushes and stops the exporter, if one is configured.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}
