// Package tracing wires the OpenTelemetry SDK tracer and provides the span
// shape for runner ticks (StartTick/EndTick). The runner package does not
// open these spans itself. No exporter is configured by default;
// deployments attach their own span processors to the returned provider.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps an OTEL tracer with the few span shapes the daemon emits.
type Tracer struct {
	tracer   oteltrace.Tracer
	provider *sdktrace.TracerProvider
}

// New sets up a tracer provider with service resource attributes and
// returns the daemon tracer. Disabled tracing yields no-op spans.
func New(serviceName, environment string, enabled bool) *Tracer {
	if !enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(serviceName)}
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.DeploymentEnvironmentKey.String(environment),
		)),
	)
	otel.SetTracerProvider(tp)
	return &Tracer{tracer: otel.Tracer(serviceName), provider: tp}
}

// StartTick opens a span around one runner tick.
func (t *Tracer) StartTick(ctx context.Context, runnerName string) (context.Context, oteltrace.Span) {
	return t.tracer.Start(ctx, "runner.tick",
		oteltrace.WithAttributes(attribute.String("runner", runnerName)))
}

// EndTick closes the tick span, recording failure when err is non-nil.
func (t *Tracer) EndTick(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tick failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes the provider, if one was constructed.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
