package metrics

// OpenTelemetry backend. Names are dotted (thermactl.runner.ticks_total)
// per OTEL convention; gauges are emulated with an UpDownCounter carrying
// the delta between successive Set calls, since the daemon sets gauges from
// a single goroutine and only needs last-value semantics.

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewOTelProvider returns a Provider backed by an OTEL MeterProvider.
// Exporters, views, and resource attributes can be layered on by the
// deployment; this stays zero-config.
func NewOTelProvider(service string) Provider {
	if service == "" {
		service = Namespace
	}
	mp := sdkmetric.NewMeterProvider()
	return &otelProvider{meter: mp.Meter(service)}
}

type otelProvider struct {
	meter metric.Meter
	mu    sync.Mutex
	err   error
}

func (p *otelProvider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *otelProvider) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

func dotted(subsystem, name string) string {
	if subsystem == "" {
		return Namespace + "." + name
	}
	return Namespace + "." + subsystem + "." + name
}

func (p *otelProvider) Counter(subsystem, name, help string, labels ...string) Counter {
	inst, err := p.meter.Float64Counter(dotted(subsystem, name), metric.WithDescription(help))
	if err != nil {
		p.fail(err)
		return inert{}
	}
	return otelCounter{c: inst}
}

func (p *otelProvider) Gauge(subsystem, name, help string, labels ...string) Gauge {
	inst, err := p.meter.Float64UpDownCounter(dotted(subsystem, name), metric.WithDescription(help))
	if err != nil {
		p.fail(err)
		return inert{}
	}
	return &otelGauge{g: inst}
}

func (p *otelProvider) Histogram(subsystem, name, help string, labels ...string) Histogram {
	inst, err := p.meter.Float64Histogram(dotted(subsystem, name), metric.WithDescription(help))
	if err != nil {
		p.fail(err)
		return inert{}
	}
	return otelHistogram{h: inst}
}

type otelCounter struct{ c metric.Float64Counter }

func (c otelCounter) Inc(labels ...string) { c.c.Add(context.Background(), 1) }

func (c otelCounter) Add(delta float64, labels ...string) {
	if delta > 0 {
		c.c.Add(context.Background(), delta)
	}
}

type otelGauge struct {
	g    metric.Float64UpDownCounter
	mu   sync.Mutex
	last float64
}

func (g *otelGauge) Set(v float64, labels ...string) {
	g.mu.Lock()
	diff := v - g.last
	g.last = v
	g.mu.Unlock()
	if diff != 0 {
		g.g.Add(context.Background(), diff)
	}
}

type otelHistogram struct{ h metric.Float64Histogram }

func (h otelHistogram) Observe(v float64, labels ...string) {
	h.h.Record(context.Background(), v)
}
