package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewPrometheusProvider returns a Provider over a private Prometheus
// registry, keeping the daemon's metrics isolated from the global default
// registry. The provider additionally exposes MetricsHandler() for HTTP
// exposition.
func NewPrometheusProvider() Provider {
	return &promProvider{registry: prometheus.NewRegistry()}
}

type promProvider struct {
	registry *prometheus.Registry
	mu       sync.Mutex
	err      error
}

// MetricsHandler returns the exposition handler for the provider registry.
func (p *promProvider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *promProvider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// register keeps the first failure and tells the caller to hand out an
// inert instrument instead.
func (p *promProvider) register(c prometheus.Collector) bool {
	if err := p.registry.Register(c); err != nil {
		p.mu.Lock()
		if p.err == nil {
			p.err = err
		}
		p.mu.Unlock()
		return false
	}
	return true
}

func (p *promProvider) Counter(subsystem, name, help string, labels ...string) Counter {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	if !p.register(vec) {
		return inert{}
	}
	return promCounter{vec: vec}
}

func (p *promProvider) Gauge(subsystem, name, help string, labels ...string) Gauge {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	if !p.register(vec) {
		return inert{}
	}
	return promGauge{vec: vec}
}

func (p *promProvider) Histogram(subsystem, name, help string, labels ...string) Histogram {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, labels)
	if !p.register(vec) {
		return inert{}
	}
	return promHistogram{vec: vec}
}

type promCounter struct{ vec *prometheus.CounterVec }

func (c promCounter) Inc(labels ...string) { c.vec.WithLabelValues(labels...).Inc() }

func (c promCounter) Add(delta float64, labels ...string) {
	if delta <= 0 {
		return
	}
	c.vec.WithLabelValues(labels...).Add(delta)
}

type promGauge struct{ vec *prometheus.GaugeVec }

func (g promGauge) Set(v float64, labels ...string) { g.vec.WithLabelValues(labels...).Set(v) }

type promHistogram struct{ vec *prometheus.HistogramVec }

func (h promHistogram) Observe(v float64, labels ...string) {
	h.vec.WithLabelValues(labels...).Observe(v)
}
