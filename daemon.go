// Package thermactl composes the execution core behind a single facade: a
// daemon owning one runner, the selected metrics backend, the event bus,
// and the health evaluator.
package thermactl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/thermactl/thermactl/process"
	"github.com/thermactl/thermactl/runner"
	"github.com/thermactl/thermactl/telemetry/events"
	"github.com/thermactl/thermactl/telemetry/health"
	"github.com/thermactl/thermactl/telemetry/metrics"
	"github.com/thermactl/thermactl/telemetry/tracing"
)

// Config is the public configuration surface of the daemon facade. It
// narrows the component configs; advanced callers assemble components
// directly.
type Config struct {
	// Name labels logs, events, and trace resources.
	Name string

	// RunnerVariant is "standard" (default) or "fast".
	RunnerVariant string

	// StopTimeout bounds the cooperative shutdown join.
	StopTimeout time.Duration

	// MetricsEnabled toggles the metrics provider wiring.
	MetricsEnabled bool

	// MetricsBackend selects the implementation when metrics are enabled:
	//   "prom" (default) - private Prometheus registry
	//   "otel"           - OpenTelemetry bridge
	//   "noop"           - explicit no-op
	// Unknown values fall back to the default.
	MetricsBackend string

	// TracingEnabled wires the OTEL tracer provider.
	TracingEnabled bool

	// HealthEnabled wires the probe evaluator.
	HealthEnabled bool

	// HealthProbeTTL caches health evaluations. Defaults to 2s.
	HealthProbeTTL time.Duration

	Logger *slog.Logger
}

// Defaults returns a Config with reasonable defaults.
func Defaults() Config {
	return Config{
		Name:           "thermactl",
		RunnerVariant:  "standard",
		StopTimeout:    5 * time.Second,
		MetricsEnabled: false,
		MetricsBackend: "prom",
		HealthEnabled:  true,
		HealthProbeTTL: 2 * time.Second,
	}
}

// Snapshot is a unified view of daemon state.
type Snapshot struct {
	StartedAt time.Time      `json:"started_at"`
	Uptime    time.Duration  `json:"uptime"`
	Runner    RunnerSnapshot `json:"runner"`
}

// RunnerSnapshot summarizes the owned runner.
type RunnerSnapshot struct {
	State     string `json:"state"`
	Ticks     uint64 `json:"ticks"`
	LastError string `json:"last_error,omitempty"`
}

// EventObserver receives bus events bridged through the facade.
type EventObserver func(ev events.Event)

type runnerHandle interface {
	Start() error
	Stop() error
	State() runner.State
	Ticks() uint64
	Err() error
}

// Daemon composes the execution core behind a single facade.
type Daemon struct {
	cfg    Config
	logger *slog.Logger

	root     process.Process
	run      runnerHandle
	fast     *runner.Fast // non-nil for the fast variant
	provider metrics.Provider
	bus      events.Bus
	tracer   *tracing.Tracer
	evals    *health.Evaluator

	startedAt time.Time

	obsMu     sync.Mutex
	observers []EventObserver
	obsSub    events.Subscription
}

// New constructs a daemon around a root process.
func New(cfg Config, root process.Process) (*Daemon, error) {
	if root == nil {
		return nil, errors.New("thermactl: root process is required")
	}
	if cfg.Name == "" {
		cfg.Name = "thermactl"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Daemon{cfg: cfg, logger: cfg.Logger.With(slog.String("service", cfg.Name)), root: root}

	d.provider = selectMetricsProvider(cfg)
	d.bus = events.NewBus(d.provider)
	d.tracer = tracing.New(cfg.Name, "production", cfg.TracingEnabled)

	opts := runner.Options{
		Name:        cfg.Name,
		StopTimeout: cfg.StopTimeout,
		Logger:      d.logger,
		Metrics:     d.provider,
		Bus:         d.bus,
	}
	switch strings.ToLower(cfg.RunnerVariant) {
	case "", "standard":
		d.run = runner.NewStandard(root, opts)
	case "fast":
		f := runner.NewFast(root, opts)
		d.fast = f
		d.run = f
	default:
		return nil, fmt.Errorf("thermactl: unknown runner variant %q", cfg.RunnerVariant)
	}

	if cfg.HealthEnabled {
		d.evals = health.NewEvaluator(cfg.HealthProbeTTL,
			health.Check{Component: "runner", Func: d.runnerCheck})
	}
	d.startedAt = time.Now()
	return d, nil
}

func selectMetricsProvider(cfg Config) metrics.Provider {
	if !cfg.MetricsEnabled {
		return nil
	}
	switch strings.ToLower(cfg.MetricsBackend) {
	case "", "prom", "prometheus":
		return metrics.NewPrometheusProvider()
	case "otel", "opentelemetry":
		return metrics.NewOTelProvider(cfg.Name)
	case "noop":
		return metrics.NewNoopProvider()
	default:
		return metrics.NewPrometheusProvider()
	}
}

// runnerCheck maps the runner lifecycle onto health statuses: running is
// healthy, a runner halted by a violation is unhealthy, everything else
// (not yet started, stopping, cleanly stopped) is degraded.
func (d *Daemon) runnerCheck(ctx context.Context) (health.Status, string) {
	switch d.run.State() {
	case runner.StateRunning:
		return health.StatusHealthy, ""
	case runner.StateCreated:
		return health.StatusDegraded, "not started"
	case runner.StateStopping:
		return health.StatusDegraded, "stopping"
	default:
		if err := d.run.Err(); err != nil {
			return health.StatusUnhealthy, err.Error()
		}
		return health.StatusDegraded, "stopped"
	}
}

// Start launches the runner loop.
func (d *Daemon) Start() error {
	if err := d.run.Start(); err != nil {
		return err
	}
	d.startedAt = time.Now()
	d.logger.Info("daemon started", slog.String("root", d.root.Name()))
	return nil
}

// RunFor drives a fast-variant daemon synchronously through the given span
// of simulated time. It errors for the standard variant.
func (d *Daemon) RunFor(duration time.Duration) error {
	if d.fast == nil {
		return errors.New("thermactl: RunFor requires the fast runner variant")
	}
	return d.fast.RunFor(duration)
}

// Stop shuts the runner down. Idempotent; safe to call multiple times.
func (d *Daemon) Stop() error {
	err := d.run.Stop()
	d.obsMu.Lock()
	if d.obsSub != nil {
		_ = d.obsSub.Close()
		d.obsSub = nil
	}
	d.obsMu.Unlock()
	if terr := d.tracer.Shutdown(context.Background()); terr != nil && err == nil {
		err = terr
	}
	return err
}

// Snapshot returns a unified state view.
func (d *Daemon) Snapshot() Snapshot {
	snap := Snapshot{StartedAt: d.startedAt, Uptime: time.Since(d.startedAt)}
	snap.Runner = RunnerSnapshot{State: d.run.State().String(), Ticks: d.run.Ticks()}
	if err := d.run.Err(); err != nil {
		snap.Runner.LastError = err.Error()
	}
	return snap
}

// HealthSnapshot evaluates (or returns cached) probe health. Zero value
// when health is disabled.
func (d *Daemon) HealthSnapshot(ctx context.Context) health.Snapshot {
	if d.evals == nil {
		return health.Snapshot{}
	}
	return d.evals.Evaluate(ctx)
}

// MetricsHandler returns the HTTP handler for metrics exposition
// (Prometheus backend only); nil when unavailable.
func (d *Daemon) MetricsHandler() http.Handler {
	if d.provider == nil {
		return nil
	}
	if hp, ok := d.provider.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// RegisterEventObserver adds an observer invoked for each bus event. Safe
// for concurrent use; a nil observer is a no-op.
func (d *Daemon) RegisterEventObserver(obs EventObserver) {
	if obs == nil {
		return
	}
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	d.observers = append(d.observers, obs)
	if d.obsSub != nil {
		return
	}
	sub, err := d.bus.Subscribe(256)
	if err != nil {
		return
	}
	d.obsSub = sub
	go func() {
		for ev := range sub.C() {
			d.obsMu.Lock()
			observers := append([]EventObserver(nil), d.observers...)
			d.obsMu.Unlock()
			for _, o := range observers {
				func() { defer func() { _ = recover() }(); o(ev) }()
			}
		}
	}()
}
