// Package runner drives a root process autonomously: one background
// goroutine per runner, cooperative stop, and a pluggable time source the
// runner installs into the process tree it owns.
package runner

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/thermactl/thermactl/device"
	"github.com/thermactl/thermactl/process"
	"github.com/thermactl/thermactl/telemetry/events"
	"github.com/thermactl/thermactl/telemetry/metrics"
)

// State is the runner lifecycle: created → running → stopping → stopped.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

var (
	// ErrAlreadyStarted is returned by Start on any state but created.
	ErrAlreadyStarted = errors.New("runner already started")

	// ErrStopTimeout is returned when the loop fails to exit within the
	// configured bound after a stop request.
	ErrStopTimeout = errors.New("runner stop timed out")
)

// Options configures a runner.
type Options struct {
	// Name identifies the runner in logs, events, and metric labels.
	Name string

	// StopTimeout bounds the join performed by Stop. Defaults to 5s.
	StopTimeout time.Duration

	Logger *slog.Logger

	// Metrics optionally instruments ticks, latency, and violations.
	Metrics metrics.Provider

	// Bus optionally receives lifecycle and permission events.
	Bus events.Bus
}

func (o *Options) defaults() {
	if o.Name == "" {
		o.Name = "runner"
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With(slog.String("runner", o.Name))
}

// core is the loop machinery shared by the standard and fast variants.
type core struct {
	root process.Process
	clk  TickClock
	opts Options

	state atomic.Int32
	stop  chan struct{}
	done  chan struct{}
	ticks atomic.Uint64

	lastErr atomic.Value // error

	mTicks      metrics.Counter
	mViolations metrics.Counter
	mChildren   metrics.Gauge
	mLatency    metrics.Histogram
}

func newCore(root process.Process, clk TickClock, opts Options) *core {
	opts.defaults()
	c := &core{
		root: root,
		clk:  clk,
		opts: opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if p := opts.Metrics; p != nil {
		c.mTicks = p.Counter(metrics.SubsystemRunner, "ticks_total",
			"Total root process executions", "runner")
		c.mViolations = p.Counter(metrics.SubsystemRunner, "permission_violations_total",
			"Permission violations observed at the runner", "runner")
		c.mLatency = p.Histogram(metrics.SubsystemRunner, "tick_seconds",
			"Root process execution latency", "runner")
		if _, ok := root.(interface{ Count() int }); ok {
			c.mChildren = p.Gauge(metrics.SubsystemRunner, "scheduled_children",
				"Children scheduled under the root collection", "runner")
		}
	}
	return c
}

// State returns the lifecycle state.
func (c *core) State() State { return State(c.state.Load()) }

// Ticks returns how many root executions have completed.
func (c *core) Ticks() uint64 { return c.ticks.Load() }

// Err returns the error that halted the loop, if any.
func (c *core) Err() error {
	if err, ok := c.lastErr.Load().(error); ok {
		return err
	}
	return nil
}

// Start spawns the background loop. Calling Start on anything but a
// created runner is an error.
func (c *core) Start() error {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, c.State())
	}
	go c.loop()
	return nil
}

// Stop cooperatively requests termination and joins within the configured
// bound. Stop on a stopped runner is a no-op.
func (c *core) Stop() error {
	switch State(c.state.Load()) {
	case StateCreated:
		c.state.Store(int32(StateStopped))
		return nil
	case StateStopped:
		return nil
	}
	if c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		close(c.stop)
	}
	select {
	case <-c.done:
		return nil
	case <-time.After(c.opts.StopTimeout):
		return ErrStopTimeout
	}
}

func (c *core) loop() {
	defer close(c.done)
	defer c.state.Store(int32(StateStopped))

	c.install()
	defer c.root.SetClock(nil)
	c.publish(events.CategoryRunner, "runner_started", "info", nil)
	defer c.publish(events.CategoryRunner, "runner_stopped", "info", nil)

	for {
		t := c.root.NextRunAt(c.clk.Now())
		if t == math.MaxInt64 {
			// Nothing scheduled; park until stopped.
			<-c.stop
			return
		}
		if !c.clk.WaitUntil(t, c.stop) {
			return
		}
		if halt := c.tick(); halt {
			return
		}
	}
}

// install seeds the root with the runner's clock and initializes it. Shared
// with the fast variant's synchronous driver.
func (c *core) install() {
	c.root.SetClock(c.clk)
	c.root.Initialize(c.clk.Now())
}

// tick executes the root once, reporting whether the loop must halt. A
// permission violation (or timestamp regression) is a programming bug: it
// is logged as a structured error and halts this root. A panic escaping the
// process tree is logged and survived as the final line of defence; the
// process-level policy should have caught it already.
func (c *core) tick() (halt bool) {
	defer func() {
		if r := recover(); r != nil {
			c.opts.Logger.Error("panic escaped root process", slog.Any("panic", r))
		}
	}()

	start := time.Now()
	_, err := c.root.Execute(device.NewStateMap())
	if c.mLatency != nil {
		c.mLatency.Observe(time.Since(start).Seconds(), c.opts.Name)
	}
	if err != nil {
		c.lastErr.Store(err)
		c.opts.Logger.Error("halting runner",
			slog.String("root", c.root.Name()),
			slog.String("error", err.Error()))
		if c.mViolations != nil && errors.Is(err, process.ErrPermission) {
			c.mViolations.Inc(c.opts.Name)
		}
		c.publish(events.CategoryPermission, "violation", "error", map[string]any{
			"root":  c.root.Name(),
			"error": err.Error(),
		})
		return true
	}
	c.ticks.Add(1)
	if c.mTicks != nil {
		c.mTicks.Inc(c.opts.Name)
	}
	if c.mChildren != nil {
		if col, ok := c.root.(interface{ Count() int }); ok {
			c.mChildren.Set(float64(col.Count()), c.opts.Name)
		}
	}
	return false
}

func (c *core) publish(category, typ, severity string, fields map[string]any) {
	if c.opts.Bus == nil {
		return
	}
	labels := map[string]string{"runner": c.opts.Name}
	_ = c.opts.Bus.Publish(events.Event{
		Category: category, Type: typ, Severity: severity,
		Labels: labels, Fields: fields,
	})
}
