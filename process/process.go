package process

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thermactl/thermactl/device"
)

// Variant classifies a process for the permission arbiter. Environments own
// sensor values; controllers own actuator values; composites (pipelines,
// systems) merely route state and are permission-neutral.
type Variant string

const (
	VariantEnvironment Variant = "environment"
	VariantController  Variant = "controller"
	VariantComposite   Variant = "composite"
)

// Process is the computational unit of the daemon. A runner repeatedly
// invokes Execute on its root process at the cadence the process reports via
// NextRunAt.
//
// Execute returns an error only for programming bugs (permission violations
// and buffer timestamp regressions), which propagate to the runner.
// Operational failures inside a process are logged and degrade the process
// to pass-through for that tick.
type Process interface {
	Name() string
	Variant() Variant
	Interval() time.Duration

	// SetClock installs the time source a runner wants this process (and
	// any children) to observe. A nil clock restores the OS monotonic
	// clock.
	SetClock(Clock)

	// Initialize seeds cadence counters and resets runtime state. Runners
	// call it once before entering the loop.
	Initialize(now int64)

	Execute(in device.StateMap) (device.StateMap, error)

	// NextRunAt returns the monotonic nanosecond time at which the process
	// wishes next to run. A zero-interval process is due whenever its
	// parent polls it.
	NextRunAt(now int64) int64
}

// Logic is the hook triple Execute is factored through: absorb the input
// into working form, compute, emit a new StateMap. Implementations override
// any subset; the defaults pass the input through untouched. The split lets
// algorithms keep a computation-native representation without paying a
// format conversion on every step of their logic.
type Logic interface {
	ImportState(in device.StateMap) error
	Think() error
	ExportState() (device.StateMap, error)
}

// PassThrough is a Logic implementation embedders start from: it remembers
// the imported StateMap and exports it unchanged.
type PassThrough struct {
	in device.StateMap
}

func (p *PassThrough) ImportState(in device.StateMap) error { p.in = in; return nil }
func (p *PassThrough) Think() error                         { return nil }
func (p *PassThrough) ExportState() (device.StateMap, error) {
	return p.in, nil
}

// Input returns the most recently imported StateMap.
func (p *PassThrough) Input() device.StateMap { return p.in }

// Config is the serializable configuration every process kind accepts.
type Config struct {
	// Name identifies the process for lookup within its parent. Required,
	// unique within the parent collection.
	Name string `yaml:"name"`

	// Interval is the tick cadence. Zero means "driven by parent poll".
	Interval time.Duration `yaml:"interval"`

	// Variant defaults to controller when empty.
	Variant Variant `yaml:"variant,omitempty"`

	// Logger receives the one-line-per-tick operational failure warnings.
	// Defaults to slog.Default with a "process" attribute.
	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) validate() error {
	if c.Name == "" {
		return errors.New("process name is required")
	}
	if c.Interval < 0 {
		return fmt.Errorf("process %q: interval must be non-negative, got %s", c.Name, c.Interval)
	}
	switch c.Variant {
	case "":
		c.Variant = VariantController
	case VariantEnvironment, VariantController, VariantComposite:
	default:
		return fmt.Errorf("process %q: unknown variant %q", c.Name, c.Variant)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With(slog.String("process", c.Name))
	return nil
}

// Base carries identity, cadence bookkeeping, clock indirection, and the
// execute-through-hooks machinery shared by every process kind. Concrete
// processes either wrap a Logic via New, or embed *Base and provide their
// own Execute (pipelines and systems do the latter).
type Base struct {
	name     string
	variant  Variant
	interval time.Duration
	logger   *slog.Logger
	logic    Logic

	clock      Clock
	startTime  int64
	executions uint64

	declared map[string]device.Device
}

// New constructs a process around the given logic. A nil logic yields the
// identity process.
func New(cfg Config, logic Logic) (*Base, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Base{
		name:     cfg.Name,
		variant:  cfg.Variant,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		logic:    logic,
		clock:    SystemClock(),
	}, nil
}

func (b *Base) Name() string            { return b.name }
func (b *Base) Variant() Variant        { return b.variant }
func (b *Base) Interval() time.Duration { return b.interval }

// Logger returns the process logger for embedders.
func (b *Base) Logger() *slog.Logger { return b.logger }

// SetClock installs the runner's time source.
func (b *Base) SetClock(c Clock) {
	if c == nil {
		c = SystemClock()
	}
	b.clock = c
}

// Now reads the installed time source.
func (b *Base) Now() int64 { return b.clock.Now() }

// Clock returns the installed time source, letting composites forward it to
// children adopted after installation.
func (b *Base) Clock() Clock { return b.clock }

// Initialize seeds the cadence counters.
func (b *Base) Initialize(now int64) {
	b.startTime = now
	b.executions = 0
}

// Executions returns how many ticks have completed since Initialize.
func (b *Base) Executions() uint64 { return b.executions }

// MarkExecuted advances the cadence counter. Embedders providing their own
// Execute call it once per completed tick.
func (b *Base) MarkExecuted() { b.executions++ }

// NextRunAt implements the modulo cadence scheme: the next run lands at
// start + (executions+1)*interval, so average cadence stays exact under
// jitter. A late process never bursts to catch up; it just runs later than
// ideal.
func (b *Base) NextRunAt(now int64) int64 {
	if b.interval == 0 {
		return now
	}
	return b.startTime + int64(b.executions+1)*int64(b.interval)
}

// Declare registers devices this process introduces by discovery.
// Environments declare their inventory at construction; the permission
// arbiter admits declared devices appearing in output even when the input
// lacked them. Non-environment processes never need Declare.
func (b *Base) Declare(devs ...device.Device) {
	if b.declared == nil {
		b.declared = make(map[string]device.Device, len(devs))
	}
	for _, d := range devs {
		b.declared[d.Name()] = d
	}
}

// Execute runs the hook triple under the operational failure policy: an
// error or panic escaping a hook is logged at warning and the input is
// returned unmodified, so thermal control continues even when a single
// stage fails. Permission violations are returned to the caller.
func (b *Base) Execute(in device.StateMap) (device.StateMap, error) {
	out, err := b.runLogic(in)
	if err != nil {
		// Timestamp regressions are programming errors, like permission
		// violations, and must not degrade to pass-through.
		if errors.Is(err, ErrTimestampOrder) {
			return in, err
		}
		b.logger.Warn("process execution failed, passing input through",
			slog.String("error", err.Error()))
		out = in
	}
	if err := checkTransition(b.name, b.variant, in, out, b.declared); err != nil {
		return in, err
	}
	b.executions++
	return out, nil
}

func (b *Base) runLogic(in device.StateMap) (out device.StateMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if b.logic == nil {
		return in, nil
	}
	if err := b.logic.ImportState(in); err != nil {
		return in, err
	}
	if err := b.logic.Think(); err != nil {
		return in, err
	}
	return b.logic.ExportState()
}

// Collection is the management surface shared by serial pipelines and
// parallel systems. It is a small trait over two distinct types, not a
// common inheritance root.
type Collection interface {
	Process
	Count() int
	Has(name string) bool
	Get(name string) (Process, bool)
	Append(p Process) error
	InsertBefore(target string, p Process) error
	InsertAfter(target string, p Process) error
	Remove(name string) error
}
