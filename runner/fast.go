package runner

import (
	"fmt"
	"math"
	"time"

	"github.com/thermactl/thermactl/process"
)

// Fast drives its root against a simulated clock starting at zero. The
// inter-tick wait advances the clock instantaneously, so a composition's
// logical schedule plays out as fast as the CPU allows. Processes observe
// the simulated time transparently through the installed clock; no process
// code changes.
type Fast struct {
	*core
	clk         *ManualClock
	initialized bool
	halted      bool
}

// NewFast constructs a fast runner.
func NewFast(root process.Process, opts Options) *Fast {
	clk := NewManualClock()
	return &Fast{core: newCore(root, clk, opts), clk: clk}
}

// Clock exposes the simulated clock, mainly for assertions in tests.
func (f *Fast) Clock() *ManualClock { return f.clk }

// RunFor runs the schedule synchronously until simulated time reaches the
// current time plus duration, or the schedule goes quiescent. Successive
// calls continue from where the previous one left off. RunFor cannot be
// mixed with Start.
func (f *Fast) RunFor(duration time.Duration) error {
	if f.State() == StateRunning {
		return fmt.Errorf("%w: RunFor while loop active", ErrAlreadyStarted)
	}
	if f.halted {
		return f.Err()
	}
	if !f.initialized {
		f.install()
		f.initialized = true
	}
	deadline := f.clk.Now() + duration.Nanoseconds()
	last := int64(-1)
	for {
		t := f.root.NextRunAt(f.clk.Now())
		if t == math.MaxInt64 || t > deadline {
			break
		}
		// A schedule that cannot move past the current instant (a
		// zero-interval root) is quiescent for simulation purposes: one
		// tick per instant, then stop instead of spinning.
		if t == last {
			break
		}
		last = t
		f.clk.Advance(t)
		if halt := f.tick(); halt {
			f.halted = true
			f.state.Store(int32(StateStopped))
			return f.Err()
		}
	}
	f.clk.Advance(deadline)
	return nil
}
