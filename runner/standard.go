package runner

import "github.com/thermactl/thermactl/process"

// Standard drives its root against the OS monotonic clock with real,
// interruptible inter-tick sleeps.
type Standard struct {
	*core
}

// NewStandard constructs a standard runner over the OS clock.
func NewStandard(root process.Process, opts Options) *Standard {
	return &Standard{core: newCore(root, NewWallClock(), opts)}
}

// NewStandardWithClock constructs a standard runner over an injected clock.
// Intended for deterministic tests that mock the monotonic clock.
func NewStandardWithClock(root process.Process, clk TickClock, opts Options) *Standard {
	return &Standard{core: newCore(root, clk, opts)}
}
