package runner

import (
	"sync/atomic"
	"time"

	"github.com/thermactl/thermactl/process"
)

// TickClock is the time source a runner installs into the processes it
// drives. Beyond reading the time it knows how to wait for a scheduled
// instant, which is where the standard and fast variants differ.
type TickClock interface {
	process.Clock

	// WaitUntil blocks until the monotonic time t arrives or stop closes,
	// reporting false when stopped. The fast clock never blocks: it
	// advances itself to t instead.
	WaitUntil(t int64, stop <-chan struct{}) bool
}

// wallClock reads the OS monotonic clock and performs real, interruptible
// sleeps.
type wallClock struct {
	anchor time.Time
}

// NewWallClock returns a TickClock over the OS monotonic clock.
func NewWallClock() TickClock { return &wallClock{anchor: time.Now()} }

func (c *wallClock) Now() int64 { return time.Since(c.anchor).Nanoseconds() }

func (c *wallClock) WaitUntil(t int64, stop <-chan struct{}) bool {
	d := time.Duration(t - c.Now())
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}

// ManualClock is a simulated clock starting at zero. Waiting advances it
// instantaneously, letting hours of thermal behaviour run in milliseconds
// of real time.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock returns a simulated clock at time zero.
func NewManualClock() *ManualClock { return &ManualClock{} }

func (c *ManualClock) Now() int64 { return c.now.Load() }

// Advance moves the clock forward to t; it never regresses.
func (c *ManualClock) Advance(t int64) {
	for {
		cur := c.now.Load()
		if t <= cur || c.now.CompareAndSwap(cur, t) {
			return
		}
	}
}

func (c *ManualClock) WaitUntil(t int64, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return false
	default:
	}
	c.Advance(t)
	return true
}
