package process

import "time"

// Clock abstracts monotonic time for deterministic testing. Runners install
// their clock on the root process before the first Initialize; composites
// forward the installation to their children. A process that has never been
// adopted by a runner falls back to the OS monotonic clock.
type Clock interface {
	// Now returns monotonic nanoseconds. The epoch is unspecified; only
	// differences and ordering are meaningful.
	Now() int64
}

var systemEpoch = time.Now()

type systemClock struct{}

func (systemClock) Now() int64 { return time.Since(systemEpoch).Nanoseconds() }

// SystemClock returns the OS monotonic clock.
func SystemClock() Clock { return systemClock{} }
