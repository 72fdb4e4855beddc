package process

import (
	"fmt"
	"time"

	"github.com/thermactl/thermactl/device"
)

// StatefulConfig extends Config with the buffer retention limits. At least
// one limit must be finite so the history cannot grow without bound.
type StatefulConfig struct {
	Config `yaml:",inline"`

	// BufferMaxAge prunes entries older than now − BufferMaxAge on every
	// store. Zero disables age pruning.
	BufferMaxAge time.Duration `yaml:"buffer_max_age"`

	// BufferMaxEntries caps the entry count. Zero disables count pruning.
	BufferMaxEntries int `yaml:"buffer_max_entries"`
}

// validate covers only the buffer limits; the embedded Config is validated
// by New.
func (c *StatefulConfig) validate() error {
	if c.BufferMaxAge < 0 || c.BufferMaxEntries < 0 {
		return fmt.Errorf("process %q: buffer limits must be non-negative", c.Name)
	}
	if c.BufferMaxAge == 0 && c.BufferMaxEntries == 0 {
		return fmt.Errorf("process %q: at least one of buffer_max_age and buffer_max_entries must be set", c.Name)
	}
	return nil
}

// Stateful is a process with an owned history Buffer. Its ImportState hook
// additionally stores the incoming StateMap at the current time before
// delegating to the wrapped logic, so algorithms needing memory (derivative
// terms, trend detection) find the history already in place. The retention
// limits are configuration; the buffer contents are runtime-only.
type Stateful struct {
	*Base
	buf        *Buffer
	maxAge     time.Duration
	maxEntries int
}

// NewStateful wraps logic in a process that records its input history.
func NewStateful(cfg StatefulConfig, logic Logic) (*Stateful, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Stateful{buf: NewBuffer(), maxAge: cfg.BufferMaxAge, maxEntries: cfg.BufferMaxEntries}
	base, err := New(cfg.Config, &recordingLogic{owner: s, inner: logic})
	if err != nil {
		return nil, err
	}
	s.Base = base
	return s, nil
}

// Buffer exposes the owned history to the wrapped logic.
func (s *Stateful) Buffer() *Buffer { return s.buf }

// Initialize clears the buffer and resets cadence counters; accumulated
// history is rebuilt at run time, never restored.
func (s *Stateful) Initialize(now int64) {
	s.Base.Initialize(now)
	s.buf.Reset()
}

func (s *Stateful) record(in device.StateMap) error {
	now := s.Now()
	if err := s.buf.Store(now, in.Clone()); err != nil {
		return err
	}
	if s.maxAge > 0 {
		s.buf.PruneBefore(now - int64(s.maxAge))
	}
	if s.maxEntries > 0 {
		s.buf.PruneToCount(s.maxEntries)
	}
	return nil
}

// recordingLogic interposes the history store ahead of the wrapped logic.
type recordingLogic struct {
	PassThrough
	owner *Stateful
	inner Logic
}

func (r *recordingLogic) ImportState(in device.StateMap) error {
	if err := r.owner.record(in); err != nil {
		return err
	}
	if r.inner != nil {
		return r.inner.ImportState(in)
	}
	return r.PassThrough.ImportState(in)
}

func (r *recordingLogic) Think() error {
	if r.inner != nil {
		return r.inner.Think()
	}
	return nil
}

func (r *recordingLogic) ExportState() (device.StateMap, error) {
	if r.inner != nil {
		return r.inner.ExportState()
	}
	return r.PassThrough.ExportState()
}
