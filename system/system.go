// Package system provides the parallel composition primitive: children run
// independently on their own cadences, interleaved cooperatively via a
// min-heap of next-run times.
package system

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/thermactl/thermactl/device"
	"github.com/thermactl/thermactl/process"
)

// Config describes a system. The interval is normally zero: a system is
// event-driven, its NextRunAt being the minimum across children.
type Config struct {
	process.Config `yaml:",inline"`
	Children       []process.Process `yaml:"-"`
}

type entry struct {
	proc process.Process
	due  int64
	seq  int // insertion order, the deterministic tie-break
	idx  int
}

type schedule []*entry

func (s schedule) Len() int { return len(s) }
func (s schedule) Less(i, j int) bool {
	if s[i].due != s[j].due {
		return s[i].due < s[j].due
	}
	return s[i].seq < s[j].seq
}
func (s schedule) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
	s[i].idx = i
	s[j].idx = j
}
func (s *schedule) Push(x any) {
	e := x.(*entry)
	e.idx = len(*s)
	*s = append(*s, e)
}
func (s *schedule) Pop() any {
	old := *s
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*s = old[:n-1]
	return e
}

// System coordinates children that represent independent control loops.
// Each tick it pops every child whose scheduled time has arrived, runs it
// with an empty StateMap, and re-enqueues it at its new next-run time.
// Children never share per-tick state; cross-loop coupling is explicit via
// a higher-level process exposing aggregates as a device.
type System struct {
	*process.Base
	sched   schedule
	nextSeq int
}

var _ process.Collection = (*System)(nil)

// New builds a system.
func New(cfg Config) (*System, error) {
	cfg.Variant = process.VariantComposite
	base, err := process.New(cfg.Config, nil)
	if err != nil {
		return nil, err
	}
	s := &System{Base: base}
	for _, c := range cfg.Children {
		if err := s.Append(c); err != nil {
			return nil, fmt.Errorf("system %q: %w", cfg.Name, err)
		}
	}
	return s, nil
}

// Execute runs every due child once, in (time, insertion) order, and
// returns its input unchanged. Each child receives an empty StateMap:
// state isolation between independent loops is the default. A child with a
// zero interval is due on every poll but still runs at most once per tick.
func (s *System) Execute(in device.StateMap) (device.StateMap, error) {
	now := s.Now()
	var due []*entry
	for len(s.sched) > 0 && s.sched[0].due <= now {
		due = append(due, heap.Pop(&s.sched).(*entry))
	}
	for i, e := range due {
		_, err := e.proc.Execute(device.NewStateMap())
		if err != nil {
			// Re-enqueue everything popped before propagating so the
			// schedule stays consistent if the caller continues.
			e.due = e.proc.NextRunAt(now)
			heap.Push(&s.sched, e)
			for _, rest := range due[i+1:] {
				heap.Push(&s.sched, rest)
			}
			return in, err
		}
		e.due = e.proc.NextRunAt(now)
		heap.Push(&s.sched, e)
	}
	s.MarkExecuted()
	return in, nil
}

// Initialize seeds every child and rebuilds the schedule.
func (s *System) Initialize(now int64) {
	s.Base.Initialize(now)
	for _, e := range s.sched {
		e.proc.Initialize(now)
		e.due = e.proc.NextRunAt(now)
	}
	heap.Init(&s.sched)
}

// SetClock installs the time source on the system and every child.
func (s *System) SetClock(c process.Clock) {
	s.Base.SetClock(c)
	for _, e := range s.sched {
		e.proc.SetClock(c)
	}
}

// NextRunAt is the minimum next-run time across children, making systems
// event-driven rather than polling. An empty system is never due.
func (s *System) NextRunAt(now int64) int64 {
	if len(s.sched) == 0 {
		return math.MaxInt64
	}
	return s.sched[0].due
}

// Count returns the number of children.
func (s *System) Count() int { return len(s.sched) }

// Has reports whether a child with the name is scheduled.
func (s *System) Has(name string) bool { return s.find(name) != nil }

// Get returns the named child.
func (s *System) Get(name string) (process.Process, bool) {
	if e := s.find(name); e != nil {
		return e.proc, true
	}
	return nil, false
}

// Append schedules a child at its own next-run time.
func (s *System) Append(c process.Process) error {
	return s.add(c, s.nextSeq)
}

// InsertBefore schedules a child tie-breaking ahead of the named target.
// Scheduling order is cadence-driven; insertion position only decides who
// runs first when two children come due at the same instant.
func (s *System) InsertBefore(target string, c process.Process) error {
	t := s.find(target)
	if t == nil {
		return fmt.Errorf("%w: %q", process.ErrChildNotFound, target)
	}
	return s.addAtSeq(c, t.seq)
}

// InsertAfter schedules a child tie-breaking just after the named target.
func (s *System) InsertAfter(target string, c process.Process) error {
	t := s.find(target)
	if t == nil {
		return fmt.Errorf("%w: %q", process.ErrChildNotFound, target)
	}
	return s.addAtSeq(c, t.seq+1)
}

// Remove unschedules the named child.
func (s *System) Remove(name string) error {
	e := s.find(name)
	if e == nil {
		return fmt.Errorf("%w: %q", process.ErrChildNotFound, name)
	}
	heap.Remove(&s.sched, e.idx)
	return nil
}

func (s *System) add(c process.Process, seq int) error {
	if c == nil {
		return fmt.Errorf("system %q: nil child", s.Name())
	}
	if s.find(c.Name()) != nil {
		return fmt.Errorf("%w: %q", process.ErrDuplicateChild, c.Name())
	}
	if seq >= s.nextSeq {
		s.nextSeq = seq + 1
	}
	c.SetClock(s.Clock())
	heap.Push(&s.sched, &entry{proc: c, due: c.NextRunAt(s.Now()), seq: seq})
	return nil
}

func (s *System) addAtSeq(c process.Process, seq int) error {
	if c == nil {
		return fmt.Errorf("system %q: nil child", s.Name())
	}
	if s.find(c.Name()) != nil {
		return fmt.Errorf("%w: %q", process.ErrDuplicateChild, c.Name())
	}
	// Shift later sequence numbers up to keep the tie-break total order.
	for _, e := range s.sched {
		if e.seq >= seq {
			e.seq++
		}
	}
	s.nextSeq++
	if err := s.add(c, seq); err != nil {
		return err
	}
	heap.Init(&s.sched)
	return nil
}

func (s *System) find(name string) *entry {
	for _, e := range s.sched {
		if e.proc.Name() == name {
			return e
		}
	}
	return nil
}
