// Package pipeline provides the serial composition primitive: children run
// in order each tick, each seeing the previous child's output.
package pipeline

import (
	"fmt"

	"github.com/thermactl/thermactl/device"
	"github.com/thermactl/thermactl/process"
)

// Config describes a pipeline. Children are optional at construction;
// management operations may assemble the pipeline afterwards.
type Config struct {
	process.Config `yaml:",inline"`
	Children       []process.Process `yaml:"-"`
}

// Pipeline folds its input through an ordered list of children. The
// pipeline runs as a unit at its own cadence: all children every tick, in
// append order, never a subset. A child that failed operationally has
// already degraded itself to the identity, so subsequent children still run
// on usable data; permission violations propagate to the caller.
type Pipeline struct {
	*process.Base
	children []process.Process
}

var _ process.Collection = (*Pipeline)(nil)

// New builds a pipeline. Duplicate child names are a construction error.
func New(cfg Config) (*Pipeline, error) {
	cfg.Variant = process.VariantComposite
	base, err := process.New(cfg.Config, nil)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{Base: base}
	for _, c := range cfg.Children {
		if err := p.Append(c); err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", cfg.Name, err)
		}
	}
	return p, nil
}

// Execute threads the StateMap through the children in order. An empty
// pipeline is the identity.
func (p *Pipeline) Execute(in device.StateMap) (device.StateMap, error) {
	out := in
	for _, c := range p.children {
		next, err := c.Execute(out)
		if err != nil {
			return in, err
		}
		out = next
	}
	p.MarkExecuted()
	return out, nil
}

// Initialize seeds the pipeline and every child.
func (p *Pipeline) Initialize(now int64) {
	p.Base.Initialize(now)
	for _, c := range p.children {
		c.Initialize(now)
	}
}

// SetClock installs the time source on the pipeline and every child.
func (p *Pipeline) SetClock(c process.Clock) {
	p.Base.SetClock(c)
	for _, child := range p.children {
		child.SetClock(c)
	}
}

// Count returns the number of children.
func (p *Pipeline) Count() int { return len(p.children) }

// Has reports whether a child with the name is present.
func (p *Pipeline) Has(name string) bool { return p.indexOf(name) >= 0 }

// Get returns the named child.
func (p *Pipeline) Get(name string) (process.Process, bool) {
	if i := p.indexOf(name); i >= 0 {
		return p.children[i], true
	}
	return nil, false
}

// Append adds a child at the tail.
func (p *Pipeline) Append(c process.Process) error {
	return p.insert(len(p.children), c)
}

// InsertBefore adds a child immediately before the named target.
func (p *Pipeline) InsertBefore(target string, c process.Process) error {
	i := p.indexOf(target)
	if i < 0 {
		return fmt.Errorf("%w: %q", process.ErrChildNotFound, target)
	}
	return p.insert(i, c)
}

// InsertAfter adds a child immediately after the named target.
func (p *Pipeline) InsertAfter(target string, c process.Process) error {
	i := p.indexOf(target)
	if i < 0 {
		return fmt.Errorf("%w: %q", process.ErrChildNotFound, target)
	}
	return p.insert(i+1, c)
}

// Remove deletes the named child.
func (p *Pipeline) Remove(name string) error {
	i := p.indexOf(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", process.ErrChildNotFound, name)
	}
	p.children = append(p.children[:i], p.children[i+1:]...)
	return nil
}

func (p *Pipeline) insert(at int, c process.Process) error {
	if c == nil {
		return fmt.Errorf("pipeline %q: nil child", p.Name())
	}
	if p.indexOf(c.Name()) >= 0 {
		return fmt.Errorf("%w: %q", process.ErrDuplicateChild, c.Name())
	}
	c.SetClock(p.Clock())
	p.children = append(p.children, nil)
	copy(p.children[at+1:], p.children[at:])
	p.children[at] = c
	return nil
}

func (p *Pipeline) indexOf(name string) int {
	for i, c := range p.children {
		if c.Name() == name {
			return i
		}
	}
	return -1
}
