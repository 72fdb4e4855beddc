package device

import (
	"fmt"
	"sort"
)

// State is an immutable snapshot mapping device name to Device. The zero
// value is an empty, usable state. Assembly that modifies content happens
// either during construction or via copy-on-write methods returning a fresh
// value; there are no in-place mutators.
type State struct {
	devices map[string]Device
}

// NewState builds a state from the given devices. Duplicate names are a
// construction error.
func NewState(devs ...Device) (State, error) {
	m := make(map[string]Device, len(devs))
	for _, d := range devs {
		if d.Name() == "" {
			return State{}, ErrEmptyName
		}
		if _, ok := m[d.Name()]; ok {
			return State{}, fmt.Errorf("%w: %q", ErrDuplicateDevice, d.Name())
		}
		m[d.Name()] = d
	}
	return State{devices: m}, nil
}

// Get returns the named device.
func (s State) Get(name string) (Device, bool) {
	d, ok := s.devices[name]
	return d, ok
}

// Has reports whether the named device is present.
func (s State) Has(name string) bool {
	_, ok := s.devices[name]
	return ok
}

// Len returns the number of devices.
func (s State) Len() int { return len(s.devices) }

// Names returns the device names in sorted order.
func (s State) Names() []string {
	names := make([]string, 0, len(s.devices))
	for name := range s.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Devices returns the devices ordered by name.
func (s State) Devices() []Device {
	out := make([]Device, 0, len(s.devices))
	for _, name := range s.Names() {
		out = append(out, s.devices[name])
	}
	return out
}

// With returns a copy of the state with the device added or replaced.
func (s State) With(d Device) State {
	m := make(map[string]Device, len(s.devices)+1)
	for k, v := range s.devices {
		m[k] = v
	}
	m[d.Name()] = d
	return State{devices: m}
}

// Without returns a copy of the state with the named device removed.
func (s State) Without(name string) State {
	if _, ok := s.devices[name]; !ok {
		return s
	}
	m := make(map[string]Device, len(s.devices)-1)
	for k, v := range s.devices {
		if k != name {
			m[k] = v
		}
	}
	return State{devices: m}
}
