// Package environment provides environment processes: the head and tail of
// a control pipeline. An environment at the head overwrites "actual" with
// freshly read sensor values; at the tail it writes "desired" actuator
// commands outward. One environment used both places behaves identically
// regardless of position: read sensors, propagate untouched input roles,
// write actuator commands when "desired" is present.
package environment

import (
	"github.com/thermactl/thermactl/device"
	"github.com/thermactl/thermactl/process"
)

// StubConfig declares the canned inventory of a stub environment.
type StubConfig struct {
	process.Config `yaml:",inline"`

	// Sensors maps sensor name to its reported value.
	Sensors map[string]float64 `yaml:"sensors"`

	// Actuators maps actuator name to its initial hardware value.
	Actuators map[string]float64 `yaml:"actuators"`
}

// Stub is a canned environment: it reports configured sensor readings and
// models actuator hardware as a plain value cell. Readings can be adjusted
// between ticks, which makes it the workhorse of deterministic tests.
type Stub struct {
	*process.Base
	in       device.StateMap
	readings map[string]float64
	hardware map[string]float64
}

// NewStub constructs a stub environment.
func NewStub(cfg StubConfig) (*Stub, error) {
	cfg.Variant = process.VariantEnvironment
	s := &Stub{
		readings: make(map[string]float64, len(cfg.Sensors)),
		hardware: make(map[string]float64, len(cfg.Actuators)),
	}
	for name, v := range cfg.Sensors {
		s.readings[name] = v
	}
	for name, v := range cfg.Actuators {
		s.hardware[name] = v
	}
	base, err := process.New(cfg.Config, s)
	if err != nil {
		return nil, err
	}
	s.Base = base
	for name, v := range cfg.Sensors {
		s.Declare(device.NewSensor(name, v, 0, device.QualityValid))
	}
	for name, v := range cfg.Actuators {
		s.Declare(device.NewActuator(name, v, 0, device.QualityValid))
	}
	return s, nil
}

// SetReading adjusts a sensor reading for subsequent ticks.
func (s *Stub) SetReading(name string, value float64) { s.readings[name] = value }

// Hardware returns the value last applied to the named actuator.
func (s *Stub) Hardware(name string) float64 { return s.hardware[name] }

func (s *Stub) ImportState(in device.StateMap) error {
	s.in = in
	return nil
}

func (s *Stub) Think() error { return nil }

func (s *Stub) ExportState() (device.StateMap, error) {
	now := s.Now()
	out := s.in

	// Write phase: commands in "desired" are applied to the hardware cells.
	if desired, ok := s.in.Role(device.RoleDesired); ok {
		for _, d := range desired.Devices() {
			if d.Kind() != device.KindActuator {
				continue
			}
			if _, mine := s.hardware[d.Name()]; mine {
				s.hardware[d.Name()] = d.Value()
			}
		}
	}

	// Read phase: refresh "actual" with sensor readings and attest them
	// valid; actuators carry through untouched, or are introduced from the
	// hardware cells when the input lacks them.
	actual := s.in.Actual()
	for name, v := range s.readings {
		if d, ok := actual.Get(name); ok {
			actual = actual.With(d.WithValue(v, now).WithQuality(device.QualityValid, now))
		} else {
			actual = actual.With(device.NewSensor(name, v, now, device.QualityValid))
		}
	}
	for name, v := range s.hardware {
		if !actual.Has(name) {
			actual = actual.With(device.NewActuator(name, v, now, device.QualityValid))
		}
	}
	return out.With(device.RoleActual, actual), nil
}
