package controller

import (
	"fmt"

	"github.com/thermactl/thermactl/device"
	"github.com/thermactl/thermactl/process"
)

// PIDConfig parameterizes a PID controller.
type PIDConfig struct {
	process.StatefulConfig `yaml:",inline"`

	// Sensor is the input read from "actual"; Actuator is the command
	// written into "desired".
	Sensor   string `yaml:"sensor"`
	Actuator string `yaml:"actuator"`

	// Setpoint is the target sensor value.
	Setpoint float64 `yaml:"setpoint"`

	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`

	// OutMin and OutMax clamp the command. Defaults: 0 and 255.
	OutMin float64 `yaml:"out_min"`
	OutMax float64 `yaml:"out_max"`
}

// PID is a stateful controller computing proportional, integral, and
// derivative terms of the setpoint error. The derivative is taken over the
// two newest history entries, so the process's owned buffer is the single
// source of past observations; the buffer itself does no computation.
type PID struct {
	*process.Stateful
	cfg PIDConfig

	in       device.StateMap
	integral float64
	deriv    float64
	lastErr  float64
	output   float64
}

// NewPID constructs a PID controller. When neither buffer limit is set a
// modest entry cap is applied; history only ever needs to cover the
// derivative window plus whatever an operator wants to inspect.
func NewPID(cfg PIDConfig) (*PID, error) {
	if cfg.Sensor == "" || cfg.Actuator == "" {
		return nil, fmt.Errorf("pid %q: sensor and actuator are required", cfg.Name)
	}
	if cfg.OutMax == 0 && cfg.OutMin == 0 {
		cfg.OutMax = 255
	}
	if cfg.OutMax <= cfg.OutMin {
		return nil, fmt.Errorf("pid %q: out_max must exceed out_min", cfg.Name)
	}
	if cfg.BufferMaxAge == 0 && cfg.BufferMaxEntries == 0 {
		cfg.BufferMaxEntries = 64
	}
	cfg.Variant = process.VariantController
	p := &PID{cfg: cfg}
	st, err := process.NewStateful(cfg.StatefulConfig, p)
	if err != nil {
		return nil, err
	}
	p.Stateful = st
	return p, nil
}

// Initialize resets the accumulated terms alongside buffer and cadence.
func (p *PID) Initialize(now int64) {
	p.Stateful.Initialize(now)
	p.integral = 0
	p.deriv = 0
	p.lastErr = 0
	p.output = 0
}

// Terms returns the current weighted P, I, and D contributions.
func (p *PID) Terms() (prop, integ, deriv float64) {
	return p.cfg.Kp * p.lastErr, p.cfg.Ki * p.integral, p.cfg.Kd * p.deriv
}

// Derivative returns the raw derivative of error per second.
func (p *PID) Derivative() float64 { return p.deriv }

// Output returns the clamped command last computed.
func (p *PID) Output() float64 { return p.output }

func (p *PID) ImportState(in device.StateMap) error {
	p.in = in
	return nil
}

func (p *PID) Think() error {
	cur, ok := p.in.Actual().Get(p.cfg.Sensor)
	if !ok {
		return fmt.Errorf("sensor %q not present in actual state", p.cfg.Sensor)
	}
	if cur.Quality() != device.QualityValid {
		return fmt.Errorf("sensor %q quality %s", p.cfg.Sensor, cur.Quality())
	}
	p.lastErr = p.cfg.Setpoint - cur.Value()

	// History (the buffer already holds this tick's input, stored by the
	// stateful import) supplies the previous observation for dt and the
	// derivative.
	entries := p.Buffer().Range(0, p.Now())
	if n := len(entries); n >= 2 {
		prev := entries[n-2]
		dt := float64(entries[n-1].Timestamp-prev.Timestamp) / 1e9
		if dt > 0 {
			if d, ok := prev.Map.Actual().Get(p.cfg.Sensor); ok {
				prevErr := p.cfg.Setpoint - d.Value()
				p.deriv = (p.lastErr - prevErr) / dt
			}
			p.integral += p.lastErr * dt
		}
	}

	out := p.cfg.Kp*p.lastErr + p.cfg.Ki*p.integral + p.cfg.Kd*p.deriv
	if out < p.cfg.OutMin {
		out = p.cfg.OutMin
	}
	if out > p.cfg.OutMax {
		out = p.cfg.OutMax
	}
	p.output = out
	return nil
}

func (p *PID) ExportState() (device.StateMap, error) {
	now := p.Now()
	desired := p.in.Desired()
	act, ok := desired.Get(p.cfg.Actuator)
	if !ok {
		// The actuator must already exist somewhere in the input;
		// controllers command known hardware, they never mint devices.
		found, _, present := p.in.Device(p.cfg.Actuator)
		if !present {
			return device.StateMap{}, fmt.Errorf("actuator %q not present in input", p.cfg.Actuator)
		}
		act = found
	}
	if act.Kind() != device.KindActuator {
		return device.StateMap{}, fmt.Errorf("device %q is not an actuator", p.cfg.Actuator)
	}
	desired = desired.With(act.WithValue(p.output, now))
	return p.in.With(device.RoleDesired, desired), nil
}
