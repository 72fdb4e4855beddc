// Package controller provides controller processes: they read sensors in
// "actual" and produce actuator commands, owning actuator values the way
// environments own sensor readings.
package controller

import (
	"fmt"

	"github.com/thermactl/thermactl/device"
	"github.com/thermactl/thermactl/process"
)

// FixedConfig declares constant actuator outputs.
type FixedConfig struct {
	process.Config `yaml:",inline"`

	// Outputs maps actuator name to the constant value to command.
	Outputs map[string]float64 `yaml:"outputs"`
}

// Fixed commands constant actuator values: wherever a named actuator
// appears in the input, its value is replaced. A fixed controller is the
// simplest useful stage (a pinned fan floor, a failsafe duty cycle) and the
// reference implementation of the value-replacement contract.
type Fixed struct {
	*process.Base
	in      device.StateMap
	outputs map[string]float64
}

// NewFixed constructs a fixed controller.
func NewFixed(cfg FixedConfig) (*Fixed, error) {
	if len(cfg.Outputs) == 0 {
		return nil, fmt.Errorf("fixed controller %q: at least one output is required", cfg.Name)
	}
	cfg.Variant = process.VariantController
	f := &Fixed{outputs: cfg.Outputs}
	base, err := process.New(cfg.Config, f)
	if err != nil {
		return nil, err
	}
	f.Base = base
	return f, nil
}

func (f *Fixed) ImportState(in device.StateMap) error { f.in = in; return nil }

func (f *Fixed) Think() error { return nil }

func (f *Fixed) ExportState() (device.StateMap, error) {
	now := f.Now()
	out := f.in
	for _, role := range f.in.Roles() {
		st, _ := f.in.Role(role)
		changed := false
		for name, v := range f.outputs {
			if d, ok := st.Get(name); ok && d.Kind() == device.KindActuator {
				st = st.With(d.WithValue(v, now))
				changed = true
			}
		}
		if changed {
			out = out.With(role, st)
		}
	}
	return out, nil
}
