// Package config loads the daemon's YAML configuration and builds the
// process tree it describes. All structural errors (unknown kinds,
// duplicate names, invalid intervals) surface at build time, never at tick
// time. Only configuration persists; buffers, accumulated history, and
// schedules are reconstructed on start.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/thermactl/thermactl/controller"
	"github.com/thermactl/thermactl/environment"
	"github.com/thermactl/thermactl/pipeline"
	"github.com/thermactl/thermactl/process"
	"github.com/thermactl/thermactl/system"
)

// File is the top-level configuration document.
type File struct {
	Runner    Runner    `yaml:"runner"`
	Telemetry Telemetry `yaml:"telemetry"`
	Logging   Logging   `yaml:"logging"`
}

// Runner selects the loop variant and its root process.
type Runner struct {
	// Variant is "standard" (real clock) or "fast" (simulated clock).
	Variant string `yaml:"variant"`

	// StopTimeout bounds the cooperative join on shutdown.
	StopTimeout Duration `yaml:"stop_timeout"`

	Root Node `yaml:"root"`
}

// Telemetry toggles the ambient observability stack.
type Telemetry struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsBackend string `yaml:"metrics_backend"` // prom (default) | otel | noop
	ListenAddr     string `yaml:"listen_addr"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	HealthEnabled  bool   `yaml:"health_enabled"`
}

// Logging selects handler level and format.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Node describes one process in the tree. Kind selects the builder;
// children apply to the composite kinds (ordered for pipelines, unordered
// for systems); the remaining fields parameterize leaves.
type Node struct {
	Kind     string   `yaml:"kind"`
	Name     string   `yaml:"name"`
	Interval Duration `yaml:"interval"`

	BufferMaxAge     Duration `yaml:"buffer_max_age"`
	BufferMaxEntries int      `yaml:"buffer_max_entries"`

	Children []Node `yaml:"children"`

	// Leaf parameters.
	Sensors   map[string]float64 `yaml:"sensors"`
	Actuators map[string]float64 `yaml:"actuators"`
	Outputs   map[string]float64 `yaml:"outputs"`
	Sensor    string             `yaml:"sensor"`
	Actuator  string             `yaml:"actuator"`
	Setpoint  float64            `yaml:"setpoint"`
	Kp        float64            `yaml:"kp"`
	Ki        float64            `yaml:"ki"`
	Kd        float64            `yaml:"kd"`
	OutMin    float64            `yaml:"out_min"`
	OutMax    float64            `yaml:"out_max"`

	// Simulation parameters.
	Ambient      float64 `yaml:"ambient"`
	HeatWatts    float64 `yaml:"heat_watts"`
	ThermalMass  float64 `yaml:"thermal_mass"`
	CoolingCoeff float64 `yaml:"cooling_coeff"`
	Initial      float64 `yaml:"initial"`
}

// Builder constructs a process from a node. Out-of-tree process kinds
// register a builder to become addressable from configuration.
type Builder func(n Node, logger *slog.Logger) (process.Process, error)

var builders = map[string]Builder{}

// Register binds a kind string to a builder. Registering a duplicate kind
// is a programming error and panics at wiring time.
func Register(kind string, b Builder) {
	if _, ok := builders[kind]; ok {
		panic(fmt.Sprintf("config: duplicate builder for kind %q", kind))
	}
	builders[kind] = b
}

func init() {
	Register("stub", func(n Node, logger *slog.Logger) (process.Process, error) {
		return environment.NewStub(environment.StubConfig{
			Config:    process.Config{Name: n.Name, Interval: n.Interval.Std(), Logger: logger},
			Sensors:   n.Sensors,
			Actuators: n.Actuators,
		})
	})
	Register("sim", func(n Node, logger *slog.Logger) (process.Process, error) {
		return environment.NewSim(environment.SimConfig{
			Config:       process.Config{Name: n.Name, Interval: n.Interval.Std(), Logger: logger},
			Sensor:       n.Sensor,
			Actuator:     n.Actuator,
			Ambient:      n.Ambient,
			HeatWatts:    n.HeatWatts,
			ThermalMass:  n.ThermalMass,
			CoolingCoeff: n.CoolingCoeff,
			Initial:      n.Initial,
		})
	})
	Register("fixed", func(n Node, logger *slog.Logger) (process.Process, error) {
		return controller.NewFixed(controller.FixedConfig{
			Config:  process.Config{Name: n.Name, Interval: n.Interval.Std(), Logger: logger},
			Outputs: n.Outputs,
		})
	})
	Register("pid", func(n Node, logger *slog.Logger) (process.Process, error) {
		return controller.NewPID(controller.PIDConfig{
			StatefulConfig: process.StatefulConfig{
				Config:           process.Config{Name: n.Name, Interval: n.Interval.Std(), Logger: logger},
				BufferMaxAge:     n.BufferMaxAge.Std(),
				BufferMaxEntries: n.BufferMaxEntries,
			},
			Sensor:   n.Sensor,
			Actuator: n.Actuator,
			Setpoint: n.Setpoint,
			Kp:       n.Kp,
			Ki:       n.Ki,
			Kd:       n.Kd,
			OutMin:   n.OutMin,
			OutMax:   n.OutMax,
		})
	})
}

// Load parses and validates a configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a configuration document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	switch f.Runner.Variant {
	case "", "standard", "fast":
	default:
		return fmt.Errorf("config: unknown runner variant %q", f.Runner.Variant)
	}
	if f.Runner.StopTimeout < 0 {
		return errors.New("config: stop_timeout must be non-negative")
	}
	return validateNode(&f.Runner.Root)
}

func validateNode(n *Node) error {
	if n.Kind == "" {
		return errors.New("config: node kind is required")
	}
	if n.Name == "" {
		return fmt.Errorf("config: node of kind %q has no name", n.Kind)
	}
	if n.Interval < 0 {
		return fmt.Errorf("config: node %q: interval must be non-negative", n.Name)
	}
	seen := make(map[string]struct{}, len(n.Children))
	for i := range n.Children {
		c := &n.Children[i]
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("config: node %q: duplicate child name %q", n.Name, c.Name)
		}
		seen[c.Name] = struct{}{}
		if err := validateNode(c); err != nil {
			return err
		}
	}
	return nil
}

// BuildRoot constructs the configured process tree.
func BuildRoot(f *File, logger *slog.Logger) (process.Process, error) {
	return buildNode(f.Runner.Root, logger)
}

func buildNode(n Node, logger *slog.Logger) (process.Process, error) {
	switch n.Kind {
	case "pipeline":
		children, err := buildChildren(n.Children, logger)
		if err != nil {
			return nil, err
		}
		return pipeline.New(pipeline.Config{
			Config:   process.Config{Name: n.Name, Interval: n.Interval.Std(), Logger: logger},
			Children: children,
		})
	case "system":
		children, err := buildChildren(n.Children, logger)
		if err != nil {
			return nil, err
		}
		return system.New(system.Config{
			Config:   process.Config{Name: n.Name, Interval: n.Interval.Std(), Logger: logger},
			Children: children,
		})
	default:
		b, ok := builders[n.Kind]
		if !ok {
			return nil, fmt.Errorf("config: node %q: unknown kind %q", n.Name, n.Kind)
		}
		if len(n.Children) > 0 {
			return nil, fmt.Errorf("config: node %q: kind %q takes no children", n.Name, n.Kind)
		}
		return b(n, logger)
	}
}

func buildChildren(nodes []Node, logger *slog.Logger) ([]process.Process, error) {
	out := make([]process.Process, 0, len(nodes))
	for _, n := range nodes {
		p, err := buildNode(n, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
