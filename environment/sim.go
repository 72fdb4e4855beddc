package environment

import (
	"fmt"

	"github.com/thermactl/thermactl/device"
	"github.com/thermactl/thermactl/process"
)

// SimConfig parameterizes the first-order thermal plant.
type SimConfig struct {
	process.Config `yaml:",inline"`

	// Sensor and Actuator name the simulated devices. Defaults: cpu_temp
	// and fan1.
	Sensor   string `yaml:"sensor"`
	Actuator string `yaml:"actuator"`

	// Ambient temperature in degrees, the floor the plant relaxes toward.
	Ambient float64 `yaml:"ambient"`

	// HeatWatts is the constant heat load driving the temperature up.
	HeatWatts float64 `yaml:"heat_watts"`

	// ThermalMass in joules per degree.
	ThermalMass float64 `yaml:"thermal_mass"`

	// CoolingCoeff is watts removed per degree above ambient per unit of
	// actuator drive (0..255).
	CoolingCoeff float64 `yaml:"cooling_coeff"`

	// Initial temperature; defaults to Ambient.
	Initial float64 `yaml:"initial"`
}

func (c *SimConfig) defaults() {
	if c.Sensor == "" {
		c.Sensor = "cpu_temp"
	}
	if c.Actuator == "" {
		c.Actuator = "fan1"
	}
	if c.Ambient == 0 {
		c.Ambient = 25
	}
	if c.HeatWatts == 0 {
		c.HeatWatts = 35
	}
	if c.ThermalMass == 0 {
		c.ThermalMass = 50
	}
	if c.CoolingCoeff == 0 {
		c.CoolingCoeff = 0.02
	}
	if c.Initial == 0 {
		c.Initial = c.Ambient
	}
}

// Sim is a simulated environment over a first-order thermal plant: a heat
// load warms a thermal mass; fan drive removes heat proportionally to the
// excess over ambient. It lets full control loops run under a fast runner
// with believable dynamics and no hardware.
type Sim struct {
	*process.Base
	cfg SimConfig

	in       device.StateMap
	temp     float64
	fan      float64
	lastStep int64
}

// NewSim constructs a simulated environment.
func NewSim(cfg SimConfig) (*Sim, error) {
	cfg.defaults()
	if cfg.ThermalMass <= 0 {
		return nil, fmt.Errorf("sim %q: thermal_mass must be positive", cfg.Name)
	}
	cfg.Variant = process.VariantEnvironment
	s := &Sim{cfg: cfg, temp: cfg.Initial}
	base, err := process.New(cfg.Config, s)
	if err != nil {
		return nil, err
	}
	s.Base = base
	s.Declare(
		device.NewSensor(cfg.Sensor, cfg.Initial, 0, device.QualityValid),
		device.NewActuator(cfg.Actuator, 0, 0, device.QualityValid),
	)
	return s, nil
}

// Temperature returns the current plant temperature.
func (s *Sim) Temperature() float64 { return s.temp }

// Initialize resets the plant alongside the cadence counters.
func (s *Sim) Initialize(now int64) {
	s.Base.Initialize(now)
	s.temp = s.cfg.Initial
	s.fan = 0
	s.lastStep = now
}

func (s *Sim) ImportState(in device.StateMap) error {
	s.in = in
	// Apply the command: "desired" is what controllers want the hardware
	// to do; the plant integrates against the applied drive.
	if desired, ok := in.Role(device.RoleDesired); ok {
		if d, ok := desired.Get(s.cfg.Actuator); ok && d.Kind() == device.KindActuator {
			s.fan = d.Value()
		}
	}
	return nil
}

func (s *Sim) Think() error {
	now := s.Now()
	dt := float64(now-s.lastStep) / 1e9
	s.lastStep = now
	if dt <= 0 {
		return nil
	}
	cooling := s.cfg.CoolingCoeff * s.fan * (s.temp - s.cfg.Ambient)
	s.temp += dt * (s.cfg.HeatWatts - cooling) / s.cfg.ThermalMass
	if s.temp < s.cfg.Ambient {
		s.temp = s.cfg.Ambient
	}
	return nil
}

func (s *Sim) ExportState() (device.StateMap, error) {
	now := s.Now()
	actual := s.in.Actual()
	if d, ok := actual.Get(s.cfg.Sensor); ok {
		actual = actual.With(d.WithValue(s.temp, now).WithQuality(device.QualityValid, now))
	} else {
		actual = actual.With(device.NewSensor(s.cfg.Sensor, s.temp, now, device.QualityValid))
	}
	if !actual.Has(s.cfg.Actuator) {
		actual = actual.With(device.NewActuator(s.cfg.Actuator, s.fan, now, device.QualityValid))
	}
	return s.in.With(device.RoleActual, actual), nil
}
