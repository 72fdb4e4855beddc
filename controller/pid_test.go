package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermactl/thermactl/device"
	"github.com/thermactl/thermactl/process"
)

func newTestPID(t *testing.T, cfg PIDConfig) (*PID, *fakeClock) {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "pid"
	}
	cfg.Logger = quietLogger()
	p, err := NewPID(cfg)
	require.NoError(t, err)
	clk := &fakeClock{}
	p.SetClock(clk)
	p.Initialize(0)
	return p, clk
}

func rampInput(t *testing.T, temp float64, ts int64) device.StateMap {
	t.Helper()
	actual, err := device.NewState(
		device.NewSensor("cpu_temp", temp, ts, device.QualityValid),
		device.NewActuator("fan1", 0, ts, device.QualityValid),
	)
	require.NoError(t, err)
	return device.NewStateMap().With(device.RoleActual, actual)
}

func TestPIDValidation(t *testing.T) {
	_, err := NewPID(PIDConfig{StatefulConfig: process.StatefulConfig{Config: process.Config{Name: "p"}}})
	require.Error(t, err, "sensor and actuator are required")

	_, err = NewPID(PIDConfig{
		StatefulConfig: process.StatefulConfig{Config: process.Config{Name: "p"}},
		Sensor:         "cpu_temp", Actuator: "fan1",
		OutMin: 10, OutMax: 5,
	})
	require.Error(t, err)
}

func TestPIDDerivativeOnRamp(t *testing.T) {
	// cpu_temp ramps by one degree per 10ms tick, so the error
	// derivative settles at -100 per second (error = setpoint - value).
	p, clk := newTestPID(t, PIDConfig{
		Sensor: "cpu_temp", Actuator: "fan1",
		Setpoint: 70, Kd: 1,
	})

	for k := 0; k < 4; k++ {
		clk.now = int64(k+1) * int64(10*time.Millisecond)
		_, err := p.Execute(rampInput(t, 50+float64(k), clk.now))
		require.NoError(t, err)
	}
	assert.InDelta(t, -100.0, p.Derivative(), 1e-6)
}

func TestPIDProportional(t *testing.T) {
	p, clk := newTestPID(t, PIDConfig{
		Sensor: "cpu_temp", Actuator: "fan1",
		Setpoint: 60, Kp: -2, OutMin: 0, OutMax: 255,
	})
	clk.now = int64(10 * time.Millisecond)
	out, err := p.Execute(rampInput(t, 70, clk.now))
	require.NoError(t, err)

	// error = 60-70 = -10; Kp=-2 => output 20, written into "desired".
	fan, ok := out.Desired().Get("fan1")
	require.True(t, ok)
	assert.Equal(t, 20.0, fan.Value())
	assert.Equal(t, device.KindActuator, fan.Kind())

	// The input roles pass through untouched.
	temp, ok := out.Actual().Get("cpu_temp")
	require.True(t, ok)
	assert.Equal(t, 70.0, temp.Value())
}

func TestPIDIntegralAccumulates(t *testing.T) {
	p, clk := newTestPID(t, PIDConfig{
		Sensor: "cpu_temp", Actuator: "fan1",
		Setpoint: 60, Ki: -1, OutMin: 0, OutMax: 1000,
	})
	for k := 0; k < 3; k++ {
		clk.now = int64(k+1) * int64(time.Second)
		_, err := p.Execute(rampInput(t, 70, clk.now))
		require.NoError(t, err)
	}
	// Two integration steps of error -10 over 1s each.
	_, integ, _ := p.Terms()
	assert.InDelta(t, 20.0, integ, 1e-9)
}

func TestPIDOutputClamped(t *testing.T) {
	p, clk := newTestPID(t, PIDConfig{
		Sensor: "cpu_temp", Actuator: "fan1",
		Setpoint: 0, Kp: -100, OutMin: 0, OutMax: 255,
	})
	clk.now = 1
	out, err := p.Execute(rampInput(t, 90, clk.now))
	require.NoError(t, err)
	fan, _ := out.Desired().Get("fan1")
	assert.Equal(t, 255.0, fan.Value())
}

func TestPIDMissingSensorDegradesToPassThrough(t *testing.T) {
	p, clk := newTestPID(t, PIDConfig{
		Sensor: "cpu_temp", Actuator: "fan1", Setpoint: 60,
	})
	clk.now = 1
	actual, _ := device.NewState(device.NewActuator("fan1", 0, 0, device.QualityValid))
	in := device.NewStateMap().With(device.RoleActual, actual)
	out, err := p.Execute(in)
	require.NoError(t, err, "an unreadable sensor is an operational failure")
	assert.False(t, out.HasRole(device.RoleDesired))
}

func TestPIDRejectsLatchedSensor(t *testing.T) {
	p, clk := newTestPID(t, PIDConfig{
		Sensor: "cpu_temp", Actuator: "fan1", Setpoint: 60,
	})
	clk.now = 1
	actual, _ := device.NewState(
		device.NewSensor("cpu_temp", 50, 1, device.QualityFailed),
		device.NewActuator("fan1", 0, 1, device.QualityValid),
	)
	in := device.NewStateMap().With(device.RoleActual, actual)
	out, err := p.Execute(in)
	require.NoError(t, err)
	assert.False(t, out.HasRole(device.RoleDesired), "no command on a failed sensor")
}

func TestPIDInitializeResetsState(t *testing.T) {
	p, clk := newTestPID(t, PIDConfig{
		Sensor: "cpu_temp", Actuator: "fan1", Setpoint: 60, Ki: 1,
	})
	for k := 0; k < 3; k++ {
		clk.now = int64(k+1) * int64(time.Second)
		_, err := p.Execute(rampInput(t, 70, clk.now))
		require.NoError(t, err)
	}
	p.Initialize(clk.now)
	prop, integ, deriv := p.Terms()
	assert.Zero(t, prop)
	assert.Zero(t, integ)
	assert.Zero(t, deriv)
	assert.Equal(t, 0, p.Buffer().Len())
}
