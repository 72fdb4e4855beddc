package controller

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermactl/thermactl/device"
	"github.com/thermactl/thermactl/process"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct{ now int64 }

func (c *fakeClock) Now() int64 { return c.now }

func TestFixedRequiresOutputs(t *testing.T) {
	_, err := NewFixed(FixedConfig{Config: process.Config{Name: "f"}})
	require.Error(t, err)
}

func TestFixedReplacesExistingActuators(t *testing.T) {
	f, err := NewFixed(FixedConfig{
		Config:  process.Config{Name: "f", Logger: quietLogger()},
		Outputs: map[string]float64{"fan1": 128, "pump1": 60},
	})
	require.NoError(t, err)
	clk := &fakeClock{now: 1000}
	f.SetClock(clk)
	f.Initialize(1000)

	actual, _ := device.NewState(
		device.NewSensor("cpu_temp", 50, 10, device.QualityValid),
		device.NewActuator("fan1", 0, 10, device.QualityValid),
	)
	in := device.NewStateMap().With(device.RoleActual, actual)

	out, err := f.Execute(in)
	require.NoError(t, err)

	fan, ok := out.Actual().Get("fan1")
	require.True(t, ok)
	assert.Equal(t, 128.0, fan.Value())
	assert.Equal(t, int64(1000), fan.Timestamp())

	// pump1 is absent from the input; the controller does not mint it.
	assert.False(t, out.Actual().Has("pump1"))

	temp, _ := out.Actual().Get("cpu_temp")
	assert.Equal(t, 50.0, temp.Value(), "sensors untouched")
}

func TestFixedIgnoresSensorsWithMatchingNames(t *testing.T) {
	f, err := NewFixed(FixedConfig{
		Config:  process.Config{Name: "f", Logger: quietLogger()},
		Outputs: map[string]float64{"cpu_temp": 1},
	})
	require.NoError(t, err)
	f.Initialize(0)

	actual, _ := device.NewState(device.NewSensor("cpu_temp", 50, 10, device.QualityValid))
	in := device.NewStateMap().With(device.RoleActual, actual)
	out, err := f.Execute(in)
	require.NoError(t, err)
	d, _ := out.Actual().Get("cpu_temp")
	assert.Equal(t, 50.0, d.Value(), "a sensor is never treated as an output target")
}
