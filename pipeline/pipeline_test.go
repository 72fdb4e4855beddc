package pipeline

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermactl/thermactl/controller"
	"github.com/thermactl/thermactl/device"
	"github.com/thermactl/thermactl/environment"
	"github.com/thermactl/thermactl/process"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func identity(t *testing.T, name string) process.Process {
	t.Helper()
	p, err := process.New(process.Config{Name: name, Logger: quietLogger()}, nil)
	require.NoError(t, err)
	return p
}

// recorder captures every StateMap it sees and passes it through.
type recorder struct {
	process.PassThrough
	seen []device.StateMap
}

func (r *recorder) ImportState(in device.StateMap) error {
	r.seen = append(r.seen, in)
	return r.PassThrough.ImportState(in)
}

func newRecorder(t *testing.T, name string) (*recorder, process.Process) {
	t.Helper()
	r := &recorder{}
	p, err := process.New(process.Config{Name: name, Logger: quietLogger()}, r)
	require.NoError(t, err)
	return r, p
}

// broken always fails operationally.
type broken struct{ process.PassThrough }

func (b *broken) Think() error { return errors.New("controller blew up") }

func newBroken(t *testing.T, name string) process.Process {
	t.Helper()
	p, err := process.New(process.Config{Name: name, Logger: quietLogger()}, &broken{})
	require.NoError(t, err)
	return p
}

func TestEmptyPipelineIsIdentity(t *testing.T) {
	p, err := New(Config{Config: process.Config{Name: "empty", Logger: quietLogger()}})
	require.NoError(t, err)
	p.Initialize(0)

	s, _ := device.NewState(device.NewSensor("cpu_temp", 50, 0, device.QualityValid))
	in := device.NewStateMap().With(device.RoleActual, s)
	out, err := p.Execute(in)
	require.NoError(t, err)
	assert.Equal(t, in.Roles(), out.Roles())
	d, _ := out.Actual().Get("cpu_temp")
	assert.Equal(t, 50.0, d.Value())
}

func TestSingleIdentityChildIsIdentity(t *testing.T) {
	p, err := New(Config{
		Config:   process.Config{Name: "p", Logger: quietLogger()},
		Children: []process.Process{identity(t, "id")},
	})
	require.NoError(t, err)
	p.Initialize(0)

	s, _ := device.NewState(device.NewSensor("cpu_temp", 50, 3, device.QualityValid))
	in := device.NewStateMap().With(device.RoleActual, s)
	out, err := p.Execute(in)
	require.NoError(t, err)
	d, ok := out.Actual().Get("cpu_temp")
	require.True(t, ok)
	assert.Equal(t, 50.0, d.Value())
}

func TestChildrenRunInOrderOnEachOthersOutput(t *testing.T) {
	env, err := environment.NewStub(environment.StubConfig{
		Config:    process.Config{Name: "env", Logger: quietLogger()},
		Sensors:   map[string]float64{"cpu_temp": 50},
		Actuators: map[string]float64{"fan1": 0},
	})
	require.NoError(t, err)
	fixed, err := controller.NewFixed(controller.FixedConfig{
		Config:  process.Config{Name: "fixed", Logger: quietLogger()},
		Outputs: map[string]float64{"fan1": 128},
	})
	require.NoError(t, err)
	rec, recP := newRecorder(t, "rec")

	p, err := New(Config{
		Config:   process.Config{Name: "loop", Interval: 100 * time.Millisecond, Logger: quietLogger()},
		Children: []process.Process{env, fixed, recP},
	})
	require.NoError(t, err)
	p.Initialize(0)

	out, err := p.Execute(device.NewStateMap())
	require.NoError(t, err)

	// The recorder saw the fixed controller's output.
	require.Len(t, rec.seen, 1)
	fan, ok := rec.seen[0].Actual().Get("fan1")
	require.True(t, ok)
	assert.Equal(t, 128.0, fan.Value())

	temp, ok := out.Actual().Get("cpu_temp")
	require.True(t, ok)
	assert.Equal(t, 50.0, temp.Value())
}

func TestFailurePassThrough(t *testing.T) {
	// [Env, BrokenController, Logger]: the logger observes inputs
	// equal to the environment's outputs and the pipeline returns them.
	env, err := environment.NewStub(environment.StubConfig{
		Config:  process.Config{Name: "env", Logger: quietLogger()},
		Sensors: map[string]float64{"cpu_temp": 50},
	})
	require.NoError(t, err)
	rec, recP := newRecorder(t, "logger")

	p, err := New(Config{
		Config:   process.Config{Name: "p", Logger: quietLogger()},
		Children: []process.Process{env, newBroken(t, "broken"), recP},
	})
	require.NoError(t, err)
	p.Initialize(0)

	out, err := p.Execute(device.NewStateMap())
	require.NoError(t, err, "operational failure never escapes the pipeline")

	require.Len(t, rec.seen, 1)
	seen, ok := rec.seen[0].Actual().Get("cpu_temp")
	require.True(t, ok)
	assert.Equal(t, 50.0, seen.Value())
	got, ok := out.Actual().Get("cpu_temp")
	require.True(t, ok)
	assert.Equal(t, 50.0, got.Value())
}

// sensorTamper is a controller bug: it increments a sensor value.
type sensorTamper struct{ process.PassThrough }

func (s *sensorTamper) ExportState() (device.StateMap, error) {
	in := s.Input()
	d, ok := in.Actual().Get("cpu_temp")
	if !ok {
		return in, nil
	}
	return in.With(device.RoleActual, in.Actual().With(d.WithValue(d.Value()+1, d.Timestamp()))), nil
}

func TestPermissionViolationEscapesPipeline(t *testing.T) {
	env, err := environment.NewStub(environment.StubConfig{
		Config:  process.Config{Name: "env", Logger: quietLogger()},
		Sensors: map[string]float64{"cpu_temp": 50},
	})
	require.NoError(t, err)
	tamper, err := process.New(process.Config{Name: "tamper", Variant: process.VariantController, Logger: quietLogger()}, &sensorTamper{})
	require.NoError(t, err)

	p, err := New(Config{
		Config:   process.Config{Name: "p", Logger: quietLogger()},
		Children: []process.Process{env, tamper},
	})
	require.NoError(t, err)
	p.Initialize(0)

	_, err = p.Execute(device.NewStateMap())
	require.ErrorIs(t, err, process.ErrPermission)
}

func TestManagementOps(t *testing.T) {
	p, err := New(Config{Config: process.Config{Name: "p", Logger: quietLogger()}})
	require.NoError(t, err)

	require.NoError(t, p.Append(identity(t, "a")))
	require.NoError(t, p.Append(identity(t, "c")))
	require.NoError(t, p.InsertAfter("a", identity(t, "b")))
	require.NoError(t, p.InsertBefore("a", identity(t, "head")))
	assert.Equal(t, 4, p.Count())

	assert.True(t, p.Has("b"))
	got, ok := p.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", got.Name())

	require.ErrorIs(t, p.InsertBefore("missing", identity(t, "x")), process.ErrChildNotFound)
	require.ErrorIs(t, p.InsertAfter("missing", identity(t, "x")), process.ErrChildNotFound)
	require.ErrorIs(t, p.Append(identity(t, "a")), process.ErrDuplicateChild)
	require.ErrorIs(t, p.Remove("missing"), process.ErrChildNotFound)

	require.NoError(t, p.Remove("b"))
	assert.False(t, p.Has("b"))
	assert.Equal(t, 3, p.Count())
}

// orderLogic appends its name to a shared log when executed.
type orderLogic struct {
	process.PassThrough
	name string
	log  *[]string
}

func (o *orderLogic) Think() error {
	*o.log = append(*o.log, o.name)
	return nil
}

func TestOrderAfterInsertions(t *testing.T) {
	var log []string
	mk := func(name string) process.Process {
		p, err := process.New(process.Config{Name: name, Logger: quietLogger()},
			&orderLogic{name: name, log: &log})
		require.NoError(t, err)
		return p
	}

	p, err := New(Config{Config: process.Config{Name: "p", Logger: quietLogger()}})
	require.NoError(t, err)
	require.NoError(t, p.Append(mk("b")))
	require.NoError(t, p.InsertBefore("b", mk("a")))
	require.NoError(t, p.InsertAfter("b", mk("c")))
	p.Initialize(0)

	_, err = p.Execute(device.NewStateMap())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, log)
}
