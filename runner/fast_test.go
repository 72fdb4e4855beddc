package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermactl/thermactl/controller"
	"github.com/thermactl/thermactl/device"
	"github.com/thermactl/thermactl/environment"
	"github.com/thermactl/thermactl/pipeline"
	"github.com/thermactl/thermactl/process"
	"github.com/thermactl/thermactl/system"
)

// recorder captures the StateMaps flowing past it.
type recorder struct {
	process.PassThrough
	seen []device.StateMap
}

func (r *recorder) ImportState(in device.StateMap) error {
	r.seen = append(r.seen, in)
	return r.PassThrough.ImportState(in)
}

// buildLoop assembles the canonical single-zone pipeline: a stub
// environment reporting
// cpu_temp=50 carrying fan1, then a fixed controller pinning fan1 to 128,
// then a recorder.
func buildLoop(t *testing.T, interval time.Duration) (*recorder, process.Process) {
	return buildNamedLoop(t, "loop", interval)
}

func buildNamedLoop(t *testing.T, name string, interval time.Duration) (*recorder, process.Process) {
	t.Helper()
	logger := quietOpts("x").Logger

	env, err := environment.NewStub(environment.StubConfig{
		Config:    process.Config{Name: "env", Logger: logger},
		Sensors:   map[string]float64{"cpu_temp": 50},
		Actuators: map[string]float64{"fan1": 0},
	})
	require.NoError(t, err)
	fixed, err := controller.NewFixed(controller.FixedConfig{
		Config:  process.Config{Name: "fan_floor", Logger: logger},
		Outputs: map[string]float64{"fan1": 128},
	})
	require.NoError(t, err)
	rec := &recorder{}
	recP, err := process.New(process.Config{Name: "rec", Logger: logger}, rec)
	require.NoError(t, err)

	p, err := pipeline.New(pipeline.Config{
		Config:   process.Config{Name: name, Interval: interval, Logger: logger},
		Children: []process.Process{env, fixed, recP},
	})
	require.NoError(t, err)
	return rec, p
}

func TestPipelineWithOneController(t *testing.T) {
	// After one tick the output's "actual" carries cpu_temp=50 and
	// fan1=128; after ten ticks the values hold and timestamps increase.
	rec, p := buildLoop(t, 100*time.Millisecond)
	f := NewFast(p, quietOpts("s1"))

	require.NoError(t, f.RunFor(100*time.Millisecond))
	require.Len(t, rec.seen, 1)
	temp, ok := rec.seen[0].Actual().Get("cpu_temp")
	require.True(t, ok)
	assert.Equal(t, 50.0, temp.Value())
	fan, ok := rec.seen[0].Actual().Get("fan1")
	require.True(t, ok)
	assert.Equal(t, 128.0, fan.Value())

	require.NoError(t, f.RunFor(900*time.Millisecond))
	require.Len(t, rec.seen, 10)
	var prevTS int64 = -1
	for _, m := range rec.seen {
		temp, _ := m.Actual().Get("cpu_temp")
		fan, _ := m.Actual().Get("fan1")
		assert.Equal(t, 50.0, temp.Value())
		assert.Equal(t, 128.0, fan.Value())
		assert.Greater(t, temp.Timestamp(), prevTS, "timestamps strictly increase")
		prevTS = temp.Timestamp()
	}
	assert.Equal(t, uint64(10), f.Ticks())
}

func TestCadenceIsExactUnderFastRunner(t *testing.T) {
	rec, p := buildLoop(t, 10*time.Millisecond)
	f := NewFast(p, quietOpts("cadence"))
	require.NoError(t, f.RunFor(50*time.Millisecond))

	require.Len(t, rec.seen, 5)
	for i, m := range rec.seen {
		temp, _ := m.Actual().Get("cpu_temp")
		assert.Equal(t, int64(i+1)*int64(10*time.Millisecond), temp.Timestamp(),
			"tick %d lands exactly on the schedule", i)
	}
}

func TestRunForContinues(t *testing.T) {
	rec, p := buildLoop(t, 10*time.Millisecond)
	f := NewFast(p, quietOpts("resume"))
	require.NoError(t, f.RunFor(25*time.Millisecond))
	assert.Len(t, rec.seen, 2)
	require.NoError(t, f.RunFor(25*time.Millisecond))
	assert.Len(t, rec.seen, 5, "simulated time accumulates across RunFor calls")
	assert.Equal(t, int64(50*time.Millisecond), f.Clock().Now())
}

func TestFastRunnerHaltsOnViolation(t *testing.T) {
	env, err := environment.NewStub(environment.StubConfig{
		Config:  process.Config{Name: "env", Logger: quietOpts("x").Logger},
		Sensors: map[string]float64{"cpu_temp": 50},
	})
	require.NoError(t, err)
	bad, err := process.New(process.Config{
		Name: "bad", Variant: process.VariantController, Logger: quietOpts("x").Logger,
	}, &violator{})
	require.NoError(t, err)
	p, err := pipeline.New(pipeline.Config{
		Config:   process.Config{Name: "loop", Interval: time.Millisecond, Logger: quietOpts("x").Logger},
		Children: []process.Process{env, bad},
	})
	require.NoError(t, err)

	f := NewFast(p, quietOpts("s3"))
	err = f.RunFor(10 * time.Millisecond)
	require.ErrorIs(t, err, process.ErrPermission)
	assert.Equal(t, StateStopped, f.State())

	// Subsequent runs refuse to continue a halted schedule.
	require.ErrorIs(t, f.RunFor(time.Millisecond), process.ErrPermission)
}

func TestSystemWithMismatchedCadences(t *testing.T) {
	// A system of two pipelines at 10ms and 30ms, run for 100ms of
	// simulated time, executes them 10 and 3 times respectively.
	recA, pa := buildNamedLoop(t, "cpu_zone", 10*time.Millisecond)
	recB, pb := buildNamedLoop(t, "gpu_zone", 30*time.Millisecond)
	sys, err := system.New(system.Config{
		Config:   process.Config{Name: "zones", Logger: quietOpts("x").Logger},
		Children: []process.Process{pa, pb},
	})
	require.NoError(t, err)

	f := NewFast(sys, quietOpts("s2"))
	require.NoError(t, f.RunFor(100*time.Millisecond))
	assert.Len(t, recA.seen, 10)
	assert.Len(t, recB.seen, 3)
}

func TestStandardAndFastProduceIdenticalOutputs(t *testing.T) {
	// The same deterministic composition under a mocked standard
	// runner and under a fast runner yields identical StateMaps per tick.
	recStd, pStd := buildLoop(t, 10*time.Millisecond)
	recFast, pFast := buildLoop(t, 10*time.Millisecond)

	const n = 8

	std := NewStandardWithClock(pStd, NewManualClock(), quietOpts("std"))
	require.NoError(t, std.Start())
	deadline := time.Now().Add(5 * time.Second)
	for std.Ticks() < n && time.Now().Before(deadline) {
		time.Sleep(100 * time.Microsecond)
	}
	require.NoError(t, std.Stop())
	require.GreaterOrEqual(t, std.Ticks(), uint64(n))

	fast := NewFast(pFast, quietOpts("fast"))
	require.NoError(t, fast.RunFor(time.Duration(n)*10*time.Millisecond))
	require.GreaterOrEqual(t, len(recFast.seen), n)

	for i := 0; i < n; i++ {
		a := recStd.seen[i]
		b := recFast.seen[i]
		require.Equal(t, a.Roles(), b.Roles(), "tick %d", i)
		for _, role := range a.Roles() {
			sa, _ := a.Role(role)
			sb, _ := b.Role(role)
			require.Equal(t, sa.Names(), sb.Names())
			for _, name := range sa.Names() {
				da, _ := sa.Get(name)
				db, _ := sb.Get(name)
				assert.True(t, da.Equal(db), "tick %d role %s device %s", i, role, name)
			}
		}
	}
}
