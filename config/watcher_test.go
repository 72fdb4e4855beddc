package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watcherYAML = `
runner:
  root: {kind: stub, name: env, sensors: {cpu_temp: 50}}
`

const watcherYAMLUpdated = `
runner:
  root: {kind: stub, name: env, sensors: {cpu_temp: 75}}
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcherEmitsValidatedChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thermactl.yaml")
	writeConfig(t, path, watcherYAML)

	w, err := Watch(path)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	writeConfig(t, path, watcherYAMLUpdated)

	select {
	case ch := <-w.Changes():
		require.NotNil(t, ch.File)
		assert.Equal(t, "env", ch.File.Runner.Root.Name)
		assert.Equal(t, 75.0, ch.File.Runner.Root.Sensors["cpu_temp"])
		assert.NotEmpty(t, ch.Checksum)
		assert.NotEqual(t, ch.Checksum, ch.PreviousChecksum)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config change")
	}
}

func TestWatcherRejectsInvalidUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thermactl.yaml")
	writeConfig(t, path, watcherYAML)

	w, err := Watch(path)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	writeConfig(t, path, "runner: {root: {name: nameless}}\n")

	select {
	case err := <-w.Errors():
		require.Error(t, err)
	case ch := <-w.Changes():
		t.Fatalf("invalid config produced a change: %+v", ch)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watcher error")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thermactl.yaml")
	writeConfig(t, path, watcherYAML)

	w, err := Watch(path)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	writeConfig(t, filepath.Join(dir, "unrelated.yaml"), watcherYAMLUpdated)

	select {
	case ch := <-w.Changes():
		t.Fatalf("unexpected change from unrelated file: %+v", ch)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thermactl.yaml")
	writeConfig(t, path, watcherYAML)

	w, err := Watch(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
