package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/slogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDir(t *testing.T, dir string) *DefinitionDir {
	t.Helper()
	d, err := OpenDefinitionDir(dir, DefinitionDirOptions{Logger: slogger.NewDevNullLogger()})
	require.NoError(t, err)
	d.now = func() time.Time { return testTime }
	return d
}

func TestDefinitionDirLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "triage.yaml"), triageYAML)
	writeFile(t, filepath.Join(dir, "team", "digest.json"), `{
  "id": "digest",
  "name": "Digest",
  "systemPrompt": "Summarize.",
  "constraints": {"maxSteps": 3, "maxExecutionTimeMs": 1000},
  "trigger": {"type": "schedule", "cron": "0 9 * * *"},
  "oversight": {"mode": "notify-after"}
}`)
	writeFile(t, filepath.Join(dir, "README.md"), "not a definition")

	d := openTestDir(t, dir)
	defs, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "digest", defs[0].ID)
	assert.Equal(t, "triage", defs[1].ID)
	assert.Equal(t, 1, defs[1].Version)

	def, err := d.Get(ctx, "digest")
	require.NoError(t, err)
	assert.Equal(t, autopilot.TriggerSchedule, def.Trigger.Type)

	_, err = d.Get(ctx, "missing")
	assert.ErrorIs(t, err, autopilot.ErrNotFound)
}

func TestDefinitionDirRejectsBadFiles(t *testing.T) {
	t.Run("duplicate id", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a.yaml"), triageYAML)
		writeFile(t, filepath.Join(dir, "b.yml"), triageYAML)
		_, err := OpenDefinitionDir(dir, DefinitionDirOptions{Logger: slogger.NewDevNullLogger()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "also defined")
	})
	t.Run("unknown key", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a.yaml"), triageYAML+"colour: red\n")
		_, err := OpenDefinitionDir(dir, DefinitionDirOptions{Logger: slogger.NewDevNullLogger()})
		assert.ErrorIs(t, err, autopilot.ErrInvalidDefinition)
	})
	t.Run("invalid definition", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a.yaml"), strings.Replace(triageYAML, "maxSteps: 5", "maxSteps: 0", 1))
		_, err := OpenDefinitionDir(dir, DefinitionDirOptions{Logger: slogger.NewDevNullLogger()})
		assert.ErrorIs(t, err, autopilot.ErrInvalidDefinition)
	})
}

func TestDefinitionDirReloadKeepsPreviousOnError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "triage.yaml"), triageYAML)
	d := openTestDir(t, dir)

	writeFile(t, filepath.Join(dir, "broken.yaml"), "id: [")
	assert.Error(t, d.Reload())
	_, err := d.Get(ctx, "triage")
	assert.NoError(t, err)
}

func TestDefinitionDirUpsert(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "nested", "triage.yaml"), triageYAML)
	d := openTestDir(t, dir)

	updated, err := d.Upsert(ctx, &autopilot.Definition{ID: "triage", Description: "Sorts mail"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "Triage", updated.Name)
	assert.Equal(t, "Sorts mail", updated.Description)
	assert.True(t, updated.UpdatedAt.Equal(testTime))

	data, err := os.ReadFile(filepath.Join(dir, "nested", "triage.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Sorts mail")

	reopened := openTestDir(t, dir)
	def, err := reopened.Get(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, 2, def.Version)
	assert.Equal(t, "Sorts mail", def.Description)

	created, err := d.Upsert(ctx, &autopilot.Definition{
		ID:           "fresh",
		Name:         "Fresh",
		SystemPrompt: "Hello.",
		Constraints:  autopilot.Constraints{MaxSteps: 2, MaxExecutionTimeMs: 500},
		Trigger:      autopilot.Trigger{Type: autopilot.TriggerManual},
		Oversight:    autopilot.Oversight{Mode: autopilot.OversightAuto},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)
	assert.FileExists(t, filepath.Join(dir, "fresh.yaml"))

	_, err = d.Upsert(ctx, &autopilot.Definition{ID: "../escape", Name: "x"})
	assert.ErrorIs(t, err, autopilot.ErrInvalidDefinition)
	_, err = d.Upsert(ctx, &autopilot.Definition{ID: "bare", Name: "Bare"})
	assert.ErrorIs(t, err, autopilot.ErrInvalidDefinition)
	assert.NoFileExists(t, filepath.Join(dir, "bare.yaml"))
}

func TestDefinitionDirWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "triage.yaml"), triageYAML)
	d := openTestDir(t, dir)

	reloads := make(chan error, 8)
	done := make(chan error, 1)
	go func() {
		done <- d.Watch(ctx, func(err error) { reloads <- err })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "second.yaml"), strings.Replace(triageYAML, "id: triage", "id: second", 1))

	select {
	case err := <-reloads:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after writing a definition")
	}
	_, err := d.Get(context.Background(), "second")
	assert.NoError(t, err)
}
