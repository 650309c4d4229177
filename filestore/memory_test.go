package filestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewMemoryStore(dir)
	require.NoError(t, err)
	store.now = func() time.Time { return testTime }

	key := autopilot.MemoryKey{DefinitionID: "triage", SubjectID: "user/../1", OrgID: "org_1"}
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, autopilot.ErrNotFound)

	count, err := store.Upsert(ctx, key, map[string]any{"seen": "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = store.Upsert(ctx, key, map[string]any{"seen": "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	reopened, err := NewMemoryStore(dir)
	require.NoError(t, err)
	memory, err := reopened.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"seen": "b"}, memory.Memory)
	assert.Equal(t, 2, memory.RunCount)
	assert.True(t, memory.LastRunAt.Equal(testTime))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "user")
}

func TestMemoryStoreKeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(t.TempDir())
	require.NoError(t, err)

	a := autopilot.MemoryKey{DefinitionID: "triage", SubjectID: "u1", OrgID: "org_1"}
	b := autopilot.MemoryKey{DefinitionID: "triage", SubjectID: "u1", OrgID: "org_2"}
	_, err = store.Upsert(ctx, a, map[string]any{"n": "a"})
	require.NoError(t, err)
	_, err = store.Get(ctx, b)
	assert.ErrorIs(t, err, autopilot.ErrNotFound)

	count, err := store.Upsert(ctx, b, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	memory, err := store.Get(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, memory.Memory)
}
