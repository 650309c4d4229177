package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, dir string) *Ledger {
	t.Helper()
	ledger, err := NewLedger(dir)
	require.NoError(t, err)
	ledger.now = func() time.Time { return testTime }
	return ledger
}

func TestLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ledger := newTestLedger(t, dir)

	id, err := ledger.Create(ctx, &autopilot.ExecutionRecord{
		DefinitionID:      "triage",
		DefinitionVersion: 2,
		Input:             map[string]any{"topic": "billing"},
		OrgID:             "org_1",
	})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, id+".jsonl"))

	steps := []autopilot.Step{
		{Index: 0, Type: autopilot.StepToolCall, ToolName: "fetch", ToolCallID: "call_1",
			Input: json.RawMessage(`{"url":"https://example.com"}`), Timestamp: testTime},
		{Index: 1, Type: autopilot.StepToolResult, ToolName: "fetch", ToolCallID: "call_1",
			Output: json.RawMessage(`"ok"`), Timestamp: testTime},
	}
	for _, step := range steps {
		require.NoError(t, ledger.AppendStep(ctx, id, step))
	}

	record, err := ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, autopilot.StatusRunning, record.Status)
	assert.Equal(t, "org_1", record.OrgID)
	assert.Equal(t, 2, record.DefinitionVersion)
	assert.Empty(t, cmp.Diff(steps, record.Steps))

	result := &autopilot.ExecutionResult{
		ExecutionID: id,
		Status:      autopilot.StatusCompleted,
		Summary:     "done",
		Steps:       steps,
		Usage:       autopilot.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		DurationMs:  1200,
	}
	require.NoError(t, ledger.Finalize(ctx, id, result))

	record, err = ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, autopilot.StatusCompleted, record.Status)
	assert.Equal(t, "done", record.Summary)
	assert.Equal(t, 15, record.Usage.TotalTokens)
	assert.Equal(t, int64(1200), record.DurationMs)
	require.NotNil(t, record.CompletedAt)
	assert.True(t, record.CompletedAt.Equal(testTime))

	err = ledger.Finalize(ctx, id, result)
	assert.ErrorIs(t, err, autopilot.ErrTerminal)
	err = ledger.AppendStep(ctx, id, autopilot.Step{Index: 2, Type: autopilot.StepText})
	assert.ErrorIs(t, err, autopilot.ErrTerminal)
}

func TestLedgerStepOrder(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, t.TempDir())
	id, err := ledger.Create(ctx, &autopilot.ExecutionRecord{DefinitionID: "triage"})
	require.NoError(t, err)

	err = ledger.AppendStep(ctx, id, autopilot.Step{Index: 1, Type: autopilot.StepText})
	assert.ErrorIs(t, err, autopilot.ErrStepOutOfOrder)
	require.NoError(t, ledger.AppendStep(ctx, id, autopilot.Step{Index: 0, Type: autopilot.StepText}))
	err = ledger.AppendStep(ctx, id, autopilot.Step{Index: 0, Type: autopilot.StepText})
	assert.ErrorIs(t, err, autopilot.ErrStepOutOfOrder)
}

func TestLedgerReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first := newTestLedger(t, dir)
	id, err := first.Create(ctx, &autopilot.ExecutionRecord{DefinitionID: "triage"})
	require.NoError(t, err)
	require.NoError(t, first.AppendStep(ctx, id, autopilot.Step{Index: 0, Type: autopilot.StepText, Text: "a"}))

	second := newTestLedger(t, dir)
	err = second.AppendStep(ctx, id, autopilot.Step{Index: 0, Type: autopilot.StepText})
	assert.ErrorIs(t, err, autopilot.ErrStepOutOfOrder)
	require.NoError(t, second.AppendStep(ctx, id, autopilot.Step{Index: 1, Type: autopilot.StepText, Text: "b"}))

	record, err := second.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, record.Steps, 2)
	assert.Equal(t, "b", record.Steps[1].Text)
}

func TestLedgerExecutionIDs(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, t.TempDir())

	for _, id := range []string{"../escape", "a/b", "", "exec id"} {
		_, err := ledger.Get(ctx, id)
		assert.ErrorIs(t, err, autopilot.ErrInvalidExecutionID, id)
	}

	_, err := ledger.Get(ctx, "exec_missing")
	assert.ErrorIs(t, err, autopilot.ErrNotFound)

	id, err := ledger.Create(ctx, &autopilot.ExecutionRecord{ID: "exec_fixed", DefinitionID: "triage"})
	require.NoError(t, err)
	assert.Equal(t, "exec_fixed", id)
	_, err = ledger.Create(ctx, &autopilot.ExecutionRecord{ID: "exec_fixed", DefinitionID: "triage"})
	assert.Error(t, err)
}

func TestLedgerIgnoresTruncatedTail(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ledger := newTestLedger(t, dir)
	id, err := ledger.Create(ctx, &autopilot.ExecutionRecord{DefinitionID: "triage"})
	require.NoError(t, err)
	require.NoError(t, ledger.AppendStep(ctx, id, autopilot.Step{Index: 0, Type: autopilot.StepText, Text: "kept"}))

	f, err := os.OpenFile(filepath.Join(dir, id+".jsonl"), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"kind":"step","step":{"index":1,"ty`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	record, err := newTestLedger(t, dir).Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, record.Steps, 1)
	assert.Equal(t, "kept", record.Steps[0].Text)
}

func TestLedgerListByDefinition(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, t.TempDir())
	for i := range 3 {
		_, err := ledger.Create(ctx, &autopilot.ExecutionRecord{
			DefinitionID: "triage",
			StartedAt:    testTime.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
	_, err := ledger.Create(ctx, &autopilot.ExecutionRecord{DefinitionID: "other"})
	require.NoError(t, err)

	records, err := ledger.ListByDefinition(ctx, "triage", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].StartedAt.After(records[1].StartedAt))

	records, err = ledger.ListByDefinition(ctx, "triage", 0)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = ledger.ListByDefinition(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLedgerWithEngine(t *testing.T) {
	ledger := newTestLedger(t, t.TempDir())
	record := runEngine(t, ledger)
	assert.Equal(t, autopilot.StatusCompleted, record.Status)
	require.Len(t, record.Steps, 1)
	assert.Equal(t, "All clear.", record.Steps[0].Text)
}
