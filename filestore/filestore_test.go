package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/llm"
	"github.com/deepnoodle-ai/autopilot/llm/llmtest"
	"github.com/deepnoodle-ai/autopilot/slogger"
	"github.com/stretchr/testify/require"
)

const triageYAML = `id: triage
name: Triage
systemPrompt: Sort the inbox.
tools: [fetch]
constraints:
  maxSteps: 5
  maxExecutionTimeMs: 60000
trigger:
  type: manual
oversight:
  mode: auto
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// runEngine runs a one-turn definition against ledger and returns the stored
// record.
func runEngine(t *testing.T, ledger autopilot.Ledger) *autopilot.ExecutionRecord {
	t.Helper()
	ctx := context.Background()
	engine, err := autopilot.NewEngine(autopilot.EngineOptions{
		Model:  llmtest.New(llmtest.Text("All clear.", llm.Usage{InputTokens: 4, OutputTokens: 2})),
		Ledger: ledger,
		Logger: slogger.NewDevNullLogger(),
	})
	require.NoError(t, err)
	def, err := autopilot.ParseDefinitionYAML([]byte(triageYAML))
	require.NoError(t, err)
	def.Tools = nil
	result, err := engine.Run(ctx, def, autopilot.ExecutionContext{OrgID: "org_1"}, autopilot.Callbacks{})
	require.NoError(t, err)
	record, err := ledger.Get(ctx, result.ExecutionID)
	require.NoError(t, err)
	return record
}
