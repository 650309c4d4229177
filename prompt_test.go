package autopilot

import (
	"testing"
	"time"

	"github.com/deepnoodle-ai/wonton/assert"
)

func TestBuildSystemPrompt(t *testing.T) {
	def := &Definition{SystemPrompt: "You are helpful."}
	assert.Equal(t, "You are helpful.", BuildSystemPrompt(def, ExecutionContext{}, nil))

	prompt := BuildSystemPrompt(def, ExecutionContext{OrgPrompt: "Always sign as Acme."}, &Memory{
		Memory:    map[string]any{"lastContact": "2026-01-02"},
		RunCount:  3,
		LastRunAt: time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC),
	})
	assert.Contains(t, prompt, "You are helpful.")
	assert.Contains(t, prompt, "## Organization instructions\n\nAlways sign as Acme.")
	assert.Contains(t, prompt, "## Memory")
	assert.Contains(t, prompt, "run 3 time(s)")
	assert.Contains(t, prompt, `"lastContact": "2026-01-02"`)
}

func TestBuildInputMessage(t *testing.T) {
	def := &Definition{InputFields: []InputField{
		{Key: "company", Label: "Company"},
		{Key: "depth"},
	}}
	msg := BuildInputMessage(def, map[string]any{
		"depth":   float64(2),
		"company": "Acme",
		"zeta":    []string{"a", "b"},
	})
	assert.Equal(t, "Company: Acme\ndepth: 2\nzeta: [\"a\",\"b\"]", msg)
	assert.Equal(t, "Begin.", BuildInputMessage(def, nil))
}
