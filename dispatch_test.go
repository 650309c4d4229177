package autopilot

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"
)

func TestNormalizeToolInput(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", `{}`},
		{"  \n", `{}`},
		{` {"q":"go"} `, `{"q":"go"}`},
		{`{"q":`, `"{\"q\":"`},
		{`not json`, `"not json"`},
	}
	for _, tt := range tests {
		got := normalizeToolInput(json.RawMessage(tt.input))
		assert.Equal(t, tt.want, string(got))
		assert.True(t, json.Valid(got))
		_, err := json.Marshal(Step{Input: got})
		assert.NoError(t, err)
	}
}

func TestCheckCall(t *testing.T) {
	tool := FuncTool("search", "Searches", searchSchema, func(ctx context.Context, input map[string]any) (*ToolResult, error) {
		return NewToolResultText("ok"), nil
	})

	_, ok := checkCall(tool, "search", json.RawMessage(`{"query":"go"}`))
	assert.True(t, ok)

	outcome, ok := checkCall(nil, "missing", json.RawMessage(`{}`))
	assert.False(t, ok)
	assert.True(t, outcome.isError)
	assert.Contains(t, outcome.text, "not available")

	outcome, ok = checkCall(tool, "search", json.RawMessage(`{"query":`))
	assert.False(t, ok)
	assert.Contains(t, outcome.text, "not valid JSON")
	assert.True(t, json.Valid(outcome.output))
}
