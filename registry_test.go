package autopilot

import (
	"context"
	"errors"
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"
)

type echoInput struct {
	Text string `json:"text"`
}

func newEchoTool(name string) Tool {
	return FuncTool(name, "Echoes its input", &Schema{
		Type:       Object,
		Properties: map[string]*SchemaProperty{"text": {Type: String}},
	}, func(ctx context.Context, input echoInput) (*ToolResult, error) {
		return NewToolResultText(input.Text), nil
	})
}

func TestToolRegistryResolve(t *testing.T) {
	registry := NewToolRegistry(newEchoTool("echo"), newEchoTool("shout"))
	assert.Equal(t, []string{"echo", "shout"}, registry.Names())

	tools, err := registry.Resolve([]string{"shout"})
	assert.NoError(t, err)
	assert.Len(t, tools, 1)
	assert.NotNil(t, tools["shout"])

	_, err = registry.Resolve([]string{"echo", "missing", "gone"})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTool))
	var configErr *ConfigError
	assert.True(t, errors.As(err, &configErr))
	assert.Equal(t, []string{"missing", "gone"}, configErr.UnknownTools)
	assert.Contains(t, err.Error(), "configuration error")
}

func TestToolRegistryRejectsDuplicates(t *testing.T) {
	registry := NewToolRegistry(newEchoTool("echo"))
	assert.Error(t, registry.Register(newEchoTool("echo")))

	_, ok := registry.Get("echo")
	assert.True(t, ok)
	_, ok = registry.Get("nope")
	assert.False(t, ok)
}

func TestFuncToolDecodesInput(t *testing.T) {
	tool := newEchoTool("echo")
	result, err := tool.Call(context.Background(), []byte(`{"text":"hi"}`))
	assert.NoError(t, err)
	assert.Equal(t, "hi", result.Text())

	result, err = tool.Call(context.Background(), []byte(`{"text":`))
	assert.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "invalid json for tool echo")
}

func TestFatal(t *testing.T) {
	cause := errors.New("quota exhausted")
	err := Fatal(cause)
	assert.True(t, IsFatal(err))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, IsFatal(cause))
}
