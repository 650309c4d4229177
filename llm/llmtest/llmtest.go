// Package llmtest provides a scripted llm.Model for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/deepnoodle-ai/autopilot/llm"
)

// ErrScriptExhausted is returned when a ScriptedModel runs out of turns.
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Turn produces one model response from the call configuration.
type Turn func(ctx context.Context, config *llm.Config) (*llm.Response, error)

// ScriptedModel replays a fixed sequence of turns and records every call.
type ScriptedModel struct {
	name  string
	mu    sync.Mutex
	turns []Turn
	calls []*llm.Config
}

// New returns a model that answers with turns in order.
func New(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{name: "llmtest/scripted", turns: turns}
}

func (m *ScriptedModel) Name() string {
	return m.name
}

func (m *ScriptedModel) Generate(ctx context.Context, opts ...llm.Option) (*llm.Response, error) {
	config := &llm.Config{}
	config.Apply(opts...)

	m.mu.Lock()
	m.calls = append(m.calls, config)
	index := len(m.calls) - 1
	var turn Turn
	if index < len(m.turns) {
		turn = m.turns[index]
	}
	m.mu.Unlock()

	if turn == nil {
		return nil, ErrScriptExhausted
	}
	return turn(ctx, config)
}

// Calls returns the configuration of every call made so far.
func (m *ScriptedModel) Calls() []*llm.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.Config(nil), m.calls...)
}

// Func adapts a function into a model, for responses that depend on the
// conversation or on concurrent callers.
type Func func(ctx context.Context, config *llm.Config) (*llm.Response, error)

func (f Func) Name() string {
	return "llmtest/func"
}

func (f Func) Generate(ctx context.Context, opts ...llm.Option) (*llm.Response, error) {
	config := &llm.Config{}
	config.Apply(opts...)
	return f(ctx, config)
}

// Text answers with a final text response.
func Text(text string, usage llm.Usage) Turn {
	return func(ctx context.Context, config *llm.Config) (*llm.Response, error) {
		return TextResponse(text, usage), nil
	}
}

// ToolCall answers with a single tool call. Input is marshaled to JSON.
func ToolCall(id, name string, input any, usage llm.Usage) Turn {
	return func(ctx context.Context, config *llm.Config) (*llm.Response, error) {
		return ToolCallResponse(id, name, input, usage), nil
	}
}

// Error fails the call.
func Error(err error) Turn {
	return func(ctx context.Context, config *llm.Config) (*llm.Response, error) {
		return nil, err
	}
}

// TextResponse builds a text-only response.
func TextResponse(text string, usage llm.Usage) *llm.Response {
	return &llm.Response{
		Role:       llm.Assistant,
		Content:    []llm.Content{&llm.TextContent{Text: text}},
		StopReason: "end_turn",
		Usage:      usage,
	}
}

// ToolCallResponse builds a response requesting one tool call.
func ToolCallResponse(id, name string, input any, usage llm.Usage) *llm.Response {
	var raw json.RawMessage
	switch v := input.(type) {
	case json.RawMessage:
		raw = v
	case string:
		raw = json.RawMessage(v)
	default:
		data, err := json.Marshal(input)
		if err != nil {
			panic(fmt.Sprintf("llmtest: marshal tool input: %v", err))
		}
		raw = data
	}
	return &llm.Response{
		Role:       llm.Assistant,
		Content:    []llm.Content{&llm.ToolUseContent{ID: id, Name: name, Input: raw}},
		StopReason: "tool_use",
		Usage:      usage,
	}
}

// LastToolResults returns the tool results in the final message of config,
// or nil when the last message carries none.
func LastToolResults(config *llm.Config) []*llm.ToolResultContent {
	if len(config.Messages) == 0 {
		return nil
	}
	var results []*llm.ToolResultContent
	for _, c := range config.Messages[len(config.Messages)-1].Content {
		if r, ok := c.(*llm.ToolResultContent); ok {
			results = append(results, r)
		}
	}
	return results
}
