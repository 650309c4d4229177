package toolkit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/llm"
	"github.com/deepnoodle-ai/autopilot/llm/llmtest"
	"github.com/deepnoodle-ai/wonton/assert"
)

type fakeBrowser struct {
	mu       sync.Mutex
	location string
	pages    map[string]string
	typed    map[string]string
	clicks   []string
	failNext error
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		pages: map[string]string{"https://acme.example/": "  Acme pricing: $10  "},
		typed: map[string]string{},
	}
}

func (b *fakeBrowser) takeErr() error {
	err := b.failNext
	b.failNext = nil
	return err
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeErr(); err != nil {
		return "", err
	}
	b.location = url + "/"
	return b.location, nil
}

func (b *fakeBrowser) Click(ctx context.Context, selector string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeErr(); err != nil {
		return err
	}
	b.clicks = append(b.clicks, selector)
	return nil
}

func (b *fakeBrowser) Type(ctx context.Context, selector, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typed[selector] = text
	return nil
}

func (b *fakeBrowser) Text(ctx context.Context, selector string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pages[b.location], nil
}

func (b *fakeBrowser) Location(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.location, nil
}

func TestBrowserToolActions(t *testing.T) {
	browser := newFakeBrowser()
	tool := NewBrowserTool(BrowserToolOptions{Browser: browser})
	ctx := context.Background()

	result, err := tool.Call(ctx, json.RawMessage(`{"action":"navigate","url":"https://acme.example"}`))
	assert.NoError(t, err)
	assert.Equal(t, "Navigated to https://acme.example/", result.Text())

	result, err = tool.Call(ctx, json.RawMessage(`{"action":"type","selector":"#q","text":"anvils"}`))
	assert.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "anvils", browser.typed["#q"])

	result, err = tool.Call(ctx, json.RawMessage(`{"action":"read"}`))
	assert.NoError(t, err)
	assert.Equal(t, "Acme pricing: $10", result.Text())

	result, err = tool.Call(ctx, json.RawMessage(`{"action":"click"}`))
	assert.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "selector is required")

	result, err = tool.Call(ctx, json.RawMessage(`{"action":"scroll"}`))
	assert.NoError(t, err)
	assert.True(t, result.IsError)

	browser.failNext = errors.New("element not visible")
	result, err = tool.Call(ctx, json.RawMessage(`{"action":"click","selector":"#buy"}`))
	assert.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text(), "element not visible")
}

func TestBrowserToolWithoutSessionIsFatal(t *testing.T) {
	tool := NewBrowserTool(BrowserToolOptions{})
	_, err := tool.Call(context.Background(), json.RawMessage(`{"action":"read"}`))
	assert.Error(t, err)
	assert.True(t, autopilot.IsFatal(err))
}

func TestBrowserToolSideChannels(t *testing.T) {
	browser := newFakeBrowser()
	registry := autopilot.NewToolRegistry(NewBrowserTool(BrowserToolOptions{
		Browser:     browser,
		LiveViewURL: "https://viewer.example/session/1",
	}))
	model := llmtest.New(
		llmtest.ToolCall("call_1", "browser", map[string]any{"action": "navigate", "url": "https://acme.example"}, llm.Usage{InputTokens: 10, OutputTokens: 5}),
		llmtest.ToolCall("call_2", "browser", map[string]any{"action": "click", "selector": "#pricing"}, llm.Usage{InputTokens: 12, OutputTokens: 5}),
		llmtest.Text("Pricing starts at $10.", llm.Usage{InputTokens: 20, OutputTokens: 6}),
	)
	engine, err := autopilot.NewEngine(autopilot.EngineOptions{
		Model:    model,
		Ledger:   autopilot.NewMemoryLedger(),
		Registry: registry,
	})
	assert.NoError(t, err)

	var (
		mu        sync.Mutex
		liveViews []string
		actions   []autopilot.BrowserAction
	)
	def := &autopilot.Definition{
		ID:          "pricing-check",
		Version:     1,
		Name:        "Pricing check",
		Tools:       []string{"browser"},
		Constraints: autopilot.Constraints{MaxSteps: 5, MaxExecutionTimeMs: 60000},
		Trigger:     autopilot.Trigger{Type: autopilot.TriggerManual},
		Oversight:   autopilot.Oversight{Mode: autopilot.OversightAuto},
	}
	result, err := engine.Run(context.Background(), def, autopilot.ExecutionContext{OrgID: "org_1"}, autopilot.Callbacks{
		OnLiveView: func(url string) {
			mu.Lock()
			defer mu.Unlock()
			liveViews = append(liveViews, url)
		},
		OnBrowserAction: func(action autopilot.BrowserAction) {
			mu.Lock()
			defer mu.Unlock()
			actions = append(actions, action)
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, autopilot.StatusCompleted, result.Status)
	assert.Equal(t, "Pricing starts at $10.", result.Summary)

	assert.Equal(t, []string{"https://viewer.example/session/1", "https://viewer.example/session/1"}, liveViews)
	assert.Len(t, actions, 2)
	assert.Equal(t, "navigate", actions[0].Action)
	assert.Equal(t, "https://acme.example/", actions[0].URL)
	assert.Equal(t, "click", actions[1].Action)
	assert.Equal(t, "#pricing", actions[1].Selector)
	assert.Equal(t, "https://acme.example/", actions[1].URL)

	var types []autopilot.StepType
	for i, step := range result.Steps {
		assert.Equal(t, i, step.Index)
		types = append(types, step.Type)
	}
	assert.Equal(t, []autopilot.StepType{
		autopilot.StepToolCall,
		autopilot.StepBrowserAction,
		autopilot.StepToolResult,
		autopilot.StepToolCall,
		autopilot.StepBrowserAction,
		autopilot.StepToolResult,
		autopilot.StepText,
	}, types)
	assert.Equal(t, "browser", result.Steps[1].ToolName)
	assert.Equal(t, []string{"#pricing"}, browser.clicks)
}
