package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deepnoodle-ai/autopilot/llm"
	"github.com/deepnoodle-ai/autopilot/providers"
	"github.com/deepnoodle-ai/autopilot/retry"
	"github.com/deepnoodle-ai/wonton/assert"
	"github.com/deepnoodle-ai/wonton/schema"
)

const toolCallResponse = `{
  "id": "resp_1",
  "object": "response",
  "created_at": 1760000000,
  "model": "gpt-4.1",
  "status": "completed",
  "output": [
    {"type": "message", "id": "msg_1", "role": "assistant", "status": "completed",
     "content": [{"type": "output_text", "text": "Checking.", "annotations": []}]},
    {"type": "function_call", "id": "fc_1", "call_id": "call_1", "name": "lookup",
     "arguments": "{\"company\":\"acme\"}", "status": "completed"}
  ],
  "usage": {"input_tokens": 11, "output_tokens": 4, "total_tokens": 15,
            "input_tokens_details": {"cached_tokens": 0},
            "output_tokens_details": {"reasoning_tokens": 0}}
}`

type lookupTool struct{}

func (lookupTool) Name() string        { return "lookup" }
func (lookupTool) Description() string { return "Looks up a company" }
func (lookupTool) Schema() *schema.Schema {
	return &schema.Schema{
		Type:       schema.Object,
		Required:   []string{"company"},
		Properties: map[string]*schema.Property{"company": {Type: schema.String}},
	}
}

func TestGenerate(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(data, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, toolCallResponse)
	}))
	defer server.Close()

	provider := New(WithAPIKey("sk-test"), WithEndpoint(server.URL+"/"), WithMaxRetries(0))
	response, err := provider.Generate(context.Background(),
		llm.WithSystemPrompt("You research companies."),
		llm.WithMessages(llm.NewUserTextMessage("look up acme")),
		llm.WithTools(lookupTool{}),
		llm.WithToolChoice(llm.ToolChoiceAuto),
	)
	assert.NoError(t, err)
	assert.Equal(t, "Checking.", response.Text())
	calls := response.ToolCalls()
	assert.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "lookup", calls[0].Name)
	assert.JSONEq(t, `{"company":"acme"}`, string(calls[0].Input))
	assert.Equal(t, "tool_use", response.StopReason)
	assert.Equal(t, 15, response.Usage.Total())

	assert.Equal(t, "You research companies.", body["instructions"])
	assert.Equal(t, "gpt-4.1", body["model"])
	tools, _ := body["tools"].([]any)
	assert.Len(t, tools, 1)
	tool, _ := tools[0].(map[string]any)
	assert.Equal(t, "function", tool["type"])
	assert.Equal(t, "lookup", tool["name"])
}

func TestGenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad tool schema","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	provider := New(WithAPIKey("sk-test"), WithEndpoint(server.URL+"/"), WithMaxRetries(0))
	_, err := provider.Generate(context.Background(), llm.WithMessages(llm.NewUserTextMessage("hi")))
	assert.Error(t, err)
	var providerErr *providers.ProviderError
	assert.True(t, errors.As(err, &providerErr))
	assert.Equal(t, http.StatusBadRequest, providerErr.StatusCode())
	assert.False(t, retry.IsRetryable(err))
}

func TestEncodeMessages(t *testing.T) {
	items, err := encodeMessages([]*llm.Message{
		llm.NewUserTextMessage("look up acme"),
		llm.NewAssistantMessage(
			&llm.TextContent{Text: "Checking."},
			&llm.ToolUseContent{ID: "call_1", Name: "lookup", Input: json.RawMessage(`{"company":"acme"}`)},
		),
		llm.NewToolResultMessage(&llm.ToolResultContent{ToolUseID: "call_1", Content: `{"employees":40}`}),
	})
	assert.NoError(t, err)
	assert.Len(t, items, 4)
	assert.NotNil(t, items[2].OfFunctionCall)
	assert.Equal(t, "call_1", items[2].OfFunctionCall.CallID)
	assert.NotNil(t, items[3].OfFunctionCallOutput)

	_, err = encodeMessages([]*llm.Message{{Role: "system", Content: []llm.Content{&llm.TextContent{Text: "x"}}}})
	assert.Error(t, err)
}

func TestBuildRequestParamsRequiresMessages(t *testing.T) {
	_, err := New(WithAPIKey("sk-test")).buildRequestParams(&llm.Config{})
	assert.Error(t, err)
}

func TestProviderName(t *testing.T) {
	assert.Equal(t, "openai/gpt-4.1", New(WithAPIKey("sk-test")).Name())
}
