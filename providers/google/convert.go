package google

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/autopilot/llm"
	"github.com/deepnoodle-ai/wonton/schema"
	"google.golang.org/genai"
)

var errEmptyResponse = errors.New("empty response from google genai")

// convertResponse converts a GenAI response to an llm.Response.
func convertResponse(resp *genai.GenerateContentResponse, model string) (*llm.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errEmptyResponse
	}
	candidate := resp.Candidates[0]

	var content []llm.Content
	if candidate.Content != nil {
		for i, part := range candidate.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					return nil, fmt.Errorf("error marshaling function call args: %w", err)
				}
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, i)
				}
				content = append(content, &llm.ToolUseContent{
					ID:    id,
					Name:  part.FunctionCall.Name,
					Input: json.RawMessage(args),
				})
			case part.Text != "":
				content = append(content, &llm.TextContent{Text: part.Text})
			}
		}
	}

	var usage llm.Usage
	if resp.UsageMetadata != nil {
		usage = llm.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	response := &llm.Response{
		ID:      fmt.Sprintf("google_%d", candidate.Index),
		Model:   model,
		Role:    llm.Assistant,
		Content: content,
		Usage:   usage,
	}
	switch candidate.FinishReason {
	case genai.FinishReasonStop:
		response.StopReason = "stop"
	case genai.FinishReasonMaxTokens:
		response.StopReason = "max_tokens"
	default:
		response.StopReason = "other"
	}
	if len(response.ToolCalls()) > 0 {
		response.StopReason = "tool_use"
	}
	return response, nil
}

// messagesToContents converts messages to genai.Content. Tool results are
// matched to the preceding tool calls to recover the function name.
func messagesToContents(messages []*llm.Message) ([]*genai.Content, error) {
	if len(messages) == 0 {
		return nil, errors.New("no messages provided")
	}
	contents := make([]*genai.Content, 0, len(messages))
	toolNames := map[string]string{}

	for i, message := range messages {
		if len(message.Content) == 0 {
			return nil, fmt.Errorf("empty message detected (index %d)", i)
		}
		role := "user"
		if message.Role == llm.Assistant {
			role = "model"
		}
		content := &genai.Content{Role: role}

		for _, c := range message.Content {
			switch ct := c.(type) {
			case *llm.TextContent:
				content.Parts = append(content.Parts, genai.NewPartFromText(ct.Text))
			case *llm.ToolUseContent:
				toolNames[ct.ID] = ct.Name
				args := map[string]any{}
				if len(ct.Input) > 0 {
					if err := json.Unmarshal(ct.Input, &args); err != nil {
						return nil, fmt.Errorf("error unmarshaling tool input for %s: %w", ct.Name, err)
					}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: ct.ID, Name: ct.Name, Args: args},
				})
			case *llm.ToolResultContent:
				name, ok := toolNames[ct.ToolUseID]
				if !ok {
					return nil, fmt.Errorf("tool use not found for tool result: %s", ct.ToolUseID)
				}
				response := map[string]any{"output": ct.Content}
				if ct.IsError {
					response = map[string]any{"error": ct.Content}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{ID: ct.ToolUseID, Name: name, Response: response},
				})
			default:
				return nil, fmt.Errorf("unsupported content type %T", c)
			}
		}
		contents = append(contents, content)
	}
	return contents, nil
}

// convertSchema converts a tool schema to the GenAI schema format.
func convertSchema(s *schema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(s.Type),
		Description: s.Description,
	}
	if s.Properties != nil {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = convertProperty(prop)
		}
	}
	if len(s.Required) > 0 {
		out.Required = s.Required
	}
	return out
}

func convertProperty(prop *schema.Property) *genai.Schema {
	if prop == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(prop.Type),
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		values := make([]string, 0, len(prop.Enum))
		for _, v := range prop.Enum {
			values = append(values, fmt.Sprint(v))
		}
		out.Enum = values
	}
	if prop.Items != nil {
		out.Items = convertProperty(prop.Items)
	}
	if prop.Properties != nil {
		out.Properties = make(map[string]*genai.Schema, len(prop.Properties))
		for name, nested := range prop.Properties {
			out.Properties[name] = convertProperty(nested)
		}
	}
	if len(prop.Required) > 0 {
		out.Required = prop.Required
	}
	return out
}
