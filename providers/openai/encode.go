package openai

import (
	"fmt"

	"github.com/deepnoodle-ai/autopilot/llm"
	"github.com/openai/openai-go/responses"
)

func encodeMessages(messages []*llm.Message) ([]responses.ResponseInputItemUnionParam, error) {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))
	for _, message := range messages {
		if len(message.Content) == 0 {
			continue
		}
		var encoded []responses.ResponseInputItemUnionParam
		var err error
		switch message.Role {
		case llm.Assistant:
			encoded, err = encodeAssistantMessage(message)
		case llm.User, "":
			encoded, err = encodeUserMessage(message)
		default:
			err = fmt.Errorf("unknown message role: %s", message.Role)
		}
		if err != nil {
			return nil, fmt.Errorf("error encoding message: %w", err)
		}
		items = append(items, encoded...)
	}
	return items, nil
}

func encodeAssistantMessage(message *llm.Message) ([]responses.ResponseInputItemUnionParam, error) {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(message.Content))
	for _, c := range message.Content {
		switch ct := c.(type) {
		case *llm.TextContent:
			content := []responses.ResponseOutputMessageContentUnionParam{{
				OfOutputText: &responses.ResponseOutputTextParam{Text: ct.Text, Type: "output_text"},
			}}
			items = append(items, responses.ResponseInputItemParamOfOutputMessage(content, "", ""))
		case *llm.ToolUseContent:
			if ct.Name == "" {
				return nil, fmt.Errorf("tool use content name is empty")
			}
			items = append(items, responses.ResponseInputItemParamOfFunctionCall(string(ct.Input), ct.ID, ct.Name))
		default:
			return nil, fmt.Errorf("unsupported assistant content type: %T", c)
		}
	}
	return items, nil
}

// encodeUserMessage emits text as one input message and each tool result as
// its own function_call_output item.
func encodeUserMessage(message *llm.Message) ([]responses.ResponseInputItemUnionParam, error) {
	var content []responses.ResponseInputContentUnionParam
	var results []responses.ResponseInputItemUnionParam
	for _, c := range message.Content {
		switch ct := c.(type) {
		case *llm.TextContent:
			content = append(content, responses.ResponseInputContentParamOfInputText(ct.Text))
		case *llm.ToolResultContent:
			if ct.ToolUseID == "" {
				return nil, fmt.Errorf("tool use id is not set")
			}
			results = append(results, responses.ResponseInputItemParamOfFunctionCallOutput(ct.ToolUseID, ct.Content))
		default:
			return nil, fmt.Errorf("unsupported user content type: %T", c)
		}
	}
	var items []responses.ResponseInputItemUnionParam
	if len(content) > 0 {
		items = append(items, responses.ResponseInputItemParamOfInputMessage(content, "user"))
	}
	return append(items, results...), nil
}
