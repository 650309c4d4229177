package openai

import (
	"github.com/deepnoodle-ai/autopilot/llm"
	"github.com/openai/openai-go/responses"
)

func decodeResponse(response *responses.Response) (*llm.Response, error) {
	content := make([]llm.Content, 0, len(response.Output))
	for _, item := range response.Output {
		content = append(content, decodeResponseItem(item)...)
	}
	out := &llm.Response{
		ID:      response.ID,
		Model:   string(response.Model),
		Role:    llm.Assistant,
		Content: content,
		Usage: llm.Usage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}
	switch {
	case len(out.ToolCalls()) > 0:
		out.StopReason = "tool_use"
	case response.IncompleteDetails.Reason == "max_output_tokens":
		out.StopReason = "max_tokens"
	default:
		out.StopReason = "stop"
	}
	return out, nil
}

// decodeResponseItem keeps messages and function calls. Other output items,
// such as reasoning, have no llm representation and are dropped.
func decodeResponseItem(item responses.ResponseOutputItemUnion) []llm.Content {
	switch item.Type {
	case "message":
		var blocks []llm.Content
		for _, c := range item.AsMessage().Content {
			switch c.Type {
			case "output_text":
				blocks = append(blocks, &llm.TextContent{Text: c.AsOutputText().Text})
			case "refusal":
				blocks = append(blocks, &llm.TextContent{Text: c.AsRefusal().Refusal})
			}
		}
		return blocks
	case "function_call":
		call := item.AsFunctionCall()
		return []llm.Content{&llm.ToolUseContent{
			ID:    call.CallID,
			Name:  call.Name,
			Input: []byte(call.Arguments),
		}}
	}
	return nil
}
