package llm

// Response from a model.
type Response struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	Role       Role      `json:"role"`
	Content    []Content `json:"content"`
	StopReason string    `json:"stop_reason"`
	Usage      Usage     `json:"usage"`
}

// Message returns the response as an assistant message.
func (r *Response) Message() *Message {
	return &Message{Role: Assistant, Content: r.Content}
}

// Text returns the concatenated text content of the response.
func (r *Response) Text() string {
	return r.Message().Text()
}

// ToolCalls returns the tool calls requested by the model in order.
func (r *Response) ToolCalls() []*ToolUseContent {
	return r.Message().ToolCalls()
}
