package llm

import (
	"encoding/json"
	"strings"
)

// Role indicates the role of a message in a conversation.
type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

func (r Role) String() string {
	return string(r)
}

// ContentType indicates the type of a content block in a message.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
)

// Content is a single block of content in a message.
type Content interface {
	Type() ContentType
}

type TextContent struct {
	Text string `json:"text"`
}

func (c *TextContent) Type() ContentType {
	return ContentTypeText
}

// ToolUseContent is a tool call requested by the model.
type ToolUseContent struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (c *ToolUseContent) Type() ContentType {
	return ContentTypeToolUse
}

// ToolResultContent carries the outcome of a tool call back to the model.
type ToolResultContent struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (c *ToolResultContent) Type() ContentType {
	return ContentTypeToolResult
}

// Message containing content passed to or from a model.
type Message struct {
	Role    Role      `json:"role"`
	Content []Content `json:"content"`
}

// Text returns the concatenated text content of the message.
func (m *Message) Text() string {
	var parts []string
	for _, c := range m.Content {
		if text, ok := c.(*TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ToolCalls returns the tool use blocks of the message in order.
func (m *Message) ToolCalls() []*ToolUseContent {
	var calls []*ToolUseContent
	for _, c := range m.Content {
		if call, ok := c.(*ToolUseContent); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// NewUserTextMessage creates a user message with a single text block.
func NewUserTextMessage(text string) *Message {
	return &Message{Role: User, Content: []Content{&TextContent{Text: text}}}
}

// NewAssistantMessage creates an assistant message from content blocks.
func NewAssistantMessage(content ...Content) *Message {
	return &Message{Role: Assistant, Content: content}
}

// NewToolResultMessage creates a user message carrying tool results.
func NewToolResultMessage(results ...*ToolResultContent) *Message {
	content := make([]Content, 0, len(results))
	for _, r := range results {
		content = append(content, r)
	}
	return &Message{Role: User, Content: content}
}
