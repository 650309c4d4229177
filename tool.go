package autopilot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ToolAnnotations describe tool behavior. RequiresApproval marks tools whose
// calls must be reviewed by a person when a definition's oversight mode is
// review-before.
type ToolAnnotations struct {
	Title            string `json:"title,omitempty"`
	ReadOnlyHint     bool   `json:"readOnlyHint,omitempty"`
	DestructiveHint  bool   `json:"destructiveHint,omitempty"`
	IdempotentHint   bool   `json:"idempotentHint,omitempty"`
	OpenWorldHint    bool   `json:"openWorldHint,omitempty"`
	RequiresApproval bool   `json:"requiresApproval,omitempty"`
}

type ToolResultContentType string

const (
	ToolResultContentTypeText  ToolResultContentType = "text"
	ToolResultContentTypeImage ToolResultContentType = "image"
)

type ToolResultContent struct {
	Type     ToolResultContentType `json:"type"`
	Text     string                `json:"text,omitempty"`
	Data     string                `json:"data,omitempty"`
	MimeType string                `json:"mimeType,omitempty"`
}

// ToolResult is the output from a tool call.
type ToolResult struct {
	Content []*ToolResultContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}

// NewToolResultError creates a new ToolResult containing an error message.
func NewToolResultError(text string) *ToolResult {
	return &ToolResult{
		IsError: true,
		Content: []*ToolResultContent{{Type: ToolResultContentTypeText, Text: text}},
	}
}

// NewToolResult creates a new ToolResult with the given content.
func NewToolResult(content ...*ToolResultContent) *ToolResult {
	return &ToolResult{Content: content}
}

// NewToolResultText creates a new ToolResult with the given text content.
func NewToolResultText(text string) *ToolResult {
	return NewToolResult(&ToolResultContent{Type: ToolResultContentTypeText, Text: text})
}

// NewToolResultJSON creates a new ToolResult holding v encoded as JSON.
func NewToolResultJSON(v any) (*ToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return NewToolResultText(string(data)), nil
}

// Text returns the concatenated text content of the result.
func (r *ToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == ToolResultContentTypeText {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Tool is a capability a model can invoke during a run.
type Tool interface {
	// Name of the tool.
	Name() string

	// Description of the tool.
	Description() string

	// Schema describes the parameters used to call the tool.
	Schema() *Schema

	// Annotations returns optional properties that describe tool behavior.
	Annotations() *ToolAnnotations

	// Call is the function that is called to use the tool. The input has
	// already been validated against Schema. Returned errors are reported to
	// the model unless they are marked with Fatal.
	Call(ctx context.Context, input any) (*ToolResult, error)
}

// TypedTool is a tool that can be called with a specific type of input.
type TypedTool[T any] interface {
	Name() string
	Description() string
	Schema() *Schema
	Annotations() *ToolAnnotations
	Call(ctx context.Context, input T) (*ToolResult, error)
}

// ToolAdapter creates a new TypedToolAdapter for the given tool.
func ToolAdapter[T any](tool TypedTool[T]) *TypedToolAdapter[T] {
	return &TypedToolAdapter[T]{tool: tool}
}

// TypedToolAdapter allows a TypedTool to be used as a regular Tool. Its Call
// method decodes the raw JSON input into T.
type TypedToolAdapter[T any] struct {
	tool TypedTool[T]
}

func (t *TypedToolAdapter[T]) Name() string                  { return t.tool.Name() }
func (t *TypedToolAdapter[T]) Description() string           { return t.tool.Description() }
func (t *TypedToolAdapter[T]) Schema() *Schema               { return t.tool.Schema() }
func (t *TypedToolAdapter[T]) Annotations() *ToolAnnotations { return t.tool.Annotations() }

func (t *TypedToolAdapter[T]) Call(ctx context.Context, input any) (*ToolResult, error) {
	if converted, ok := input.(T); ok {
		return t.tool.Call(ctx, converted)
	}
	var data []byte
	switch raw := input.(type) {
	case json.RawMessage:
		data = raw
	case []byte:
		data = raw
	default:
		var err error
		if data, err = json.Marshal(input); err != nil {
			return NewToolResultError(fmt.Sprintf("invalid json for tool %s: %v", t.Name(), err)), nil
		}
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	var typedInput T
	if err := json.Unmarshal(data, &typedInput); err != nil {
		return NewToolResultError(fmt.Sprintf("invalid json for tool %s: %v", t.Name(), err)), nil
	}
	return t.tool.Call(ctx, typedInput)
}

// Unwrap returns the underlying TypedTool.
func (t *TypedToolAdapter[T]) Unwrap() TypedTool[T] {
	return t.tool
}

// FuncToolOption configures a tool created by FuncTool.
type FuncToolOption func(*funcToolConfig)

type funcToolConfig struct {
	annotations *ToolAnnotations
}

// WithFuncToolAnnotations sets the annotations of a FuncTool.
func WithFuncToolAnnotations(annotations *ToolAnnotations) FuncToolOption {
	return func(c *funcToolConfig) {
		c.annotations = annotations
	}
}

// FuncTool creates a Tool from a function taking a typed input.
func FuncTool[T any](name, description string, s *Schema, fn func(ctx context.Context, input T) (*ToolResult, error), opts ...FuncToolOption) *TypedToolAdapter[T] {
	var cfg funcToolConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return ToolAdapter[T](&funcTool[T]{
		name:        name,
		description: description,
		schema:      s,
		annotations: cfg.annotations,
		fn:          fn,
	})
}

type funcTool[T any] struct {
	name        string
	description string
	schema      *Schema
	annotations *ToolAnnotations
	fn          func(ctx context.Context, input T) (*ToolResult, error)
}

func (t *funcTool[T]) Name() string                  { return t.name }
func (t *funcTool[T]) Description() string           { return t.description }
func (t *funcTool[T]) Schema() *Schema               { return t.schema }
func (t *funcTool[T]) Annotations() *ToolAnnotations { return t.annotations }

func (t *funcTool[T]) Call(ctx context.Context, input T) (*ToolResult, error) {
	return t.fn(ctx, input)
}
