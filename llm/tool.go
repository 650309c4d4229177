package llm

import "github.com/deepnoodle-ai/wonton/schema"

// Tool is the model-facing description of a callable tool.
type Tool interface {
	Name() string
	Description() string
	Schema() *schema.Schema
}

// ToolChoice controls whether the model may or must call tools.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceAny  ToolChoice = "any"
	ToolChoiceNone ToolChoice = "none"
)
