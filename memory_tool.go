package autopilot

import (
	"context"
	"fmt"
)

// SaveMemoryToolName is the name of the built-in memory tool. Definitions
// that list it read their memory once at run start.
const SaveMemoryToolName = "save_memory"

// memoryScope binds the memory tool to the key of the current run.
type memoryScope struct {
	store MemoryStore
	key   MemoryKey
}

type saveMemoryInput struct {
	Memory map[string]any `json:"memory"`
}

// NewSaveMemoryTool returns the tool a model calls to replace the memory kept
// for the current definition, subject and organization. The engine supplies
// the key; the model only supplies the payload.
func NewSaveMemoryTool() Tool {
	return ToolAdapter[*saveMemoryInput](&saveMemoryTool{})
}

type saveMemoryTool struct{}

func (t *saveMemoryTool) Name() string {
	return SaveMemoryToolName
}

func (t *saveMemoryTool) Description() string {
	return "Replaces the memory kept for this subject across runs. Pass the complete memory object; fields not included are discarded."
}

func (t *saveMemoryTool) Schema() *Schema {
	return &Schema{
		Type:     Object,
		Required: []string{"memory"},
		Properties: map[string]*SchemaProperty{
			"memory": {
				Type:        Object,
				Description: "The complete memory object to store.",
			},
		},
	}
}

func (t *saveMemoryTool) Annotations() *ToolAnnotations {
	return &ToolAnnotations{
		Title:          "Save memory",
		IdempotentHint: true,
	}
}

func (t *saveMemoryTool) Call(ctx context.Context, input *saveMemoryInput) (*ToolResult, error) {
	scope := toolScopeFrom(ctx)
	if scope == nil || scope.memory == nil || scope.memory.store == nil {
		return NewToolResultError("memory is not available for this run"), nil
	}
	runCount, err := scope.memory.store.Upsert(ctx, scope.memory.key, input.Memory)
	if err != nil {
		return nil, fmt.Errorf("save memory: %w", err)
	}
	return NewToolResultJSON(map[string]any{"saved": true, "runCount": runCount})
}
