package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/wonton/schema"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolAdapter exposes an MCP tool as an autopilot.Tool
type ToolAdapter struct {
	client *Client
	tool   mcp.Tool
	schema *schema.Schema
}

var _ autopilot.Tool = (*ToolAdapter)(nil)

// NewToolAdapter creates a new MCP tool adapter
func NewToolAdapter(client *Client, tool mcp.Tool) *ToolAdapter {
	return &ToolAdapter{
		client: client,
		tool:   tool,
		schema: convertInputSchema(tool.InputSchema),
	}
}

func (t *ToolAdapter) Name() string {
	return t.tool.Name
}

func (t *ToolAdapter) Description() string {
	if t.tool.Description != "" {
		return t.tool.Description
	}
	return fmt.Sprintf("MCP tool %s from server %s", t.tool.Name, t.client.Name())
}

func (t *ToolAdapter) Schema() *schema.Schema {
	return t.schema
}

// Annotations maps the MCP tool hints. MCP tools reach outside the process
// so OpenWorldHint is always set.
func (t *ToolAdapter) Annotations() *autopilot.ToolAnnotations {
	annotations := &autopilot.ToolAnnotations{
		Title:            fmt.Sprintf("%s (MCP:%s)", t.tool.Name, t.client.Name()),
		OpenWorldHint:    true,
		RequiresApproval: t.client.config.RequiresApproval,
	}
	hints := t.tool.Annotations
	if hints.Title != "" {
		annotations.Title = hints.Title
	}
	if hints.ReadOnlyHint != nil {
		annotations.ReadOnlyHint = *hints.ReadOnlyHint
	}
	if hints.DestructiveHint != nil {
		annotations.DestructiveHint = *hints.DestructiveHint
	}
	if hints.IdempotentHint != nil {
		annotations.IdempotentHint = *hints.IdempotentHint
	}
	return annotations
}

// Call invokes the tool on its server. Transport failures are reported to
// the model as error results.
func (t *ToolAdapter) Call(ctx context.Context, input any) (*autopilot.ToolResult, error) {
	arguments, err := toArguments(input)
	if err != nil {
		return autopilot.NewToolResultError(fmt.Sprintf("invalid input for tool %s: %v", t.tool.Name, err)), nil
	}
	result, err := t.client.CallTool(ctx, t.tool.Name, arguments)
	if err != nil {
		return autopilot.NewToolResultError(fmt.Sprintf("MCP tool call failed: %v", err)), nil
	}
	return convertResult(result), nil
}

func toArguments(input any) (map[string]any, error) {
	var data []byte
	switch v := input.(type) {
	case map[string]any:
		return v, nil
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		var err error
		if data, err = json.Marshal(input); err != nil {
			return nil, err
		}
	}
	arguments := map[string]any{}
	if len(data) == 0 || string(data) == "null" {
		return arguments, nil
	}
	if err := json.Unmarshal(data, &arguments); err != nil {
		return nil, err
	}
	return arguments, nil
}

func convertInputSchema(in mcp.ToolInputSchema) *schema.Schema {
	out := &schema.Schema{
		Type:       schema.Object,
		Properties: map[string]*schema.Property{},
		Required:   append([]string{}, in.Required...),
	}
	if in.Type != "" {
		out.Type = schema.SchemaType(in.Type)
	}
	for key, prop := range in.Properties {
		if propMap, ok := prop.(map[string]any); ok {
			out.Properties[key] = convertProperty(propMap)
		}
	}
	return out
}

func convertProperty(in map[string]any) *schema.Property {
	out := &schema.Property{}
	if t, ok := in["type"].(string); ok {
		out.Type = schema.SchemaType(t)
	}
	if description, ok := in["description"].(string); ok {
		out.Description = description
	}
	if properties, ok := in["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*schema.Property, len(properties))
		for key, prop := range properties {
			if propMap, ok := prop.(map[string]any); ok {
				out.Properties[key] = convertProperty(propMap)
			}
		}
	}
	if required, ok := in["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	if items, ok := in["items"].(map[string]any); ok {
		out.Items = convertProperty(items)
	}
	if enum, ok := in["enum"].([]any); ok {
		out.Enum = append([]any{}, enum...)
	}
	return out
}

func convertResult(result *mcp.CallToolResult) *autopilot.ToolResult {
	if result == nil {
		return autopilot.NewToolResultError("mcp tool returned nil result")
	}
	out := &autopilot.ToolResult{IsError: result.IsError}
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			out.Content = append(out.Content, &autopilot.ToolResultContent{
				Type: autopilot.ToolResultContentTypeText,
				Text: c.Text,
			})
		case mcp.ImageContent:
			out.Content = append(out.Content, &autopilot.ToolResultContent{
				Type:     autopilot.ToolResultContentTypeImage,
				Data:     c.Data,
				MimeType: c.MIMEType,
			})
		case mcp.EmbeddedResource:
			text := "Embedded resource"
			switch resource := c.Resource.(type) {
			case mcp.TextResourceContents:
				text = resource.Text
			case mcp.BlobResourceContents:
				text = fmt.Sprintf("Binary resource: %s (%s)", resource.URI, resource.MIMEType)
			}
			out.Content = append(out.Content, &autopilot.ToolResultContent{
				Type: autopilot.ToolResultContentTypeText,
				Text: text,
			})
		}
	}
	return out
}
