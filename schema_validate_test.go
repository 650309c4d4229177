package autopilot

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"
)

var searchSchema = &Schema{
	Type:     Object,
	Required: []string{"query"},
	Properties: map[string]*SchemaProperty{
		"query": {Type: String, Description: "Search query"},
		"limit": {Type: Integer},
		"mode":  {Type: String, Enum: []any{"fast", "thorough"}},
		"tags":  {Type: Array, Items: &SchemaProperty{Type: String}},
		"filter": {
			Type:     Object,
			Required: []string{"field"},
			Properties: map[string]*SchemaProperty{
				"field": {Type: String},
			},
		},
	},
}

func TestValidateToolInputAccepts(t *testing.T) {
	input := json.RawMessage(`{"query":"acme","limit":5,"mode":"fast","tags":["a"],"filter":{"field":"name"},"other":true}`)
	assert.NoError(t, ValidateToolInput("search", searchSchema, input))
}

func TestValidateToolInputRejects(t *testing.T) {
	input := json.RawMessage(`{"limit":2.5,"mode":"slow","tags":["a",3],"filter":{}}`)
	err := ValidateToolInput("search", searchSchema, input)
	assert.Error(t, err)

	var schemaErr *SchemaError
	assert.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "search", schemaErr.Tool)
	msg := err.Error()
	assert.Contains(t, msg, "query is required")
	assert.Contains(t, msg, "limit must be of type integer")
	assert.Contains(t, msg, "mode must be one of [fast, thorough]")
	assert.Contains(t, msg, "tags[1] must be of type string")
	assert.Contains(t, msg, "filter.field is required")
}

func TestValidateToolInputEmpty(t *testing.T) {
	noRequired := &Schema{Type: Object, Properties: map[string]*SchemaProperty{"q": {Type: String}}}
	assert.NoError(t, ValidateToolInput("t", noRequired, nil))
	assert.Error(t, ValidateToolInput("t", searchSchema, nil))
	assert.NoError(t, ValidateToolInput("t", nil, json.RawMessage(`{"anything":1}`)))
}

func TestValidateToolInputMalformed(t *testing.T) {
	err := ValidateToolInput("t", searchSchema, json.RawMessage(`{"query":`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")

	err = ValidateToolInput("t", searchSchema, json.RawMessage(`["query"]`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "input must be of type object")
}
