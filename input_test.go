package autopilot

import (
	"errors"
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"
)

func inputDefinition() *Definition {
	return &Definition{
		ID: "research",
		InputFields: []InputField{
			{Key: "company", Label: "Company", Type: InputString, Required: true},
			{Key: "depth", Type: InputNumber, Default: float64(2)},
			{Key: "deep", Type: InputBoolean},
			{Key: "tone", Type: InputSelect, Options: []string{"formal", "casual"}},
			{Key: "notes", Type: InputText},
		},
	}
}

func TestValidateInput(t *testing.T) {
	input, err := ValidateInput(inputDefinition(), map[string]any{
		"company": "Acme",
		"deep":    "true",
		"tone":    "casual",
	})
	assert.NoError(t, err)
	assert.Equal(t, "Acme", input["company"])
	assert.Equal(t, float64(2), input["depth"])
	assert.Equal(t, true, input["deep"])
	assert.Equal(t, "casual", input["tone"])
	_, hasNotes := input["notes"]
	assert.False(t, hasNotes)
}

func TestValidateInputCoercesNumbers(t *testing.T) {
	input, err := ValidateInput(inputDefinition(), map[string]any{"company": "Acme", "depth": "4.5"})
	assert.NoError(t, err)
	assert.Equal(t, 4.5, input["depth"])

	input, err = ValidateInput(inputDefinition(), map[string]any{"company": "Acme", "depth": 3})
	assert.NoError(t, err)
	assert.Equal(t, float64(3), input["depth"])
}

func TestValidateInputReportsEveryField(t *testing.T) {
	_, err := ValidateInput(inputDefinition(), map[string]any{
		"company": "  ",
		"depth":   "deep",
		"tone":    "angry",
		"extra":   1,
	})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	var validation *ValidationError
	assert.True(t, errors.As(err, &validation))
	fields := map[string]string{}
	for _, f := range validation.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "is required", fields["company"])
	assert.Contains(t, fields["depth"], "must be a number")
	assert.Contains(t, fields["tone"], "must be one of formal, casual")
	assert.Contains(t, fields["extra"], "is not an input")
}

func TestValidateInputEmptyDefinition(t *testing.T) {
	input, err := ValidateInput(&Definition{ID: "empty"}, nil)
	assert.NoError(t, err)
	assert.Len(t, input, 0)
}
