package autopilot

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDefinition is returned when a definition fails validation.
	ErrInvalidDefinition = errors.New("invalid definition")

	// ErrInvalidInput is returned when caller input does not satisfy a
	// definition's input fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownTool is returned when a definition names a tool that is not
	// registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidExecutionID is returned for execution ids that cannot be used
	// as a storage key.
	ErrInvalidExecutionID = errors.New("invalid execution id")

	// ErrTerminal is returned when writing to an execution that already
	// reached a terminal status.
	ErrTerminal = errors.New("execution is terminal")

	// ErrNoResponse is returned when a model call yields neither a response
	// nor an error.
	ErrNoResponse = errors.New("model did not return a response")

	// ErrStepOutOfOrder is returned when a step index does not extend the
	// execution's step list by exactly one.
	ErrStepOutOfOrder = errors.New("step out of order")
)

// ConfigError describes a definition that cannot run with the current
// configuration, such as a tool allow-list entry that is not registered.
type ConfigError struct {
	Reason       string
	UnknownTools []string
}

func (e *ConfigError) Error() string {
	if len(e.UnknownTools) > 0 {
		return fmt.Sprintf("configuration error: unknown tools: %s", strings.Join(e.UnknownTools, ", "))
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigError) Unwrap() error {
	if len(e.UnknownTools) > 0 {
		return ErrUnknownTool
	}
	return ErrInvalidDefinition
}

// FieldError is a single input field violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects the field violations found in caller input.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ToolError is returned by a tool to declare a failure the run cannot
// recover from. Any other error returned by a tool is reported back to the
// model as a tool result.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("fatal tool error: %v", e.Err)
	}
	return fmt.Sprintf("fatal tool error in %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Fatal marks err as non-recoverable. Return it from Tool.Call to fail the run.
func Fatal(err error) error {
	return &ToolError{Err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr)
}
