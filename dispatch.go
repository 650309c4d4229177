package autopilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// toolOutcome is the result of one tool call as the engine records it.
type toolOutcome struct {
	// output is the step payload: {"data": ...} or {"error": "..."}.
	output json.RawMessage
	// text is what the model sees.
	text    string
	isError bool
	fatal   error
}

func errorOutcome(message string) toolOutcome {
	output, _ := json.Marshal(map[string]string{"error": message})
	return toolOutcome{output: output, text: message, isError: true}
}

func dataOutcome(text string) toolOutcome {
	var data json.RawMessage
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) > 0 && json.Valid(trimmed) {
		data = trimmed
	} else {
		data, _ = json.Marshal(text)
	}
	output, _ := json.Marshal(map[string]json.RawMessage{"data": data})
	return toolOutcome{output: output, text: text}
}

// checkCall reports whether a tool call may run. When it may not, the
// returned outcome carries the error the model sees.
func checkCall(tool Tool, name string, input json.RawMessage) (toolOutcome, bool) {
	if tool == nil {
		return errorOutcome(fmt.Sprintf("tool %q is not available to this agent", name)), false
	}
	if err := ValidateToolInput(name, tool.Schema(), input); err != nil {
		return errorOutcome(err.Error()), false
	}
	return toolOutcome{}, true
}

// dispatch invokes one checked tool call. Only errors marked with Fatal end
// the run; everything else is reported back to the model.
func (r *run) dispatch(ctx context.Context, tool Tool, name string, input json.RawMessage, memory *memoryScope) toolOutcome {

	ctx, span := r.engine.tracer.Start(ctx, "autopilot.tool", trace.WithAttributes(
		attribute.String("autopilot.tool", name),
	))
	defer span.End()

	ctx = withToolScope(ctx, &toolScope{channel: r, toolName: name, memory: memory})
	result, err := callTool(ctx, tool, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			fatal := &ToolError{Tool: name, Err: toolErr.Err}
			r.logger.Error("fatal tool error", "tool", name, "error", toolErr.Err)
			return toolOutcome{
				output:  errorOutcome(fatal.Error()).output,
				text:    fatal.Error(),
				isError: true,
				fatal:   fatal,
			}
		}
		r.logger.Warn("tool call failed", "tool", name, "error", err)
		return errorOutcome(err.Error())
	}
	if result == nil {
		return dataOutcome("")
	}
	if result.IsError {
		return errorOutcome(result.Text())
	}
	return dataOutcome(result.Text())
}

func callTool(ctx context.Context, tool Tool, input json.RawMessage) (result *ToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool panicked: %v", p)
		}
	}()
	return tool.Call(ctx, input)
}
