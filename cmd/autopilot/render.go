package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/internal/tablewriter"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/pmezard/go-difflib/difflib"
)

var (
	headerStyle  = color.New(color.FgCyan, color.Bold)
	successStyle = color.New(color.FgGreen)
	errorStyle   = color.New(color.FgRed, color.Bold)
	warningStyle = color.New(color.FgYellow, color.Bold)
	toolStyle    = color.New(color.FgMagenta, color.Bold)
	mutedStyle   = color.New(color.FgHiBlack)
)

const (
	arrow     = "→"
	checkmark = "✓"
	xmark     = "✗"
	bullet    = "•"

	// previewWidth caps tool input and output shown inline.
	previewWidth = 120
)

// parseAssignments turns key=value pairs into a map. A key given more than
// once collects its values in order.
func parseAssignments(pairs []string) (map[string][]string, error) {
	values := map[string][]string{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q (want key=value)", pair)
		}
		values[key] = append(values[key], value)
	}
	return values, nil
}

// parseInput builds run input from --input flags. Repeated keys become lists.
func parseInput(pairs []string) (map[string]any, error) {
	values, err := parseAssignments(pairs)
	if err != nil {
		return nil, err
	}
	input := make(map[string]any, len(values))
	for key, vs := range values {
		if len(vs) == 1 {
			input[key] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		input[key] = list
	}
	return input, nil
}

// parseProperties builds event properties from --prop flags. Repeated keys
// become list values.
func parseProperties(pairs []string) (autopilot.Properties, error) {
	values, err := parseAssignments(pairs)
	if err != nil {
		return nil, err
	}
	props := make(autopilot.Properties, len(values))
	for key, vs := range values {
		if len(vs) == 1 {
			props[key] = autopilot.StringValue(vs[0])
		} else {
			props[key] = autopilot.ListValue(vs...)
		}
	}
	return props, nil
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, previewWidth, "...")
}

func printStep(w io.Writer, step autopilot.Step) {
	switch step.Type {
	case autopilot.StepText:
		fmt.Fprintf(w, "%s\n", strings.TrimSpace(step.Text))
	case autopilot.StepToolCall:
		fmt.Fprintf(w, "%s %s %s\n", toolStyle.Sprint(arrow), toolStyle.Sprint(step.ToolName), mutedStyle.Sprint(preview(string(step.Input))))
	case autopilot.StepToolResult:
		mark := successStyle.Sprint(checkmark)
		if step.IsError {
			mark = errorStyle.Sprint(xmark)
		}
		fmt.Fprintf(w, "  %s %s\n", mark, mutedStyle.Sprint(preview(string(step.Output))))
	case autopilot.StepBrowserAction:
		fmt.Fprintf(w, "  %s %s %s\n", mutedStyle.Sprint(bullet), step.ToolName, mutedStyle.Sprint(preview(string(step.Input))))
	}
}

func statusText(status autopilot.Status) string {
	switch status {
	case autopilot.StatusCompleted:
		return successStyle.Sprint(status)
	case autopilot.StatusFailed:
		return errorStyle.Sprint(status)
	case autopilot.StatusEscalated:
		return warningStyle.Sprint(status)
	}
	return string(status)
}

func printResult(w io.Writer, result *autopilot.ExecutionResult) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", headerStyle.Sprint("Status:"), statusText(result.Status))
	if result.Summary != "" {
		fmt.Fprintf(w, "%s %s\n", headerStyle.Sprint("Summary:"), result.Summary)
	}
	if result.Error != "" {
		fmt.Fprintf(w, "%s %s\n", headerStyle.Sprint("Error:"), result.Error)
	}
	fmt.Fprintln(w, mutedStyle.Sprintf("%s %s %d steps, %d tokens, %s",
		result.ExecutionID, bullet, len(result.Steps), result.Usage.TotalTokens,
		(time.Duration(result.DurationMs) * time.Millisecond).Round(time.Millisecond)))
}

func newTable(w io.Writer, header ...string) *tablewriter.Writer {
	t := tablewriter.NewWriter(w)
	t.SetHeaderStyle(func(line string) string { return headerStyle.Sprint(line) })
	t.SetMaxCellWidth(previewWidth)
	t.SetHeader(header...)
	return t
}

// definitionDiff returns a unified diff between the stored and proposed
// definitions, rendered as YAML. Version and timestamp are ignored since the
// store assigns them. An empty string means no change.
func definitionDiff(stored, proposed *autopilot.Definition) (string, error) {
	var a, b []string
	from := "/dev/null"
	if stored != nil {
		text, err := diffableYAML(stored)
		if err != nil {
			return "", err
		}
		a = difflib.SplitLines(text)
		from = fmt.Sprintf("%s (version %d)", stored.ID, stored.Version)
	}
	text, err := diffableYAML(proposed)
	if err != nil {
		return "", err
	}
	b = difflib.SplitLines(text)
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: from,
		ToFile:   proposed.ID,
		Context:  3,
	})
}

func diffableYAML(def *autopilot.Definition) (string, error) {
	c := def.Clone()
	c.Version = 0
	c.UpdatedAt = time.Time{}
	data, err := autopilot.MarshalDefinitionYAML(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
