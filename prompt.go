package autopilot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// BuildSystemPrompt layers the definition's system prompt, the tenant prompt
// and any recalled memory into the prompt sent with every model call.
func BuildSystemPrompt(def *Definition, ec ExecutionContext, memory *Memory) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(def.SystemPrompt))
	if orgPrompt := strings.TrimSpace(ec.OrgPrompt); orgPrompt != "" {
		sb.WriteString("\n\n## Organization instructions\n\n")
		sb.WriteString(orgPrompt)
	}
	if memory != nil {
		data, err := json.MarshalIndent(memory.Memory, "", "  ")
		if err == nil {
			sb.WriteString("\n\n## Memory\n\n")
			fmt.Fprintf(&sb, "This agent has run %d time(s) for this subject, last at %s. ",
				memory.RunCount, memory.LastRunAt.UTC().Format("2006-01-02 15:04 MST"))
			fmt.Fprintf(&sb, "Call %s with the complete updated memory to change it.\n\n", SaveMemoryToolName)
			sb.Write(data)
		}
	}
	return sb.String()
}

// BuildInputMessage renders validated input as the first user message. Keys
// follow the definition's input field order; keys not declared there follow
// in sorted order.
func BuildInputMessage(def *Definition, input map[string]any) string {
	if len(input) == 0 {
		return "Begin."
	}
	var lines []string
	seen := map[string]bool{}
	for _, field := range def.InputFields {
		value, ok := input[field.Key]
		if !ok {
			continue
		}
		seen[field.Key] = true
		label := field.Label
		if label == "" {
			label = field.Key
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, formatInputValue(value)))
	}
	var rest []string
	for key := range input {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		lines = append(lines, fmt.Sprintf("%s: %s", key, formatInputValue(input[key])))
	}
	return strings.Join(lines, "\n")
}

func formatInputValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
