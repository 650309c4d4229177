package autopilot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// SchemaError lists the ways a tool input violates the tool's schema.
type SchemaError struct {
	Tool     string
	Problems []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid input for tool %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// ValidateToolInput checks a model-provided tool input against the tool's
// schema. Only the subset of JSON Schema used by tool definitions is
// checked: types, required properties, enums, nested properties and array
// items. An empty input is treated as an empty object.
func ValidateToolInput(toolName string, s *Schema, input json.RawMessage) error {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}
	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return &SchemaError{Tool: toolName, Problems: []string{"input is not valid JSON: " + err.Error()}}
	}
	if s == nil {
		return nil
	}
	v := &schemaValidator{}
	rootType := string(s.Type)
	if rootType == "" {
		rootType = "object"
	}
	if v.checkType("input", rootType, value) {
		if obj, ok := value.(map[string]any); ok {
			v.checkObject("", s.Required, s.Properties, obj)
		}
	}
	if len(v.problems) > 0 {
		return &SchemaError{Tool: toolName, Problems: v.problems}
	}
	return nil
}

type schemaValidator struct {
	problems []string
}

func (v *schemaValidator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *schemaValidator) checkObject(prefix string, required []string, properties map[string]*SchemaProperty, obj map[string]any) {
	for _, name := range required {
		if val, ok := obj[name]; !ok || val == nil {
			v.addf("%s is required", joinPath(prefix, name))
		}
	}
	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop, ok := properties[name]
		if !ok || prop == nil {
			continue
		}
		v.checkProperty(joinPath(prefix, name), prop, obj[name])
	}
}

func (v *schemaValidator) checkProperty(path string, prop *SchemaProperty, value any) {
	if value == nil {
		if string(prop.Type) != "" && string(prop.Type) != "null" {
			v.addf("%s must not be null", path)
		}
		return
	}
	if !v.checkType(path, string(prop.Type), value) {
		return
	}
	if len(prop.Enum) > 0 {
		allowed := false
		options := make([]string, 0, len(prop.Enum))
		for _, e := range prop.Enum {
			option := any(e)
			options = append(options, fmt.Sprint(option))
			if enumEqual(option, value) {
				allowed = true
			}
		}
		if !allowed {
			v.addf("%s must be one of [%s]", path, strings.Join(options, ", "))
		}
	}
	switch val := value.(type) {
	case map[string]any:
		if len(prop.Properties) > 0 || len(prop.Required) > 0 {
			v.checkObject(path, prop.Required, prop.Properties, val)
		}
	case []any:
		if prop.Items != nil {
			for i, item := range val {
				v.checkProperty(fmt.Sprintf("%s[%d]", path, i), prop.Items, item)
			}
		}
	}
}

func (v *schemaValidator) checkType(path, typ string, value any) bool {
	ok := true
	switch typ {
	case "", "any":
	case "string":
		_, ok = value.(string)
	case "number":
		_, ok = value.(float64)
	case "integer":
		f, isNum := value.(float64)
		ok = isNum && f == math.Trunc(f)
	case "boolean":
		_, ok = value.(bool)
	case "array":
		_, ok = value.([]any)
	case "object":
		_, ok = value.(map[string]any)
	case "null":
		ok = value == nil
	}
	if !ok {
		v.addf("%s must be of type %s, got %s", path, typ, jsonTypeName(value))
	}
	return ok
}

func enumEqual(option, value any) bool {
	switch val := value.(type) {
	case float64:
		switch o := option.(type) {
		case float64:
			return o == val
		case int:
			return float64(o) == val
		case int64:
			return float64(o) == val
		}
		return fmt.Sprint(option) == fmt.Sprint(val)
	default:
		return fmt.Sprint(option) == fmt.Sprint(val)
	}
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", value)
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
