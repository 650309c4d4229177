package autopilot

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ValidateInput checks raw caller input against the definition's input
// fields and returns the normalized input. Defaults fill absent optional
// fields, numeric and boolean strings are converted, and unknown keys are
// rejected. Failures are returned as a *ValidationError and must be reported
// to the caller before any run starts.
func ValidateInput(def *Definition, raw map[string]any) (map[string]any, error) {
	var fieldErrors []FieldError
	fail := func(field, format string, args ...any) {
		fieldErrors = append(fieldErrors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	known := make(map[string]bool, len(def.InputFields))
	out := make(map[string]any, len(def.InputFields))
	for _, field := range def.InputFields {
		known[field.Key] = true
		value, present := raw[field.Key]
		if present && isBlank(value) {
			present = false
		}
		if !present {
			if field.Default != nil {
				out[field.Key] = field.Default
				continue
			}
			if field.Required {
				fail(field.Key, "is required")
			}
			continue
		}
		normalized, err := normalizeInput(field, value)
		if err != nil {
			fail(field.Key, "%v", err)
			continue
		}
		out[field.Key] = normalized
	}

	var unknown []string
	for key := range raw {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	slices.Sort(unknown)
	for _, key := range unknown {
		fail(key, "is not an input of definition %s", def.ID)
	}

	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}
	return out, nil
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	}
	return false
}

func normalizeInput(field InputField, value any) (any, error) {
	switch field.Type {
	case "", InputString, InputText:
		switch v := value.(type) {
		case string:
			return v, nil
		case bool, int, int64, float64:
			return fmt.Sprint(v), nil
		}
		return nil, fmt.Errorf("must be a string, got %T", value)
	case InputNumber:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("must be a number, got %q", v)
			}
			return f, nil
		}
		return nil, fmt.Errorf("must be a number, got %T", value)
	case InputBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("must be a boolean, got %q", v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("must be a boolean, got %T", value)
	case InputSelect:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("must be one of %s", strings.Join(field.Options, ", "))
		}
		if !slices.Contains(field.Options, s) {
			return nil, fmt.Errorf("must be one of %s, got %q", strings.Join(field.Options, ", "), s)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported field type %q", field.Type)
}
