package autopilot

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Value is either a single string or a set of strings. It is used both for
// condition operands and for the properties a condition is evaluated against.
type Value struct {
	values []string
	list   bool
}

// StringValue returns a scalar Value.
func StringValue(s string) Value {
	return Value{values: []string{s}}
}

// ListValue returns a set Value.
func ListValue(values ...string) Value {
	return Value{values: append([]string{}, values...), list: true}
}

// IsList reports whether the value holds a set of strings.
func (v Value) IsList() bool { return v.list }

// IsZero reports whether the value was never set.
func (v Value) IsZero() bool { return !v.list && len(v.values) == 0 }

// Strings returns the value as a slice. A scalar yields one element.
func (v Value) Strings() []string {
	return append([]string{}, v.values...)
}

// String returns the scalar value, or the set joined with commas.
func (v Value) String() string {
	if !v.list && len(v.values) == 1 {
		return v.values[0]
	}
	return strings.Join(v.values, ",")
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.list {
		return json.Marshal(v.values)
	}
	if len(v.values) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(v.values[0])
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := valueFromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	if v.list {
		return v.values, nil
	}
	if len(v.values) == 0 {
		return nil, nil
	}
	return v.values[0], nil
}

func (v *Value) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := valueFromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ValueOf converts a string, a string slice or a slice of scalars into a Value.
func ValueOf(raw any) (Value, error) {
	return valueFromAny(raw)
}

func valueFromAny(raw any) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Value{}, nil
	case string:
		return StringValue(val), nil
	case []string:
		return ListValue(val...), nil
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			switch item.(type) {
			case map[string]any, []any:
				return Value{}, fmt.Errorf("value list items must be scalars, got %T", item)
			}
			items = append(items, fmt.Sprint(item))
		}
		return ListValue(items...), nil
	case bool, int, int64, uint64, float64:
		return StringValue(fmt.Sprint(val)), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// Properties is the context a definition's conditions are evaluated against.
type Properties map[string]Value

// PropertiesFrom converts a loosely typed map into Properties. Entries that
// cannot be represented as a string or set of strings are skipped.
func PropertiesFrom(m map[string]any) Properties {
	props := make(Properties, len(m))
	for k, raw := range m {
		v, err := valueFromAny(raw)
		if err != nil || v.IsZero() {
			continue
		}
		props[k] = v
	}
	return props
}
