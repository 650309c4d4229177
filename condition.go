package autopilot

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Operator is a condition comparison. The set is closed.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpContains  Operator = "contains"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
)

// Valid reports whether the operator is one of the supported comparisons.
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpIn, OpNotIn:
		return true
	}
	return false
}

// Condition compares one context property with a value.
type Condition struct {
	Property string   `yaml:"property" json:"property"`
	Operator Operator `yaml:"operator" json:"operator"`
	Value    Value    `yaml:"value" json:"value"`
}

// ConditionGroup is a set of conditions that must all hold.
type ConditionGroup []Condition

var errEmptyGroup = errors.New("condition group must contain at least one condition")

// Validate reports structural problems with the group. An empty group is
// invalid.
func (g ConditionGroup) Validate() error {
	if len(g) == 0 {
		return errEmptyGroup
	}
	for i, c := range g {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// Validate reports structural problems with the condition.
func (c Condition) Validate() error {
	if strings.TrimSpace(c.Property) == "" {
		return errors.New("property is required")
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}
	if c.Value.IsZero() {
		return errors.New("value is required")
	}
	switch c.Operator {
	case OpEquals, OpNotEquals, OpContains:
		if c.Value.IsList() {
			return fmt.Errorf("operator %s takes a single value", c.Operator)
		}
	}
	return nil
}

// Matches reports whether a definition with the given conditions should fire
// for props. No conditions means the definition always matches. Otherwise at
// least one group must match, and a group matches when all of its conditions
// hold. Matches is pure and safe for concurrent use.
func Matches(conditions []ConditionGroup, props Properties) bool {
	if len(conditions) == 0 {
		return true
	}
	for _, group := range conditions {
		if group.Matches(props) {
			return true
		}
	}
	return false
}

// Matches reports whether every condition in the group holds. An empty group
// never matches.
func (g ConditionGroup) Matches(props Properties) bool {
	if len(g) == 0 {
		return false
	}
	for _, c := range g {
		if !c.Matches(props) {
			return false
		}
	}
	return true
}

// Matches evaluates the condition. A property missing from props makes the
// condition false regardless of the operator. When the property holds a set,
// equals, contains and in hold if any element satisfies them, and not_equals
// and not_in hold if no element matches.
func (c Condition) Matches(props Properties) bool {
	actual, ok := props[c.Property]
	if !ok || actual.IsZero() {
		return false
	}
	elements := actual.Strings()
	switch c.Operator {
	case OpEquals:
		return slices.Contains(elements, c.Value.String())
	case OpNotEquals:
		return !slices.Contains(elements, c.Value.String())
	case OpContains:
		needle := c.Value.String()
		for _, e := range elements {
			if strings.Contains(e, needle) {
				return true
			}
		}
		return false
	case OpIn:
		set := c.Value.Strings()
		for _, e := range elements {
			if slices.Contains(set, e) {
				return true
			}
		}
		return false
	case OpNotIn:
		set := c.Value.Strings()
		for _, e := range elements {
			if slices.Contains(set, e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SelectDefinitions returns the event-triggered definitions that listen for
// eventName and whose conditions match props, in input order. Callers run
// the returned definitions; the engine does not schedule triggers itself.
func SelectDefinitions(definitions []*Definition, eventName string, props Properties) []*Definition {
	var selected []*Definition
	for _, d := range definitions {
		if d.Trigger.Type != TriggerEvent || d.Trigger.EventName != eventName {
			continue
		}
		if Matches(d.Conditions, props) {
			selected = append(selected, d)
		}
	}
	return selected
}
