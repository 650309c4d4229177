package autopilot

import (
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// TriggerType indicates how a definition is started.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
)

// OversightMode controls whether a run acts autonomously, stops for review
// before sensitive actions, or notifies after acting.
type OversightMode string

const (
	OversightAuto         OversightMode = "auto"
	OversightReviewBefore OversightMode = "review-before"
	OversightNotifyAfter  OversightMode = "notify-after"
)

// InputFieldType is the expected type of an input field value.
type InputFieldType string

const (
	InputString  InputFieldType = "string"
	InputText    InputFieldType = "text"
	InputNumber  InputFieldType = "number"
	InputBoolean InputFieldType = "boolean"
	InputSelect  InputFieldType = "select"
)

// InputField describes one value a caller supplies when starting a run.
type InputField struct {
	Key         string         `yaml:"key" json:"key"`
	Label       string         `yaml:"label,omitempty" json:"label,omitempty"`
	Type        InputFieldType `yaml:"type,omitempty" json:"type,omitempty"`
	Required    bool           `yaml:"required,omitempty" json:"required,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Default     any            `yaml:"default,omitempty" json:"default,omitempty"`
	Options     []string       `yaml:"options,omitempty" json:"options,omitempty"`
}

// Constraints bound the work a single run may do.
type Constraints struct {
	MaxSteps           int   `yaml:"maxSteps" json:"maxSteps"`
	MaxExecutionTimeMs int64 `yaml:"maxExecutionTimeMs" json:"maxExecutionTimeMs"`
}

// MaxExecutionTime returns MaxExecutionTimeMs as a duration.
func (c Constraints) MaxExecutionTime() time.Duration {
	return time.Duration(c.MaxExecutionTimeMs) * time.Millisecond
}

// Trigger describes when a definition fires. Cron and Timezone apply to
// schedule triggers, EventName to event triggers.
type Trigger struct {
	Type      TriggerType `yaml:"type" json:"type"`
	Cron      string      `yaml:"cron,omitempty" json:"cron,omitempty"`
	Timezone  string      `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	EventName string      `yaml:"eventName,omitempty" json:"eventName,omitempty"`
}

// Oversight is the human oversight policy of a definition. ApprovalTools
// holds glob patterns of tool names that need approval in review-before mode,
// in addition to tools whose annotations require approval.
type Oversight struct {
	Mode          OversightMode `yaml:"mode" json:"mode"`
	ApprovalTools []string      `yaml:"approvalTools,omitempty" json:"approvalTools,omitempty"`
}

// RequiresApproval reports whether calling the named tool must stop the run
// for review.
func (o Oversight) RequiresApproval(toolName string, annotations *ToolAnnotations) bool {
	return o.policy().requires(toolName, annotations)
}

// approvalPolicy is an Oversight with its patterns compiled. Patterns that do
// not compile are skipped; Validate rejects them.
type approvalPolicy struct {
	review bool
	globs  []glob.Glob
}

func (o Oversight) policy() approvalPolicy {
	p := approvalPolicy{review: o.Mode == OversightReviewBefore}
	if !p.review {
		return p
	}
	for _, pattern := range o.ApprovalTools {
		if g, err := glob.Compile(pattern); err == nil {
			p.globs = append(p.globs, g)
		}
	}
	return p
}

func (p approvalPolicy) requires(toolName string, annotations *ToolAnnotations) bool {
	if !p.review {
		return false
	}
	if annotations != nil && annotations.RequiresApproval {
		return true
	}
	for _, g := range p.globs {
		if g.Match(toolName) {
			return true
		}
	}
	return false
}

// Definition is the declarative description of one agent or skill. A run
// pins a copy of the definition taken when it starts.
type Definition struct {
	ID           string           `yaml:"id" json:"id"`
	Version      int              `yaml:"version,omitempty" json:"version,omitempty"`
	Name         string           `yaml:"name" json:"name"`
	Description  string           `yaml:"description,omitempty" json:"description,omitempty"`
	SystemPrompt string           `yaml:"systemPrompt" json:"systemPrompt"`
	Tools        []string         `yaml:"tools,omitempty" json:"tools,omitempty"`
	InputFields  []InputField     `yaml:"inputFields,omitempty" json:"inputFields,omitempty"`
	Constraints  Constraints      `yaml:"constraints" json:"constraints"`
	Trigger      Trigger          `yaml:"trigger" json:"trigger"`
	Oversight    Oversight        `yaml:"oversight" json:"oversight"`
	Conditions   []ConditionGroup `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	UpdatedAt    time.Time        `yaml:"updatedAt,omitempty" json:"updatedAt,omitzero"`
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	c := *d
	c.Tools = cloneStrings(d.Tools)
	if d.InputFields != nil {
		c.InputFields = make([]InputField, len(d.InputFields))
		for i, f := range d.InputFields {
			f.Options = cloneStrings(f.Options)
			c.InputFields[i] = f
		}
	}
	c.Oversight.ApprovalTools = cloneStrings(d.Oversight.ApprovalTools)
	if d.Conditions != nil {
		c.Conditions = make([]ConditionGroup, len(d.Conditions))
		for i, g := range d.Conditions {
			c.Conditions[i] = append(ConditionGroup(nil), g...)
		}
	}
	return &c
}

// Validate checks the definition for structural problems. The returned error
// wraps ErrInvalidDefinition and lists every problem found.
func (d *Definition) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(d.ID) == "" {
		add("id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		add("name is required")
	}
	seenTools := map[string]bool{}
	for _, name := range d.Tools {
		if name == "" {
			add("tool names must not be empty")
			continue
		}
		if seenTools[name] {
			add("tool %q is listed more than once", name)
		}
		seenTools[name] = true
	}
	seenInputs := map[string]bool{}
	for i, field := range d.InputFields {
		if field.Key == "" {
			add("inputFields[%d]: key is required", i)
			continue
		}
		if seenInputs[field.Key] {
			add("inputFields[%d]: duplicate key %q", i, field.Key)
		}
		seenInputs[field.Key] = true
		switch field.Type {
		case "", InputString, InputText, InputNumber, InputBoolean:
		case InputSelect:
			if len(field.Options) == 0 {
				add("inputFields[%d]: select field %q needs options", i, field.Key)
			}
		default:
			add("inputFields[%d]: unknown type %q", i, field.Type)
		}
	}
	if d.Constraints.MaxSteps <= 0 {
		add("constraints.maxSteps must be positive")
	}
	if d.Constraints.MaxExecutionTimeMs <= 0 {
		add("constraints.maxExecutionTimeMs must be positive")
	}
	switch d.Trigger.Type {
	case TriggerManual:
	case TriggerSchedule:
		if d.Trigger.Cron == "" {
			add("trigger.cron is required for schedule triggers")
		}
		if d.Trigger.Timezone != "" {
			if _, err := time.LoadLocation(d.Trigger.Timezone); err != nil {
				add("trigger.timezone %q is not a known location", d.Trigger.Timezone)
			}
		}
	case TriggerEvent:
		if d.Trigger.EventName == "" {
			add("trigger.eventName is required for event triggers")
		}
	default:
		add("trigger.type %q is not one of manual, schedule, event", d.Trigger.Type)
	}
	switch d.Oversight.Mode {
	case OversightAuto, OversightReviewBefore, OversightNotifyAfter:
	default:
		add("oversight.mode %q is not one of auto, review-before, notify-after", d.Oversight.Mode)
	}
	for _, pattern := range d.Oversight.ApprovalTools {
		if _, err := glob.Compile(pattern); err != nil {
			add("oversight.approvalTools: invalid pattern %q", pattern)
		}
	}
	for i, group := range d.Conditions {
		if err := group.Validate(); err != nil {
			add("conditions[%d]: %v", i, err)
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(problems, "; "))
	}
	return nil
}

// MergeDefinition applies a partial update to an existing definition. Fields
// left at their zero value in update keep the existing value. A non-nil empty
// Conditions slice clears the conditions.
func MergeDefinition(existing, update *Definition) *Definition {
	if existing == nil {
		return update.Clone()
	}
	merged := existing.Clone()
	u := update.Clone()
	if u.Name != "" {
		merged.Name = u.Name
	}
	if u.Description != "" {
		merged.Description = u.Description
	}
	if u.SystemPrompt != "" {
		merged.SystemPrompt = u.SystemPrompt
	}
	if u.Tools != nil {
		merged.Tools = u.Tools
	}
	if u.InputFields != nil {
		merged.InputFields = u.InputFields
	}
	if u.Constraints.MaxSteps != 0 {
		merged.Constraints.MaxSteps = u.Constraints.MaxSteps
	}
	if u.Constraints.MaxExecutionTimeMs != 0 {
		merged.Constraints.MaxExecutionTimeMs = u.Constraints.MaxExecutionTimeMs
	}
	if u.Trigger.Type != "" {
		merged.Trigger = u.Trigger
	}
	if u.Oversight.Mode != "" {
		merged.Oversight = u.Oversight
	}
	if update.Conditions != nil {
		merged.Conditions = u.Conditions
	}
	return merged
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}
