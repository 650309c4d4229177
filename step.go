package autopilot

import (
	"encoding/json"
	"time"
)

// StepType identifies the kind of progress a Step records.
type StepType string

const (
	StepText          StepType = "text"
	StepToolCall      StepType = "tool-call"
	StepToolResult    StepType = "tool-result"
	StepBrowserAction StepType = "browser-action"
)

// IsToolStep reports whether steps of this type carry a tool name.
func (t StepType) IsToolStep() bool {
	switch t {
	case StepToolCall, StepToolResult, StepBrowserAction:
		return true
	}
	return false
}

// Step is one unit of observable progress within a run. Steps are append-only
// and their indexes start at zero with no gaps.
type Step struct {
	Index      int             `json:"index"`
	Type       StepType        `json:"type"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Text       string          `json:"text,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	IsError    bool            `json:"isError,omitempty"`

	// Usage is set on the first step produced by a model call and holds the
	// tokens of that call.
	Usage *Usage `json:"usage,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Usage counts model tokens.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusEscalated Status = "escalated"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusEscalated:
		return true
	}
	return false
}

// ExecutionResult is the terminal summary of a run, produced exactly once.
type ExecutionResult struct {
	ExecutionID string `json:"executionId"`
	Status      Status `json:"status"`
	Summary     string `json:"summary"`

	// Error carries the diagnostic for failed runs. Configuration problems
	// are prefixed with "configuration error".
	Error string `json:"error,omitempty"`

	Steps      []Step `json:"steps"`
	Usage      Usage  `json:"usage"`
	DurationMs int64  `json:"durationMs"`
}

// ExecutionContext is the transient input of one run.
type ExecutionContext struct {
	Input map[string]any `json:"input"`
	OrgID string         `json:"orgId"`

	UserID string `json:"userId,omitempty"`

	// SubjectID keys cross-run memory. It defaults to UserID.
	SubjectID   string      `json:"subjectId,omitempty"`
	OrgPrompt   string      `json:"orgPrompt,omitempty"`
	TriggerType TriggerType `json:"triggerType,omitempty"`
}

func (c ExecutionContext) subject() string {
	if c.SubjectID != "" {
		return c.SubjectID
	}
	return c.UserID
}

// ExecutionRecord is the durable ledger entry of a run. It is created when the
// run starts, extended as steps arrive and finalized at the terminal state.
type ExecutionRecord struct {
	ID                string         `json:"id"`
	DefinitionID      string         `json:"definitionId"`
	DefinitionVersion int            `json:"definitionVersion"`
	Input             map[string]any `json:"input"`
	OrgID             string         `json:"orgId"`
	UserID            string         `json:"userId,omitempty"`
	SubjectID         string         `json:"subjectId,omitempty"`
	OrgPrompt         string         `json:"orgPrompt,omitempty"`
	TriggerType       TriggerType    `json:"triggerType,omitempty"`
	Status            Status         `json:"status"`
	Steps             []Step         `json:"steps"`
	Summary           string         `json:"summary,omitempty"`
	Error             string         `json:"error,omitempty"`
	Usage             Usage          `json:"usage"`
	DurationMs        int64          `json:"durationMs"`
	StartedAt         time.Time      `json:"startedAt"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
}

// Clone returns a copy of the record that shares no slices with r.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	c := *r
	c.Steps = append([]Step{}, r.Steps...)
	if r.Input != nil {
		c.Input = make(map[string]any, len(r.Input))
		for k, v := range r.Input {
			c.Input[k] = v
		}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ApplyResult copies the terminal fields of result onto the record. The
// result's steps replace the record's steps.
func (r *ExecutionRecord) ApplyResult(result *ExecutionResult, completedAt time.Time) {
	r.Status = result.Status
	r.Steps = append([]Step{}, result.Steps...)
	r.Summary = result.Summary
	r.Error = result.Error
	r.Usage = result.Usage
	r.DurationMs = result.DurationMs
	r.CompletedAt = &completedAt
}

// BrowserAction describes an action a browser tool performed.
type BrowserAction struct {
	Action   string `json:"action"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	Detail   string `json:"detail,omitempty"`
}
