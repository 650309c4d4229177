package autopilot

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"
	"github.com/goccy/go-yaml"
)

func validDefinition() *Definition {
	return &Definition{
		ID:           "lead-followup",
		Name:         "Lead follow-up",
		SystemPrompt: "You follow up with new leads.",
		Tools:        []string{"fetch", "save_memory"},
		InputFields: []InputField{
			{Key: "company", Label: "Company", Type: InputString, Required: true},
		},
		Constraints: Constraints{MaxSteps: 10, MaxExecutionTimeMs: 60000},
		Trigger:     Trigger{Type: TriggerManual},
		Oversight:   Oversight{Mode: OversightAuto},
	}
}

func TestDefinitionValidate(t *testing.T) {
	assert.NoError(t, validDefinition().Validate())

	def := validDefinition()
	def.ID = ""
	def.Constraints.MaxSteps = 0
	def.Trigger = Trigger{Type: TriggerSchedule}
	def.Oversight.Mode = "sometimes"
	def.Tools = []string{"fetch", "fetch"}
	err := def.Validate()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDefinition))
	assert.Contains(t, err.Error(), "id is required")
	assert.Contains(t, err.Error(), "maxSteps must be positive")
	assert.Contains(t, err.Error(), "trigger.cron is required")
	assert.Contains(t, err.Error(), "oversight.mode")
	assert.Contains(t, err.Error(), `tool "fetch" is listed more than once`)
}

func TestDefinitionValidateEventAndConditions(t *testing.T) {
	def := validDefinition()
	def.Trigger = Trigger{Type: TriggerEvent}
	def.Conditions = []ConditionGroup{{}}
	err := def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "trigger.eventName is required")
	assert.Contains(t, err.Error(), "conditions[0]")
}

func TestDefinitionValidateInputFields(t *testing.T) {
	def := validDefinition()
	def.InputFields = []InputField{
		{Key: "plan", Type: InputSelect},
		{Key: "plan", Type: InputString},
		{Key: "size", Type: "huge"},
	}
	err := def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "needs options")
	assert.Contains(t, err.Error(), `duplicate key "plan"`)
	assert.Contains(t, err.Error(), `unknown type "huge"`)
}

func TestDefinitionClone(t *testing.T) {
	def := validDefinition()
	def.Conditions = []ConditionGroup{{{Property: "market", Operator: OpEquals, Value: StringValue("US")}}}
	cp := def.Clone()
	cp.Tools[0] = "changed"
	cp.InputFields[0].Key = "changed"
	cp.Conditions[0][0].Property = "changed"
	assert.Equal(t, "fetch", def.Tools[0])
	assert.Equal(t, "company", def.InputFields[0].Key)
	assert.Equal(t, "market", def.Conditions[0][0].Property)
}

func TestMergeDefinition(t *testing.T) {
	existing := validDefinition()
	existing.Conditions = []ConditionGroup{{{Property: "market", Operator: OpEquals, Value: StringValue("US")}}}

	merged := MergeDefinition(existing, &Definition{
		ID:          existing.ID,
		Description: "Now with a description",
		Constraints: Constraints{MaxSteps: 3},
	})
	assert.Equal(t, "Lead follow-up", merged.Name)
	assert.Equal(t, "Now with a description", merged.Description)
	assert.Equal(t, 3, merged.Constraints.MaxSteps)
	assert.Equal(t, int64(60000), merged.Constraints.MaxExecutionTimeMs)
	assert.Len(t, merged.Conditions, 1)

	cleared := MergeDefinition(existing, &Definition{ID: existing.ID, Conditions: []ConditionGroup{}})
	assert.Len(t, cleared.Conditions, 0)
}

func TestOversightRequiresApproval(t *testing.T) {
	review := Oversight{Mode: OversightReviewBefore, ApprovalTools: []string{"send_*", "crm.update"}}
	assert.True(t, review.RequiresApproval("send_email", nil))
	assert.True(t, review.RequiresApproval("crm.update", nil))
	assert.False(t, review.RequiresApproval("fetch", nil))
	assert.True(t, review.RequiresApproval("fetch", &ToolAnnotations{RequiresApproval: true}))

	auto := Oversight{Mode: OversightAuto, ApprovalTools: []string{"*"}}
	assert.False(t, auto.RequiresApproval("send_email", &ToolAnnotations{RequiresApproval: true}))
}

func TestApprovalPolicyCompilesOnce(t *testing.T) {
	p := Oversight{Mode: OversightReviewBefore, ApprovalTools: []string{"send_*", "[", "crm.*"}}.policy()
	assert.Len(t, p.globs, 2)
	assert.True(t, p.requires("send_sms", nil))
	assert.True(t, p.requires("crm.update", nil))
	assert.False(t, p.requires("fetch", nil))

	auto := Oversight{Mode: OversightNotifyAfter, ApprovalTools: []string{"*"}}.policy()
	assert.Len(t, auto.globs, 0)
	assert.False(t, auto.requires("send_sms", &ToolAnnotations{RequiresApproval: true}))
}

func TestDefinitionYAML(t *testing.T) {
	doc := `
id: us-welcome
name: US welcome
systemPrompt: Greet new customers.
tools: [fetch]
constraints:
  maxSteps: 5
  maxExecutionTimeMs: 30000
trigger:
  type: event
  eventName: user.signup
oversight:
  mode: review-before
  approvalTools: ["send_*"]
conditions:
  - - property: market
      operator: equals
      value: US
    - property: plan
      operator: in
      value: [pro, team]
`
	var def Definition
	assert.NoError(t, yaml.Unmarshal([]byte(doc), &def))
	assert.NoError(t, def.Validate())
	assert.Equal(t, TriggerEvent, def.Trigger.Type)
	assert.Len(t, def.Conditions, 1)
	assert.Len(t, def.Conditions[0], 2)
	assert.Equal(t, "US", def.Conditions[0][0].Value.String())
	assert.True(t, def.Conditions[0][1].Value.IsList())
	assert.Equal(t, []string{"pro", "team"}, def.Conditions[0][1].Value.Strings())
}

func TestDefinitionJSONRoundTripsConditions(t *testing.T) {
	def := validDefinition()
	def.Conditions = []ConditionGroup{{{Property: "plan", Operator: OpNotIn, Value: ListValue("free")}}}
	data, err := json.Marshal(def)
	assert.NoError(t, err)
	assert.Contains(t, string(data), `"value":["free"]`)

	var decoded Definition
	assert.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []string{"free"}, decoded.Conditions[0][0].Value.Strings())
	assert.True(t, decoded.Conditions[0][0].Value.IsList())
}
