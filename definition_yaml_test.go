package autopilot

import (
	"errors"
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"
)

const escalationYAML = `
id: vip-escalation
name: VIP escalation
systemPrompt: Escalate tickets from VIP customers.
tools: [fetch]
constraints:
  maxSteps: 8
  maxExecutionTimeMs: 120000
trigger:
  type: event
  eventName: ticket.created
oversight:
  mode: review-before
  approvalTools: ["phone_*"]
conditions:
  - - property: priority
      operator: equals
      value: high
    - property: tags
      operator: contains
      value: [vip, enterprise]
`

func TestParseDefinitionFile(t *testing.T) {
	def, err := ParseDefinitionFile("defs/vip.yaml", []byte(escalationYAML))
	assert.NoError(t, err)
	assert.NoError(t, def.Validate())
	assert.Equal(t, "vip-escalation", def.ID)
	assert.Equal(t, TriggerEvent, def.Trigger.Type)
	assert.Equal(t, OversightReviewBefore, def.Oversight.Mode)
	assert.Len(t, def.Conditions, 1)
	assert.Len(t, def.Conditions[0], 2)
	assert.Equal(t, StringValue("high"), def.Conditions[0][0].Value)
	assert.Equal(t, ListValue("vip", "enterprise"), def.Conditions[0][1].Value)

	json := `{"id":"triage","name":"Triage","systemPrompt":"Sort.","constraints":{"maxSteps":1,"maxExecutionTimeMs":1000},"trigger":{"type":"manual"},"oversight":{"mode":"auto"}}`
	def, err = ParseDefinitionFile("triage.JSON", []byte(json))
	assert.NoError(t, err)
	assert.Equal(t, "triage", def.ID)

	_, err = ParseDefinitionFile("triage.toml", []byte(""))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file extension")
}

func TestParseDefinitionYAMLRejectsUnknownKeys(t *testing.T) {
	_, err := ParseDefinitionYAML([]byte("id: x\nsystemPromt: typo\n"))
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDefinition))

	_, err = ParseDefinitionJSON([]byte("{"))
	assert.True(t, errors.Is(err, ErrInvalidDefinition))
}

func TestMarshalDefinitionYAMLRoundTrip(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(escalationYAML))
	assert.NoError(t, err)

	data, err := MarshalDefinitionYAML(def)
	assert.NoError(t, err)
	again, err := ParseDefinitionYAML(data)
	assert.NoError(t, err)
	assert.Equal(t, def, again)
}
