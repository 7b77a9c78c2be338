package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practiq/automation/pkg/schema"
)

func findErrorPath(t *testing.T, result *schema.ValidationResult, path string) schema.ValidationIssue {
	t.Helper()
	for _, e := range result.Errors {
		if e.Path == path {
			return e
		}
	}
	t.Fatalf("no error at path %q, got %v", path, result.Errors)
	return schema.ValidationIssue{}
}

func TestSemantic_DuplicateStepKeys(t *testing.T) {
	def := validDef()
	def.Steps = append(def.Steps, &schema.WorkflowStep{Key: "notify", Kind: schema.StepKindEnd})
	result := validateSemantic(def)
	assert.False(t, result.Valid())
	findErrorPath(t, result, "steps[3].key")
}

func TestSemantic_MissingTriggerStep(t *testing.T) {
	def := validDef()
	def.Steps = def.Steps[1:]
	result := validateSemantic(def)
	assert.False(t, result.Valid())
}

func TestSemantic_DanglingNextStepKey(t *testing.T) {
	def := validDef()
	def.Steps[1].NextStepKey = "nowhere"
	result := validateSemantic(def)
	assert.False(t, result.Valid())
	issue := findErrorPath(t, result, "steps[1].next_step_key")
	assert.Contains(t, issue.Message, `"nowhere"`)
}

func TestSemantic_ScheduleCron(t *testing.T) {
	def := validDef()
	def.TriggerType = schema.TriggerSchedule

	// Missing cron.
	result := validateSemantic(def)
	assert.False(t, result.Valid())

	// Unparseable cron.
	def.TriggerConfig.Cron = "every tuesday"
	result = validateSemantic(def)
	assert.False(t, result.Valid())

	// Standard five-field cron.
	def.TriggerConfig.Cron = "0 9 * * MON"
	result = validateSemantic(def)
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
}

func TestSemantic_ReentryWaitDays(t *testing.T) {
	def := validDef()
	def.ReentryMode = schema.ReentryAfterWaitDays
	result := validateSemantic(def)
	assert.False(t, result.Valid())

	def.ReentryWaitDays = 7
	result = validateSemantic(def)
	assert.True(t, result.Valid())
}

func TestSemantic_StepConfigs(t *testing.T) {
	cases := []struct {
		name   string
		kind   schema.StepKind
		config string
		valid  bool
	}{
		{"email ok", schema.StepKindSendEmail, `{"recipient":"a@b.c","subject":"Hi"}`, true},
		{"email no recipient", schema.StepKindSendEmail, `{"subject":"Hi","body":"x"}`, false},
		{"email no content", schema.StepKindSendEmail, `{"recipient":"a@b.c"}`, false},
		{"sms ok", schema.StepKindSendSMS, `{"recipient_field":"phone","body":"Hi"}`, true},
		{"sms no body", schema.StepKindSendSMS, `{"recipient_field":"phone"}`, false},
		{"task ok", schema.StepKindCreateTask, `{"title":"Call back"}`, true},
		{"task no title", schema.StepKindCreateTask, `{"description":"x"}`, false},
		{"update ok", schema.StepKindUpdateField, `{"field":"status","value":"client"}`, true},
		{"update no value", schema.StepKindUpdateField, `{"field":"status"}`, false},
		{"update no field", schema.StepKindUpdateField, `{"value":"x"}`, false},
		{"wait days", schema.StepKindWait, `{"days":2}`, true},
		{"wait date field", schema.StepKindWait, `{"date_field":"renewal_at"}`, true},
		{"wait empty", schema.StepKindWait, `{}`, false},
		{"webhook ok", schema.StepKindWebhook, `{"url":"https://example.com/hook"}`, true},
		{"webhook bad url", schema.StepKindWebhook, `{"url":"ftp://example.com"}`, false},
		{"webhook templated url", schema.StepKindWebhook, `{"url":"https://{{webhook_host}}/hook"}`, true},
		{"webhook no url", schema.StepKindWebhook, `{}`, false},
		{"malformed json", schema.StepKindSendEmail, `{"subject":`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := validDef()
			def.Steps[1] = &schema.WorkflowStep{
				Key:         "notify",
				Kind:        tc.kind,
				Config:      json.RawMessage(tc.config),
				NextStepKey: "done",
			}
			result := validateSemantic(def)
			assert.Equal(t, tc.valid, result.Valid(), "errors: %v", result.Errors)
		})
	}
}

func TestSemantic_WaitRequiresNextStep(t *testing.T) {
	def := validDef()
	def.Steps[1] = &schema.WorkflowStep{
		Key:    "cool_off",
		Kind:   schema.StepKindWait,
		Config: json.RawMessage(`{"days":2}`),
	}
	result := validateSemantic(def)
	require.False(t, result.Valid())
	issue := findErrorPath(t, result, "steps[1].next_step_key")
	assert.Contains(t, issue.Message, "next_step_key")

	def.Steps[1].NextStepKey = "done"
	result = validateSemantic(def)
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
}

func TestSemantic_DecisionConfig(t *testing.T) {
	branchTrue := schema.Branch{Key: "true", NextStepKey: "done"}
	branchFalse := schema.Branch{Key: "false", NextStepKey: "done"}

	def := validDef()
	def.Steps[1] = &schema.WorkflowStep{
		Key:      "route",
		Kind:     schema.StepKindDecision,
		Config:   json.RawMessage(`{"condition":{"field":"status","operator":"equals","value":"client"}}`),
		Branches: []schema.Branch{branchTrue, branchFalse},
	}
	result := validateSemantic(def)
	assert.True(t, result.Valid(), "errors: %v", result.Errors)

	// Simple mode without both branches.
	def.Steps[1].Branches = []schema.Branch{branchTrue}
	result = validateSemantic(def)
	assert.False(t, result.Valid())

	// Simple mode without a condition.
	def.Steps[1].Branches = []schema.Branch{branchTrue, branchFalse}
	def.Steps[1].Config = json.RawMessage(`{}`)
	result = validateSemantic(def)
	assert.False(t, result.Valid())

	// Advanced mode needs at least one branch.
	def.Steps[1].Config = json.RawMessage(`{"mode":"advanced"}`)
	def.Steps[1].Branches = nil
	result = validateSemantic(def)
	assert.False(t, result.Valid())

	// Unknown mode.
	def.Steps[1].Config = json.RawMessage(`{"mode":"fuzzy"}`)
	def.Steps[1].Branches = []schema.Branch{branchTrue}
	result = validateSemantic(def)
	assert.False(t, result.Valid())
}

func TestSemantic_ConditionShape(t *testing.T) {
	def := validDef()
	def.EntryCriteria = []schema.Condition{{Value: "client"}}
	result := validateSemantic(def)
	assert.False(t, result.Valid())
	require.Len(t, result.Errors, 2)

	// An expression condition needs neither field nor operator.
	def.EntryCriteria = []schema.Condition{{Expression: `record.status == "client"`}}
	result = validateSemantic(def)
	assert.True(t, result.Valid())
}

func TestSemantic_BranchesOnNonDecisionWarn(t *testing.T) {
	def := validDef()
	def.Steps[1].Branches = []schema.Branch{{Key: "x", NextStepKey: "done"}}
	result := validateSemantic(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "ignored")
}
