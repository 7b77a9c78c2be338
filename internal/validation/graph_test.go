package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practiq/automation/pkg/schema"
)

func TestGraph_LinearChain(t *testing.T) {
	result := validateGraph(validDef())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestGraph_UnreachableStep(t *testing.T) {
	def := validDef()
	def.Steps = append(def.Steps, &schema.WorkflowStep{
		Key:         "orphan",
		Kind:        schema.StepKindSendEmail,
		Config:      json.RawMessage(`{"recipient":"a@b.c","subject":"x"}`),
		NextStepKey: "done",
	})
	result := validateGraph(def)
	assert.True(t, result.Valid(), "unreachable is a warning, not an error")
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, `"orphan"`)
}

func TestGraph_CycleWithoutDecision(t *testing.T) {
	def := validDef()
	def.Steps = []*schema.WorkflowStep{
		{Key: "trigger", Kind: schema.StepKindTrigger, NextStepKey: "a"},
		{Key: "a", Kind: schema.StepKindUpdateField, Config: json.RawMessage(`{"field":"f","value":"1"}`), NextStepKey: "b"},
		{Key: "b", Kind: schema.StepKindUpdateField, Config: json.RawMessage(`{"field":"f","value":"2"}`), NextStepKey: "a"},
	}
	result := validateGraph(def)
	assert.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "cycle")
}

func TestGraph_CycleWithDecisionWarns(t *testing.T) {
	def := validDef()
	def.Steps = []*schema.WorkflowStep{
		{Key: "trigger", Kind: schema.StepKindTrigger, NextStepKey: "check"},
		{
			Key:    "check",
			Kind:   schema.StepKindDecision,
			Config: json.RawMessage(`{"condition":{"field":"done","operator":"equals","value":true}}`),
			Branches: []schema.Branch{
				{Key: "true", NextStepKey: "finish"},
				{Key: "false", NextStepKey: "nudge"},
			},
		},
		{Key: "nudge", Kind: schema.StepKindUpdateField, Config: json.RawMessage(`{"field":"nudged","value":true}`), NextStepKey: "check"},
		{Key: "finish", Kind: schema.StepKindEnd},
	}
	result := validateGraph(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "cycle")
}
