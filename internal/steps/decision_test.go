package steps

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practiq/automation/internal/conditions"
	"github.com/practiq/automation/pkg/schema"
)

func decisionCtx(config string, branches []schema.Branch, record map[string]any) *ExecContext {
	return &ExecContext{
		Step: &schema.WorkflowStep{
			Key:      "route",
			Kind:     schema.StepKindDecision,
			Config:   json.RawMessage(config),
			Branches: branches,
		},
		Context: &schema.ExecutionContext{Record: record},
	}
}

func TestDecision_SimpleMode(t *testing.T) {
	e := NewDecisionExecutor(conditions.NewEvaluator(nil))

	branches := []schema.Branch{
		{Key: "true", NextStepKey: "hot_path"},
		{Key: "false", NextStepKey: "cold_path"},
	}
	config := `{"condition":{"field":"score","operator":"greater_than","value":50}}`

	res, err := e.Execute(context.Background(),
		decisionCtx(config, branches, map[string]any{"score": float64(80)}))
	require.NoError(t, err)
	assert.Equal(t, "hot_path", res.NextStepKey)
	assert.Equal(t, true, res.Output["matched"])

	res, err = e.Execute(context.Background(),
		decisionCtx(config, branches, map[string]any{"score": float64(20)}))
	require.NoError(t, err)
	assert.Equal(t, "cold_path", res.NextStepKey)
}

func TestDecision_SimpleMissingBranch(t *testing.T) {
	e := NewDecisionExecutor(conditions.NewEvaluator(nil))

	branches := []schema.Branch{{Key: "true", NextStepKey: "hot_path"}}
	config := `{"condition":{"field":"score","operator":"greater_than","value":50}}`

	_, err := e.Execute(context.Background(),
		decisionCtx(config, branches, map[string]any{"score": float64(20)}))
	require.Error(t, err)
	var autoErr *schema.AutomationError
	require.ErrorAs(t, err, &autoErr)
	assert.Equal(t, schema.ErrCodeConfig, autoErr.Code)
}

func TestDecision_AdvancedFirstMatchWins(t *testing.T) {
	e := NewDecisionExecutor(conditions.NewEvaluator(nil))

	branches := []schema.Branch{
		{
			Key:         "vip",
			NextStepKey: "vip_path",
			Groups: []schema.ConditionGroup{{
				Conditions: []schema.Condition{{Field: "score", Operator: schema.OpGreaterOrEqual, Value: 90}},
			}},
		},
		{
			Key:         "qualified",
			NextStepKey: "qualified_path",
			Groups: []schema.ConditionGroup{{
				Conditions: []schema.Condition{{Field: "score", Operator: schema.OpGreaterOrEqual, Value: 50}},
			}},
		},
		{Key: "other", NextStepKey: "nurture_path", Default: true},
	}

	// Both vip and qualified would match a score of 95; vip is declared first.
	res, err := e.Execute(context.Background(),
		decisionCtx(`{"mode":"advanced"}`, branches, map[string]any{"score": float64(95)}))
	require.NoError(t, err)
	assert.Equal(t, "vip_path", res.NextStepKey)

	res, err = e.Execute(context.Background(),
		decisionCtx(`{"mode":"advanced"}`, branches, map[string]any{"score": float64(60)}))
	require.NoError(t, err)
	assert.Equal(t, "qualified_path", res.NextStepKey)

	// No branch matches: the default routes.
	res, err = e.Execute(context.Background(),
		decisionCtx(`{"mode":"advanced"}`, branches, map[string]any{"score": float64(10)}))
	require.NoError(t, err)
	assert.Equal(t, "nurture_path", res.NextStepKey)
	assert.Equal(t, false, res.Output["matched"])
}

func TestDecision_AdvancedNoMatchNoDefaultEnds(t *testing.T) {
	e := NewDecisionExecutor(conditions.NewEvaluator(nil))

	branches := []schema.Branch{
		{
			Key:         "vip",
			NextStepKey: "vip_path",
			Groups: []schema.ConditionGroup{{
				Conditions: []schema.Condition{{Field: "score", Operator: schema.OpGreaterOrEqual, Value: 90}},
			}},
		},
	}

	res, err := e.Execute(context.Background(),
		decisionCtx(`{"mode":"advanced"}`, branches, map[string]any{"score": float64(10)}))
	require.NoError(t, err)
	assert.True(t, res.EndWorkflow)
}

func TestDecision_DefaultWithoutNextEnds(t *testing.T) {
	e := NewDecisionExecutor(conditions.NewEvaluator(nil))

	branches := []schema.Branch{
		{
			Key: "vip",
			Groups: []schema.ConditionGroup{{
				Conditions: []schema.Condition{{Field: "score", Operator: schema.OpGreaterOrEqual, Value: 90}},
			}},
			NextStepKey: "vip_path",
		},
		{Key: "done", Default: true},
	}

	res, err := e.Execute(context.Background(),
		decisionCtx(`{"mode":"advanced"}`, branches, map[string]any{"score": float64(10)}))
	require.NoError(t, err)
	assert.True(t, res.EndWorkflow)
}
