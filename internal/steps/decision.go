package steps

import (
	"context"

	"github.com/practiq/automation/internal/conditions"
	"github.com/practiq/automation/pkg/schema"
)

// DecisionExecutor routes the workflow by evaluating conditions against the
// record. Simple mode picks between the "true" and "false" branches; advanced
// mode walks the step's branches in declaration order, first match wins.
type DecisionExecutor struct {
	evaluator *conditions.Evaluator
}

// NewDecisionExecutor creates the decision executor.
func NewDecisionExecutor(evaluator *conditions.Evaluator) *DecisionExecutor {
	return &DecisionExecutor{evaluator: evaluator}
}

func (e *DecisionExecutor) Kind() schema.StepKind { return schema.StepKindDecision }

func (e *DecisionExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	cfg, err := parseConfig[schema.DecisionConfig](ec.Step)
	if err != nil {
		return nil, err
	}

	scope := conditions.ScopeFrom(ec.Context)

	if cfg.Mode == "advanced" {
		return e.advanced(ctx, ec, scope)
	}
	return e.simple(ctx, ec, cfg, scope)
}

// simple evaluates one condition and routes to the "true" or "false" branch.
func (e *DecisionExecutor) simple(ctx context.Context, ec *ExecContext, cfg *schema.DecisionConfig, scope *conditions.Scope) (*Result, error) {
	if cfg.Condition == nil {
		return nil, schema.NewError(schema.ErrCodeConfig,
			"simple decision requires a condition").WithStep(ec.Step.Key)
	}

	matched, err := e.evaluator.Match(ctx, *cfg.Condition, scope)
	if err != nil {
		return nil, wrapStepErr(err, ec.Step.Key)
	}

	branchKey := "false"
	if matched {
		branchKey = "true"
	}
	branch := findBranch(ec.Step.Branches, branchKey)
	if branch == nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"simple decision missing %q branch", branchKey).WithStep(ec.Step.Key)
	}

	return routeTo(branch, map[string]any{"matched": matched, "branch": branchKey}), nil
}

// advanced walks the branches in declaration order. The first matching branch
// wins; when none match the default branch routes, or the workflow ends here.
func (e *DecisionExecutor) advanced(ctx context.Context, ec *ExecContext, scope *conditions.Scope) (*Result, error) {
	if len(ec.Step.Branches) == 0 {
		return nil, schema.NewError(schema.ErrCodeConfig,
			"advanced decision requires branches").WithStep(ec.Step.Key)
	}

	for i := range ec.Step.Branches {
		branch := &ec.Step.Branches[i]
		if branch.Default {
			continue
		}
		matched, err := e.evaluator.MatchBranch(ctx, *branch, scope)
		if err != nil {
			return nil, wrapStepErr(err, ec.Step.Key)
		}
		if matched {
			return routeTo(branch, map[string]any{"matched": true, "branch": branch.Key}), nil
		}
	}

	for i := range ec.Step.Branches {
		if ec.Step.Branches[i].Default {
			return routeTo(&ec.Step.Branches[i],
				map[string]any{"matched": false, "branch": ec.Step.Branches[i].Key}), nil
		}
	}

	// No match, no default: the workflow ends at this point.
	return &Result{
		Output:      map[string]any{"matched": false},
		EndWorkflow: true,
	}, nil
}

func findBranch(branches []schema.Branch, key string) *schema.Branch {
	for i := range branches {
		if branches[i].Key == key {
			return &branches[i]
		}
	}
	return nil
}

func routeTo(branch *schema.Branch, output map[string]any) *Result {
	if branch.NextStepKey == "" {
		return &Result{Output: output, EndWorkflow: true}
	}
	return &Result{Output: output, NextStepKey: branch.NextStepKey}
}
