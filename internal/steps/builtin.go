package steps

import (
	"context"

	"github.com/practiq/automation/pkg/schema"
)

// TriggerExecutor is the no-op entry step. It always succeeds and hands off
// to the step's declared next key.
type TriggerExecutor struct{}

func (e *TriggerExecutor) Kind() schema.StepKind { return schema.StepKindTrigger }

func (e *TriggerExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	return &Result{}, nil
}

// EndExecutor terminates the workflow. It always succeeds with no next step.
type EndExecutor struct{}

func (e *EndExecutor) Kind() schema.StepKind { return schema.StepKindEnd }

func (e *EndExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	return &Result{EndWorkflow: true}, nil
}
