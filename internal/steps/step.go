package steps

import (
	"context"
	"encoding/json"
	"time"

	"github.com/practiq/automation/pkg/schema"
)

// ExecContext carries everything an executor may need for one step run.
type ExecContext struct {
	Definition *schema.WorkflowDefinition
	Step       *schema.WorkflowStep
	Context    *schema.ExecutionContext
	RecordType string
	RecordID   string

	// Now is the clock used for wait computations. The engine injects it so
	// tests can pin time; nil falls back to time.Now.
	Now func() time.Time
}

// Clock returns the effective clock.
func (ec *ExecContext) Clock() time.Time {
	if ec.Now != nil {
		return ec.Now().UTC()
	}
	return time.Now().UTC()
}

// Result is the outcome of a successful (or skipped) step run. Failures are
// reported through the error return instead.
type Result struct {
	// Output is recorded in the step audit trail and exposed to later steps.
	Output map[string]any

	// Skipped marks a control-flow non-match, e.g. an SMS recipient without
	// consent. Skipped steps continue to the next step and are not failures.
	Skipped    bool
	SkipReason string

	// NextStepKey overrides the step's declared next key when non-empty.
	// Decision steps use it to route to the matched branch.
	NextStepKey string

	// WaitUntil suspends the execution until the given time.
	WaitUntil *time.Time

	// EndWorkflow terminates the execution successfully with no next step.
	EndWorkflow bool
}

// Executor runs one kind of workflow step.
type Executor interface {
	Kind() schema.StepKind
	Execute(ctx context.Context, ec *ExecContext) (*Result, error)
}

// parseConfig unmarshals a step's raw config into the kind's config struct.
func parseConfig[T any](step *schema.WorkflowStep) (*T, error) {
	var cfg T
	if len(step.Config) == 0 {
		return &cfg, nil
	}
	if err := json.Unmarshal(step.Config, &cfg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"invalid %s config: %s", step.Kind, err.Error()).
			WithStep(step.Key).WithCause(err)
	}
	return &cfg, nil
}
