package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/practiq/automation/internal/store"
	"github.com/practiq/automation/pkg/schema"
)

// Decision is a gatekeeper verdict. A denial is expected control flow, not an
// error: the caller simply does not create an execution.
type Decision struct {
	Allowed bool
	Reason  string
	// RetryAt is the earliest permitted re-entry time, set for
	// after_wait_days denials.
	RetryAt *time.Time
}

// Allow is the unconditional permit.
var Allow = Decision{Allowed: true}

// Gatekeeper applies a workflow's re-entry policy against the execution
// history of a (workflow, record) pair.
type Gatekeeper struct {
	store store.Store
	now   func() time.Time
}

// NewGatekeeper creates a Gatekeeper reading history from the given store.
func NewGatekeeper(s store.Store) *Gatekeeper {
	return &Gatekeeper{store: s, now: time.Now}
}

// Check decides whether recordID may enter the workflow now.
func (g *Gatekeeper) Check(ctx context.Context, def *schema.WorkflowDefinition, recordID string) (Decision, error) {
	switch def.ReentryMode {
	case "", schema.ReentryAllowAll:
		return Allow, nil

	case schema.ReentryNone:
		n, err := g.store.CountExecutions(ctx, def.ID, recordID)
		if err != nil {
			return Decision{}, fmt.Errorf("count executions: %w", err)
		}
		if n > 0 {
			return Decision{Reason: "record has already entered this workflow"}, nil
		}
		return Allow, nil

	case schema.ReentryAfterExit:
		last, err := g.store.LatestExecution(ctx, def.ID, recordID)
		if err != nil {
			return Decision{}, fmt.Errorf("latest execution: %w", err)
		}
		if last != nil && !last.Status.Terminal() {
			return Decision{Reason: fmt.Sprintf("a %s execution is still in flight", last.Status)}, nil
		}
		return Allow, nil

	case schema.ReentryAfterWaitDays:
		last, err := g.store.LatestExecution(ctx, def.ID, recordID)
		if err != nil {
			return Decision{}, fmt.Errorf("latest execution: %w", err)
		}
		if last == nil {
			return Allow, nil
		}
		permittedAt := last.StartedAt.Add(time.Duration(def.ReentryWaitDays) * 24 * time.Hour)
		if g.now().UTC().Before(permittedAt) {
			return Decision{
				Reason:  fmt.Sprintf("re-entry permitted again at %s", permittedAt.Format(time.RFC3339)),
				RetryAt: &permittedAt,
			}, nil
		}
		return Allow, nil

	default:
		return Decision{}, schema.NewErrorf(schema.ErrCodeConfig,
			"unknown reentry mode %q on workflow %s", def.ReentryMode, def.ID)
	}
}
