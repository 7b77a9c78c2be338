package store

import (
	"context"
	"time"

	"github.com/practiq/automation/pkg/schema"
)

// Store defines the persistence contract for workflow definitions,
// executions, and the step-execution audit trail.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflow definitions (config, rarely written)
	CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error)
	SetDefinitionActive(ctx context.Context, id string, active bool) error
	DeleteDefinition(ctx context.Context, id string) error

	// Executions (one row per run, frequently updated)
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)

	// LatestExecution returns the most recent execution for a (workflow,
	// record) pair, or nil if none. Used by the re-entry gatekeeper.
	LatestExecution(ctx context.Context, workflowID, recordID string) (*Execution, error)

	// CountExecutions counts executions for a (workflow, record) pair.
	CountExecutions(ctx context.Context, workflowID, recordID string) (int, error)

	// ClaimExecution atomically marks an execution as owned by workerID,
	// transitioning it to running. It succeeds only if the execution is in
	// running or waiting state and unclaimed (or its claim lease, in
	// seconds, has expired). Returns false without error when the claim
	// was lost to another worker.
	ClaimExecution(ctx context.Context, id, workerID string, leaseSeconds int) (bool, error)

	// ReleaseExecution clears the claim marker held by workerID.
	ReleaseExecution(ctx context.Context, id, workerID string) error

	// DueExecutions returns waiting executions with next_run_at <= now,
	// ordered by next_run_at ascending.
	DueExecutions(ctx context.Context, now time.Time, limit int) ([]*Execution, error)

	// Step executions (append-only audit trail)
	CreateStepExecution(ctx context.Context, se *StepExecution) error
	UpdateStepExecution(ctx context.Context, id string, update StepExecutionUpdate) error
	ListStepExecutions(ctx context.Context, executionID string) ([]*StepExecution, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
