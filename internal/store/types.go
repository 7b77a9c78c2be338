package store

import (
	"encoding/json"
	"time"

	"github.com/practiq/automation/pkg/schema"
)

// Execution is the persisted record of one workflow run against one record.
type Execution struct {
	ID             string                   `json:"id"`
	WorkflowID     string                   `json:"workflow_id"`
	RecordType     string                   `json:"record_type"`
	RecordID       string                   `json:"record_id"`
	Status         schema.ExecutionStatus   `json:"status"`
	CurrentStepKey string                   `json:"current_step_key"`
	Context        *schema.ExecutionContext `json:"context,omitempty"`
	ErrorMessage   string                   `json:"error_message,omitempty"`
	StepCount      int                      `json:"step_count"`
	StartedAt      time.Time                `json:"started_at"`
	CompletedAt    *time.Time               `json:"completed_at,omitempty"`
	NextRunAt      *time.Time               `json:"next_run_at,omitempty"`
	WaitingFor     string                   `json:"waiting_for,omitempty"`
	ClaimedBy      string                   `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time               `json:"claimed_at,omitempty"`
}

// StepExecution is one append-only audit row for a step attempt. Never
// updated after reaching completed/failed/skipped.
type StepExecution struct {
	ID           string            `json:"id"`
	ExecutionID  string            `json:"execution_id"`
	StepKey      string            `json:"step_key"`
	Kind         schema.StepKind   `json:"kind"`
	Status       schema.StepStatus `json:"status"`
	Input        json.RawMessage   `json:"input,omitempty"`
	Output       json.RawMessage   `json:"output,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// --- Filter and update types ---

// DefinitionFilter specifies criteria for listing workflow definitions.
type DefinitionFilter struct {
	ObjectType  string              `json:"object_type,omitempty"`
	TriggerType *schema.TriggerType `json:"trigger_type,omitempty"`
	Active      *bool               `json:"active,omitempty"`
	Limit       int                 `json:"limit,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	RecordID   string                  `json:"record_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
	Offset     int                     `json:"offset,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution. Nil fields are
// left untouched.
type ExecutionUpdate struct {
	Status         *schema.ExecutionStatus  `json:"status,omitempty"`
	CurrentStepKey *string                  `json:"current_step_key,omitempty"`
	Context        *schema.ExecutionContext `json:"context,omitempty"`
	ErrorMessage   *string                  `json:"error_message,omitempty"`
	StepCount      *int                     `json:"step_count,omitempty"`
	CompletedAt    *time.Time               `json:"completed_at,omitempty"`
	NextRunAt      *time.Time               `json:"next_run_at,omitempty"`
	ClearNextRun   bool                     `json:"clear_next_run,omitempty"`
	WaitingFor     *string                  `json:"waiting_for,omitempty"`
}

// StepExecutionUpdate finalizes a step-execution row.
type StepExecutionUpdate struct {
	Status       *schema.StepStatus `json:"status,omitempty"`
	Output       json.RawMessage    `json:"output,omitempty"`
	ErrorMessage *string            `json:"error_message,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}
