package steps

import (
	"context"
	"time"

	"github.com/practiq/automation/internal/records"
	"github.com/practiq/automation/internal/template"
	"github.com/practiq/automation/pkg/schema"
)

// TaskExecutor emits a create-task intent attached to the triggering record.
type TaskExecutor struct {
	mutator records.Mutator
}

// NewTaskExecutor creates the create_task executor.
func NewTaskExecutor(mutator records.Mutator) *TaskExecutor {
	return &TaskExecutor{mutator: mutator}
}

func (e *TaskExecutor) Kind() schema.StepKind { return schema.StepKindCreateTask }

func (e *TaskExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	cfg, err := parseConfig[schema.TaskConfig](ec.Step)
	if err != nil {
		return nil, err
	}
	if cfg.Title == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "create_task requires a title").
			WithStep(ec.Step.Key)
	}
	if ec.RecordID == "" {
		return nil, schema.NewError(schema.ErrCodeExecution,
			"record has no addressable id, cannot attach task").WithStep(ec.Step.Key)
	}

	scope := template.ScopeFrom(ec.Context)
	title, err := template.Render(cfg.Title, scope)
	if err != nil {
		return nil, wrapStepErr(err, ec.Step.Key)
	}
	description, err := template.Render(cfg.Description, scope)
	if err != nil {
		return nil, wrapStepErr(err, ec.Step.Key)
	}

	task := records.Task{
		RecordType:  ec.RecordType,
		RecordID:    ec.RecordID,
		Title:       title,
		Description: description,
		Assignee:    cfg.Assignee,
	}
	if cfg.DueInDays > 0 {
		due := ec.Clock().Add(time.Duration(cfg.DueInDays) * 24 * time.Hour)
		task.DueAt = &due
	}

	taskID, err := e.mutator.CreateTask(ctx, task)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"create task failed: %s", err.Error()).
			WithStep(ec.Step.Key).WithCause(err)
	}

	return &Result{Output: map[string]any{
		"task_id": taskID,
		"title":   title,
	}}, nil
}
