package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/practiq/automation/internal/conditions"
	"github.com/practiq/automation/internal/logging"
	"github.com/practiq/automation/internal/steps"
	"github.com/practiq/automation/internal/store"
	"github.com/practiq/automation/pkg/schema"
)

const (
	// DefaultMaxSteps bounds one execution's step transitions so a
	// misconfigured cyclic graph fails loudly instead of looping forever.
	DefaultMaxSteps = 100

	// DefaultLeaseSeconds is how long a worker's claim on an execution is
	// honored before another worker may take it over.
	DefaultLeaseSeconds = 300

	// entryStepKey is where a freshly created execution starts.
	entryStepKey = "trigger"
)

// Options tune an Engine. Zero values get sensible defaults.
type Options struct {
	Logger       *slog.Logger
	WorkerID     string
	MaxSteps     int
	LeaseSeconds int
	PoolSize     int
	Now          func() time.Time
}

// Engine drives workflow executions: it evaluates record events into new
// executions and walks each execution's step graph to a terminal state.
type Engine struct {
	store    store.Store
	registry *steps.Registry
	matcher  *Matcher
	gate     *Gatekeeper
	eval     *conditions.Evaluator
	logger   *slog.Logger
	pool     *WorkerPool

	workerID     string
	maxSteps     int
	leaseSeconds int
	now          func() time.Time
}

// New creates an Engine with its storage, executor, and evaluator
// dependencies injected.
func New(s store.Store, registry *steps.Registry, evaluator *conditions.Evaluator, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WorkerID == "" {
		opts.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.LeaseSeconds <= 0 {
		opts.LeaseSeconds = DefaultLeaseSeconds
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	gate := NewGatekeeper(s)
	gate.now = opts.Now
	return &Engine{
		store:        s,
		registry:     registry,
		matcher:      NewMatcher(evaluator),
		gate:         gate,
		eval:         evaluator,
		logger:       opts.Logger,
		pool:         NewWorkerPool(opts.PoolSize),
		workerID:     opts.WorkerID,
		maxSteps:     opts.MaxSteps,
		leaseSeconds: opts.LeaseSeconds,
		now:          opts.Now,
	}
}

// WorkerID returns this engine's claim marker.
func (e *Engine) WorkerID() string { return e.workerID }

// Close shuts down the engine's worker pool, waiting for in-flight work.
func (e *Engine) Close() {
	e.pool.Shutdown()
}

// EvaluateEvent is the single event-ingestion entry point. It matches the
// event against active definitions, applies each workflow's re-entry policy,
// creates one execution per permitted workflow, processes each to its next
// stable state, and returns the new execution ids.
func (e *Engine) EvaluateEvent(ctx context.Context, event *schema.RecordEvent) ([]string, error) {
	if event == nil || event.ObjectType == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "event requires an object type")
	}

	active := true
	defs, err := e.store.ListDefinitions(ctx, store.DefinitionFilter{
		ObjectType: event.ObjectType,
		Active:     &active,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list definitions: %s", err.Error()).WithCause(err)
	}

	matched, err := e.matcher.Match(ctx, event, defs)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		e.logger.DebugContext(ctx, "no workflows matched event",
			slog.String("object_type", event.ObjectType),
			slog.String("event_kind", string(event.Kind)))
		return nil, nil
	}

	recordID := event.RecordID()
	trigger := schema.TriggerInfo{
		EventKind:      event.Kind,
		ChangedFields:  event.ChangedFields,
		PreviousValues: event.PreviousValues,
		OccurredAt:     event.OccurredAt,
	}

	var created []string
	for _, def := range matched {
		wfCtx := logging.WithWorkflowID(ctx, def.ID)

		decision, err := e.gate.Check(wfCtx, def, recordID)
		if err != nil {
			return created, err
		}
		if !decision.Allowed {
			e.logger.InfoContext(wfCtx, "re-entry denied",
				slog.String("record_id", recordID),
				slog.String("reason", decision.Reason))
			continue
		}

		id, err := e.StartExecution(wfCtx, def, event.ObjectType, recordID, event.Record, trigger)
		if err != nil {
			return created, err
		}
		created = append(created, id)
	}

	return created, nil
}

// StartExecution creates a new execution for a workflow and record snapshot
// and processes it to its next stable state (terminal or waiting). Used by
// event evaluation, schedule triggers, and manual triggering.
func (e *Engine) StartExecution(ctx context.Context, def *schema.WorkflowDefinition, recordType, recordID string, record map[string]any, trigger schema.TriggerInfo) (string, error) {
	exec := &store.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     def.ID,
		RecordType:     recordType,
		RecordID:       recordID,
		Status:         schema.ExecutionRunning,
		CurrentStepKey: entryStepKey,
		Context: &schema.ExecutionContext{
			Trigger: trigger,
			Record:  record,
		},
		StartedAt: e.now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "create execution: %s", err.Error()).WithCause(err)
	}

	execCtx := logging.WithExecutionID(ctx, exec.ID)
	e.logger.InfoContext(execCtx, "execution started",
		slog.String("record_id", recordID))

	if err := e.ProcessExecution(ctx, exec.ID); err != nil {
		return exec.ID, err
	}
	return exec.ID, nil
}

// ProcessExecution claims an execution and walks its step graph until it
// suspends, completes, fails, or is cancelled. Safe to call from any worker:
// losing the claim is a no-op, and a cold start resumes exactly at the
// stored current step key.
func (e *Engine) ProcessExecution(ctx context.Context, executionID string) error {
	claimed, err := e.store.ClaimExecution(ctx, executionID, e.workerID, e.leaseSeconds)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "claim execution: %s", err.Error()).WithCause(err)
	}
	if !claimed {
		return nil
	}
	defer func() {
		if err := e.store.ReleaseExecution(context.WithoutCancel(ctx), executionID, e.workerID); err != nil {
			e.logger.Warn("release claim failed",
				slog.String("execution_id", executionID), slog.Any("error", err))
		}
	}()

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	ctx = logging.WithExecutionID(logging.WithWorkflowID(ctx, exec.WorkflowID), exec.ID)

	def, err := e.store.GetDefinition(ctx, exec.WorkflowID)
	if err != nil {
		return e.failExecution(ctx, exec, schema.NewErrorf(schema.ErrCodeConfig,
			"workflow definition %s not found", exec.WorkflowID).WithCause(err))
	}

	return e.runLoop(ctx, def, exec)
}

// runLoop walks one claimed execution sequentially: resolve the current step,
// audit it, execute it, persist the outcome, pick the next key.
func (e *Engine) runLoop(ctx context.Context, def *schema.WorkflowDefinition, exec *store.Execution) error {
	if exec.Context == nil {
		exec.Context = &schema.ExecutionContext{}
	}

	for {
		// Cooperative cancellation: an out-of-band cancel (or any terminal
		// status) is honored before the next step runs.
		fresh, err := e.store.GetExecution(ctx, exec.ID)
		if err != nil {
			return err
		}
		if fresh.Status.Terminal() {
			e.logger.InfoContext(ctx, "execution no longer active",
				slog.String("status", string(fresh.Status)))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if exec.StepCount >= e.maxSteps {
			return e.failExecution(ctx, exec, schema.NewErrorf(schema.ErrCodeStepLimit,
				"execution exceeded %d step transitions, aborting (cyclic graph?)", e.maxSteps))
		}

		step := def.FindStep(exec.CurrentStepKey)
		if step == nil {
			return e.failExecution(ctx, exec, schema.NewErrorf(schema.ErrCodeConfig,
				"step %q not found in workflow %s", exec.CurrentStepKey, def.ID))
		}

		stepCtx := logging.WithStepKey(ctx, step.Key)

		// Reaching an end step completes the execution outright. End steps
		// do nothing and leave no audit row of their own.
		if step.Kind == schema.StepKindEnd {
			return e.completeExecution(stepCtx, exec)
		}

		// Legacy single-condition gating: false means skip, not fail.
		if step.Condition != nil {
			ok, err := e.eval.Match(stepCtx, *step.Condition, conditions.ScopeFrom(exec.Context))
			if err != nil {
				return e.failStepAndExecution(stepCtx, exec, step, nil, err)
			}
			if !ok {
				if err := e.auditSkipped(stepCtx, exec, step, "step condition not met"); err != nil {
					return err
				}
				if step.NextStepKey == "" {
					return e.completeExecution(stepCtx, exec)
				}
				if err := e.advance(stepCtx, exec, step.NextStepKey); err != nil {
					return err
				}
				continue
			}
		}

		row, err := e.beginStep(stepCtx, exec, step)
		if err != nil {
			return err
		}

		result, execErr := e.executeStep(stepCtx, def, exec, step)
		if execErr != nil {
			return e.failStepAndExecution(stepCtx, exec, step, row, execErr)
		}

		if err := e.finishStep(stepCtx, row, result); err != nil {
			return err
		}
		exec.Context.AppendStepResult(step.Key, result.Output)
		exec.StepCount++

		if result.WaitUntil != nil {
			if step.NextStepKey == "" {
				return e.failExecution(stepCtx, exec, schema.NewErrorf(schema.ErrCodeConfig,
					"wait step %q has no next step to resume at", step.Key).WithStep(step.Key))
			}
			return e.suspendExecution(stepCtx, exec, step, *result.WaitUntil)
		}

		nextKey := result.NextStepKey
		if nextKey == "" {
			nextKey = step.NextStepKey
		}
		if result.EndWorkflow || nextKey == "" {
			return e.completeExecution(stepCtx, exec)
		}

		if err := e.advance(stepCtx, exec, nextKey); err != nil {
			return err
		}
	}
}

// executeStep dispatches to the registered executor for the step kind.
func (e *Engine) executeStep(ctx context.Context, def *schema.WorkflowDefinition, exec *store.Execution, step *schema.WorkflowStep) (*steps.Result, error) {
	executor, err := e.registry.Get(step.Kind)
	if err != nil {
		return nil, err
	}
	return executor.Execute(ctx, &steps.ExecContext{
		Definition: def,
		Step:       step,
		Context:    exec.Context,
		RecordType: exec.RecordType,
		RecordID:   exec.RecordID,
		Now:        e.now,
	})
}

// beginStep opens the audit row for a step attempt with the current context
// as input.
func (e *Engine) beginStep(ctx context.Context, exec *store.Execution, step *schema.WorkflowStep) (*store.StepExecution, error) {
	input, err := json.Marshal(exec.Context)
	if err != nil {
		input = nil
	}
	row := &store.StepExecution{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		StepKey:     step.Key,
		Kind:        step.Kind,
		Status:      schema.StepRunning,
		Input:       input,
		StartedAt:   e.now().UTC(),
	}
	if err := e.store.CreateStepExecution(ctx, row); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "record step start: %s", err.Error()).
			WithStep(step.Key).WithCause(err)
	}
	return row, nil
}

// finishStep closes the audit row as completed or skipped.
func (e *Engine) finishStep(ctx context.Context, row *store.StepExecution, result *steps.Result) error {
	status := schema.StepCompleted
	if result.Skipped {
		status = schema.StepSkipped
		e.logger.InfoContext(ctx, "step skipped", slog.String("reason", result.SkipReason))
	}
	if err := TransitionStep(row.StepKey, row.Status, status); err != nil {
		return err
	}

	var output json.RawMessage
	if len(result.Output) > 0 {
		output, _ = json.Marshal(result.Output)
	}
	now := e.now().UTC()
	update := store.StepExecutionUpdate{
		Status:      &status,
		Output:      output,
		CompletedAt: &now,
	}
	if result.Skipped {
		update.ErrorMessage = &result.SkipReason
	}
	if err := e.store.UpdateStepExecution(ctx, row.ID, update); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "record step result: %s", err.Error()).
			WithStep(row.StepKey).WithCause(err)
	}
	return nil
}

// auditSkipped writes a single skipped audit row for a condition-gated step
// that never ran.
func (e *Engine) auditSkipped(ctx context.Context, exec *store.Execution, step *schema.WorkflowStep, reason string) error {
	now := e.now().UTC()
	row := &store.StepExecution{
		ID:           uuid.NewString(),
		ExecutionID:  exec.ID,
		StepKey:      step.Key,
		Kind:         step.Kind,
		Status:       schema.StepSkipped,
		ErrorMessage: reason,
		StartedAt:    now,
		CompletedAt:  &now,
	}
	if err := e.store.CreateStepExecution(ctx, row); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "record step skip: %s", err.Error()).
			WithStep(step.Key).WithCause(err)
	}
	exec.StepCount++
	return nil
}

// advance persists the step pointer so a crash resumes at the step about to
// run, never re-running the one that produced the pointer.
func (e *Engine) advance(ctx context.Context, exec *store.Execution, nextKey string) error {
	exec.CurrentStepKey = nextKey
	err := e.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{
		CurrentStepKey: &nextKey,
		Context:        exec.Context,
		StepCount:      &exec.StepCount,
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist progress: %s", err.Error()).WithCause(err)
	}
	return nil
}

// suspendExecution parks the execution as waiting until the resume time. The
// stored step pointer already names the step to run on resume.
func (e *Engine) suspendExecution(ctx context.Context, exec *store.Execution, step *schema.WorkflowStep, until time.Time) error {
	if err := Transition(exec.ID, exec.Status, schema.ExecutionWaiting); err != nil {
		return err
	}
	waiting := schema.ExecutionWaiting
	nextKey := step.NextStepKey
	reason := "wait step " + step.Key
	err := e.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{
		Status:         &waiting,
		CurrentStepKey: &nextKey,
		Context:        exec.Context,
		StepCount:      &exec.StepCount,
		NextRunAt:      &until,
		WaitingFor:     &reason,
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "suspend execution: %s", err.Error()).WithCause(err)
	}
	e.logger.InfoContext(ctx, "execution suspended",
		slog.Time("next_run_at", until))
	return nil
}

func (e *Engine) completeExecution(ctx context.Context, exec *store.Execution) error {
	if err := Transition(exec.ID, exec.Status, schema.ExecutionCompleted); err != nil {
		return err
	}
	completed := schema.ExecutionCompleted
	now := e.now().UTC()
	err := e.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{
		Status:       &completed,
		Context:      exec.Context,
		StepCount:    &exec.StepCount,
		CompletedAt:  &now,
		ClearNextRun: true,
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "complete execution: %s", err.Error()).WithCause(err)
	}
	e.logger.InfoContext(ctx, "execution completed",
		slog.Int("steps", exec.StepCount))
	return nil
}

// failExecution marks the execution failed with a human-readable error
// message. The step audit trail stays intact for the operator.
func (e *Engine) failExecution(ctx context.Context, exec *store.Execution, cause error) error {
	failed := schema.ExecutionFailed
	msg := cause.Error()
	now := e.now().UTC()
	err := e.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{
		Status:       &failed,
		Context:      exec.Context,
		StepCount:    &exec.StepCount,
		ErrorMessage: &msg,
		CompletedAt:  &now,
		ClearNextRun: true,
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "fail execution: %s", err.Error()).WithCause(err)
	}
	e.logger.WarnContext(ctx, "execution failed", slog.String("error", msg))
	return nil
}

// failStepAndExecution closes the step audit row as failed (when one is
// open) and fails the whole execution. Step failures are terminal: there is
// no per-step retry in this design.
func (e *Engine) failStepAndExecution(ctx context.Context, exec *store.Execution, step *schema.WorkflowStep, row *store.StepExecution, cause error) error {
	if row != nil {
		failed := schema.StepFailed
		msg := cause.Error()
		now := e.now().UTC()
		if err := e.store.UpdateStepExecution(ctx, row.ID, store.StepExecutionUpdate{
			Status:       &failed,
			ErrorMessage: &msg,
			CompletedAt:  &now,
		}); err != nil {
			e.logger.WarnContext(ctx, "record step failure failed", slog.Any("error", err))
		}
	}
	if ae, ok := cause.(*schema.AutomationError); ok && ae.StepKey == "" {
		ae.StepKey = step.Key
	}
	return e.failExecution(ctx, exec, cause)
}

// ResumeDue is the scheduler-tick entry point: it re-submits every waiting
// execution whose next_run_at has passed and returns the number submitted.
// Executions resume concurrently on the worker pool.
func (e *Engine) ResumeDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := e.store.DueExecutions(ctx, now, limit)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeStore, "due executions: %s", err.Error()).WithCause(err)
	}

	submitted := 0
	for _, exec := range due {
		id := exec.ID
		err := e.pool.Submit(ctx, func(ctx context.Context) error {
			if err := e.ProcessExecution(ctx, id); err != nil {
				e.logger.Warn("resume failed",
					slog.String("execution_id", id), slog.Any("error", err))
				return err
			}
			return nil
		})
		if err != nil {
			return submitted, err
		}
		submitted++
	}
	e.pool.Wait()
	return submitted, nil
}

// Cancel marks an execution cancelled. Honored cooperatively: a worker
// mid-execution notices the terminal status before running the next step.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if err := Transition(exec.ID, exec.Status, schema.ExecutionCancelled); err != nil {
		return err
	}
	cancelled := schema.ExecutionCancelled
	now := e.now().UTC()
	err = e.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{
		Status:       &cancelled,
		CompletedAt:  &now,
		ClearNextRun: true,
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "cancel execution: %s", err.Error()).WithCause(err)
	}
	e.logger.InfoContext(logging.WithExecutionID(ctx, executionID), "execution cancelled")
	return nil
}
