package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/practiq/automation/internal/store"
	"github.com/practiq/automation/pkg/schema"
)

// DefaultTickInterval is how often the scheduler wakes up.
const DefaultTickInterval = 60 * time.Second

// ExecutionRunner is the interface the scheduler drives the engine through.
type ExecutionRunner interface {
	ResumeDue(ctx context.Context, now time.Time, limit int) (int, error)
	StartExecution(ctx context.Context, def *schema.WorkflowDefinition, recordType, recordID string, record map[string]any, trigger schema.TriggerInfo) (string, error)
}

// Scheduler periodically resumes due waiting executions and fires workflows
// with a schedule trigger when their cron expression comes due.
type Scheduler struct {
	store    store.Store
	runner   ExecutionRunner
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	// nextRuns tracks the next fire time per schedule-trigger workflow.
	// Seeded on first sight so a restart does not fire everything at once.
	nextMu   sync.Mutex
	nextRuns map[string]time.Time

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a Scheduler. interval <= 0 uses DefaultTickInterval.
func NewScheduler(s store.Store, runner ExecutionRunner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: interval,
		logger:   logger,
		now:      time.Now,
		nextRuns: make(map[string]time.Time),
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx, s.now().UTC())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, s.now().UTC())
		}
	}
}

// Tick runs one scheduling pass: resume due executions, then fire due
// schedule-trigger workflows. Returns the number of executions resumed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	resumed, err := s.runner.ResumeDue(ctx, now, 0)
	if err != nil {
		s.logger.Error("failed to resume due executions", slog.String("error", err.Error()))
	} else if resumed > 0 {
		s.logger.Info("resumed due executions", slog.Int("count", resumed))
	}

	s.fireScheduled(ctx, now)
	return resumed
}

// fireScheduled starts an execution for every active schedule-trigger
// workflow whose cron time has come.
func (s *Scheduler) fireScheduled(ctx context.Context, now time.Time) {
	active := true
	trigger := schema.TriggerSchedule
	defs, err := s.store.ListDefinitions(ctx, store.DefinitionFilter{
		TriggerType: &trigger,
		Active:      &active,
	})
	if err != nil {
		s.logger.Error("failed to list scheduled workflows", slog.String("error", err.Error()))
		return
	}

	for _, def := range defs {
		due, err := s.advanceNextRun(def, now)
		if err != nil {
			s.logger.Error("bad cron expression on workflow",
				slog.String("workflow_id", def.ID),
				slog.String("error", err.Error()))
			continue
		}
		if !due {
			continue
		}
		if !s.tryAcquire(def.ID) {
			continue
		}
		s.fireWorkflow(ctx, def, now)
		s.release(def.ID)
	}
}

// advanceNextRun reports whether the workflow is due now and, when it is,
// rolls its tracked next-run time forward. First sight only seeds the
// tracker, so a freshly started scheduler never backfires old schedules.
func (s *Scheduler) advanceNextRun(def *schema.WorkflowDefinition, now time.Time) (bool, error) {
	schedule, err := s.parser.Parse(def.TriggerConfig.Cron)
	if err != nil {
		return false, fmt.Errorf("parse cron %q: %w", def.TriggerConfig.Cron, err)
	}

	s.nextMu.Lock()
	defer s.nextMu.Unlock()

	next, seen := s.nextRuns[def.ID]
	if !seen {
		s.nextRuns[def.ID] = schedule.Next(now)
		return false, nil
	}
	if now.Before(next) {
		return false, nil
	}
	s.nextRuns[def.ID] = schedule.Next(now)
	return true, nil
}

func (s *Scheduler) fireWorkflow(ctx context.Context, def *schema.WorkflowDefinition, now time.Time) {
	s.logger.Info("firing scheduled workflow",
		slog.String("workflow_id", def.ID),
		slog.String("cron", def.TriggerConfig.Cron))

	// Scheduled runs have no triggering record; executors that need one
	// (create_task, update_field) fail the run, which is a config mistake
	// caught at validation time for most workflows.
	trigger := schema.TriggerInfo{EventKind: schema.EventSchedule, OccurredAt: now}
	if _, err := s.runner.StartExecution(ctx, def, def.ObjectType, "", map[string]any{}, trigger); err != nil {
		s.logger.Error("scheduled workflow failed to start",
			slog.String("workflow_id", def.ID),
			slog.String("error", err.Error()))
	}
}

// tryAcquire returns true and marks the workflow in-flight if it is not
// already firing.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
