package scheduler

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practiq/automation/internal/store"
	"github.com/practiq/automation/pkg/schema"
)

type fakeRunner struct {
	mu          sync.Mutex
	resumeCalls []time.Time
	resumed     int
	started     []string
	triggers    []schema.TriggerInfo
}

func (f *fakeRunner) ResumeDue(_ context.Context, now time.Time, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCalls = append(f.resumeCalls, now)
	return f.resumed, nil
}

func (f *fakeRunner) StartExecution(_ context.Context, def *schema.WorkflowDefinition, _, _ string, _ map[string]any, trigger schema.TriggerInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, def.ID)
	f.triggers = append(f.triggers, trigger)
	return "exec-" + def.ID, nil
}

func (f *fakeRunner) startedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func newSchedulerStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "automation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scheduledDef(id, cronExpr string) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:            id,
		Name:          "nightly " + id,
		ObjectType:    "lead",
		TriggerType:   schema.TriggerSchedule,
		TriggerConfig: schema.TriggerConfig{Cron: cronExpr},
		Active:        true,
		Steps: []*schema.WorkflowStep{
			{Key: "trigger", Kind: schema.StepKindTrigger, NextStepKey: "done"},
			{Key: "done", Kind: schema.StepKindEnd},
		},
	}
}

func TestTickResumesDue(t *testing.T) {
	s := newSchedulerStore(t)
	runner := &fakeRunner{resumed: 3}
	sched := NewScheduler(s, runner, time.Minute, testLogger())

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	n := sched.Tick(context.Background(), now)
	assert.Equal(t, 3, n)
	require.Len(t, runner.resumeCalls, 1)
	assert.True(t, runner.resumeCalls[0].Equal(now))
}

func TestTickFiresDueSchedules(t *testing.T) {
	s := newSchedulerStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateDefinition(ctx, scheduledDef("wf-nightly", "0 2 * * *")))

	runner := &fakeRunner{}
	sched := NewScheduler(s, runner, time.Minute, testLogger())

	// First sight only seeds the tracker.
	now := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	sched.Tick(ctx, now)
	assert.Empty(t, runner.startedIDs())

	// Not yet 02:00.
	sched.Tick(ctx, now.Add(30*time.Minute))
	assert.Empty(t, runner.startedIDs())

	// Past 02:00: fires exactly once, with a schedule trigger.
	sched.Tick(ctx, now.Add(61*time.Minute))
	require.Len(t, runner.startedIDs(), 1)
	assert.Equal(t, "wf-nightly", runner.startedIDs()[0])
	assert.Equal(t, schema.EventSchedule, runner.triggers[0].EventKind)

	// The tracker rolled forward to the next day.
	sched.Tick(ctx, now.Add(90*time.Minute))
	assert.Len(t, runner.startedIDs(), 1)
}

func TestTickSkipsInactiveAndBadCron(t *testing.T) {
	s := newSchedulerStore(t)
	ctx := context.Background()

	inactive := scheduledDef("wf-off", "0 2 * * *")
	inactive.Active = false
	require.NoError(t, s.CreateDefinition(ctx, inactive))
	require.NoError(t, s.CreateDefinition(ctx, scheduledDef("wf-bad", "not a cron")))

	runner := &fakeRunner{}
	sched := NewScheduler(s, runner, time.Minute, testLogger())

	now := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	sched.Tick(ctx, now)
	sched.Tick(ctx, now.Add(24*time.Hour))
	assert.Empty(t, runner.startedIDs())
}

func TestCalculateNextRun(t *testing.T) {
	sched := NewScheduler(newSchedulerStore(t), &fakeRunner{}, time.Minute, testLogger())

	from := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	next, err := sched.CalculateNextRun("0 9 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), next)

	_, err = sched.CalculateNextRun("whenever", from)
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s := newSchedulerStore(t)
	runner := &fakeRunner{}
	sched := NewScheduler(s, runner, time.Hour, testLogger())

	require.NoError(t, sched.Start(context.Background()))
	assert.Error(t, sched.Start(context.Background()), "double start should fail")
	require.NoError(t, sched.Stop())

	// The initial tick ran before Stop returned.
	require.NotEmpty(t, runner.resumeCalls)

	// Stop is idempotent and Start works again after Stop.
	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Stop())
}
