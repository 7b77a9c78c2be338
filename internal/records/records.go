package records

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FieldUpdate is an intent to set one field to one value on a record.
type FieldUpdate struct {
	RecordType string
	RecordID   string
	Field      string
	Value      any
}

// Task is an intent to create an action item attached to a record.
type Task struct {
	RecordType  string
	RecordID    string
	Title       string
	Description string
	Assignee    string
	DueAt       *time.Time
}

// Mutator applies record-side effects requested by workflow steps. Steps never
// write to the CRM directly; they emit intents through this interface so the
// owning system decides how and when the write happens.
type Mutator interface {
	UpdateField(ctx context.Context, update FieldUpdate) error
	CreateTask(ctx context.Context, task Task) (taskID string, err error)
}

// MemoryMutator collects intents in memory. Used in tests and local runs.
type MemoryMutator struct {
	mu      sync.Mutex
	updates []FieldUpdate
	tasks   []Task
}

// NewMemoryMutator creates an in-memory mutator.
func NewMemoryMutator() *MemoryMutator {
	return &MemoryMutator{}
}

func (m *MemoryMutator) UpdateField(ctx context.Context, update FieldUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
	return nil
}

func (m *MemoryMutator) CreateTask(ctx context.Context, task Task) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	return uuid.NewString(), nil
}

// Updates returns a copy of all field update intents.
func (m *MemoryMutator) Updates() []FieldUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FieldUpdate, len(m.updates))
	copy(out, m.updates)
	return out
}

// Tasks returns a copy of all task intents.
func (m *MemoryMutator) Tasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, len(m.tasks))
	copy(out, m.tasks)
	return out
}

// LogMutator logs intents without applying them. The default mutator when no
// CRM write path is wired in.
type LogMutator struct {
	logger *slog.Logger
}

// NewLogMutator creates a log-only mutator.
func NewLogMutator(logger *slog.Logger) *LogMutator {
	return &LogMutator{logger: logger}
}

func (m *LogMutator) UpdateField(ctx context.Context, update FieldUpdate) error {
	m.logger.InfoContext(ctx, "field update intent",
		slog.String("record_type", update.RecordType),
		slog.String("record_id", update.RecordID),
		slog.String("field", update.Field))
	return nil
}

func (m *LogMutator) CreateTask(ctx context.Context, task Task) (string, error) {
	id := uuid.NewString()
	m.logger.InfoContext(ctx, "task intent",
		slog.String("record_type", task.RecordType),
		slog.String("record_id", task.RecordID),
		slog.String("title", task.Title),
		slog.String("task_id", id))
	return id, nil
}
