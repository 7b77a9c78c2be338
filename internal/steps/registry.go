package steps

import (
	"sync"

	"github.com/practiq/automation/internal/conditions"
	"github.com/practiq/automation/internal/expressions"
	"github.com/practiq/automation/internal/notify"
	"github.com/practiq/automation/internal/records"
	"github.com/practiq/automation/pkg/schema"
)

// Registry is a thread-safe mapping of step kinds to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[schema.StepKind]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[schema.StepKind]Executor),
	}
}

// Register adds an executor. Returns an error on duplicate kind.
func (r *Registry) Register(exec Executor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	kind := exec.Kind()
	if kind == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor kind is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[kind]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor for %q already registered", kind)
	}

	r.executors[kind] = exec
	return nil
}

// Get retrieves the executor for a step kind.
func (r *Registry) Get(kind schema.StepKind) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "no executor for step kind %q", kind)
	}
	return exec, nil
}

// Has checks whether a step kind has an executor.
func (r *Registry) Has(kind schema.StepKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[kind]
	return ok
}

// Deps bundles the boundaries the built-in executors need.
type Deps struct {
	Sender    notify.Sender
	Mutator   records.Mutator
	Evaluator *conditions.Evaluator
	JQ        *expressions.GoJQEngine
	Webhook   WebhookConfig
}

// NewDefaultRegistry builds a registry with all built-in step executors.
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	r := NewRegistry()
	execs := []Executor{
		&TriggerExecutor{},
		&EndExecutor{},
		NewEmailExecutor(deps.Sender),
		NewSMSExecutor(deps.Sender),
		NewTaskExecutor(deps.Mutator),
		NewFieldUpdateExecutor(deps.Mutator),
		&WaitExecutor{},
		NewDecisionExecutor(deps.Evaluator),
		NewWebhookExecutor(deps.Webhook, deps.JQ),
	}
	for _, e := range execs {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}
