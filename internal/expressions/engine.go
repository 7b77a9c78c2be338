package expressions

import (
	"context"

	"github.com/practiq/automation/pkg/schema"
)

// Engine evaluates a condition or transform expression against record data.
// Three implementations: CEL (conditions, the default), Expr (logic), GoJQ
// (JSON transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Registry holds the available expression engines keyed by name.
type Registry struct {
	engines map[string]Engine
	deflt   Engine
}

// NewRegistry builds a registry with all three engines. CEL is the default
// used when a condition does not name an engine.
func NewRegistry() (*Registry, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		engines: map[string]Engine{},
		deflt:   celEngine,
	}
	for _, e := range []Engine{celEngine, NewExprEngine(), NewGoJQEngine()} {
		r.engines[e.Name()] = e
	}
	return r, nil
}

// ForName returns the engine with the given name, or the default engine when
// name is empty.
func (r *Registry) ForName(name string) (Engine, error) {
	if name == "" {
		return r.deflt, nil
	}
	e, ok := r.engines[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression engine %q", name)
	}
	return e, nil
}

// JQ returns the jq engine used for webhook output transforms.
func (r *Registry) JQ() *GoJQEngine {
	return r.engines["jq"].(*GoJQEngine)
}
