package steps

import (
	"context"

	"github.com/practiq/automation/internal/records"
	"github.com/practiq/automation/internal/template"
	"github.com/practiq/automation/pkg/schema"
)

// FieldUpdateExecutor emits a field-update intent for the triggering record.
// The execution's own record snapshot is updated too, so later steps and
// conditions see the new value.
type FieldUpdateExecutor struct {
	mutator records.Mutator
}

// NewFieldUpdateExecutor creates the update_field executor.
func NewFieldUpdateExecutor(mutator records.Mutator) *FieldUpdateExecutor {
	return &FieldUpdateExecutor{mutator: mutator}
}

func (e *FieldUpdateExecutor) Kind() schema.StepKind { return schema.StepKindUpdateField }

func (e *FieldUpdateExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	cfg, err := parseConfig[schema.FieldUpdateConfig](ec.Step)
	if err != nil {
		return nil, err
	}
	if cfg.Field == "" || cfg.Value == nil {
		return nil, schema.NewError(schema.ErrCodeConfig,
			"update_field requires both field and value").WithStep(ec.Step.Key)
	}

	value := cfg.Value
	if s, ok := value.(string); ok {
		rendered, err := template.Render(s, template.ScopeFrom(ec.Context))
		if err != nil {
			return nil, wrapStepErr(err, ec.Step.Key)
		}
		value = rendered
	}

	err = e.mutator.UpdateField(ctx, records.FieldUpdate{
		RecordType: ec.RecordType,
		RecordID:   ec.RecordID,
		Field:      cfg.Field,
		Value:      value,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"field update failed: %s", err.Error()).
			WithStep(ec.Step.Key).WithCause(err)
	}

	if ec.Context != nil && ec.Context.Record != nil {
		ec.Context.Record[cfg.Field] = value
	}

	return &Result{Output: map[string]any{
		"field": cfg.Field,
		"value": value,
	}}, nil
}
