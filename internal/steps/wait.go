package steps

import (
	"context"
	"time"

	"github.com/practiq/automation/pkg/schema"
)

// WaitExecutor computes an absolute resume timestamp and suspends the
// execution until then. The offset comes from a relative days/hours pair or
// from a named date field on the record.
type WaitExecutor struct{}

func (e *WaitExecutor) Kind() schema.StepKind { return schema.StepKindWait }

// dateLayouts are the record date formats accepted for date_field waits.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (e *WaitExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	cfg, err := parseConfig[schema.WaitConfig](ec.Step)
	if err != nil {
		return nil, err
	}

	now := ec.Clock()

	if cfg.DateField != "" {
		until, err := resumeFromField(ec, cfg.DateField)
		if err != nil {
			return nil, err
		}
		return waitResult(until, now), nil
	}

	if cfg.Days <= 0 && cfg.Hours <= 0 {
		return nil, schema.NewError(schema.ErrCodeConfig,
			"wait requires days, hours, or a date_field").WithStep(ec.Step.Key)
	}

	until := now.
		Add(time.Duration(cfg.Days) * 24 * time.Hour).
		Add(time.Duration(cfg.Hours) * time.Hour)
	return waitResult(until, now), nil
}

// waitResult suspends until the target, or continues immediately when the
// target is already past.
func waitResult(until, now time.Time) *Result {
	output := map[string]any{"resume_at": until.Format(time.RFC3339)}
	if !until.After(now) {
		return &Result{Output: output}
	}
	return &Result{Output: output, WaitUntil: &until}
}

// resumeFromField reads and parses the named date field off the record.
// An absent or unparseable field is a step failure.
func resumeFromField(ec *ExecContext, field string) (time.Time, error) {
	var raw any
	if ec.Context != nil && ec.Context.Record != nil {
		raw = ec.Context.Record[field]
	}
	if raw == nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeExecution,
			"wait date field %q is absent on the record", field).WithStep(ec.Step.Key)
	}

	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		if v == "" {
			return time.Time{}, schema.NewErrorf(schema.ErrCodeExecution,
				"wait date field %q is empty", field).WithStep(ec.Step.Key)
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, schema.NewErrorf(schema.ErrCodeExecution,
			"wait date field %q has unparseable value %q", field, v).WithStep(ec.Step.Key)
	default:
		return time.Time{}, schema.NewErrorf(schema.ErrCodeExecution,
			"wait date field %q has non-date value of type %T", field, raw).WithStep(ec.Step.Key)
	}
}
