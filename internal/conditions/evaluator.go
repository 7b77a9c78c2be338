package conditions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/practiq/automation/internal/expressions"
	"github.com/practiq/automation/pkg/schema"
)

// Scope carries the data a condition can see. Operator conditions read the
// record snapshot; expression conditions additionally see trigger metadata and
// completed step outputs.
type Scope struct {
	Record  map[string]any
	Trigger map[string]any
	Steps   map[string]any
}

// ScopeFrom builds a condition scope from an execution context.
func ScopeFrom(ec *schema.ExecutionContext) *Scope {
	if ec == nil {
		return &Scope{}
	}
	s := &Scope{Record: ec.Record}
	s.Trigger = map[string]any{
		"event_kind":      string(ec.Trigger.EventKind),
		"changed_fields":  toAnySlice(ec.Trigger.ChangedFields),
		"previous_values": ec.Trigger.PreviousValues,
	}
	if len(ec.StepResults) > 0 {
		s.Steps = make(map[string]any, len(ec.StepResults))
		for k, v := range ec.StepResults {
			s.Steps[k] = v
		}
	}
	return s
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Evaluator evaluates conditions, condition groups, and decision branches.
// Pure with respect to the record: evaluation never mutates the scope.
type Evaluator struct {
	engines *expressions.Registry
}

// NewEvaluator creates an Evaluator. The expression registry may be nil when
// only operator conditions are in play.
func NewEvaluator(engines *expressions.Registry) *Evaluator {
	return &Evaluator{engines: engines}
}

// Match evaluates a single condition against the scope.
func (e *Evaluator) Match(ctx context.Context, cond schema.Condition, scope *Scope) (bool, error) {
	if scope == nil {
		scope = &Scope{}
	}
	if cond.Expression != "" {
		return e.matchExpression(ctx, cond, scope)
	}
	return matchOperator(cond, scope.Record)
}

// MatchList evaluates a list of conditions combined by a match mode.
// An empty list matches unconditionally.
func (e *Evaluator) MatchList(ctx context.Context, conds []schema.Condition, mode schema.MatchMode, scope *Scope) (bool, error) {
	if len(conds) == 0 {
		return true, nil
	}
	for _, cond := range conds {
		ok, err := e.Match(ctx, cond, scope)
		if err != nil {
			return false, err
		}
		switch mode {
		case schema.MatchAny:
			if ok {
				return true, nil
			}
		default: // schema.MatchAll
			if !ok {
				return false, nil
			}
		}
	}
	return mode != schema.MatchAny, nil
}

// MatchGroup evaluates a condition group using the group's own match mode.
func (e *Evaluator) MatchGroup(ctx context.Context, group schema.ConditionGroup, scope *Scope) (bool, error) {
	return e.MatchList(ctx, group.Conditions, group.MatchMode, scope)
}

// MatchBranch evaluates a branch: its groups combined by the branch's match
// mode. A branch with no groups only matches when it is the default.
func (e *Evaluator) MatchBranch(ctx context.Context, branch schema.Branch, scope *Scope) (bool, error) {
	if len(branch.Groups) == 0 {
		return false, nil
	}
	for _, group := range branch.Groups {
		ok, err := e.MatchGroup(ctx, group, scope)
		if err != nil {
			return false, err
		}
		switch branch.MatchMode {
		case schema.MatchAny:
			if ok {
				return true, nil
			}
		default:
			if !ok {
				return false, nil
			}
		}
	}
	return branch.MatchMode != schema.MatchAny, nil
}

// matchExpression delegates to the named expression engine and requires a
// boolean result.
func (e *Evaluator) matchExpression(ctx context.Context, cond schema.Condition, scope *Scope) (bool, error) {
	if e.engines == nil {
		return false, schema.NewError(schema.ErrCodeConfig, "expression condition but no expression engines configured")
	}
	engine, err := e.engines.ForName(cond.Engine)
	if err != nil {
		return false, err
	}
	data := map[string]any{
		"record":  scope.Record,
		"trigger": scope.Trigger,
		"steps":   scope.Steps,
	}
	out, err := engine.Evaluate(ctx, cond.Expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition expression %q returned %T, want bool", cond.Expression, out)
	}
	return b, nil
}

// matchOperator evaluates a field/operator/value triple against the record.
func matchOperator(cond schema.Condition, record map[string]any) (bool, error) {
	var fieldVal any
	if record != nil {
		fieldVal = record[cond.Field]
	}

	switch cond.Operator {
	case schema.OpEquals:
		return looseEquals(fieldVal, cond.Value), nil
	case schema.OpNotEquals:
		return !looseEquals(fieldVal, cond.Value), nil
	case schema.OpContains:
		return contains(fieldVal, cond.Value), nil
	case schema.OpNotContains:
		return !contains(fieldVal, cond.Value), nil
	case schema.OpStartsWith:
		return strings.HasPrefix(toString(fieldVal), toString(cond.Value)), nil
	case schema.OpEndsWith:
		return strings.HasSuffix(toString(fieldVal), toString(cond.Value)), nil
	case schema.OpIsEmpty:
		return isEmpty(fieldVal), nil
	case schema.OpIsNotEmpty:
		return !isEmpty(fieldVal), nil
	case schema.OpGreaterThan:
		return numericCompare(fieldVal, cond.Value, func(a, b float64) bool { return a > b }), nil
	case schema.OpLessThan:
		return numericCompare(fieldVal, cond.Value, func(a, b float64) bool { return a < b }), nil
	case schema.OpGreaterOrEqual:
		return numericCompare(fieldVal, cond.Value, func(a, b float64) bool { return a >= b }), nil
	case schema.OpLessOrEqual:
		return numericCompare(fieldVal, cond.Value, func(a, b float64) bool { return a <= b }), nil
	case schema.OpInList:
		return inList(fieldVal, cond.Value), nil
	case schema.OpNotInList:
		return !inList(fieldVal, cond.Value), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown operator %q on field %q", cond.Operator, cond.Field)
	}
}

// looseEquals compares numerically when both sides are numbers, otherwise by
// case-sensitive string form.
func looseEquals(a, b any) bool {
	na, aOK := toNumber(a)
	nb, bOK := toNumber(b)
	if aOK && bOK {
		return na == nb
	}
	return toString(a) == toString(b)
}

// contains does a substring check on strings and a membership check on arrays.
func contains(fieldVal, needle any) bool {
	if list, ok := fieldVal.([]any); ok {
		for _, item := range list {
			if looseEquals(item, needle) {
				return true
			}
		}
		return false
	}
	return strings.Contains(toString(fieldVal), toString(needle))
}

// inList checks membership of the field value in the configured list.
func inList(fieldVal, listVal any) bool {
	list, ok := listVal.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if looseEquals(fieldVal, item) {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// numericCompare coerces both sides to numbers. Anything non-numeric becomes
// NaN, and NaN comparisons are false by definition, so a comparison against a
// non-numeric value never matches.
func numericCompare(a, b any, cmp func(a, b float64) bool) bool {
	na, ok := toNumber(a)
	if !ok {
		na = math.NaN()
	}
	nb, ok := toNumber(b)
	if !ok {
		nb = math.NaN()
	}
	return cmp(na, nb)
}

func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
