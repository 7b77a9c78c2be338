package conditions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practiq/automation/internal/expressions"
	"github.com/practiq/automation/pkg/schema"
)

func scopeWith(record map[string]any) *Scope {
	return &Scope{Record: record}
}

func TestMatch_Equals(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := context.Background()
	scope := scopeWith(map[string]any{"status": "lead", "score": float64(80)})

	tests := []struct {
		name string
		cond schema.Condition
		want bool
	}{
		{"string equal", schema.Condition{Field: "status", Operator: schema.OpEquals, Value: "lead"}, true},
		{"string not equal", schema.Condition{Field: "status", Operator: schema.OpEquals, Value: "customer"}, false},
		{"case sensitive", schema.Condition{Field: "status", Operator: schema.OpEquals, Value: "Lead"}, false},
		{"numeric equal across types", schema.Condition{Field: "score", Operator: schema.OpEquals, Value: 80}, true},
		{"numeric string equal", schema.Condition{Field: "score", Operator: schema.OpEquals, Value: "80"}, true},
		{"missing field vs empty", schema.Condition{Field: "missing", Operator: schema.OpEquals, Value: ""}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Match(ctx, tt.cond, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// equals and not_equals must be complements for every input.
func TestMatch_EqualsNotEqualsComplementary(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := context.Background()

	records := []map[string]any{
		{"f": "a"},
		{"f": float64(1)},
		{"f": nil},
		{},
		{"f": []any{"x"}},
	}
	values := []any{"a", float64(1), "", nil, "x"}

	for _, rec := range records {
		for _, val := range values {
			eq, err := e.Match(ctx, schema.Condition{Field: "f", Operator: schema.OpEquals, Value: val}, scopeWith(rec))
			require.NoError(t, err)
			ne, err := e.Match(ctx, schema.Condition{Field: "f", Operator: schema.OpNotEquals, Value: val}, scopeWith(rec))
			require.NoError(t, err)
			assert.NotEqual(t, eq, ne, "record=%v value=%v", rec, val)
		}
	}
}

func TestMatch_StringOperators(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := context.Background()
	scope := scopeWith(map[string]any{
		"email": "ada@example.com",
		"tags":  []any{"vip", "newsletter"},
	})

	tests := []struct {
		name string
		cond schema.Condition
		want bool
	}{
		{"contains substring", schema.Condition{Field: "email", Operator: schema.OpContains, Value: "@example"}, true},
		{"not contains", schema.Condition{Field: "email", Operator: schema.OpNotContains, Value: "@other"}, true},
		{"contains array member", schema.Condition{Field: "tags", Operator: schema.OpContains, Value: "vip"}, true},
		{"contains array miss", schema.Condition{Field: "tags", Operator: schema.OpContains, Value: "gold"}, false},
		{"starts_with", schema.Condition{Field: "email", Operator: schema.OpStartsWith, Value: "ada"}, true},
		{"ends_with", schema.Condition{Field: "email", Operator: schema.OpEndsWith, Value: ".com"}, true},
		{"starts_with case sensitive", schema.Condition{Field: "email", Operator: schema.OpStartsWith, Value: "Ada"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Match(ctx, tt.cond, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_Emptiness(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := context.Background()
	scope := scopeWith(map[string]any{
		"blank": "",
		"list":  []any{},
		"name":  "Ada",
	})

	tests := []struct {
		name string
		cond schema.Condition
		want bool
	}{
		{"empty string", schema.Condition{Field: "blank", Operator: schema.OpIsEmpty}, true},
		{"empty list", schema.Condition{Field: "list", Operator: schema.OpIsEmpty}, true},
		{"missing field", schema.Condition{Field: "missing", Operator: schema.OpIsEmpty}, true},
		{"non-empty", schema.Condition{Field: "name", Operator: schema.OpIsEmpty}, false},
		{"is_not_empty", schema.Condition{Field: "name", Operator: schema.OpIsNotEmpty}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Match(ctx, tt.cond, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_NumericComparisons(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := context.Background()
	scope := scopeWith(map[string]any{
		"score": float64(80),
		"note":  "not a number",
	})

	tests := []struct {
		name string
		cond schema.Condition
		want bool
	}{
		{"greater_than true", schema.Condition{Field: "score", Operator: schema.OpGreaterThan, Value: 50}, true},
		{"greater_than false", schema.Condition{Field: "score", Operator: schema.OpGreaterThan, Value: 90}, false},
		{"less_than", schema.Condition{Field: "score", Operator: schema.OpLessThan, Value: 90}, true},
		{"greater_or_equal boundary", schema.Condition{Field: "score", Operator: schema.OpGreaterOrEqual, Value: 80}, true},
		{"less_or_equal boundary", schema.Condition{Field: "score", Operator: schema.OpLessOrEqual, Value: 80}, true},
		{"numeric string field", schema.Condition{Field: "score", Operator: schema.OpGreaterThan, Value: "79"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Match(ctx, tt.cond, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	// Non-numeric operands coerce to NaN, and every NaN comparison is false.
	for _, op := range []schema.Operator{
		schema.OpGreaterThan, schema.OpLessThan,
		schema.OpGreaterOrEqual, schema.OpLessOrEqual,
	} {
		t.Run("NaN "+string(op), func(t *testing.T) {
			got, err := e.Match(ctx, schema.Condition{Field: "note", Operator: op, Value: 5}, scope)
			require.NoError(t, err)
			assert.False(t, got)
		})
	}
}

func TestMatch_ListMembership(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := context.Background()
	scope := scopeWith(map[string]any{"stage": "proposal"})

	in := schema.Condition{Field: "stage", Operator: schema.OpInList, Value: []any{"demo", "proposal"}}
	got, err := e.Match(ctx, in, scope)
	require.NoError(t, err)
	assert.True(t, got)

	notIn := schema.Condition{Field: "stage", Operator: schema.OpNotInList, Value: []any{"won", "lost"}}
	got, err = e.Match(ctx, notIn, scope)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestMatch_UnknownOperator(t *testing.T) {
	e := NewEvaluator(nil)
	_, err := e.Match(context.Background(), schema.Condition{Field: "x", Operator: "matches_regex"}, scopeWith(nil))
	require.Error(t, err)
}

func TestMatchList_Modes(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := context.Background()
	scope := scopeWith(map[string]any{"status": "lead", "score": float64(30)})

	conds := []schema.Condition{
		{Field: "status", Operator: schema.OpEquals, Value: "lead"},
		{Field: "score", Operator: schema.OpGreaterThan, Value: 50},
	}

	all, err := e.MatchList(ctx, conds, schema.MatchAll, scope)
	require.NoError(t, err)
	assert.False(t, all)

	any, err := e.MatchList(ctx, conds, schema.MatchAny, scope)
	require.NoError(t, err)
	assert.True(t, any)

	// Empty criteria match unconditionally.
	empty, err := e.MatchList(ctx, nil, schema.MatchAll, scope)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestMatchBranch_GroupModes(t *testing.T) {
	e := NewEvaluator(nil)
	ctx := context.Background()
	scope := scopeWith(map[string]any{"status": "lead", "score": float64(90), "region": "emea"})

	branch := schema.Branch{
		Key:       "hot_lead",
		MatchMode: schema.MatchAny,
		Groups: []schema.ConditionGroup{
			{
				MatchMode: schema.MatchAll,
				Conditions: []schema.Condition{
					{Field: "status", Operator: schema.OpEquals, Value: "lead"},
					{Field: "score", Operator: schema.OpGreaterOrEqual, Value: 80},
				},
			},
			{
				MatchMode: schema.MatchAll,
				Conditions: []schema.Condition{
					{Field: "region", Operator: schema.OpEquals, Value: "apac"},
				},
			},
		},
	}

	got, err := e.MatchBranch(ctx, branch, scope)
	require.NoError(t, err)
	assert.True(t, got)

	// A branch with no groups never matches on its own.
	got, err = e.MatchBranch(ctx, schema.Branch{Key: "default", Default: true}, scope)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestMatch_ExpressionCondition(t *testing.T) {
	engines, err := expressions.NewRegistry()
	require.NoError(t, err)
	e := NewEvaluator(engines)
	ctx := context.Background()

	scope := &Scope{
		Record:  map[string]any{"score": int64(90)},
		Trigger: map[string]any{"event_kind": "record_created"},
	}

	got, err := e.Match(ctx, schema.Condition{
		Expression: `record.score > 50 && trigger.event_kind == "record_created"`,
	}, scope)
	require.NoError(t, err)
	assert.True(t, got)

	// expr engine by name
	got, err = e.Match(ctx, schema.Condition{
		Engine:     "expr",
		Expression: `record.score > 50`,
	}, scope)
	require.NoError(t, err)
	assert.True(t, got)

	// Non-boolean result is a validation error.
	_, err = e.Match(ctx, schema.Condition{Expression: `record.score`}, scope)
	require.Error(t, err)
}
