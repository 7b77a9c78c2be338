package schema

// Operator is a comparison applied to one record field.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "not_contains"
	OpStartsWith     Operator = "starts_with"
	OpEndsWith       Operator = "ends_with"
	OpIsEmpty        Operator = "is_empty"
	OpIsNotEmpty     Operator = "is_not_empty"
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessOrEqual    Operator = "less_or_equal"
	OpInList         Operator = "in_list"
	OpNotInList      Operator = "not_in_list"
)

// MatchMode combines multiple conditions: "all" = AND, "any" = OR.
type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

// Condition is a boolean check against a record snapshot. The common form is
// a field/operator/value triple. Alternatively Expression holds a raw
// expression evaluated by the named Engine ("cel" default, "expr", "jq")
// against {record, trigger, steps}.
type Condition struct {
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`

	Expression string `json:"expression,omitempty"`
	Engine     string `json:"engine,omitempty"`
}

// ConditionGroup is one AND/OR group of conditions inside a branch.
type ConditionGroup struct {
	Conditions []Condition `json:"conditions"`
	MatchMode  MatchMode   `json:"match_mode,omitempty"` // default: all
}

// Branch is a named outcome of a decision (or multi-way) step. A branch
// matches when its groups satisfy its own match mode; the first matching
// branch in declaration order wins. A branch with no groups is a default
// branch and always matches.
type Branch struct {
	Key         string           `json:"key"`
	Groups      []ConditionGroup `json:"groups,omitempty"`
	MatchMode   MatchMode        `json:"match_mode,omitempty"` // across groups; default: all
	NextStepKey string           `json:"next_step_key,omitempty"`
	Default     bool             `json:"default,omitempty"`
}
