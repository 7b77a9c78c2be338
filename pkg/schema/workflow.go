package schema

import (
	"encoding/json"
	"time"
)

// WorkflowDefinition is an operator-authored automation: a trigger, entry
// criteria, and an ordered step graph. Definitions are immutable per version;
// the engine never mutates one mid-execution.
type WorkflowDefinition struct {
	ID              string          `json:"id"`
	Name            string          `json:"name,omitempty"`
	ObjectType      string          `json:"object_type"`
	TriggerType     TriggerType     `json:"trigger_type"`
	TriggerConfig   TriggerConfig   `json:"trigger_config,omitempty"`
	EntryCriteria   []Condition     `json:"entry_criteria,omitempty"`
	EntryMatchMode  MatchMode       `json:"entry_match_mode,omitempty"` // default: all
	ReentryMode     ReentryMode     `json:"reentry_mode,omitempty"`     // default: allow_all
	ReentryWaitDays int             `json:"reentry_wait_days,omitempty"`
	Active          bool            `json:"active"`
	EvaluationOrder int             `json:"evaluation_order,omitempty"` // lower runs first
	Steps           []*WorkflowStep `json:"steps,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// WorkflowStep is one node in a workflow's step graph, identified by a key
// unique within its workflow. Config is a kind-specific payload decoded by
// the matching executor (EmailConfig, WaitConfig, ...).
type WorkflowStep struct {
	Key         string          `json:"key"`
	Kind        StepKind        `json:"kind"`
	Config      json.RawMessage `json:"config,omitempty"`
	Condition   *Condition      `json:"condition,omitempty"` // legacy simple gating; false = skip, not fail
	Branches    []Branch        `json:"branches,omitempty"`
	NextStepKey string          `json:"next_step_key,omitempty"`
}

// StepKind enumerates the kinds of steps in a workflow.
type StepKind string

const (
	StepKindTrigger     StepKind = "trigger"
	StepKindSendEmail   StepKind = "send_email"
	StepKindSendSMS     StepKind = "send_sms"
	StepKindCreateTask  StepKind = "create_task"
	StepKindUpdateField StepKind = "update_field"
	StepKindWait        StepKind = "wait"
	StepKindDecision    StepKind = "decision"
	StepKindWebhook     StepKind = "webhook"
	StepKindEnd         StepKind = "end"
)

// TriggerType declares which record events a workflow reacts to.
type TriggerType string

const (
	TriggerRecordCreated TriggerType = "record_created"
	TriggerRecordUpdated TriggerType = "record_updated"
	TriggerFieldChange   TriggerType = "field_change"
	TriggerStageChange   TriggerType = "stage_change"
	TriggerSchedule      TriggerType = "schedule"
)

// TriggerConfig narrows a trigger beyond its type. For field/stage triggers,
// Field restricts matching to events that changed that field, and From/To
// restrict the previous/new values. Cron drives schedule triggers.
type TriggerConfig struct {
	Field string `json:"field,omitempty"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Cron  string `json:"cron,omitempty"`
}

// ReentryMode governs whether a record may start another execution of the
// same workflow while or after a prior one exists.
type ReentryMode string

const (
	ReentryAllowAll      ReentryMode = "allow_all"
	ReentryNone          ReentryMode = "no_reentry"
	ReentryAfterExit     ReentryMode = "after_exit"
	ReentryAfterWaitDays ReentryMode = "after_wait_days"
)

// --- Step kind configs ---
// One struct per step kind so each executor only sees the fields relevant to
// its kind; a step's raw Config is decoded into exactly one of these.

// EmailConfig configures a send_email step.
type EmailConfig struct {
	Recipient      string `json:"recipient,omitempty"`       // explicit address
	RecipientField string `json:"recipient_field,omitempty"` // record field holding the address
	FallbackField  string `json:"fallback_field,omitempty"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
}

// SMSConfig configures a send_sms step. ConsentField names the record field
// checked for opt-in; an opted-out recipient skips the step, it does not fail.
type SMSConfig struct {
	Recipient      string `json:"recipient,omitempty"` // explicit phone number
	RecipientField string `json:"recipient_field,omitempty"`
	FallbackField  string `json:"fallback_field,omitempty"`
	ConsentField   string `json:"consent_field,omitempty"` // default: sms_opt_in
	Body           string `json:"body"`
}

// TaskConfig configures a create_task step.
type TaskConfig struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	DueInDays   int    `json:"due_in_days,omitempty"`
}

// FieldUpdateConfig configures an update_field step. Both fields are required.
type FieldUpdateConfig struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// WaitConfig configures a wait step: either a relative offset (days/hours)
// or a named date field on the record.
type WaitConfig struct {
	Days      int    `json:"days,omitempty"`
	Hours     int    `json:"hours,omitempty"`
	DateField string `json:"date_field,omitempty"`
}

// DecisionConfig configures a decision step. Simple mode evaluates one
// condition and routes to the "true"/"false" branches; advanced mode walks
// the step's Branches in declaration order, first match wins.
type DecisionConfig struct {
	Mode      string     `json:"mode,omitempty"` // simple | advanced (default: simple)
	Condition *Condition `json:"condition,omitempty"`
}

// WebhookConfig configures a webhook step. Body and header values support
// {{field}} interpolation; OutputTransform is an optional jq program applied
// to the response before it is recorded as step output.
type WebhookConfig struct {
	URL             string            `json:"url"`
	Method          string            `json:"method,omitempty"` // default: POST
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	TimeoutSeconds  int               `json:"timeout_seconds,omitempty"`
	OutputTransform string            `json:"output_transform,omitempty"`
}

// FindStep returns the step with the given key, or nil.
func (d *WorkflowDefinition) FindStep(key string) *WorkflowStep {
	for _, s := range d.Steps {
		if s.Key == key {
			return s
		}
	}
	return nil
}
