package schema

import "time"

// EventKind classifies a record event emitted by the CRM record layer.
type EventKind string

const (
	EventCreate      EventKind = "create"
	EventUpdate      EventKind = "update"
	EventFieldChange EventKind = "field_change"
	EventStageChange EventKind = "stage_change"
	// EventSchedule marks executions fired by the scheduler rather than by a
	// record event.
	EventSchedule EventKind = "schedule"
)

// RecordEvent is the normalized event shape the engine consumes. Record is
// the snapshot at event time; the engine never queries CRM storage itself.
type RecordEvent struct {
	ObjectType     string         `json:"object_type"`
	Kind           EventKind      `json:"event_kind"`
	Record         map[string]any `json:"record"`
	PreviousValues map[string]any `json:"previous_values,omitempty"`
	ChangedFields  []string       `json:"changed_fields,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at,omitempty"`
}

// RecordID returns the event record's "id" field, or "" if absent.
func (e *RecordEvent) RecordID() string {
	if e.Record == nil {
		return ""
	}
	id, _ := e.Record["id"].(string)
	return id
}

// Changed reports whether the event lists the given field as changed.
func (e *RecordEvent) Changed(field string) bool {
	for _, f := range e.ChangedFields {
		if f == field {
			return true
		}
	}
	return false
}
