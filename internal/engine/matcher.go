package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/practiq/automation/internal/conditions"
	"github.com/practiq/automation/pkg/schema"
)

// triggerEventKinds maps a declared trigger type to the event kinds it
// accepts. The mapping deliberately widens: upstream systems do not always
// emit the most specific event kind, so a stage_change trigger also accepts
// plain field_change and update events (TriggerConfig narrows further when
// precision matters).
var triggerEventKinds = map[schema.TriggerType][]schema.EventKind{
	schema.TriggerRecordCreated: {schema.EventCreate},
	schema.TriggerRecordUpdated: {schema.EventUpdate, schema.EventFieldChange, schema.EventStageChange},
	schema.TriggerFieldChange:   {schema.EventFieldChange, schema.EventStageChange, schema.EventUpdate},
	schema.TriggerStageChange:   {schema.EventStageChange, schema.EventFieldChange, schema.EventUpdate},
	// schedule triggers fire from the scheduler, never from record events.
	schema.TriggerSchedule: {},
}

// TriggerAccepts reports whether a trigger type accepts an event kind.
func TriggerAccepts(trigger schema.TriggerType, kind schema.EventKind) bool {
	for _, k := range triggerEventKinds[trigger] {
		if k == kind {
			return true
		}
	}
	return false
}

// Matcher selects the active workflow definitions a record event may enter.
// Pure over the event and the definitions snapshot it is given.
type Matcher struct {
	evaluator *conditions.Evaluator
}

// NewMatcher creates a Matcher.
func NewMatcher(evaluator *conditions.Evaluator) *Matcher {
	return &Matcher{evaluator: evaluator}
}

// Match returns the definitions the event enters, ordered by evaluation order
// ascending with creation time as the stable tie-break.
func (m *Matcher) Match(ctx context.Context, event *schema.RecordEvent, defs []*schema.WorkflowDefinition) ([]*schema.WorkflowDefinition, error) {
	var matched []*schema.WorkflowDefinition

	for _, def := range defs {
		ok, err := m.matches(ctx, event, def)
		if err != nil {
			return nil, fmt.Errorf("match workflow %s: %w", def.ID, err)
		}
		if ok {
			matched = append(matched, def)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].EvaluationOrder != matched[j].EvaluationOrder {
			return matched[i].EvaluationOrder < matched[j].EvaluationOrder
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	return matched, nil
}

func (m *Matcher) matches(ctx context.Context, event *schema.RecordEvent, def *schema.WorkflowDefinition) (bool, error) {
	if !def.Active || def.ObjectType != event.ObjectType {
		return false, nil
	}
	if !TriggerAccepts(def.TriggerType, event.Kind) {
		return false, nil
	}
	if !triggerConfigMatches(event, def) {
		return false, nil
	}

	// Empty entry criteria match unconditionally.
	if len(def.EntryCriteria) == 0 {
		return true, nil
	}

	scope := &conditions.Scope{Record: event.Record}
	return m.evaluator.MatchList(ctx, def.EntryCriteria, def.EntryMatchMode, scope)
}

// triggerConfigMatches applies the optional field/from/to narrowing for field
// and stage triggers.
func triggerConfigMatches(event *schema.RecordEvent, def *schema.WorkflowDefinition) bool {
	cfg := def.TriggerConfig
	if cfg.Field == "" {
		return true
	}

	// Field-scoped triggers require the event to have changed that field,
	// except on create events where everything counts as changed.
	if event.Kind != schema.EventCreate && len(event.ChangedFields) > 0 && !event.Changed(cfg.Field) {
		return false
	}

	if cfg.From != "" {
		prev, _ := event.PreviousValues[cfg.Field].(string)
		if prev != cfg.From {
			return false
		}
	}
	if cfg.To != "" {
		cur := ""
		if event.Record != nil {
			cur, _ = event.Record[cfg.Field].(string)
		}
		if cur != cfg.To {
			return false
		}
	}
	return true
}
