package schema

import "time"

// TriggerInfo is the event metadata captured into the execution context when
// an execution is created.
type TriggerInfo struct {
	EventKind      EventKind      `json:"event_kind"`
	ChangedFields  []string       `json:"changed_fields,omitempty"`
	PreviousValues map[string]any `json:"previous_values,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at,omitempty"`
}

// ExecutionContext is the data threaded through a running execution: trigger
// metadata, the record snapshot, and accumulated per-step outputs. The engine
// owns it exclusively while the execution runs; step executors read it and
// append their own output, never delete prior entries.
type ExecutionContext struct {
	Trigger     TriggerInfo               `json:"trigger"`
	Record      map[string]any            `json:"record"`
	StepResults map[string]map[string]any `json:"step_results,omitempty"`
}

// AppendStepResult records a step's output under its key. Outputs are
// append-only per step key: the first write wins, later writes are merged in
// without overwriting existing entries.
func (c *ExecutionContext) AppendStepResult(stepKey string, output map[string]any) {
	if len(output) == 0 {
		return
	}
	if c.StepResults == nil {
		c.StepResults = make(map[string]map[string]any)
	}
	existing, ok := c.StepResults[stepKey]
	if !ok {
		c.StepResults[stepKey] = output
		return
	}
	for k, v := range output {
		if _, dup := existing[k]; !dup {
			existing[k] = v
		}
	}
}

// StepResult returns the recorded output for a step key, or nil.
func (c *ExecutionContext) StepResult(stepKey string) map[string]any {
	if c.StepResults == nil {
		return nil
	}
	return c.StepResults[stepKey]
}
