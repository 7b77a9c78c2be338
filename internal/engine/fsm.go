package engine

import (
	"github.com/practiq/automation/pkg/schema"
)

// ValidExecutionTransitions defines the allowed execution status transitions.
// running and waiting oscillate; the three terminals admit nothing further.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionRunning: {schema.ExecutionWaiting, schema.ExecutionCompleted, schema.ExecutionFailed, schema.ExecutionCancelled},
	schema.ExecutionWaiting: {schema.ExecutionRunning, schema.ExecutionFailed, schema.ExecutionCancelled},
	schema.ExecutionCompleted: {},
	schema.ExecutionFailed:    {},
	schema.ExecutionCancelled: {},
}

// ValidStepTransitions defines the allowed step status transitions.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepPending:   {schema.StepRunning, schema.StepSkipped},
	schema.StepRunning:   {schema.StepCompleted, schema.StepFailed, schema.StepSkipped},
	schema.StepCompleted: {},
	schema.StepFailed:    {},
	schema.StepSkipped:   {},
}

// CanTransition reports whether from -> to is an allowed execution transition.
func CanTransition(from, to schema.ExecutionStatus) bool {
	for _, a := range ValidExecutionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// Transition validates an execution status transition, returning an
// INVALID_TRANSITION error when the move is not allowed.
func Transition(executionID string, from, to schema.ExecutionStatus) error {
	if !CanTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}
	return nil
}

// CanTransitionStep reports whether from -> to is an allowed step transition.
func CanTransitionStep(from, to schema.StepStatus) bool {
	for _, a := range ValidStepTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// TransitionStep validates a step status transition.
func TransitionStep(stepKey string, from, to schema.StepStatus) error {
	if !CanTransitionStep(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", from, to).
			WithStep(stepKey).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	return nil
}
