package validation

import (
	"fmt"

	"github.com/practiq/automation/pkg/schema"
)

// validateGraph analyzes the step graph: reachability from the trigger step
// (BFS) and cycle detection (Kahn's algorithm). Cycles are allowed when a
// decision step participates, since it can route out of the loop; a cycle
// with no decision step can never terminate and is an error.
func validateGraph(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepKeys := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		stepKeys[s.Key] = true
	}

	// edges[key] = steps reachable in one hop from key.
	edges := make(map[string][]string, len(def.Steps))
	for _, s := range def.Steps {
		seen := make(map[string]bool)
		add := func(target string) {
			if target == "" || !stepKeys[target] || seen[target] {
				return
			}
			seen[target] = true
			edges[s.Key] = append(edges[s.Key], target)
		}
		add(s.NextStepKey)
		for _, b := range s.Branches {
			add(b.NextStepKey)
		}
	}

	// Reachability: BFS from the trigger step.
	reachable := map[string]bool{"trigger": true}
	queue := []string{"trigger"}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range edges[node] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, s := range def.Steps {
		if !reachable[s.Key] {
			result.AddWarning(fmt.Sprintf("steps[%s]", s.Key), schema.ErrCodeValidation,
				fmt.Sprintf("step %q is unreachable from the trigger step", s.Key))
		}
	}

	// Kahn's algorithm: nodes left unvisited sit on a cycle.
	inDegree := make(map[string]int, len(def.Steps))
	for key := range stepKeys {
		inDegree[key] = 0
	}
	for _, targets := range edges {
		for _, t := range targets {
			inDegree[t]++
		}
	}

	queue = queue[:0]
	for key, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, key)
		}
	}
	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range edges[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(stepKeys) {
		// Residual nodes form the cycle(s). A decision step among them can
		// break out; anything else loops until the step ceiling trips.
		hasDecision := false
		for _, s := range def.Steps {
			if inDegree[s.Key] > 0 && s.Kind == schema.StepKindDecision {
				hasDecision = true
				break
			}
		}
		if hasDecision {
			result.AddWarning("steps", schema.ErrCodeValidation,
				"step graph contains a cycle; the decision step must eventually route out of it")
		} else {
			result.AddError("steps", schema.ErrCodeValidation,
				"step graph contains a cycle with no decision step to exit it")
		}
	}

	return result
}
