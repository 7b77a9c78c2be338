package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/practiq/automation/internal/store"
	"github.com/practiq/automation/pkg/schema"
)

// handleTrigger submits a record event for workflow evaluation.
func (s *AutomationServer) handleTrigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	objectType, err := req.RequireString("object_type")
	if err != nil {
		return mcp.NewToolResultError("object_type is required"), nil
	}
	eventKind, err := req.RequireString("event_kind")
	if err != nil {
		return mcp.NewToolResultError("event_kind is required"), nil
	}
	record := mcp.ParseStringMap(req, "record", nil)
	if record == nil {
		return mcp.NewToolResultError("record is required"), nil
	}

	event := &schema.RecordEvent{
		ObjectType:     objectType,
		Kind:           schema.EventKind(eventKind),
		Record:         record,
		PreviousValues: mcp.ParseStringMap(req, "previous_values", nil),
		ChangedFields:  extractStringSlice(req.GetArguments(), "changed_fields"),
		OccurredAt:     time.Now().UTC(),
	}

	ids, evalErr := s.engine.EvaluateEvent(ctx, event)
	if evalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event evaluation failed: %v", evalErr)), nil
	}

	s.logger.InfoContext(ctx, "event evaluated via tool call",
		slog.String("object_type", objectType),
		slog.Int("executions", len(ids)))

	if ids == nil {
		ids = []string{}
	}
	return marshalResult(map[string]any{
		"executions": ids,
		"matched":    len(ids),
	})
}

// handleDefine validates and stores a workflow definition.
func (s *AutomationServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	// Round-trip through JSON to get a typed WorkflowDefinition.
	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var def schema.WorkflowDefinition
	if unmarshalErr := json.Unmarshal(defBytes, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	if valErr := s.validator.ValidateDefinition(&def); valErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("definition rejected: %v", valErr)), nil
	}

	if storeErr := s.store.CreateDefinition(ctx, &def); storeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store definition: %v", storeErr)), nil
	}

	s.logger.InfoContext(ctx, "workflow defined via tool call", slog.String("workflow_id", def.ID))

	return marshalResult(map[string]any{
		"id":     def.ID,
		"active": def.Active,
		"steps":  len(def.Steps),
	})
}

// handleStatus returns an execution with its step audit trail.
func (s *AutomationServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, getErr := s.store.GetExecution(ctx, executionID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execution lookup failed: %v", getErr)), nil
	}

	steps, stepsErr := s.store.ListStepExecutions(ctx, executionID)
	if stepsErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("step lookup failed: %v", stepsErr)), nil
	}

	return marshalResult(map[string]any{
		"execution": exec,
		"steps":     steps,
	})
}

// handleCancel cancels a running or waiting execution.
func (s *AutomationServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	if cancelErr := s.engine.Cancel(ctx, executionID); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}

	s.logger.InfoContext(ctx, "execution cancelled via tool call", slog.String("execution_id", executionID))

	return marshalResult(map[string]any{
		"ok":           true,
		"execution_id": executionID,
		"status":       string(schema.ExecutionCancelled),
	})
}

// handleQuery lists workflow definitions or executions.
func (s *AutomationServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, filter)
	case "executions":
		return s.queryExecutions(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *AutomationServer) queryWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	df := store.DefinitionFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if objectType, ok := filter["object_type"].(string); ok {
		df.ObjectType = objectType
	}
	if triggerType, ok := filter["trigger_type"].(string); ok && triggerType != "" {
		tt := schema.TriggerType(triggerType)
		df.TriggerType = &tt
	}
	if active, ok := filter["active"].(bool); ok {
		df.Active = &active
	}

	defs, listErr := s.store.ListDefinitions(ctx, df)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", listErr)), nil
	}
	return marshalResult(map[string]any{"workflows": defs})
}

func (s *AutomationServer) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.ExecutionFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if workflowID, ok := filter["workflow_id"].(string); ok {
		ef.WorkflowID = workflowID
	}
	if recordID, ok := filter["record_id"].(string); ok {
		ef.RecordID = recordID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		es := schema.ExecutionStatus(status)
		ef.Status = &es
	}

	execs, listErr := s.store.ListExecutions(ctx, ef)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", listErr)), nil
	}
	return marshalResult(map[string]any{"executions": execs})
}

// --- Internal helpers ---

// extractInt pulls an int from a filter map, tolerating JSON float64 and
// string encodings.
func extractInt(m map[string]any, key string, defaultVal int) int {
	if m == nil {
		return defaultVal
	}
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// extractStringSlice pulls a []string out of raw tool arguments.
func extractStringSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
