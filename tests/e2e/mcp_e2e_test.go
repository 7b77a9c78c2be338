package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	autmcp "github.com/practiq/automation/pkg/mcp"
	"github.com/practiq/automation/pkg/schema"
)

func newMCPEnv(t *testing.T) (*testEnv, *autmcp.AutomationServer) {
	t.Helper()
	env := newTestEnv(t)
	srv := autmcp.NewAutomationServer(autmcp.AutomationServerDeps{
		Engine:    env.engine,
		Store:     env.store,
		Validator: env.validator,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return env, srv
}

// callTool drives a tool through the server's full JSON-RPC round-trip.
func callTool(t *testing.T, srv *autmcp.AutomationServer, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	mcpSrv := srv.MCPServer()

	initMsg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      0,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "e2e-test", "version": "1.0.0"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, mcpSrv.HandleMessage(ctx, initMsg))

	callMsg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": toolName, "arguments": args},
	})
	require.NoError(t, err)
	resp := mcpSrv.HandleMessage(ctx, callMsg)
	require.NotNil(t, resp)

	respBytes, err := json.Marshal(resp)
	require.NoError(t, err)

	var rpcResp struct {
		Result *mcp.CallToolResult `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))
	if rpcResp.Error != nil {
		t.Fatalf("JSON-RPC error: code=%d, msg=%s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	require.NotNil(t, rpcResp.Result)
	return rpcResp.Result
}

// resultJSON parses the text content of a tool result as JSON.
func resultJSON(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text := mcp.GetTextFromContent(result.Content[0])
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func onboardingDefinition(id string) map[string]any {
	return map[string]any{
		"id":           id,
		"name":         "onboarding " + id,
		"object_type":  "contact",
		"trigger_type": "record_created",
		"active":       true,
		"steps": []any{
			map[string]any{"key": "trigger", "kind": "trigger", "next_step_key": "send_email"},
			map[string]any{
				"key":  "send_email",
				"kind": "send_email",
				"config": map[string]any{
					"recipient_field": "email",
					"subject":         "Welcome {{name}}",
					"body":            "Glad to have you, {{name}}.",
				},
				"next_step_key": "end",
			},
			map[string]any{"key": "end", "kind": "end"},
		},
	}
}

// Define a workflow, trigger it with a record event, inspect the execution,
// and query it back, all through the tool surface.
func TestMCPDefineTriggerStatusQuery(t *testing.T) {
	env, srv := newMCPEnv(t)

	res := callTool(t, srv, "automation.define", map[string]any{
		"definition": onboardingDefinition("wf-mcp"),
	})
	require.False(t, res.IsError)
	var defined struct {
		ID     string `json:"id"`
		Active bool   `json:"active"`
	}
	resultJSON(t, res, &defined)
	assert.Equal(t, "wf-mcp", defined.ID)
	assert.True(t, defined.Active)

	res = callTool(t, srv, "automation.trigger", map[string]any{
		"object_type": "contact",
		"event_kind":  "create",
		"record":      map[string]any{"id": "C5", "name": "Ada", "email": "ada@example.com"},
	})
	require.False(t, res.IsError)
	var triggered struct {
		Executions []string `json:"executions"`
		Matched    int      `json:"matched"`
	}
	resultJSON(t, res, &triggered)
	require.Len(t, triggered.Executions, 1)
	assert.Equal(t, 1, triggered.Matched)

	res = callTool(t, srv, "automation.status", map[string]any{
		"execution_id": triggered.Executions[0],
	})
	require.False(t, res.IsError)
	var status struct {
		Execution struct {
			Status string `json:"status"`
		} `json:"execution"`
		Steps []struct {
			StepKey string `json:"step_key"`
			Status  string `json:"status"`
		} `json:"steps"`
	}
	resultJSON(t, res, &status)
	assert.Equal(t, "completed", status.Execution.Status)
	require.Len(t, status.Steps, 2)
	assert.Equal(t, "trigger", status.Steps[0].StepKey)
	assert.Equal(t, "send_email", status.Steps[1].StepKey)

	sent := env.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Welcome Ada", sent[0].Subject)

	res = callTool(t, srv, "automation.query", map[string]any{
		"resource": "executions",
		"filter":   map[string]any{"workflow_id": "wf-mcp"},
	})
	require.False(t, res.IsError)
	var queried struct {
		Executions []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"executions"`
	}
	resultJSON(t, res, &queried)
	require.Len(t, queried.Executions, 1)
	assert.Equal(t, triggered.Executions[0], queried.Executions[0].ID)
}

// An invalid definition comes back as a tool error, not a transport error.
func TestMCPDefineRejectsBadDefinition(t *testing.T) {
	_, srv := newMCPEnv(t)

	def := onboardingDefinition("wf-bad")
	steps := def["steps"].([]any)
	steps[0].(map[string]any)["next_step_key"] = "nowhere"

	res := callTool(t, srv, "automation.define", map[string]any{"definition": def})
	assert.True(t, res.IsError)
}

// Cancelling through the tool surface lands the execution in cancelled.
func TestMCPCancelWaitingExecution(t *testing.T) {
	env, srv := newMCPEnv(t)

	def := onboardingDefinition("wf-mcp-wait")
	def["steps"] = []any{
		map[string]any{"key": "trigger", "kind": "trigger", "next_step_key": "cool_off"},
		map[string]any{
			"key":           "cool_off",
			"kind":          "wait",
			"config":        map[string]any{"days": 3},
			"next_step_key": "end",
		},
		map[string]any{"key": "end", "kind": "end"},
	}
	res := callTool(t, srv, "automation.define", map[string]any{"definition": def})
	require.False(t, res.IsError)

	res = callTool(t, srv, "automation.trigger", map[string]any{
		"object_type": "contact",
		"event_kind":  "create",
		"record":      map[string]any{"id": "C9"},
	})
	require.False(t, res.IsError)
	var triggered struct {
		Executions []string `json:"executions"`
	}
	resultJSON(t, res, &triggered)
	require.Len(t, triggered.Executions, 1)
	id := triggered.Executions[0]

	require.Equal(t, schema.ExecutionWaiting, env.getExecution(t, id).Status)

	res = callTool(t, srv, "automation.cancel", map[string]any{"execution_id": id})
	require.False(t, res.IsError)
	assert.Equal(t, schema.ExecutionCancelled, env.getExecution(t, id).Status)

	// A second cancel is rejected at the tool level.
	res = callTool(t, srv, "automation.cancel", map[string]any{"execution_id": id})
	assert.True(t, res.IsError)
}
