package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/practiq/automation/internal/store"
	"github.com/practiq/automation/internal/validation"
	"github.com/practiq/automation/pkg/schema"
)

// EventEngine is the slice of the execution engine the tool handlers drive.
type EventEngine interface {
	EvaluateEvent(ctx context.Context, event *schema.RecordEvent) ([]string, error)
	Cancel(ctx context.Context, executionID string) error
}

// AutomationServerDeps holds the dependencies for creating an AutomationServer.
type AutomationServerDeps struct {
	Engine    EventEngine
	Store     store.Store
	Validator validation.Validator
	Logger    *slog.Logger
}

// AutomationServer wraps an MCP server with workflow-automation tool handlers.
type AutomationServer struct {
	engine    EventEngine
	store     store.Store
	validator validation.Validator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewAutomationServer creates an AutomationServer with all 5 tools registered.
func NewAutomationServer(deps AutomationServerDeps) *AutomationServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &AutomationServer{
		engine:    deps.Engine,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"practiq-automation",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Workflow automation engine for CRM records. Use automation.trigger to submit a record event, automation.define to register a workflow, automation.status to inspect an execution, automation.cancel to stop one, and automation.query to list workflows or executions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *AutomationServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AutomationServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *AutomationServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: triggerTool(), Handler: s.handleTrigger},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func triggerTool() mcp.Tool {
	return mcp.NewTool("automation.trigger",
		mcp.WithDescription("Submit a CRM record event for workflow evaluation"),
		mcp.WithString("object_type", mcp.Required(), mcp.Description("Record type the event concerns (e.g. lead, contact, deal)")),
		mcp.WithString("event_kind", mcp.Required(),
			mcp.Enum("create", "update", "field_change", "stage_change"),
			mcp.Description("Kind of record event"),
		),
		mcp.WithObject("record", mcp.Required(), mcp.Description("Record snapshot at event time; must include an 'id' field")),
		mcp.WithArray("changed_fields", mcp.Description("Field names this event changed")),
		mcp.WithObject("previous_values", mcp.Description("Prior values of the changed fields")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("automation.define",
		mcp.WithDescription("Validate and register a workflow definition"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object (id, object_type, trigger_type, steps, ...)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("automation.status",
		mcp.WithDescription("Get an execution's status and step audit trail"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to inspect")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("automation.cancel",
		mcp.WithDescription("Cancel a running or waiting execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to cancel")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("automation.query",
		mcp.WithDescription("List workflow definitions or executions"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "executions"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (object_type, trigger_type, active, workflow_id, record_id, status, limit)")),
	)
}
