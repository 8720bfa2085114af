package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.enqueueTaskTool(),
		s.taskStatusTool(),
		s.cancelTaskTool(),
	)
}

func (s *Server) enqueueTaskTool() mcpserver.ServerTool {
	types := make([]string, len(task.Types))
	for i, t := range task.Types {
		types[i] = string(t)
	}
	tool := mcplib.NewTool("enqueue_task",
		mcplib.WithDescription("Enqueue a batch export or processing task over bookings, payments, users or services"),
		mcplib.WithString("type",
			mcplib.Required(),
			mcplib.Description("Task type"),
			mcplib.Enum(types...),
		),
		mcplib.WithNumber("batch_size",
			mcplib.Required(),
			mcplib.Description("Records per batch"),
			mcplib.Min(task.MinBatchSize),
			mcplib.Max(task.MaxBatchSize),
		),
		mcplib.WithObject("filters",
			mcplib.Description("Filter keys of the task's source, e.g. {\"status\":\"confirmed\"}"),
		),
		mcplib.WithString("date_from",
			mcplib.Description("Lower creation bound, RFC 3339 or YYYY-MM-DD, inclusive"),
		),
		mcplib.WithString("date_to",
			mcplib.Description("Upper creation bound, RFC 3339 or YYYY-MM-DD, inclusive"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleEnqueueTask}
}

func (s *Server) taskStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("task_status",
		mcplib.WithDescription("Get progress, ETA and result of a task"),
		mcplib.WithNumber("task_id",
			mcplib.Required(),
			mcplib.Description("The task ID"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleTaskStatus}
}

func (s *Server) cancelTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("cancel_task",
		mcplib.WithDescription("Request cancellation of a pending or running task"),
		mcplib.WithNumber("task_id",
			mcplib.Required(),
			mcplib.Description("The task ID"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCancelTask}
}

func (s *Server) handleEnqueueTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	size := mcplib.ParseFloat64(req, "batch_size", 0)
	if size != math.Trunc(size) {
		return mcplib.NewToolResultError("batch_size must be an integer"), nil
	}

	cr := &task.CreateRequest{
		Type:      task.Type(mcplib.ParseString(req, "type", "")),
		BatchSize: int(size),
		CreatedBy: "mcp",
	}
	if raw, ok := req.GetArguments()["filters"]; ok && raw != nil {
		filters, ok := raw.(map[string]any)
		if !ok {
			return mcplib.NewToolResultError("filters must be an object"), nil
		}
		cr.Filters = filters
	}
	from := mcplib.ParseString(req, "date_from", "")
	to := mcplib.ParseString(req, "date_to", "")
	if from != "" || to != "" {
		cr.DateWindow = &task.WindowInput{From: from, To: to}
	}

	t, err := s.deps.Tasks.Enqueue(ctx, cr)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to enqueue task", err), nil
	}
	return toolResultJSON(map[string]any{"task_id": t.ID, "task": t})
}

func (s *Server) handleTaskStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	id, ok := taskIDArg(req)
	if !ok {
		return mcplib.NewToolResultError("task_id must be a positive integer"), nil
	}
	v, err := s.deps.Tasks.Status(ctx, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get task %d", id), err), nil
	}
	return toolResultJSON(v)
}

func (s *Server) handleCancelTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	id, ok := taskIDArg(req)
	if !ok {
		return mcplib.NewToolResultError("task_id must be a positive integer"), nil
	}
	if err := s.deps.Tasks.Cancel(ctx, id); err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to cancel task %d", id), err), nil
	}
	return toolResultJSON(map[string]any{"task_id": id, "status": "cancellation_requested"})
}

// taskIDArg reads task_id; JSON numbers arrive as float64.
func taskIDArg(req mcplib.CallToolRequest) (int64, bool) { //nolint:gocritic // hugeParam: mcp-go request type
	f := mcplib.ParseFloat64(req, "task_id", 0)
	if f <= 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
