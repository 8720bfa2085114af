package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
)

const recentTasksURI = "banister://tasks/recent"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			recentTasksURI,
			"Recent Tasks",
			mcplib.WithResourceDescription("The most recent batch tasks, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentTasksResource,
	)
}

func (s *Server) handleRecentTasksResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	text := `{"error":"task service not configured"}`
	if s.deps.Tasks != nil {
		tasks, err := s.deps.Tasks.List(ctx, task.ListFilter{})
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(tasks)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
