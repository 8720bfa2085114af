// Package mcp exposes the task control surface as Model Context Protocol
// tools served over streamable HTTP.
package mcp

import (
	"context"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
)

// TaskControl is the subset of the task service the tools call.
type TaskControl interface {
	Enqueue(ctx context.Context, req *task.CreateRequest) (*task.Task, error)
	Status(ctx context.Context, id int64) (*task.StatusView, error)
	Cancel(ctx context.Context, id int64) error
	List(ctx context.Context, filter task.ListFilter) ([]task.Task, error)
}

// ServerConfig names the server in the MCP handshake.
type ServerConfig struct {
	Name    string
	Version string
}

// ServerDeps holds the services backing the tools. A nil dependency makes
// its tools report an error result.
type ServerDeps struct {
	Tasks TaskControl
}

// Server wraps an mcp-go server with the task tools registered.
type Server struct {
	mcpServer *mcpserver.MCPServer
	deps      ServerDeps
}

// NewServer creates the MCP server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithResourceCapabilities(false, false),
		),
		deps: deps,
	}
	s.registerTools()
	s.registerResources()
	slog.Info("mcp server configured", "name", cfg.Name, "tools", len(s.mcpServer.ListTools()))
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP transport, mounted at /mcp.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer, mcpserver.WithStateLess(true))
}
