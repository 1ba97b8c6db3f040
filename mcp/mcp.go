package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
)

type Server interface {
	Run() error
}

type MCPServer struct {
	*server.MCPServer
}

func NewMCPServer() *MCPServer {
	return &MCPServer{MCPServer: server.NewMCPServer("robobus", "1.0.0", server.WithToolCapabilities(false))}
}

// Run serves tools over stdin/stdout until stdin closes or the process is
// signalled.
func (s *MCPServer) Run() error {
	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	return server.ServeStdio(s.MCPServer)
}
