package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Gateway is the part of the gateway client the MCP tools use.
type Gateway interface {
	Health(ctx context.Context) error
	FileStructure(ctx context.Context) (json.RawMessage, error)
	FileContent(ctx context.Context, paths []string) (json.RawMessage, error)
}

// MCPServer exposes a CodeQuery gateway to AI agents as MCP tools. Every
// call goes through the gateway, so admission and rate limits apply to
// the configured key.
type MCPServer struct {
	gateway    Gateway
	gatewayURL string
	logger     *slog.Logger
	server     *server.MCPServer
}

// NewMCPServer creates an MCPServer with the file tools registered.
func NewMCPServer(gateway Gateway, gatewayURL, version string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		gateway:    gateway,
		gatewayURL: gatewayURL,
		logger:     logger,
	}

	mcpServer := server.NewMCPServer(
		"CodeQuery Gateway",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go server.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout, for clients that launch the
// server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode", "gateway", s.gatewayURL)
	return server.ServeStdio(s.server)
}

// ServeHTTP serves MCP in Streamable HTTP mode on addr (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr, "gateway", s.gatewayURL)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
