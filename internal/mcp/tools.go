package mcp

import (
	"context"
	"errors"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/codequerydev/codequery/internal/client"
)

const (
	toolFileStructure = "codequery_file_structure"
	toolFileContent   = "codequery_file_content"
)

func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool(toolFileStructure,
			mcp.WithDescription(
				"Get the directory and file structure of the codebase served by the "+
					"CodeQuery backend registered for this API key. Use this first to "+
					"find the paths to pass to "+toolFileContent+".",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleFileStructure,
	)

	srv.AddTool(
		mcp.NewTool(toolFileContent,
			mcp.WithDescription(
				"Read the contents of one or more files from the codebase. Paths are "+
					"relative to the project root as returned by "+toolFileStructure+".",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithArray("file_paths",
				mcp.Required(),
				mcp.Description("Paths of the files to read"),
				mcp.WithStringItems(),
			),
		),
		s.handleFileContent,
	)
}

func (s *MCPServer) handleFileStructure(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	raw, err := s.gateway.FileStructure(ctx)
	if err != nil {
		return gatewayError("Failed to get file structure", err)
	}
	return successRaw(raw)
}

func (s *MCPServer) handleFileContent(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	paths := stringSlice(request, "file_paths")
	if len(paths) == 0 {
		return toolError("file_paths must list at least one file. Call %s to discover paths.", toolFileStructure)
	}

	raw, err := s.gateway.FileContent(ctx, paths)
	if err != nil {
		return gatewayError("Failed to read files", err)
	}
	return successRaw(raw)
}

// gatewayError turns a gateway failure into advice the model can act on.
func gatewayError(what string, err error) (*mcp.CallToolResult, error) {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return toolError("%s: gateway unreachable: %v", what, err)
	}
	switch apiErr.Status {
	case http.StatusUnauthorized:
		return toolError("%s: the configured API key was rejected (%s)", what, apiErr.Detail)
	case http.StatusTooManyRequests:
		return toolError("%s: rate limit reached, retry after the window resets (%s)", what, apiErr.Detail)
	default:
		return toolError("%s: %v", what, err)
	}
}
