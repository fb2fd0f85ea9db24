package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const gatewayResourceURI = "codequery://gateway"

func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			gatewayResourceURI,
			"CodeQuery Gateway",
			mcp.WithResourceDescription(
				"The gateway this server talks to and whether it is currently reachable.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleGatewayResource,
	)
}

type gatewayStatus struct {
	URL     string `json:"url"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func (s *MCPServer) handleGatewayResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	st := gatewayStatus{URL: s.gatewayURL, Healthy: true}
	if err := s.gateway.Health(ctx); err != nil {
		st.Healthy = false
		st.Error = err.Error()
	}

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      gatewayResourceURI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
