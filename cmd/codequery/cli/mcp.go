package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/codequerydev/codequery/internal/client"
	cqmcp "github.com/codequerydev/codequery/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes the codebase behind a
gateway key as tools for AI agents. Every tool call goes through the gateway,
so the key's expiration and rate limit apply. Supports stdio (default) and
HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for clients that launch it as a subprocess.

In HTTP mode, the server listens on the specified port using Streamable HTTP.`,
		Example: `  CODEQUERY_MCP_API_KEY=cq_... codequery mcp --gateway https://gateway.example
  codequery mcp --transport http --port 3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(port)
		},
	}

	cmd.Flags().String("transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().String("gateway", "", "Gateway base URL")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	viper.BindPFlag("mcp.transport", cmd.Flags().Lookup("transport"))
	viper.BindPFlag("mcp.gateway_url", cmd.Flags().Lookup("gateway"))

	return cmd
}

func runMCP(port int) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(settings.Log, false)

	s := settings.MCP
	if s.GatewayURL == "" {
		return errors.New("mcp.gateway_url is required (set --gateway or CODEQUERY_MCP_GATEWAY_URL)")
	}
	if s.APIKey == "" {
		return errors.New("mcp.api_key is required (set CODEQUERY_MCP_API_KEY)")
	}

	gw := client.New(s.GatewayURL, s.APIKey,
		client.WithHeader(settings.Auth.APIKeyHeader),
		client.WithTimeout(settings.Forward.Timeout.Std()),
	)
	mcpSrv := cqmcp.NewMCPServer(gw, s.GatewayURL, versionString(), logger)

	switch s.Transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", s.Transport)
	}
}
