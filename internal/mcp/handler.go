package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// stringSlice extracts a string array argument, dropping blank entries.
func stringSlice(request mcp.CallToolRequest, key string) []string {
	var out []string
	for _, v := range request.GetStringSlice(key, nil) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// successRaw returns a backend JSON body as indented tool output. Bodies
// that are not JSON are passed through as text.
func successRaw(raw json.RawMessage) (*mcp.CallToolResult, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return mcp.NewToolResultText(string(raw)), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

// toolError returns an error result visible to the model. It does not end
// the MCP session.
func toolError(format string, args ...any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}
