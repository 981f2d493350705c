// Package mcpsession defines the minimal Model-Context-Protocol session
// contract the MCP-augmented pack decorator consumes. The transport
// (stdio/sse) is explicitly out of scope for this module; callers supply
// a Session implementation that already presents list_tools/call_tool.
package mcpsession

import (
	"context"
	"encoding/json"
)

// ToolDescriptor is one tool an MCP server advertises.
type ToolDescriptor struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"input_schema"`
}

// Session is a connected MCP server session.
type Session interface {
	ServerName() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error)
}
