// Package decorator implements the composable Pack wrappers (C4):
// MCP-augmented (aggregates external tool servers) and Containerised
// (re-routes the shell tool to a container exec). Both forward pack
// metadata unchanged and intercept only open/close/execute_tool, grounded
// on the teacher's decorator-style runtime wrapping in
// internal/multiagent/orchestrator.go.
package decorator

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgehq/taskforge/internal/mcpsession"
	"github.com/forgehq/taskforge/internal/pack"
)

// mcpToolPrefix namespaces an aggregated MCP tool under its server.
func mcpToolPrefix(server string) string { return fmt.Sprintf("mcp__%s__", server) }

// MCPAugmented aggregates zero or more MCP sessions' tool catalogues into
// the inner pack's tool_definitions, forwarding owned calls to the
// session and falling through to the inner pack otherwise.
type MCPAugmented struct {
	inner    pack.Pack
	sessions []mcpsession.Session
	extra    []pack.ToolDefinition
	owners   map[string]mcpsession.Session
}

// NewMCPAugmented wraps inner with the given (not-yet-connected) sessions.
func NewMCPAugmented(inner pack.Pack, sessions ...mcpsession.Session) *MCPAugmented {
	return &MCPAugmented{inner: inner, sessions: sessions, owners: map[string]mcpsession.Session{}}
}

func (m *MCPAugmented) SpecialistID() string { return m.inner.SpecialistID() }
func (m *MCPAugmented) SystemPrompt() string { return m.inner.SystemPrompt() }

func (m *MCPAugmented) ToolDefinitions() []pack.ToolDefinition {
	return append(append([]pack.ToolDefinition(nil), m.inner.ToolDefinitions()...), m.extra...)
}

func (m *MCPAugmented) FinishToolName() string         { return m.inner.FinishToolName() }
func (m *MCPAugmented) FinishRequiredFields() []string  { return m.inner.FinishRequiredFields() }
func (m *MCPAugmented) ValidateFinishPayload(args map[string]interface{}) (string, bool) {
	return m.inner.ValidateFinishPayload(args)
}

// Open connects every session and merges its tool catalogue. A session
// that fails to connect is skipped (best-effort aggregation) rather than
// failing the whole pack open.
func (m *MCPAugmented) Open(ctx context.Context) error {
	for _, s := range m.sessions {
		if err := s.Connect(ctx); err != nil {
			continue
		}
		tools, err := s.ListTools(ctx)
		if err != nil {
			continue
		}
		prefix := mcpToolPrefix(s.ServerName())
		for _, t := range tools {
			name := prefix + t.Name
			m.extra = append(m.extra, pack.ToolDefinition{Name: name, Description: "MCP tool from " + s.ServerName(), Schema: t.Schema})
			m.owners[name] = s
		}
	}
	return m.inner.Open(ctx)
}

// Close disconnects every session; one session's failure must not block
// the others or the inner pack's close.
func (m *MCPAugmented) Close(ctx context.Context) error {
	for _, s := range m.sessions {
		_ = s.Disconnect(ctx)
	}
	return m.inner.Close(ctx)
}

// ExecuteTool forwards to the owning MCP session when the name matches an
// aggregated tool; otherwise falls through to the inner pack.
func (m *MCPAugmented) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	if owner, ok := m.owners[name]; ok {
		trimmed := strings.TrimPrefix(name, mcpToolPrefix(owner.ServerName()))
		return owner.CallTool(ctx, trimmed, args)
	}
	return m.inner.ExecuteTool(ctx, name, args)
}
