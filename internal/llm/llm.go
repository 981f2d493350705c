// Package llm is the chat client abstraction (C5): a uniform request/
// response surface over an OpenAI-style chat-completions API, with
// pluggable backends and an optional fallback wrapper.
package llm

import (
	"context"
	"errors"

	"github.com/forgehq/taskforge/pkg/models"
)

// ErrTransport covers connection refused, timeout, and non-2xx responses —
// the llm_transport error kind from the spec's error table. It aborts the
// run (recoverable only by resume), unlike every tool-level error kind.
var ErrTransport = errors.New("llm: transport error")

// Request is one chat-completions call.
type Request struct {
	Messages    []models.Message
	Model       string
	Tools       []ToolSpec
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// ToolSpec is the wire shape of one callable tool, matching the
// OpenAI-compatible {type:"function", function:{name, parameters}} shape.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []byte // JSON schema
}

// Client is the uniform surface every backend implements.
type Client interface {
	Chat(ctx context.Context, req Request) (models.LLMResponse, error)
}
