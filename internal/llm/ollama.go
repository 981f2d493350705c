package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/forgehq/taskforge/pkg/models"
)

// OllamaClient talks to Ollama's native /api/chat endpoint. When a request
// that carried tool definitions gets an HTTP 400 back, it retries once
// with the tools stripped, since some older model builds reject tool
// calling they do not support with a 400.
type OllamaClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewOllamaClient defaults BaseURL to the local Ollama daemon.
func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{BaseURL: strings.TrimSuffix(baseURL, "/"), HTTPClient: &http.Client{Timeout: 120 * time.Second}}
}

type ollamaRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Tools    []ollamaTool           `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
	Stream   bool                   `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaTool struct {
	Type     string                 `json:"type"`
	Function map[string]interface{} `json:"function"`
}

type ollamaResponse struct {
	Message struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string                 `json:"name"`
				Arguments map[string]interface{} `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	Error string `json:"error"`
}

func (c *OllamaClient) Chat(ctx context.Context, req Request) (models.LLMResponse, error) {
	resp, status, err := c.call(ctx, req, true)
	if err != nil {
		return models.LLMResponse{}, err
	}
	if status == http.StatusBadRequest && len(req.Tools) > 0 {
		// Ollama 400-on-tool-schema quirk: retry once without tools.
		resp, status, err = c.call(ctx, req, false)
		if err != nil {
			return models.LLMResponse{}, err
		}
	}
	if status < 200 || status >= 300 {
		return models.LLMResponse{}, fmt.Errorf("%w: ollama status %d: %s", ErrTransport, status, resp.Error)
	}

	out := models.LLMResponse{Content: resp.Message.Content}
	for i, tc := range resp.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCallRequest{
			CallID:    fmt.Sprintf("call_%d", i),
			ToolName:  tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func (c *OllamaClient) call(ctx context.Context, req Request, withTools bool) (ollamaResponse, int, error) {
	body := ollamaRequest{Model: req.Model, Stream: false}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	if withTools {
		for _, t := range req.Tools {
			var params map[string]interface{}
			_ = json.Unmarshal(t.Parameters, &params)
			body.Tools = append(body.Tools, ollamaTool{
				Type: "function",
				Function: map[string]interface{}{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  params,
				},
			})
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return ollamaResponse{}, 0, fmt.Errorf("ollama: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return ollamaResponse{}, 0, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return ollamaResponse{}, 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ollamaResponse{}, resp.StatusCode, fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	return out, resp.StatusCode, nil
}
