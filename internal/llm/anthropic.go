package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgehq/taskforge/pkg/models"
)

// AnthropicClient is a cloud fallback target: same Client contract,
// backed by Anthropic's messages API instead of chat-completions.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient builds a client from an API key.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (c *AnthropicClient) Chat(ctx context.Context, req Request) (models.LLMResponse, error) {
	var system string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			system = m.Content
		case models.RoleUser, models.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		var schema map[string]interface{}
		_ = json.Unmarshal(t.Parameters, &schema)
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
			},
		})
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxOr(req.MaxTokens, 4096)),
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  messages,
		Tools:     tools,
	})
	if err != nil {
		return models.LLMResponse{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	out := models.LLMResponse{}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += variant.Text
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if err := json.Unmarshal(variant.Input, &args); err != nil || args == nil {
				args = map[string]interface{}{models.RawArgsKey: string(variant.Input)}
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCallRequest{CallID: variant.ID, ToolName: variant.Name, Arguments: args})
		}
	}
	return out, nil
}

func maxOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
