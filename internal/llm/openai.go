package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgehq/taskforge/pkg/models"
)

// OpenAIClient is the generic OpenAI-compatible backend: immediate 4xx
// surfacing, no retry, grounded on the teacher's providers/openai.go.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient builds a client against the given base URL (swap for a
// local OpenAI-compatible server by overriding BaseURL) and API key.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) Chat(ctx context.Context, req Request) (models.LLMResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, toOpenAIMessage(m))
	}

	tools := make([]openai.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.Parameters),
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Tools:       tools,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return models.LLMResponse{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if len(resp.Choices) == 0 {
		return models.LLMResponse{}, fmt.Errorf("%w: empty choices", ErrTransport)
	}

	choice := resp.Choices[0].Message
	out := models.LLMResponse{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, decodeToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return out, nil
}

func toOpenAIMessage(m models.Message) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		args, _ := json.Marshal(tc.Arguments)
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   tc.CallID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.ToolName,
				Arguments: string(args),
			},
		})
	}
	return msg
}

// decodeToolCall parses tool-call argument JSON, substituting the neutral
// {_raw: text} marker on malformed JSON so downstream gate logic always
// sees a map (spec §3, §9).
func decodeToolCall(callID, name, argsJSON string) models.ToolCallRequest {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args == nil {
		args = map[string]interface{}{models.RawArgsKey: argsJSON}
	}
	return models.ToolCallRequest{CallID: callID, ToolName: name, Arguments: args}
}
