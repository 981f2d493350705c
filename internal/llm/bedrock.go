package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/document"

	"github.com/forgehq/taskforge/pkg/models"
)

// BedrockClient is the second cloud fallback target, used when a
// deployment prefers an AWS-hosted model over a direct Anthropic/OpenAI
// endpoint. It uses the Converse API so the same tool-calling shape works
// across the Bedrock model families.
type BedrockClient struct {
	runtime *bedrockruntime.Client
}

// NewBedrockClient loads credentials from the default AWS chain.
func NewBedrockClient(ctx context.Context, region string) (*BedrockClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load config: %w", err)
	}
	return &BedrockClient{runtime: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (c *BedrockClient) Chat(ctx context.Context, req Request) (models.LLMResponse, error) {
	var system []types.SystemContentBlock
	var messages []types.Message
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
		case models.RoleUser, models.RoleTool:
			messages = append(messages, types.Message{Role: types.ConversationRoleUser, Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}}})
		case models.RoleAssistant:
			messages = append(messages, types.Message{Role: types.ConversationRoleAssistant, Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}}})
		}
	}

	var toolConfig *types.ToolConfiguration
	if len(req.Tools) > 0 {
		var tools []types.Tool
		for _, t := range req.Tools {
			var schema map[string]interface{}
			_ = json.Unmarshal(t.Parameters, &schema)
			tools = append(tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{Value: documentFromMap(schema)},
				},
			})
		}
		toolConfig = &types.ToolConfiguration{Tools: tools}
	}

	resp, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:    aws.String(req.Model),
		Messages:   messages,
		System:     system,
		ToolConfig: toolConfig,
	})
	if err != nil {
		return models.LLMResponse{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	out := models.LLMResponse{}
	output, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return out, nil
	}
	for _, block := range output.Value.Content {
		switch variant := block.(type) {
		case *types.ContentBlockMemberText:
			out.Content += variant.Value
		case *types.ContentBlockMemberToolUse:
			args := mapFromDocument(variant.Value.Input)
			if args == nil {
				args = map[string]interface{}{}
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCallRequest{
				CallID:    aws.ToString(variant.Value.ToolUseId),
				ToolName:  aws.ToString(variant.Value.Name),
				Arguments: valueOrRaw(args),
			})
		}
	}
	return out, nil
}

// jsonDocument bridges the Bedrock smithy Document type and a plain Go
// map via JSON, since the SDK's Document interface has no simple literal
// constructor for nested JSON-schema payloads.
type jsonDocument struct{ v map[string]interface{} }

func (d jsonDocument) MarshalSmithyDocument() ([]byte, error) { return json.Marshal(d.v) }

func (d *jsonDocument) UnmarshalSmithyDocument(data []byte) error {
	return json.Unmarshal(data, &d.v)
}

func documentFromMap(v map[string]interface{}) document.Interface {
	return jsonDocument{v}
}

// mapFromDocument marshals any smithy document (a jsonDocument, or the
// tool_use input the SDK decodes from a Converse response) to JSON and
// decodes that into a map; it returns nil when marshalling fails.
func mapFromDocument(doc document.Interface) map[string]interface{} {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	_ = json.Unmarshal(data, &out)
	return out
}

func valueOrRaw(v map[string]interface{}) map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v
}
