package llm

import (
	"context"
	"testing"

	"github.com/forgehq/taskforge/pkg/models"
)

type stubClient struct {
	resp models.LLMResponse
	err  error
}

func (s stubClient) Chat(ctx context.Context, req Request) (models.LLMResponse, error) {
	return s.resp, s.err
}

func TestFallbackTriggersOnNoToolCalls(t *testing.T) {
	local := stubClient{resp: models.LLMResponse{Content: "plain text, no tools"}}
	cloud := stubClient{resp: models.LLMResponse{ToolCalls: []models.ToolCallRequest{{ToolName: "finish_task"}}}}
	client := NewFallbackClient(local, cloud, "claude-cloud", FallbackNoToolCalls)

	resp, err := client.Chat(context.Background(), Request{Model: "local-model"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.HasToolCalls() {
		t.Fatal("expected cloud response (with tool calls) to win")
	}

	events := client.DrainEvents()
	if len(events) != 1 || events[0].CloudModel != "claude-cloud" {
		t.Fatalf("expected one fallback event, got %+v", events)
	}
	if len(client.DrainEvents()) != 0 {
		t.Fatal("DrainEvents should clear the queue")
	}
}

func TestFallbackDoesNotTriggerWhenLocalHasToolCalls(t *testing.T) {
	local := stubClient{resp: models.LLMResponse{ToolCalls: []models.ToolCallRequest{{ToolName: "list_files"}}}}
	client := NewFallbackClient(local, stubClient{}, "cloud", FallbackNoToolCalls)

	resp, err := client.Chat(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ToolName != "list_files" {
		t.Fatalf("expected local response, got %+v", resp)
	}
	if len(client.DrainEvents()) != 0 {
		t.Fatal("expected no fallback event")
	}
}

func TestUnknownPolicyNeverTriggers(t *testing.T) {
	local := stubClient{resp: models.LLMResponse{Content: "plain"}}
	client := NewFallbackClient(local, stubClient{resp: models.LLMResponse{Content: "cloud"}}, "cloud", FallbackPolicy("typo"))

	resp, _ := client.Chat(context.Background(), Request{})
	if resp.Content != "plain" {
		t.Fatalf("expected unknown policy to never trigger, got %+v", resp)
	}
}
