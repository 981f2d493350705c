package engine

import (
	"context"
	"testing"

	"github.com/forgehq/taskforge/internal/llm"
	"github.com/forgehq/taskforge/internal/pack"
	"github.com/forgehq/taskforge/internal/sandbox"
	"github.com/forgehq/taskforge/pkg/models"
)

// memorySink records every emitted event for assertions, in order.
type memorySink struct {
	events []models.RunEvent
}

func (m *memorySink) AppendEvent(kind models.EventKind, step string, payload map[string]interface{}) error {
	m.events = append(m.events, models.RunEvent{Kind: kind, Step: step, Payload: payload})
	return nil
}

func (m *memorySink) kinds() []models.EventKind {
	kinds := make([]models.EventKind, len(m.events))
	for i, e := range m.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (m *memorySink) count(kind models.EventKind) int {
	n := 0
	for _, e := range m.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// scriptedClient returns one canned response per call, in order, looping
// the final response if exhausted.
type scriptedClient struct {
	responses []models.LLMResponse
	calls     int
}

func (s *scriptedClient) Chat(ctx context.Context, req llm.Request) (models.LLMResponse, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return s.responses[idx], nil
}

func engineeringPack(t *testing.T) *pack.Base {
	t.Helper()
	defs, err := pack.LoadBuiltinDefinitions()
	if err != nil {
		t.Fatalf("LoadBuiltinDefinitions: %v", err)
	}
	var engDef pack.SpecialistDefinition
	for _, d := range defs {
		if d.ID == "engineering" {
			engDef = d
		}
	}
	b, err := pack.Build(engDef, t.TempDir(), false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return b
}

func listFilesCall(id string) models.ToolCallRequest {
	return models.ToolCallRequest{CallID: id, ToolName: "list_files", Arguments: map[string]interface{}{}}
}

func finishCall(id string, args map[string]interface{}) models.ToolCallRequest {
	return models.ToolCallRequest{CallID: id, ToolName: pack.FinishToolName, Arguments: args}
}

func TestEngineeringHappyPath(t *testing.T) {
	p := engineeringPack(t)
	client := &scriptedClient{responses: []models.LLMResponse{
		{ToolCalls: []models.ToolCallRequest{listFilesCall("c1")}},
		{ToolCalls: []models.ToolCallRequest{finishCall("c2", map[string]interface{}{"summary": "Done", "tests_verified": true})}},
	}}
	sink := &memorySink{}
	loop := &Loop{Pack: p, Chat: client, Events: sink, Model: "quality"}

	result, err := loop.Run(context.Background(), "list files")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Payload["summary"] != "Done" || result.Payload["action"] != "final" {
		t.Fatalf("unexpected payload: %+v", result.Payload)
	}
	if result.Payload["tests_verified"] != true {
		t.Fatalf("expected tests_verified passthrough, got %+v", result.Payload)
	}

	wantPrefix := []models.EventKind{
		models.EventLLMRequest, models.EventLLMResponse,
		models.EventToolCall, models.EventToolResult,
		models.EventLLMRequest, models.EventLLMResponse,
		models.EventToolCall, models.EventToolResult,
	}
	got := sink.kinds()
	if len(got) != len(wantPrefix) {
		t.Fatalf("event kinds = %v, want %v", got, wantPrefix)
	}
	for i, k := range wantPrefix {
		if got[i] != k {
			t.Fatalf("event[%d] = %s, want %s (full: %v)", i, got[i], k, got)
		}
	}
}

func TestFinishGate1RejectsWithoutPriorWork(t *testing.T) {
	p := engineeringPack(t)
	client := &scriptedClient{responses: []models.LLMResponse{
		{ToolCalls: []models.ToolCallRequest{finishCall("c1", map[string]interface{}{"summary": "ok", "tests_verified": true})}},
		{ToolCalls: []models.ToolCallRequest{listFilesCall("c2")}},
		{ToolCalls: []models.ToolCallRequest{finishCall("c3", map[string]interface{}{"summary": "ok", "tests_verified": true})}},
	}}
	sink := &memorySink{}
	loop := &Loop{Pack: p, Chat: client, Events: sink, Model: "quality"}

	result, err := loop.Run(context.Background(), "do work")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Payload["summary"] != "ok" {
		t.Fatalf("unexpected payload: %+v", result.Payload)
	}

	var firstToolResult models.RunEvent
	for _, e := range sink.events {
		if e.Kind == models.EventToolResult {
			firstToolResult = e
			break
		}
	}
	if firstToolResult.Payload["error"] != "finish_task_called_without_doing_work" {
		t.Fatalf("expected gate-1 rejection as first tool_result, got %+v", firstToolResult)
	}
	if sink.count(models.EventToolResult) != 3 {
		t.Fatalf("expected exactly 3 tool_result events (gate-1 rejection, list_files, finish), got %d: %+v", sink.count(models.EventToolResult), sink.events)
	}
}

// permissionPack wraps a Base whose single registered tool always returns
// a sandbox.ErrPermission, to exercise the tool_error/security_event pair.
func permissionPack(t *testing.T) *pack.Base {
	t.Helper()
	b := pack.NewBase(pack.Config{
		SpecialistID:         "engineering",
		SystemPrompt:         "test",
		FinishRequiredFields: []string{"summary"},
	})
	b.RegisterTool(pack.ToolDefinition{Name: "escape_attempt", Description: "always escapes"},
		func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			return nil, sandbox.ErrPermission
		})
	return b
}

func TestPermissionErrorEmitsToolErrorAndSecurityEvent(t *testing.T) {
	p := permissionPack(t)
	client := &scriptedClient{responses: []models.LLMResponse{
		{ToolCalls: []models.ToolCallRequest{{CallID: "c1", ToolName: "escape_attempt", Arguments: map[string]interface{}{}}}},
		{ToolCalls: []models.ToolCallRequest{finishCall("c2", map[string]interface{}{"summary": "done"})}},
	}}
	sink := &memorySink{}
	loop := &Loop{Pack: p, Chat: client, Events: sink, Model: "quality"}

	if _, err := loop.Run(context.Background(), "try to escape"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sink.count(models.EventToolError) != 1 {
		t.Fatalf("expected exactly 1 tool_error, got %d", sink.count(models.EventToolError))
	}
	if sink.count(models.EventSecurityEvent) != 1 {
		t.Fatalf("expected exactly 1 security_event, got %d", sink.count(models.EventSecurityEvent))
	}

	var errIdx, secIdx, errStep, secStep = -1, -1, "", ""
	for i, e := range sink.events {
		if e.Kind == models.EventToolError {
			errIdx, errStep = i, e.Step
		}
		if e.Kind == models.EventSecurityEvent {
			secIdx, secStep = i, e.Step
		}
	}
	if errIdx == -1 || secIdx == -1 || errStep != secStep {
		t.Fatalf("expected tool_error and security_event at the same step, got steps %q/%q", errStep, secStep)
	}
}

func TestThreePlainTextResponsesProduceTwoCorrectivesAndOneFinal(t *testing.T) {
	p := engineeringPack(t)
	client := &scriptedClient{responses: []models.LLMResponse{
		{Content: "thinking out loud"},
		{Content: "still thinking"},
		{Content: "final answer in prose"},
	}}
	sink := &memorySink{}
	loop := &Loop{Pack: p, Chat: client, Events: sink, Model: "quality"}

	result, err := loop.Run(context.Background(), "ponder")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sink.count(models.EventCorrectiveReprompt) != MaxPlainTextRetries {
		t.Fatalf("expected %d corrective_reprompt events, got %d", MaxPlainTextRetries, sink.count(models.EventCorrectiveReprompt))
	}
	if result.Payload["summary"] != "final answer in prose" {
		t.Fatalf("expected final payload summary to be the last plain-text content, got %+v", result.Payload)
	}
}

func TestUnknownToolNameYieldsErrorDictNoException(t *testing.T) {
	p := engineeringPack(t)
	client := &scriptedClient{responses: []models.LLMResponse{
		{ToolCalls: []models.ToolCallRequest{{CallID: "c1", ToolName: "does_not_exist", Arguments: map[string]interface{}{}}}},
		{ToolCalls: []models.ToolCallRequest{finishCall("c2", map[string]interface{}{"summary": "done", "tests_verified": true})}},
	}}
	sink := &memorySink{}
	loop := &Loop{Pack: p, Chat: client, Events: sink, Model: "quality"}

	if _, err := loop.Run(context.Background(), "call nonsense"); err != nil {
		t.Fatalf("Run should not fail on an unknown tool name: %v", err)
	}
	if sink.count(models.EventToolError) != 0 {
		t.Fatalf("unknown tool names must not be classified as tool_error, got %d", sink.count(models.EventToolError))
	}
}

func TestLoopDetectedOnRepeatedSignature(t *testing.T) {
	p := engineeringPack(t)
	repeat := listFilesCall("c")
	client := &scriptedClient{responses: []models.LLMResponse{
		{ToolCalls: []models.ToolCallRequest{repeat}},
		{ToolCalls: []models.ToolCallRequest{repeat}},
		{ToolCalls: []models.ToolCallRequest{finishCall("cf", map[string]interface{}{"summary": "done", "tests_verified": true})}},
	}}
	sink := &memorySink{}
	loop := &Loop{Pack: p, Chat: client, Events: sink, Model: "quality"}

	if _, err := loop.Run(context.Background(), "loop please"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sink.count(models.EventLoopDetected) == 0 {
		t.Fatal("expected at least one loop_detected event")
	}
}

func TestMaxStepsExhaustionProducesSyntheticFinalPayload(t *testing.T) {
	p := engineeringPack(t)
	client := &scriptedClient{responses: []models.LLMResponse{
		{ToolCalls: []models.ToolCallRequest{listFilesCall("c")}},
	}}
	sink := &memorySink{}
	loop := &Loop{Pack: p, Chat: client, Events: sink, Model: "quality", MaxSteps: 3}

	result, err := loop.Run(context.Background(), "never finish")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Payload["action"] != "final" {
		t.Fatalf("expected a synthetic final payload, got %+v", result.Payload)
	}
	if sink.count(models.EventLLMRequest) != 3 {
		t.Fatalf("expected exactly max_steps llm_request events, got %d", sink.count(models.EventLLMRequest))
	}
}
