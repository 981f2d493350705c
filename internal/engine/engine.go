package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/forgehq/taskforge/internal/llm"
	"github.com/forgehq/taskforge/internal/pack"
	"github.com/forgehq/taskforge/pkg/models"
)

const (
	// MaxPlainTextRetries bounds how many plain-text (no tool call)
	// responses the loop tolerates before treating the last one as final.
	MaxPlainTextRetries = 2
	// LoopDetectThreshold is how many times a tool-call signature may
	// repeat inside LoopDetectWindow before a loop_detected warning fires.
	LoopDetectThreshold = 2
	// LoopDetectWindow bounds how far back repetition is checked.
	LoopDetectWindow = 8

	defaultMaxSteps = 40
)

// EventSink is the subset of runstore.Repository the engine needs,
// isolated so tests can substitute an in-memory recorder.
type EventSink interface {
	AppendEvent(kind models.EventKind, step string, payload map[string]interface{}) error
}

// fallbackDrainer is implemented by *llm.FallbackClient; detected via a
// type assertion so the loop works with any plain llm.Client too.
type fallbackDrainer interface {
	DrainEvents() []llm.FallbackEvent
}

// Loop drives a single specialist's pack through its bounded tool-calling
// conversation, grounded on the teacher's internal/agent/loop.go state
// machine (step counter, message log, termination checks) generalized
// from a single hardcoded tool surface to an arbitrary pack.Pack.
type Loop struct {
	Pack   pack.Pack
	Chat   llm.Client
	Events EventSink
	Model  string

	// StepPrefix namespaces step keys in task-force mode, e.g. "engineering".
	StepPrefix string
	MaxSteps   int
}

// Result is what one pack loop produces once it terminates, successfully
// or not — the loop never returns a bare Go error for a "soft" failure;
// only a failed Pack.Open, an llm_transport-class failure, or a recovered
// panic surfaces as an error (a *LoopError).
type Result struct {
	Payload map[string]interface{}
}

// callSignature identifies a regular tool call for repetition detection:
// the call name plus its canonically-serialised arguments. encoding/json
// sorts map keys when marshalling, so this is stable across calls with
// the same argument set built in a different order.
func callSignature(name string, args map[string]interface{}) string {
	data, err := json.Marshal(args)
	if err != nil {
		return name
	}
	return name + ":" + string(data)
}

func (l *Loop) maxSteps() int {
	if l.MaxSteps > 0 {
		return l.MaxSteps
	}
	return defaultMaxSteps
}

func (l *Loop) stepKey(step int) string {
	if l.StepPrefix == "" {
		return fmt.Sprintf("%d", step)
	}
	return fmt.Sprintf("%s_%d", l.StepPrefix, step)
}

func contentPreview(content string) string {
	r := []rune(content)
	if len(r) <= models.PromptPrefixLen {
		return content
	}
	return string(r[:models.PromptPrefixLen])
}

func (l *Loop) toolSpecs() []llm.ToolSpec {
	defs := l.Pack.ToolDefinitions()
	specs := make([]llm.ToolSpec, len(defs))
	for i, d := range defs {
		specs[i] = llm.ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.Schema}
	}
	return specs
}

func (l *Loop) emit(kind models.EventKind, step string, payload map[string]interface{}) {
	if l.Events == nil {
		return
	}
	_ = l.Events.AppendEvent(kind, step, payload)
}

// Run executes the step loop. prompt is the full initial user message
// (the coordinator is responsible for composing handoff context into it).
func (l *Loop) Run(ctx context.Context, prompt string) (result Result, err error) {
	var currentStep int
	defer recoverPanic(&currentStep, &result, &err)

	if err := l.Pack.Open(ctx); err != nil {
		return Result{}, &LoopError{Phase: "open", Step: -1, Cause: err}
	}
	defer l.Pack.Close(ctx)

	messages := []models.Message{
		{Role: models.RoleSystem, Content: l.Pack.SystemPrompt()},
		{Role: models.RoleUser, Content: prompt},
	}

	var (
		anyNonFinishToolCalled bool
		consecutivePlainText   int
		toolCallHistory        []string
		finishPayload          map[string]interface{}
	)

	toolSpecs := l.toolSpecs()
	finishName := l.Pack.FinishToolName()

	for step := 0; step < l.maxSteps(); step++ {
		currentStep = step
		key := l.stepKey(step)

		l.emit(models.EventLLMRequest, key, map[string]interface{}{"message_count": len(messages)})

		resp, err := l.Chat.Chat(ctx, llm.Request{Messages: messages, Model: l.Model, Tools: toolSpecs})
		if err != nil {
			return Result{}, &LoopError{Phase: "llm_chat", Step: step, Cause: err}
		}

		if drainer, ok := l.Chat.(fallbackDrainer); ok {
			for _, ev := range drainer.DrainEvents() {
				l.emit(models.EventCloudFallback, key, map[string]interface{}{
					"reason":      ev.Reason,
					"local_model": ev.LocalModel,
					"cloud_model": ev.CloudModel,
				})
			}
		}

		toolNames := make([]string, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			toolNames[i] = tc.ToolName
		}
		l.emit(models.EventLLMResponse, key, map[string]interface{}{
			"content_preview": contentPreview(resp.Content),
			"tool_call_names": toolNames,
		})

		if !resp.HasToolCalls() {
			if consecutivePlainText < MaxPlainTextRetries {
				consecutivePlainText++
				messages = append(messages, models.Message{Role: models.RoleAssistant, Content: resp.Content})
				messages = append(messages, models.Message{Role: models.RoleUser, Content: correctiveMessage(toolSpecs)})
				l.emit(models.EventCorrectiveReprompt, key, map[string]interface{}{
					"reason":  "plain_text_response",
					"attempt": consecutivePlainText,
					"max":     MaxPlainTextRetries,
				})
				continue
			}
			loopSteps.Observe(float64(step + 1))
			return Result{Payload: map[string]interface{}{
				"action":     "final",
				"summary":    resp.Content,
				"artifacts":  []string{},
				"next_steps": []string{},
				"notes":      "plain text retry limit reached",
			}}, nil
		}

		consecutivePlainText = 0
		messages = append(messages, models.Message{Role: models.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, tc := range resp.ToolCalls {
			l.emit(models.EventToolCall, key, map[string]interface{}{"name": tc.ToolName, "args": tc.Arguments})

			if tc.ToolName == finishName {
				if reason, rejected := l.checkFinishGates(tc.Arguments, anyNonFinishToolCalled, key); rejected {
					messages = append(messages, models.Message{
						Role:       models.RoleTool,
						ToolCallID: tc.CallID,
						Content:    toJSON(map[string]interface{}{"error": reason}),
					})
					l.emit(models.EventToolResult, key, map[string]interface{}{"error": reason})
					continue
				}

				finishPayload = map[string]interface{}{"action": "final"}
				for k, v := range tc.Arguments {
					finishPayload[k] = v
				}
				messages = append(messages, models.Message{
					Role:       models.RoleTool,
					ToolCallID: tc.CallID,
					Content:    toJSON(map[string]interface{}{"status": "task_completed"}),
				})
				l.emit(models.EventToolResult, key, map[string]interface{}{"status": "task_completed"})
				break
			}

			anyNonFinishToolCalled = true
			signature := callSignature(tc.ToolName, tc.Arguments)

			callStart := time.Now()
			result, err := l.Pack.ExecuteTool(ctx, tc.ToolName, tc.Arguments)
			toolCallDuration.WithLabelValues(tc.ToolName).Observe(time.Since(callStart).Seconds())
			if err != nil {
				toolErr := classifyToolError(tc.ToolName, err)
				toolCallsTotal.WithLabelValues(tc.ToolName, string(toolErr.Kind)).Inc()
				l.emit(models.EventToolError, key, map[string]interface{}{"kind": string(toolErr.Kind), "message": toolErr.Error()})
				if toolErr.Kind == KindPermission {
					l.emit(models.EventSecurityEvent, key, map[string]interface{}{"event_type": "sandbox_violation", "tool": tc.ToolName})
				}
				result = map[string]interface{}{"error": toolErr.Error(), "error_type": string(toolErr.Kind)}
			} else {
				toolCallsTotal.WithLabelValues(tc.ToolName, "ok").Inc()
				l.emit(models.EventToolResult, key, result)
			}

			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				ToolCallID: tc.CallID,
				Content:    toJSON(result),
			})

			toolCallHistory = append(toolCallHistory, signature)
			if len(toolCallHistory) > LoopDetectWindow {
				toolCallHistory = toolCallHistory[len(toolCallHistory)-LoopDetectWindow:]
			}
			if countOccurrences(toolCallHistory, signature) >= LoopDetectThreshold {
				messages = append(messages, models.Message{
					Role:    models.RoleUser,
					Content: fmt.Sprintf("You have called %q with the same arguments %d or more times recently. Try a different approach.", tc.ToolName, LoopDetectThreshold),
				})
				l.emit(models.EventLoopDetected, key, map[string]interface{}{"tool_name": tc.ToolName})
			}
		}

		if finishPayload != nil {
			loopSteps.Observe(float64(step + 1))
			return Result{Payload: finishPayload}, nil
		}
	}

	loopSteps.Observe(float64(l.maxSteps()))
	return Result{Payload: map[string]interface{}{
		"action":     "final",
		"summary":    "",
		"artifacts":  []string{},
		"next_steps": []string{},
		"notes":      "max_steps reached before finish_task",
	}}, nil
}

// checkFinishGates applies the three finish_task gates in order, returning
// the rejection reason and true if any gate rejects the call.
func (l *Loop) checkFinishGates(args map[string]interface{}, anyNonFinishToolCalled bool, step string) (string, bool) {
	if !anyNonFinishToolCalled {
		return "finish_task_called_without_doing_work", true
	}

	var missing []string
	for _, field := range l.Pack.FinishRequiredFields() {
		if _, ok := args[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")), true
	}

	if reason, rejected := l.Pack.ValidateFinishPayload(args); rejected {
		l.emit(models.EventQualityGateFailed, step, map[string]interface{}{"reason": reason})
		return reason, true
	}

	return "", false
}

func countOccurrences(history []string, signature string) int {
	count := 0
	for _, s := range history {
		if s == signature {
			count++
		}
	}
	return count
}

func correctiveMessage(tools []llm.ToolSpec) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return "You responded with plain text but this task requires using a tool. Available tools: " + strings.Join(names, ", ") + ". Call one of them, or call finish_task if the work is genuinely complete."
}

func toJSON(v map[string]interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":"failed to encode tool result"}`
	}
	return string(data)
}
