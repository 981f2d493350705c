// Package models holds the data types shared across the orchestrator:
// tasks, messages, events, and the on-disk records written by the run
// repository, checkpoint store, and run index.
package models

import "time"

// Task is the caller's request for a run.
type Task struct {
	Prompt          string `json:"prompt"`
	SpecialistID    string `json:"specialist_id,omitempty"`
	ModelKey        string `json:"model_key"`
	NetworkAllowed  bool   `json:"network_allowed"`
}

// DefaultModelKey is used when a Task does not name one.
const DefaultModelKey = "quality"

// Specialist is a read-only configuration record describing one agent type.
type Specialist struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	Capabilities   []string `json:"capabilities"`
	Keywords       []string `json:"keywords,omitempty"`
	MCPServers     []string `json:"mcp_servers,omitempty"`
	ContainerImage string   `json:"container_image,omitempty"`
}

// HasCapability reports whether the specialist declares the given capability id.
func (s Specialist) HasCapability(id string) bool {
	for _, c := range s.Capabilities {
		if c == id {
			return true
		}
	}
	return false
}

// TaskForceMode selects how a multi-specialist plan is driven.
type TaskForceMode string

const (
	ModeSequential TaskForceMode = "sequential"
	ModeParallel   TaskForceMode = "parallel"
)

// Assignment pairs a specialist with its brief inside a plan.
type Assignment struct {
	SpecialistID string `json:"specialist_id"`
	Brief        string `json:"brief,omitempty"`
}

// OrchestrationPlan is the output of recruitment: who runs, how, and why.
type OrchestrationPlan struct {
	Assignments         []Assignment  `json:"assignments"`
	Mode                TaskForceMode `json:"mode"`
	SynthesisRequired   bool          `json:"synthesis_required"`
	Reasoning           string        `json:"reasoning,omitempty"`
	RoutingMethod       string        `json:"routing_method"`
	RequiredCapabilities []string     `json:"required_capabilities,omitempty"`
}

// SpecialistIDs returns the assignment order's specialist ids.
func (p OrchestrationPlan) SpecialistIDs() []string {
	ids := make([]string, len(p.Assignments))
	for i, a := range p.Assignments {
		ids[i] = a.SpecialistID
	}
	return ids
}

// Routing method values recorded on OrchestrationPlan.RoutingMethod.
const (
	RoutingOrchestrator    = "orchestrator"
	RoutingLLM             = "llm_routing"
	RoutingKeyword         = "keyword_routing"
	RoutingKeywordFallback = "keyword_fallback"
	RoutingExplicit        = "explicit"
)

// Role is a Message's conversational role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversational turn. The engine appends to a []Message in
// place; turns are never rewritten once appended.
type Message struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// ToolCallRequest is a single model-requested tool invocation.
type ToolCallRequest struct {
	CallID    string                 `json:"call_id"`
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// RawArgsKey is the key under which malformed tool-call argument JSON is
// stashed so downstream gate logic always sees a map, never an error.
const RawArgsKey = "_raw"

// LLMResponse is what a chat backend returns for one turn.
type LLMResponse struct {
	Content   string            `json:"content,omitempty"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the model asked to call at least one tool.
func (r LLMResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// EventKind is the closed set of run event kinds.
type EventKind string

const (
	EventRecruitment        EventKind = "recruitment"
	EventOrchestrationPlan  EventKind = "orchestration_plan"
	EventPackStart          EventKind = "pack_start"
	EventTaskForceParallel  EventKind = "task_force_parallel"
	EventLLMRequest         EventKind = "llm_request"
	EventLLMResponse        EventKind = "llm_response"
	EventToolCall           EventKind = "tool_call"
	EventToolResult         EventKind = "tool_result"
	EventToolError          EventKind = "tool_error"
	EventSecurityEvent      EventKind = "security_event"
	EventCorrectiveReprompt EventKind = "corrective_reprompt"
	EventLoopDetected       EventKind = "loop_detected"
	EventQualityGateFailed  EventKind = "quality_gate_failed"
	EventCloudFallback      EventKind = "cloud_fallback"
	EventSynthesisComplete  EventKind = "synthesis_complete"
	EventRunComplete        EventKind = "run_complete"
	// EventSpecialistError records a task-force member's pack loop returning
	// a Go error rather than a finish payload (parallel mode, and sequential
	// abort).
	EventSpecialistError EventKind = "specialist_error"
)

// RunEvent is one line of a run's event log.
type RunEvent struct {
	Timestamp float64                `json:"ts"`
	Kind      EventKind              `json:"kind"`
	Step      string                 `json:"step,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewRunEvent stamps the current time onto a RunEvent.
func NewRunEvent(kind EventKind, step string, payload map[string]interface{}) RunEvent {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return RunEvent{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Kind:      kind,
		Step:      step,
		Payload:   payload,
	}
}

// RunResult is what a completed run returns to its caller.
type RunResult struct {
	RunID                string                 `json:"run_id"`
	RunDir               string                 `json:"run_dir"`
	WorkspacePath        string                 `json:"workspace_path"`
	SpecialistID         string                 `json:"specialist_id"`
	SpecialistIDs        []string               `json:"specialist_ids"`
	ModelName            string                 `json:"model_name"`
	Payload              map[string]interface{} `json:"payload"`
	RequiredCapabilities []string               `json:"required_capabilities,omitempty"`
}

// RunCheckpoint is the atomic on-disk snapshot used to resume a multi-
// specialist run. SchemaVersion lets a future format change reject or
// ignore checkpoints written by an incompatible version.
type RunCheckpoint struct {
	SchemaVersion        int                               `json:"schema_version"`
	RunID                string                            `json:"run_id"`
	RunDir               string                            `json:"run_dir"`
	WorkspacePath        string                            `json:"workspace_path"`
	TaskPrompt           string                            `json:"task_prompt"`
	SpecialistIDs        []string                          `json:"specialist_ids"`
	CompletedSpecialists []string                          `json:"completed_specialists"`
	Payloads             map[string]map[string]interface{} `json:"payloads"`
	TaskForceMode        TaskForceMode                     `json:"task_force_mode"`
	ModelKey             string                            `json:"model_key"`
	RoutingMethod        string                            `json:"routing_method"`
	RequiredCapabilities []string                          `json:"required_capabilities,omitempty"`
	OrchestrationPlan    *OrchestrationPlan                `json:"orchestration_plan,omitempty"`
	CreatedAt            time.Time                         `json:"created_at"`
	UpdatedAt            time.Time                         `json:"updated_at"`
}

// CurrentCheckpointSchemaVersion is written by Save and checked by Load.
const CurrentCheckpointSchemaVersion = 1

// RunIndexEntry is appended exactly once per successful run.
type RunIndexEntry struct {
	RunID         string    `json:"run_id"`
	Timestamp     time.Time `json:"timestamp"`
	SpecialistIDs []string  `json:"specialist_ids"`
	PromptPrefix  string    `json:"prompt_prefix"`
	Summary       string    `json:"summary"`
	WorkspacePath string    `json:"workspace_path"`
	RunDir        string    `json:"run_dir"`
	RoutingMethod string    `json:"routing_method"`
	ModelName     string    `json:"model_name"`
	Embedding     []float64 `json:"embedding,omitempty"`
}

// PromptPrefixLen is the number of runes kept in RunIndexEntry.PromptPrefix.
const PromptPrefixLen = 200
