// Package pack implements the specialist pack composition layer (C3): a
// uniform capability surface of tool definitions, a dispatch table, and a
// finish-task schema with an optional quality gate. Decorators in the
// sibling decorator package wrap a Pack to add MCP aggregation or container
// isolation without changing this contract. There is no browser-lifecycle
// decorator: browser tools are registered by BuildWithBrowser and each call
// takes an instance from the browser pool.
package pack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	tekuri "github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolDefinition is the JSON-Schema-carrying tool description sent to the
// LLM alongside every request.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"parameters"`
}

// ToolHandler executes one tool call. A Go error it returns does not abort
// the loop: the engine classifies it (engine.ToolError) and hands it back
// to the model as a tool_error result.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// Pack is the capability surface a task execution engine drives.
type Pack interface {
	SpecialistID() string
	SystemPrompt() string
	ToolDefinitions() []ToolDefinition
	FinishToolName() string
	FinishRequiredFields() []string
	ValidateFinishPayload(args map[string]interface{}) (string, bool)
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error)
}

// FinishToolName is the terminal tool every pack exposes.
const FinishToolName = "finish_task"

// Base is the concrete, non-decorated Pack: a name→(schema, handler) map
// for regular tools plus the finish_task schema and an optional quality
// gate function.
type Base struct {
	id                   string
	systemPrompt         string
	tools                map[string]ToolHandler
	definitions          []ToolDefinition
	finishRequiredFields []string
	qualityGate          func(args map[string]interface{}) (string, bool)
	finishSchema         *tekuri.Schema
}

// FinishPayload is the reflected shape of a finish_task call. Every
// specialist shares these fields; Config.FinishRequiredFields narrows
// which of them the engine's required-fields gate actually enforces.
// Specialist-specific fields such as engineering's tests_verified are
// part of this shared struct as optional fields.
type FinishPayload struct {
	Summary       string   `json:"summary" jsonschema:"title=summary"`
	Artifacts     []string `json:"artifacts,omitempty" jsonschema:"title=artifacts"`
	NextSteps     []string `json:"next_steps,omitempty" jsonschema:"title=next_steps"`
	TestsVerified *bool    `json:"tests_verified,omitempty" jsonschema:"title=tests_verified"`
	Notes         string   `json:"notes,omitempty" jsonschema:"title=notes"`
}

// Config seeds a new Base pack.
type Config struct {
	SpecialistID         string
	SystemPrompt         string
	FinishRequiredFields []string
	FinishSchema         json.RawMessage
	// QualityGate, when non-nil, is consulted after the required-fields
	// gate passes; a non-empty string rejects the finish_task call.
	QualityGate func(args map[string]interface{}) (string, bool)
}

// NewBase constructs an empty Base pack; RegisterTool adds regular tools.
func NewBase(cfg Config) *Base {
	finishSchema := cfg.FinishSchema
	if finishSchema == nil {
		finishSchema = defaultFinishSchema(cfg.FinishRequiredFields)
	}
	b := &Base{
		id:                   cfg.SpecialistID,
		systemPrompt:         cfg.SystemPrompt,
		tools:                map[string]ToolHandler{},
		finishRequiredFields: cfg.FinishRequiredFields,
		qualityGate:          cfg.QualityGate,
		finishSchema:         compileFinishSchema(cfg.SpecialistID, finishSchema),
	}
	b.definitions = append(b.definitions, ToolDefinition{
		Name:        FinishToolName,
		Description: "Finish the task and return the final payload.",
		Schema:      finishSchema,
	})
	return b
}

// defaultFinishSchema reflects FinishPayload via invopop/jsonschema, the
// same Reflector-based pattern the teacher uses for its config schema,
// then patches in the per-specialist required field list — a struct
// field is only required for specialists that declare it so (e.g.
// engineering's tests_verified), so the reflected schema can't hardcode
// "required" itself.
func defaultFinishSchema(required []string) json.RawMessage {
	reflector := &invopop.Reflector{
		FieldNameTag:              "json",
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(&FinishPayload{})
	schema.Required = required

	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// compileFinishSchema compiles a finish_task schema with
// santhosh-tekuri/jsonschema/v5 so ValidateFinishPayload can run a real
// structural check (types, not just field presence) before the quality
// gate runs. The top-level "required" array is stripped first: presence
// is already enforced by engine.checkFinishGates against
// FinishRequiredFields, and a partial finish_task call that is still
// being built up across corrective reprompts should fail on a type
// mismatch, not on a field that simply hasn't arrived yet. A bad custom
// FinishSchema degrades to "no structural check" rather than failing
// pack construction.
func compileFinishSchema(specialistID string, raw json.RawMessage) *tekuri.Schema {
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	delete(decoded, "required")
	stripped, err := json.Marshal(decoded)
	if err != nil {
		return nil
	}

	compiler := tekuri.NewCompiler()
	name := fmt.Sprintf("%s_finish_task.schema.json", specialistID)
	if err := compiler.AddResource(name, bytes.NewReader(stripped)); err != nil {
		return nil
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil
	}
	return compiled
}

// RegisterTool adds a regular (non-finish) tool definition and handler.
// Packs may call this from Open to register feature-flagged tools lazily.
func (b *Base) RegisterTool(def ToolDefinition, handler ToolHandler) {
	b.definitions = append([]ToolDefinition{def}, b.definitions...)
	b.tools[def.Name] = handler
}

func (b *Base) SpecialistID() string            { return b.id }
func (b *Base) SystemPrompt() string            { return b.systemPrompt }
func (b *Base) ToolDefinitions() []ToolDefinition { return append([]ToolDefinition(nil), b.definitions...) }
func (b *Base) FinishToolName() string          { return FinishToolName }
func (b *Base) FinishRequiredFields() []string  { return b.finishRequiredFields }

// ValidateFinishPayload returns (reason, rejected). It first runs the
// compiled JSON-Schema structural check (wrong types, not just missing
// fields — the required-fields gate in engine.checkFinishGates already
// covers plain presence), then falls through to the specialist's
// Config.QualityGate, if any.
func (b *Base) ValidateFinishPayload(args map[string]interface{}) (string, bool) {
	if b.finishSchema != nil {
		if err := b.finishSchema.Validate(toInterfaceMap(args)); err != nil {
			return fmt.Sprintf("finish_task payload failed schema validation: %v", err), true
		}
	}
	if b.qualityGate == nil {
		return "", false
	}
	return b.qualityGate(args)
}

// toInterfaceMap round-trips args through JSON so santhosh-tekuri/jsonschema
// sees the same decoded shape (float64 numbers, plain maps/slices) that
// validating parsed JSON would produce, rather than Go's native map values.
func toInterfaceMap(args map[string]interface{}) interface{} {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return args
	}
	return decoded
}

func (b *Base) Open(ctx context.Context) error  { return nil }
func (b *Base) Close(ctx context.Context) error { return nil }

// ExecuteTool dispatches by name. Unknown tool names return an error dict,
// never a Go error, so the engine's loop can continue uninterrupted.
func (b *Base) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	handler, ok := b.tools[name]
	if !ok {
		return map[string]interface{}{"error": fmt.Sprintf("unknown tool: %s", name)}, nil
	}
	return handler(ctx, args)
}
