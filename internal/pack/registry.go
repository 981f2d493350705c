package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgehq/taskforge/internal/sandbox"
	"github.com/forgehq/taskforge/internal/tools/browser"
	"github.com/forgehq/taskforge/internal/tools/files"
	"github.com/forgehq/taskforge/internal/tools/shell"
	"github.com/forgehq/taskforge/internal/tools/testrunner"
	"github.com/forgehq/taskforge/internal/tools/websearch"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// SpecialistDefinition is the declarative shape a pack is built from: the
// id, description, capabilities and keywords of pkg/models.Specialist
// (without its mcp_servers or container_image) plus a system prompt and a
// quality gate marker, loaded from the embedded registry YAML.
type SpecialistDefinition struct {
	ID                   string   `yaml:"id" json:"id"`
	Description          string   `yaml:"description" json:"description"`
	SystemPrompt         string   `yaml:"system_prompt" json:"system_prompt"`
	Capabilities         []string `yaml:"capabilities" json:"capabilities"`
	Keywords             []string `yaml:"keywords" json:"keywords"`
	RequiresTestsVerified bool    `yaml:"requires_tests_verified" json:"requires_tests_verified"`
}

// builtinRegistryYAML is the embedded default specialist registry, shaped
// like the teacher's config-record YAML. Three specialists ship by
// default: engineering (with a test-verification quality gate), research
// (network tools, no gate), and a general fallback.
const builtinRegistryYAML = `
- id: engineering
  description: Writes, edits, and tests code inside the workspace.
  system_prompt: |
    You are an engineering specialist. You have shell, file, and test tools.
    You MUST call run_tests before finishing and set tests_verified=true.
  capabilities: [coding, testing, debugging]
  keywords: [code, bug, implement, refactor, test, fix, function, class]
  requires_tests_verified: true
- id: research
  description: Investigates a topic and produces a written summary.
  system_prompt: |
    You are a research specialist. Use web_search and fetch_url to gather
    information, then summarise your findings in finish_task.
  capabilities: [research, writing]
  keywords: [research, investigate, summarize, compare, explain, docs]
  requires_tests_verified: false
- id: general
  description: General-purpose fallback specialist.
  system_prompt: |
    You are a general-purpose specialist. Use the available tools to
    complete the task, then call finish_task.
  capabilities: [general]
  keywords: []
  requires_tests_verified: false
`

// LoadBuiltinDefinitions parses the embedded registry.
func LoadBuiltinDefinitions() ([]SpecialistDefinition, error) {
	var defs []SpecialistDefinition
	if err := yaml.Unmarshal([]byte(builtinRegistryYAML), &defs); err != nil {
		return nil, fmt.Errorf("pack: parse builtin registry: %w", err)
	}
	return defs, nil
}

// LoadDefinitionsFromFile loads an operator-supplied specialist registry,
// replacing the built-in one. The format is picked by file extension the
// way the teacher's config loader dispatches .yaml/.yml/.json/.json5 —
// .json5 exists specifically so an override file can carry comments and
// trailing commas without tripping strict JSON.
func LoadDefinitionsFromFile(path string) ([]SpecialistDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pack: read registry file %s: %w", path, err)
	}

	var defs []SpecialistDefinition
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json5":
		if err := json5.Unmarshal(data, &defs); err != nil {
			return nil, fmt.Errorf("pack: parse json5 registry %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &defs); err != nil {
			return nil, fmt.Errorf("pack: parse json registry %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &defs); err != nil {
			return nil, fmt.Errorf("pack: parse yaml registry %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("pack: unsupported registry file extension %q", ext)
	}
	return defs, nil
}

// Build constructs a Base pack for the given definition bound to a
// workspace path, grounded on the teacher's per-specialist tool wiring:
// shell, read_file, write_file, list_files, run_tests, finish_task.
func Build(def SpecialistDefinition, workspacePath string, networkAllowed bool) (*Base, error) {
	policy, err := sandbox.New(workspacePath, networkAllowed, nil)
	if err != nil {
		return nil, fmt.Errorf("pack: build %s: %w", def.ID, err)
	}

	required := []string{"summary"}
	var gate func(map[string]interface{}) (string, bool)
	if def.RequiresTestsVerified {
		required = append(required, "tests_verified")
		gate = func(args map[string]interface{}) (string, bool) {
			if v, ok := args["tests_verified"].(bool); ok && !v {
				return "tests_verified is false. Run run_tests, fix any failures, then call finish_task with tests_verified=true.", true
			}
			return "", false
		}
	}

	b := NewBase(Config{
		SpecialistID:         def.ID,
		SystemPrompt:         def.SystemPrompt,
		FinishRequiredFields: required,
		QualityGate:          gate,
	})

	b.RegisterTool(ToolDefinition{
		Name:        "read_file",
		Description: "Read a text file from the workspace.",
		Schema:      mustSchema(map[string]interface{}{"type": "object", "properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}}, "required": []string{"path"}}),
	}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		path, _ := args["path"].(string)
		return files.ReadText(policy, path)
	})

	b.RegisterTool(ToolDefinition{
		Name:        "write_file",
		Description: "Write a text file to the workspace, creating parent directories.",
		Schema: mustSchema(map[string]interface{}{"type": "object", "properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"}, "content": map[string]interface{}{"type": "string"},
		}, "required": []string{"path", "content"}}),
	}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		return files.WriteText(policy, path, content)
	})

	b.RegisterTool(ToolDefinition{
		Name:        "list_files",
		Description: "List files in the workspace, lexicographically.",
		Schema:      mustSchema(map[string]interface{}{"type": "object", "properties": map[string]interface{}{"max_files": map[string]interface{}{"type": "integer"}}}),
	}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		maxFiles := 500
		if v, ok := args["max_files"].(float64); ok {
			maxFiles = int(v)
		}
		return files.ListTree(policy, maxFiles)
	})

	b.RegisterTool(ToolDefinition{
		Name:        "shell",
		Description: "Run a shell command inside the sandboxed workspace.",
		Schema: mustSchema(map[string]interface{}{"type": "object", "properties": map[string]interface{}{
			"cmd":        map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"timeout_s":  map[string]interface{}{"type": "integer"},
		}, "required": []string{"cmd"}}),
	}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		cmd := toStringSlice(args["cmd"])
		timeout := 120 * time.Second
		if v, ok := args["timeout_s"].(float64); ok {
			timeout = time.Duration(v) * time.Second
		}
		return shell.Run(ctx, policy, cmd, timeout)
	})

	b.RegisterTool(ToolDefinition{
		Name:        "run_tests",
		Description: "Auto-detect and run the workspace's test suite.",
		Schema: mustSchema(map[string]interface{}{"type": "object", "properties": map[string]interface{}{
			"framework": map[string]interface{}{"type": "string"}, "path": map[string]interface{}{"type": "string"},
		}}),
	}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		fw, _ := args["framework"].(string)
		path, _ := args["path"].(string)
		result, err := testrunner.Run(ctx, policy, testrunner.Framework(fw), path, 300*time.Second)
		if err != nil {
			return nil, err
		}
		data, _ := json.Marshal(result)
		var out map[string]interface{}
		_ = json.Unmarshal(data, &out)
		return out, nil
	})

	if networkAllowed {
		registerWebTools(b)
	}

	return b, nil
}

// registerWebTools adds web_search and fetch_url to a pack built with
// networkAllowed=true, on top of its other tools. They are omitted
// entirely (not merely disabled) when network access is off, per
// spec.md's "does not enforce network isolation... only suppresses
// registration of network-bearing tools".
func registerWebTools(b *Base) {
	client := websearch.NewClient()

	b.RegisterTool(ToolDefinition{
		Name:        "web_search",
		Description: "Search the web and return a list of {title, url} results.",
		Schema: mustSchema(map[string]interface{}{"type": "object", "properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		}, "required": []string{"query"}}),
	}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		query, _ := args["query"].(string)
		return client.Search(ctx, query), nil
	})

	b.RegisterTool(ToolDefinition{
		Name:        "fetch_url",
		Description: "Fetch a URL's body, truncated to a fixed byte budget.",
		Schema: mustSchema(map[string]interface{}{"type": "object", "properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string"},
		}, "required": []string{"url"}}),
	}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		url, _ := args["url"].(string)
		return client.FetchURL(ctx, url), nil
	})
}

// BuildWithBrowser wraps Build, additionally registering
// browser_navigate/browser_click/browser_fill/browser_screenshot when
// browserPool is non-nil and networkAllowed is set — the browser feature
// flag and the network gate both have to be on, per spec.md's tool
// table, since a headless browser is itself a network-bearing tool.
func BuildWithBrowser(def SpecialistDefinition, workspacePath string, networkAllowed bool, browserPool *browser.Pool) (*Base, error) {
	b, err := Build(def, workspacePath, networkAllowed)
	if err != nil {
		return nil, err
	}
	if !networkAllowed || browserPool == nil {
		return b, nil
	}

	policy, err := sandbox.New(workspacePath, networkAllowed, nil)
	if err != nil {
		return nil, fmt.Errorf("pack: build %s: %w", def.ID, err)
	}
	tool := browser.New(browserPool, policy)

	b.RegisterTool(ToolDefinition{
		Name:        "browser_navigate",
		Description: "Navigate a headless browser to a URL.",
		Schema:      mustSchema(map[string]interface{}{"type": "object", "properties": map[string]interface{}{"url": map[string]interface{}{"type": "string"}}, "required": []string{"url"}}),
	}, tool.Navigate)

	b.RegisterTool(ToolDefinition{
		Name:        "browser_click",
		Description: "Click the first element matching a CSS selector.",
		Schema:      mustSchema(map[string]interface{}{"type": "object", "properties": map[string]interface{}{"selector": map[string]interface{}{"type": "string"}}, "required": []string{"selector"}}),
	}, tool.Click)

	b.RegisterTool(ToolDefinition{
		Name:        "browser_fill",
		Description: "Type a value into the first element matching a CSS selector.",
		Schema: mustSchema(map[string]interface{}{"type": "object", "properties": map[string]interface{}{
			"selector": map[string]interface{}{"type": "string"}, "value": map[string]interface{}{"type": "string"},
		}, "required": []string{"selector", "value"}}),
	}, tool.Fill)

	b.RegisterTool(ToolDefinition{
		Name:        "browser_screenshot",
		Description: "Capture a screenshot and save it under the workspace.",
		Schema:      mustSchema(map[string]interface{}{"type": "object", "properties": map[string]interface{}{"filename": map[string]interface{}{"type": "string"}}}),
	}, tool.Screenshot)

	return b, nil
}

func mustSchema(v map[string]interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
