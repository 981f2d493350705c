package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgehq/taskforge/internal/llm"
	"github.com/forgehq/taskforge/internal/pack"
	"github.com/forgehq/taskforge/internal/recruit"
	"github.com/forgehq/taskforge/internal/tools/browser"
	"github.com/forgehq/taskforge/pkg/models"
)

// commonFlags are the flags the run and resume commands share.
type commonFlags struct {
	workspaceRoot string
	networkAllow  bool
	browserFlag   bool
	model         string
	backend       string
	maxSteps      int
	maxParallel   int
	ratePerSecond float64
	burst         int
}

// addCommonFlags registers the flags run and resume share.
func addCommonFlags(cmd *cobra.Command, f *commonFlags) {
	cmd.Flags().StringVar(&f.workspaceRoot, "workspace-root", ".taskforge", "Directory holding runs/ and run_index.jsonl")
	cmd.Flags().BoolVar(&f.networkAllow, "network", false, "Allow network-bearing tools (web_search, fetch_url, browser)")
	cmd.Flags().BoolVar(&f.browserFlag, "browser", false, "Register browser_* tools (requires --network)")
	cmd.Flags().StringVar(&f.model, "model", "", "Model name passed to the chat backend")
	cmd.Flags().StringVar(&f.backend, "backend", "ollama", "Chat backend: ollama|openai|anthropic|bedrock")
	cmd.Flags().IntVar(&f.maxSteps, "max-steps", 0, "Override the per-specialist loop step budget (0 = default)")
	cmd.Flags().IntVar(&f.maxParallel, "max-parallel", 0, "Override bounded parallelism for parallel-mode task forces (0 = default)")
	cmd.Flags().Float64Var(&f.ratePerSecond, "rate-limit", 0, "Chat requests per second (0 = unlimited)")
	cmd.Flags().IntVar(&f.burst, "rate-burst", 1, "Token bucket burst size for --rate-limit")
}

// buildChatClient assembles the local backend named by flags.backend,
// wrapping it in a cloud FallbackClient when ANTHROPIC_API_KEY is set (or
// AWS_REGION together with TASKFORGE_BEDROCK_FALLBACK=1), then in a
// RateLimitedClient when --rate-limit is positive — the same layered
// shape internal/llm.FallbackClient/RateLimitedClient were designed for.
func buildChatClient(ctx context.Context, f *commonFlags) (llm.Client, error) {
	local, err := buildLocalClient(ctx, f.backend)
	if err != nil {
		return nil, err
	}

	var chat llm.Client = local
	if cloud, cloudModel, ok := buildCloudFallback(ctx); ok {
		chat = llm.NewFallbackClient(local, cloud, cloudModel, llm.FallbackNoToolCalls)
	}

	if f.ratePerSecond > 0 {
		burst := f.burst
		if burst <= 0 {
			burst = 1
		}
		chat = llm.NewRateLimitedClient(chat, f.ratePerSecond, burst)
	}
	return chat, nil
}

func buildLocalClient(ctx context.Context, backend string) (llm.Client, error) {
	switch strings.ToLower(backend) {
	case "", "ollama":
		baseURL := os.Getenv("OLLAMA_BASE_URL")
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return llm.NewOllamaClient(baseURL), nil
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for --backend=openai")
		}
		return llm.NewOpenAIClient(key, os.Getenv("OPENAI_BASE_URL")), nil
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for --backend=anthropic")
		}
		return llm.NewAnthropicClient(key), nil
	case "bedrock":
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		return llm.NewBedrockClient(ctx, region)
	default:
		return nil, fmt.Errorf("unknown --backend %q (want ollama|openai|anthropic|bedrock)", backend)
	}
}

// buildCloudFallback returns a cloud-shaped client to retry against when
// the local backend's response needs one, preferring Anthropic then
// Bedrock — both are optional; ok is false when neither is configured.
func buildCloudFallback(ctx context.Context) (llm.Client, string, bool) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		model := os.Getenv("ANTHROPIC_MODEL")
		if model == "" {
			model = "claude-sonnet-4-5"
		}
		return llm.NewAnthropicClient(key), model, true
	}
	if region := os.Getenv("AWS_REGION"); region != "" && os.Getenv("TASKFORGE_BEDROCK_FALLBACK") == "1" {
		client, err := llm.NewBedrockClient(ctx, region)
		if err == nil {
			model := os.Getenv("BEDROCK_MODEL")
			if model == "" {
				model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
			}
			return client, model, true
		}
	}
	return nil, "", false
}

// packBuilderFor returns a taskforce.PackBuilder bound to one run's
// workspace path, optionally standing up a headless browser pool when
// both --network and --browser are set — the pool is owned by the
// caller so it can be closed once after the run completes.
func packBuilderFor(workspacePath string, f *commonFlags) (func(specialistID string) (pack.Pack, error), *browser.Pool, error) {
	defs, err := pack.LoadBuiltinDefinitions()
	if err != nil {
		return nil, nil, err
	}
	bySID := map[string]pack.SpecialistDefinition{}
	for _, d := range defs {
		bySID[d.ID] = d
	}

	var pool *browser.Pool
	if f.networkAllow && f.browserFlag {
		pool, err = browser.NewPool(browser.PoolConfig{MaxInstances: 2, Headless: true})
		if err != nil {
			return nil, nil, fmt.Errorf("start browser pool: %w", err)
		}
	}

	builder := func(specialistID string) (pack.Pack, error) {
		def, ok := bySID[specialistID]
		if !ok {
			return nil, fmt.Errorf("unknown specialist %q", specialistID)
		}
		if pool != nil {
			return pack.BuildWithBrowser(def, workspacePath, f.networkAllow, pool)
		}
		return pack.Build(def, workspacePath, f.networkAllow)
	}
	return builder, pool, nil
}

// specialistsForRecruiter loads the builtin registry as []models.Specialist
// (the recruiter's currency) plus the recruit.CapabilityKeywords table
// recruit.InferCapabilities needs: every capability a definition declares
// inherits that definition's trigger keywords, since the registry format
// attaches keywords to a specialist rather than to a bare capability id.
func specialistsForRecruiter() ([]models.Specialist, recruit.CapabilityKeywords, []string, error) {
	defs, err := pack.LoadBuiltinDefinitions()
	if err != nil {
		return nil, nil, nil, err
	}
	specialists := make([]models.Specialist, len(defs))
	keywords := recruit.CapabilityKeywords{}
	var order []string
	seen := map[string]bool{}
	for i, d := range defs {
		specialists[i] = models.Specialist{
			ID:           d.ID,
			Description:  d.Description,
			Capabilities: d.Capabilities,
			Keywords:     d.Keywords,
		}
		for _, capID := range d.Capabilities {
			keywords[capID] = append(keywords[capID], d.Keywords...)
			if !seen[capID] {
				seen[capID] = true
				order = append(order, capID)
			}
		}
	}
	return specialists, keywords, order, nil
}
