// Package recruit implements the recruiter/orchestrator (C6): capability
// inference, greedy specialist selection, and the full three-tier
// recruitment pipeline (orchestrator LLM -> capability LLM -> keyword
// fallback), grounded on the teacher's router/swarm greedy-cover style.
package recruit

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/forgehq/taskforge/internal/llm"
	"github.com/forgehq/taskforge/pkg/models"
)

// CapabilityKeywords maps a capability id to the keywords that imply it.
type CapabilityKeywords map[string][]string

// InferCapabilities returns the ordered list of capability ids whose any
// keyword appears (case-insensitive substring) in prompt, in the map's
// iteration order stabilised by the caller-supplied order slice.
func InferCapabilities(prompt string, keywords CapabilityKeywords, order []string) []string {
	lower := strings.ToLower(prompt)
	var out []string
	for _, capID := range order {
		for _, kw := range keywords[capID] {
			if strings.Contains(lower, strings.ToLower(kw)) {
				out = append(out, capID)
				break
			}
		}
	}
	return out
}

// Greedy covers required using each specialist's declared capabilities:
// repeatedly pick the specialist covering the most uncovered
// capabilities, ties broken by specialists' position in the input slice.
// The final order always follows specialists' config insertion order,
// not the greedy pick order.
func Greedy(specialists []models.Specialist, required []string) []string {
	remaining := map[string]struct{}{}
	for _, r := range required {
		remaining[r] = struct{}{}
	}

	picked := map[string]bool{}
	for len(remaining) > 0 {
		bestIdx := -1
		bestCover := 0
		for i, s := range specialists {
			if picked[s.ID] {
				continue
			}
			cover := 0
			for r := range remaining {
				if s.HasCapability(r) {
					cover++
				}
			}
			if cover > bestCover {
				bestCover = cover
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		s := specialists[bestIdx]
		picked[s.ID] = true
		for r := range remaining {
			if s.HasCapability(r) {
				delete(remaining, r)
			}
		}
	}

	var out []string
	for _, s := range specialists {
		if picked[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}

// Recruiter drives the full pipeline described in spec.md §4.5.
type Recruiter struct {
	Specialists []models.Specialist
	Keywords    CapabilityKeywords
	CapOrder    []string
	Orchestrator llm.Client
	OrchestratorModel string
}

// OrchestratorToolName is the forced tool the orchestrator LLM call uses.
const OrchestratorToolName = "create_plan"

// CapabilityToolName is the forced tool the capability-routing LLM call uses.
const CapabilityToolName = "select_capabilities"

// Recruit produces an OrchestrationPlan for task, falling through
// orchestrator -> llm_routing -> keyword_routing -> keyword_fallback, or
// using task.SpecialistID verbatim when set (routing = explicit).
func (r *Recruiter) Recruit(ctx context.Context, task models.Task) (models.OrchestrationPlan, error) {
	if task.SpecialistID != "" {
		return models.OrchestrationPlan{
			Assignments:   []models.Assignment{{SpecialistID: task.SpecialistID}},
			Mode:          models.ModeSequential,
			RoutingMethod: models.RoutingExplicit,
		}, nil
	}

	if r.Orchestrator != nil {
		if plan, ok := r.tryOrchestratorPlan(ctx, task); ok {
			return r.finalise(plan, models.RoutingOrchestrator), nil
		}
		if caps, ok := r.tryCapabilityRouting(ctx, task); ok {
			plan := r.planFromCapabilities(caps)
			return r.finalise(plan, models.RoutingLLM), nil
		}
	}

	caps := InferCapabilities(task.Prompt, r.Keywords, r.CapOrder)
	if len(caps) > 0 {
		plan := r.planFromCapabilities(caps)
		return r.finalise(plan, models.RoutingKeyword), nil
	}

	// Final hardcoded heuristic: engineering for code-ish prompts, else research.
	fallbackID := "research"
	lower := strings.ToLower(task.Prompt)
	for _, kw := range []string{"code", "bug", "implement", "fix", "function", "class", "refactor"} {
		if strings.Contains(lower, kw) {
			fallbackID = "engineering"
			break
		}
	}
	return r.finalise(models.OrchestrationPlan{
		Assignments: []models.Assignment{{SpecialistID: fallbackID}},
		Mode:        models.ModeSequential,
	}, models.RoutingKeywordFallback), nil
}

func (r *Recruiter) planFromCapabilities(caps []string) models.OrchestrationPlan {
	ids := Greedy(r.Specialists, caps)
	assignments := make([]models.Assignment, len(ids))
	for i, id := range ids {
		assignments[i] = models.Assignment{SpecialistID: id}
	}
	mode := models.ModeSequential
	if len(assignments) > 1 {
		mode = models.ModeSequential // parallel is an explicit orchestrator decision, not implied by greedy cover
	}
	return models.OrchestrationPlan{Assignments: assignments, Mode: mode, RequiredCapabilities: caps}
}

// finalise validates assignments against known specialists, forces
// synthesis on multi-specialist plans, and forces sequential mode for
// single-specialist plans — the invariants from spec.md §3.
func (r *Recruiter) finalise(plan models.OrchestrationPlan, method string) models.OrchestrationPlan {
	known := map[string]bool{}
	for _, s := range r.Specialists {
		known[s.ID] = true
	}
	filtered := plan.Assignments[:0:0]
	for _, a := range plan.Assignments {
		if known[a.SpecialistID] {
			filtered = append(filtered, a)
		}
	}
	plan.Assignments = filtered
	plan.RoutingMethod = method

	if len(plan.Assignments) == 0 {
		plan.Assignments = []models.Assignment{{SpecialistID: "general"}}
		plan.RoutingMethod = models.RoutingKeywordFallback
	}
	if len(plan.Assignments) == 1 {
		plan.Mode = models.ModeSequential
	}
	if len(plan.Assignments) > 1 {
		plan.SynthesisRequired = true
	}
	return plan
}

type createPlanArgs struct {
	Assignments       []models.Assignment `json:"assignments"`
	Mode              string              `json:"mode"`
	SynthesisRequired bool                `json:"synthesis_required"`
	Reasoning         string              `json:"reasoning"`
}

func (r *Recruiter) tryOrchestratorPlan(ctx context.Context, task models.Task) (models.OrchestrationPlan, bool) {
	resp, err := r.Orchestrator.Chat(ctx, llm.Request{
		Model:    r.OrchestratorModel,
		Messages: []models.Message{{Role: models.RoleUser, Content: task.Prompt}},
		Tools:    []llm.ToolSpec{{Name: OrchestratorToolName}},
	})
	if err != nil {
		return models.OrchestrationPlan{}, false
	}
	for _, tc := range resp.ToolCalls {
		if tc.ToolName != OrchestratorToolName {
			continue
		}
		if _, malformed := tc.Arguments[models.RawArgsKey]; malformed {
			continue
		}
		data, _ := json.Marshal(tc.Arguments)
		var args createPlanArgs
		if err := json.Unmarshal(data, &args); err != nil || len(args.Assignments) == 0 {
			continue
		}
		mode := models.TaskForceMode(args.Mode)
		if mode != models.ModeParallel {
			mode = models.ModeSequential
		}
		return models.OrchestrationPlan{
			Assignments:       args.Assignments,
			Mode:              mode,
			SynthesisRequired: args.SynthesisRequired,
			Reasoning:         args.Reasoning,
		}, true
	}
	return models.OrchestrationPlan{}, false
}

type selectCapabilitiesArgs struct {
	Capabilities []string `json:"capabilities"`
}

func (r *Recruiter) tryCapabilityRouting(ctx context.Context, task models.Task) ([]string, bool) {
	resp, err := r.Orchestrator.Chat(ctx, llm.Request{
		Model:    r.OrchestratorModel,
		Messages: []models.Message{{Role: models.RoleUser, Content: task.Prompt}},
		Tools:    []llm.ToolSpec{{Name: CapabilityToolName}},
	})
	if err != nil {
		return nil, false
	}
	for _, tc := range resp.ToolCalls {
		if tc.ToolName != CapabilityToolName {
			continue
		}
		data, _ := json.Marshal(tc.Arguments)
		var args selectCapabilitiesArgs
		if err := json.Unmarshal(data, &args); err != nil || len(args.Capabilities) == 0 {
			continue
		}
		return args.Capabilities, true
	}
	return nil, false
}
