// Package taskforce implements the task force coordinator (C8): it
// consumes an OrchestrationPlan and drives one engine.Loop per specialist,
// sequentially or in bounded parallel, merging results and running an
// optional synthesis pass. The parallel path is grounded on the teacher's
// internal/multiagent/swarm.go (bounded-parallelism goroutines behind a
// semaphore, WaitGroup, and a mutex-guarded results slice) generalized
// from a dependency-graph executor to a flat specialist list and with
// per-pack failures recorded rather than propagated, per the design.
package taskforce

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/forgehq/taskforge/internal/checkpoint"
	"github.com/forgehq/taskforge/internal/engine"
	"github.com/forgehq/taskforge/internal/llm"
	"github.com/forgehq/taskforge/internal/pack"
	"github.com/forgehq/taskforge/pkg/models"
)

const (
	defaultMaxParallel  = 5
	synthesisToolName   = "synthesise_results"
)

// PackBuilder constructs a fresh pack.Pack for one specialist id, scoped
// to the run's workspace path and network policy. Packs are created per
// run and discarded; the coordinator calls this once per specialist.
type PackBuilder func(specialistID string) (pack.Pack, error)

// Coordinator drives an OrchestrationPlan to completion.
type Coordinator struct {
	Chat        llm.Client
	Model       string
	Events      engine.EventSink
	BuildPack   PackBuilder
	MaxSteps    int
	MaxParallel int

	// RunDir is where checkpoints are saved between specialists; empty
	// disables checkpointing (used by single-specialist ad hoc runs).
	RunDir string
}

func (c *Coordinator) maxParallel() int {
	if c.MaxParallel > 0 {
		return c.MaxParallel
	}
	return defaultMaxParallel
}

// Run drives plan to completion against the given task prompt, returning
// the final payload. cp, if non-nil, is mutated and persisted to RunDir
// after each sequential specialist completes (resume support).
func (c *Coordinator) Run(ctx context.Context, plan models.OrchestrationPlan, prompt string, cp *models.RunCheckpoint) (map[string]interface{}, error) {
	ids := plan.SpecialistIDs()
	if len(ids) == 0 {
		return nil, fmt.Errorf("taskforce: plan has no assignments")
	}

	if len(ids) == 1 {
		payload, err := c.runOne(ctx, plan.Assignments[0], prompt, "", nil)
		if err != nil {
			return nil, err
		}
		c.checkpointAfter(cp, ids[0], payload)
		c.finish(ids)
		return payload, nil
	}

	var payload map[string]interface{}
	var err error
	if plan.Mode == models.ModeParallel {
		payload, err = c.runParallel(ctx, plan, prompt)
	} else {
		payload, err = c.runSequential(ctx, plan, prompt, cp)
	}
	if err != nil {
		return nil, err
	}

	if plan.SynthesisRequired {
		if synthesised, ok := c.synthesise(ctx, payload); ok {
			payload = synthesised
			c.emit(models.EventSynthesisComplete, "", map[string]interface{}{"specialist_ids": ids})
		}
	}
	c.finish(ids)
	return payload, nil
}

// finish deletes the run's checkpoint (if any) and emits run_complete —
// called once, on every non-error exit from Run.
func (c *Coordinator) finish(specialistIDs []string) {
	if c.RunDir != "" {
		_ = checkpoint.Delete(c.RunDir)
	}
	c.emit(models.EventRunComplete, "", map[string]interface{}{"resumed": false, "specialist_ids": specialistIDs})
}

func (c *Coordinator) emit(kind models.EventKind, step string, payload map[string]interface{}) {
	if c.Events == nil {
		return
	}
	_ = c.Events.AppendEvent(kind, step, payload)
}

// runOne builds a pack for one assignment and drives its loop, composing
// the initial user message per spec §4.7's handoff template.
func (c *Coordinator) runOne(ctx context.Context, a models.Assignment, prompt, prevSID string, prevPayload map[string]interface{}) (map[string]interface{}, error) {
	p, err := c.BuildPack(a.SpecialistID)
	if err != nil {
		return nil, fmt.Errorf("taskforce: build pack %s: %w", a.SpecialistID, err)
	}

	c.emit(models.EventPackStart, a.SpecialistID, map[string]interface{}{"specialist_id": a.SpecialistID})

	loop := &engine.Loop{
		Pack:       p,
		Chat:       c.Chat,
		Events:     c.Events,
		Model:      c.Model,
		StepPrefix: a.SpecialistID,
		MaxSteps:   c.MaxSteps,
	}

	result, err := loop.Run(ctx, handoffMessage(prompt, a.Brief, prevSID, prevPayload))
	if err != nil {
		return nil, err
	}
	return result.Payload, nil
}

// handoffMessage composes the initial user message per spec §4.7: the
// task prompt, optionally followed by the previous specialist's payload
// as context and this specialist's brief, in that order.
func handoffMessage(prompt, brief, prevSID string, prevPayload map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s", prompt)
	if prevPayload != nil {
		indented, err := json.MarshalIndent(prevPayload, "", "  ")
		if err == nil {
			fmt.Fprintf(&b, "\n\nContext from '%s' specialist (prior task-force member):\n%s", prevSID, string(indented))
		}
	}
	if brief != "" {
		fmt.Fprintf(&b, "\n\nYour specific assignment:\n%s", brief)
	}
	return b.String()
}

// runSequential drives each assignment in order, feeding the previous
// specialist's payload as handoff context and checkpointing after each.
// The return value merges every specialist's payload into the same
// pack_results shape runParallel and ResumeRun produce, rather than just
// the last specialist's payload — synthesise (called next by Run, when
// the plan requires it) needs pack_results from all of them, not only the
// final one.
func (c *Coordinator) runSequential(ctx context.Context, plan models.OrchestrationPlan, prompt string, cp *models.RunCheckpoint) (map[string]interface{}, error) {
	var (
		prevSID     string
		prevPayload map[string]interface{}
	)
	ids := plan.SpecialistIDs()
	payloads := map[string]map[string]interface{}{}
	for _, a := range plan.Assignments {
		payload, err := c.runOne(ctx, a, prompt, prevSID, prevPayload)
		if err != nil {
			c.emit(models.EventSpecialistError, a.SpecialistID, map[string]interface{}{"specialist_id": a.SpecialistID, "error": err.Error()})
			return nil, fmt.Errorf("taskforce: specialist %s: %w", a.SpecialistID, err)
		}
		prevSID, prevPayload = a.SpecialistID, payload
		payloads[a.SpecialistID] = payload
		c.checkpointAfter(cp, a.SpecialistID, payload)
	}
	return mergePackResults(ids, payloads, nil), nil
}

// runParallel launches every assignment concurrently (bounded by
// maxParallel), grounded on the teacher's swarm.go semaphore-and-WaitGroup
// pattern. Unlike the sequential path, a per-pack failure is recorded as
// an error dict in pack_results rather than aborting the run.
func (c *Coordinator) runParallel(ctx context.Context, plan models.OrchestrationPlan, prompt string) (map[string]interface{}, error) {
	ids := plan.SpecialistIDs()
	c.emit(models.EventTaskForceParallel, "", map[string]interface{}{"specialist_ids": ids})

	type outcome struct {
		sid     string
		payload map[string]interface{}
		err     error
	}

	sem := make(chan struct{}, c.maxParallel())
	results := make(chan outcome, len(plan.Assignments))
	var wg sync.WaitGroup

	for _, a := range plan.Assignments {
		a := a

		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- outcome{sid: a.SpecialistID, err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			payload, err := c.runOne(ctx, a, prompt, "", nil)
			results <- outcome{sid: a.SpecialistID, payload: payload, err: err}
		}()
	}

	wg.Wait()
	close(results)

	payloads := map[string]map[string]interface{}{}
	errDicts := map[string]string{}
	for o := range results {
		if o.err != nil {
			c.emit(models.EventSpecialistError, o.sid, map[string]interface{}{"specialist_id": o.sid, "error": o.err.Error()})
			errDicts[o.sid] = o.err.Error()
			continue
		}
		payloads[o.sid] = o.payload
	}

	return mergePackResults(ids, payloads, errDicts), nil
}

// mergePackResults builds the multi-specialist final payload shape
// (sequential, parallel and resume):
// pack_results keyed by specialist id (payload or {"error": ...}), and a
// summary joining every non-empty sub-summary in plan order.
func mergePackResults(order []string, payloads map[string]map[string]interface{}, errDicts map[string]string) map[string]interface{} {
	packResults := map[string]interface{}{}
	var summaryParts []string
	for _, sid := range order {
		if msg, failed := errDicts[sid]; failed {
			packResults[sid] = map[string]interface{}{"error": msg}
			continue
		}
		payload, ok := payloads[sid]
		if !ok {
			continue
		}
		packResults[sid] = payload
		if summary, ok := payload["summary"].(string); ok && summary != "" {
			summaryParts = append(summaryParts, fmt.Sprintf("%s: %s", sid, summary))
		}
	}
	return map[string]interface{}{
		"action":       "final",
		"pack_results": packResults,
		"summary":      strings.Join(summaryParts, " | "),
		"artifacts":    []string{},
		"next_steps":   []string{},
	}
}

func (c *Coordinator) checkpointAfter(cp *models.RunCheckpoint, specialistID string, payload map[string]interface{}) {
	if cp == nil || c.RunDir == "" {
		return
	}
	cp.CompletedSpecialists = append(append([]string(nil), cp.CompletedSpecialists...), specialistID)
	if cp.Payloads == nil {
		cp.Payloads = map[string]map[string]interface{}{}
	}
	cp.Payloads[specialistID] = payload
	_ = checkpoint.Save(c.RunDir, *cp)
}

// synthesise issues one extra LLM call constrained to a single
// synthesise_results tool, temperature 0, replacing the merged payload on
// success and leaving it untouched on any failure (no tool call, or a
// transport error).
func (c *Coordinator) synthesise(ctx context.Context, merged map[string]interface{}) (map[string]interface{}, bool) {
	packResults, _ := merged["pack_results"].(map[string]interface{})
	nonError := 0
	for _, v := range packResults {
		if dict, ok := v.(map[string]interface{}); ok {
			if _, isErr := dict["error"]; !isErr {
				nonError++
			}
		}
	}
	if nonError < 2 {
		return nil, false
	}

	resultsJSON, err := json.MarshalIndent(packResults, "", "  ")
	if err != nil {
		return nil, false
	}

	schema := []byte(`{"type":"object","properties":{"summary":{"type":"string"},"key_findings":{"type":"array","items":{"type":"string"}},"artifacts":{"type":"array","items":{"type":"string"}},"next_steps":{"type":"array","items":{"type":"string"}}},"required":["summary","key_findings"]}`)

	resp, err := c.Chat.Chat(ctx, llm.Request{
		Model:       c.Model,
		Temperature: 0,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "You synthesise the outputs of multiple specialists into one final report. Call synthesise_results exactly once."},
			{Role: models.RoleUser, Content: "Specialist results:\n" + string(resultsJSON)},
		},
		Tools: []llm.ToolSpec{{Name: synthesisToolName, Description: "Produce the synthesised final report.", Parameters: schema}},
	})
	if err != nil || len(resp.ToolCalls) == 0 {
		return nil, false
	}

	var call *models.ToolCallRequest
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].ToolName == synthesisToolName {
			call = &resp.ToolCalls[i]
			break
		}
	}
	if call == nil {
		return nil, false
	}

	out := map[string]interface{}{"action": "final"}
	for k, v := range call.Arguments {
		out[k] = v
	}
	return out, true
}
