package taskforce

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/forgehq/taskforge/internal/checkpoint"
	"github.com/forgehq/taskforge/internal/runstore"
	"github.com/forgehq/taskforge/pkg/models"
)

// ErrNotResumable is returned when a run id has no checkpoint, or its
// event log already contains a run_complete event.
var ErrNotResumable = fmt.Errorf("taskforce: run is not resumable")

// ResumeRun re-attaches to an existing run directory and drives every
// specialist not yet in CompletedSpecialists, seeding each with the last
// completed specialist's payload as handoff context — the same shape as a
// sequential task force, regardless of the original TaskForceMode, per
// spec §4.7. On completion it runs synthesis if flagged, deletes the
// checkpoint, and emits run_complete with resumed=true.
func (c *Coordinator) ResumeRun(ctx context.Context, workspaceRoot, runID string) (map[string]interface{}, error) {
	runDir := filepath.Join(workspaceRoot, "runs", runID)

	cp, err := checkpoint.Load(runDir)
	if err != nil {
		return nil, fmt.Errorf("taskforce: load checkpoint: %w", err)
	}
	if cp == nil {
		return nil, ErrNotResumable
	}
	complete, err := runstore.HasRunComplete(runDir)
	if err != nil {
		return nil, fmt.Errorf("taskforce: check run completion: %w", err)
	}
	if complete {
		return nil, ErrNotResumable
	}

	repo, err := runstore.Open(workspaceRoot, runID)
	if err != nil {
		return nil, fmt.Errorf("taskforce: reopen run: %w", err)
	}
	defer repo.Close()

	// Events go to the reopened run log unless the caller supplied a sink.
	if c.Events == nil {
		c.Events = repo
	}
	c.RunDir = runDir

	completed := map[string]bool{}
	for _, sid := range cp.CompletedSpecialists {
		completed[sid] = true
	}

	payloads := map[string]map[string]interface{}{}
	for sid, payload := range cp.Payloads {
		payloads[sid] = payload
	}

	prevSID := ""
	if n := len(cp.CompletedSpecialists); n > 0 {
		prevSID = cp.CompletedSpecialists[n-1]
	}
	prevPayload := payloads[prevSID]

	errDicts := map[string]string{}
	assignmentBySID := map[string]models.Assignment{}
	if cp.OrchestrationPlan != nil {
		for _, a := range cp.OrchestrationPlan.Assignments {
			assignmentBySID[a.SpecialistID] = a
		}
	}

	for _, sid := range cp.SpecialistIDs {
		if completed[sid] {
			continue
		}
		assignment := assignmentBySID[sid]
		assignment.SpecialistID = sid

		payload, runErr := c.runOne(ctx, assignment, cp.TaskPrompt, prevSID, prevPayload)
		if runErr != nil {
			c.emit(models.EventSpecialistError, sid, map[string]interface{}{"specialist_id": sid, "error": runErr.Error()})
			errDicts[sid] = runErr.Error()
			return nil, fmt.Errorf("taskforce: resume specialist %s: %w", sid, runErr)
		}

		payloads[sid] = payload
		completed[sid] = true
		cp.CompletedSpecialists = append(cp.CompletedSpecialists, sid)
		cp.Payloads = payloads
		_ = checkpoint.Save(runDir, *cp)

		prevSID, prevPayload = sid, payload
	}

	var final map[string]interface{}
	if len(cp.SpecialistIDs) == 1 {
		final = payloads[cp.SpecialistIDs[0]]
	} else {
		final = mergePackResults(cp.SpecialistIDs, payloads, errDicts)
	}

	if cp.OrchestrationPlan != nil && cp.OrchestrationPlan.SynthesisRequired {
		if synthesised, ok := c.synthesise(ctx, final); ok {
			final = synthesised
			c.emit(models.EventSynthesisComplete, "", map[string]interface{}{"specialist_ids": cp.SpecialistIDs})
		}
	}

	_ = checkpoint.Delete(runDir)
	c.emit(models.EventRunComplete, "", map[string]interface{}{"resumed": true, "run_id": runID})

	return final, nil
}
