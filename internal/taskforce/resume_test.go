package taskforce

import (
	"context"
	"testing"

	"github.com/forgehq/taskforge/internal/checkpoint"
	"github.com/forgehq/taskforge/internal/pack"
	"github.com/forgehq/taskforge/internal/runstore"
	"github.com/forgehq/taskforge/pkg/models"
)

func TestResumeRunCompletesRemainingSpecialistsAndDeletesCheckpoint(t *testing.T) {
	root := t.TempDir()
	runID := runstore.NewRunID()
	repo, err := runstore.Create(root, runID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cp := models.RunCheckpoint{
		RunID:                runID,
		TaskPrompt:           "ship the feature",
		SpecialistIDs:        []string{"engineering", "research"},
		CompletedSpecialists: []string{"engineering"},
		Payloads: map[string]map[string]interface{}{
			"engineering": {"action": "final", "summary": "wrote the code"},
		},
		TaskForceMode: models.ModeSequential,
		OrchestrationPlan: &models.OrchestrationPlan{
			Assignments: []models.Assignment{
				{SpecialistID: "engineering", Brief: "write the code"},
				{SpecialistID: "research", Brief: "write the docs"},
			},
			Mode: models.ModeSequential,
		},
	}
	if err := checkpoint.Save(repo.RunDir(), cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sink := &memorySink{}
	coord := &Coordinator{
		Chat:  &fixedClient{summary: "wrote the docs"},
		Model: "quality",
		Events: sink,
		BuildPack: func(sid string) (pack.Pack, error) {
			return stubPack(sid), nil
		},
		MaxSteps: 10,
	}

	payload, err := coord.ResumeRun(context.Background(), root, runID)
	if err != nil {
		t.Fatalf("ResumeRun: %v", err)
	}
	packResults, ok := payload["pack_results"].(map[string]interface{})
	if !ok || len(packResults) != 2 {
		t.Fatalf("expected a merged pack_results with 2 entries, got %+v", payload)
	}
	summary, _ := payload["summary"].(string)
	if !containsAll(summary, "engineering: wrote the code", "research: wrote the docs") {
		t.Fatalf("expected the joined summary to carry both specialists, got %q", summary)
	}

	if got, err := checkpoint.Load(repo.RunDir()); err != nil || got != nil {
		t.Fatalf("expected checkpoint to be deleted after resume, got %+v (err %v)", got, err)
	}

	found := false
	for _, e := range sink.events {
		if e.Kind == models.EventRunComplete {
			found = true
			if e.Payload["resumed"] != true {
				t.Fatalf("expected resumed=true on run_complete, got %+v", e.Payload)
			}
		}
	}
	if !found {
		t.Fatal("expected a run_complete event")
	}
}

func TestResumeRunRejectsAlreadyCompleteRun(t *testing.T) {
	root := t.TempDir()
	runID := runstore.NewRunID()
	repo, err := runstore.Create(root, runID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer repo.Close()

	if err := checkpoint.Save(repo.RunDir(), models.RunCheckpoint{RunID: runID, SpecialistIDs: []string{"engineering"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.AppendEvent(models.EventRunComplete, "", map[string]interface{}{}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	coord := &Coordinator{}
	if _, err := coord.ResumeRun(context.Background(), root, runID); err != ErrNotResumable {
		t.Fatalf("expected ErrNotResumable, got %v", err)
	}
}

func TestResumeRunRejectsMissingCheckpoint(t *testing.T) {
	root := t.TempDir()
	runID := runstore.NewRunID()
	if _, err := runstore.Create(root, runID); err != nil {
		t.Fatalf("Create: %v", err)
	}

	coord := &Coordinator{}
	if _, err := coord.ResumeRun(context.Background(), root, runID); err != ErrNotResumable {
		t.Fatalf("expected ErrNotResumable, got %v", err)
	}
}
