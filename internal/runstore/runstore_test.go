package runstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/forgehq/taskforge/pkg/models"
)

func TestAppendAndReadEventsRoundTrip(t *testing.T) {
	root := t.TempDir()
	repo, err := Create(root, "run-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer repo.Close()

	if err := repo.AppendEvent(models.EventLLMRequest, "step-0", map[string]interface{}{"message_count": 1.0}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := repo.AppendEvent(models.EventRunComplete, "", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, err := ReadEvents(repo.RunDir())
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 || events[0].Kind != models.EventLLMRequest || events[1].Kind != models.EventRunComplete {
		t.Fatalf("got %+v", events)
	}
}

func TestReadEventsToleratesMalformedLines(t *testing.T) {
	root := t.TempDir()
	repo, err := Create(root, "run-2")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.AppendEvent(models.EventRunComplete, "", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	repo.Close()

	logPath := filepath.Join(repo.RunDir(), eventLogName)
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("not json\n{\"partial\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	events, err := ReadEvents(repo.RunDir())
	if err != nil {
		t.Fatalf("ReadEvents should tolerate malformed lines, got error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 valid event, got %d: %+v", len(events), events)
	}
}

func TestHasRunCompleteAndListRuns(t *testing.T) {
	root := t.TempDir()
	repo, _ := Create(root, "run-3")
	repo.Close()

	complete, err := HasRunComplete(repo.RunDir())
	if err != nil {
		t.Fatalf("HasRunComplete: %v", err)
	}
	if complete {
		t.Fatal("expected no run_complete event yet")
	}

	ids, err := ListRuns(root)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(ids) != 1 || ids[0] != "run-3" {
		t.Fatalf("got %v", ids)
	}
}
