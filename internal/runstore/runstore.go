// Package runstore implements the run repository (C9): the per-run
// directory layout, an append-only JSONL event log, and tolerant readers,
// grounded on the teacher's agent.TracePlugin (append-then-fsync,
// single-writer-per-file) generalized from agent events to RunEvent.
package runstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/forgehq/taskforge/pkg/models"
)

const (
	runsDirName      = "runs"
	workspaceDirName = "workspace"
	eventLogName     = "runlog.jsonl"
)

// NewRunID mints an opaque, random run id (a UUID); ids do not sort by
// creation time.
func NewRunID() string {
	return uuid.NewString()
}

// Repository owns one run directory: its event log file handle and the
// per-run workspace subdirectory. Single writer per run, per spec §5.
type Repository struct {
	root   string
	runID  string
	runDir string

	mu   sync.Mutex
	file *os.File
}

// Create makes {root}/runs/{runID}/workspace/ and opens the event log for
// appending.
func Create(root, runID string) (*Repository, error) {
	runDir := filepath.Join(root, runsDirName, runID)
	if err := os.MkdirAll(filepath.Join(runDir, workspaceDirName), 0o755); err != nil {
		return nil, fmt.Errorf("runstore: create run dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(runDir, eventLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runstore: open event log: %w", err)
	}
	return &Repository{root: root, runID: runID, runDir: runDir, file: f}, nil
}

// Open re-attaches to an existing run directory (for resume).
func Open(root, runID string) (*Repository, error) {
	runDir := filepath.Join(root, runsDirName, runID)
	if _, err := os.Stat(runDir); err != nil {
		return nil, fmt.Errorf("runstore: run %s not found: %w", runID, err)
	}
	f, err := os.OpenFile(filepath.Join(runDir, eventLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runstore: open event log: %w", err)
	}
	return &Repository{root: root, runID: runID, runDir: runDir, file: f}, nil
}

func (r *Repository) RunDir() string       { return r.runDir }
func (r *Repository) WorkspacePath() string { return filepath.Join(r.runDir, workspaceDirName) }

// AppendEvent serialises and appends one event, flushing immediately for
// crash safety. Serialised by mu: parallel specialists share one
// Repository and their appends do not interleave.
func (r *Repository) AppendEvent(kind models.EventKind, step string, payload map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := models.NewRunEvent(kind, step, payload)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("runstore: marshal event: %w", err)
	}
	if _, err := r.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("runstore: write event: %w", err)
	}
	return r.file.Sync()
}

// Close closes the event log file handle.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// ReadEvents tolerates malformed lines (skips them) rather than failing
// the whole read, per spec §6.
func ReadEvents(runDir string) ([]models.RunEvent, error) {
	f, err := os.Open(filepath.Join(runDir, eventLogName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("runstore: open event log: %w", err)
	}
	defer f.Close()

	var events []models.RunEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event models.RunEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// ListRuns returns every run id found under {root}/runs/.
func ListRuns(root string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, runsDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("runstore: list runs: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// HasRunComplete reports whether a run's event log already contains a
// run_complete event — used by the checkpoint store's resumability scan.
func HasRunComplete(runDir string) (bool, error) {
	events, err := ReadEvents(runDir)
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if e.Kind == models.EventRunComplete {
			return true, nil
		}
	}
	return false, nil
}
