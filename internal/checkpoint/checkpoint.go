// Package checkpoint implements the checkpoint store (C10): an atomic
// on-disk snapshot of in-flight multi-specialist state, grounded directly
// on the teacher's tmp-file-then-rename idiom in
// internal/artifacts/local_store.go and internal/multiagent/subagent_registry.go.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forgehq/taskforge/internal/runstore"
	"github.com/forgehq/taskforge/pkg/models"
)

const fileName = "checkpoint.json"

// Save writes checkpoint.json.tmp then renames it into place — after this
// call returns, either the old checkpoint or the new one is on disk,
// never a partial file, and no .tmp remains (spec §8).
func Save(runDir string, cp models.RunCheckpoint) error {
	cp.SchemaVersion = models.CurrentCheckpointSchemaVersion
	cp.UpdatedAt = time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	path := filepath.Join(runDir, fileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Load returns the checkpoint, or (nil, nil) when the file is missing or
// fails to parse — a missing/corrupt checkpoint is not itself an error.
func Load(runDir string) (*models.RunCheckpoint, error) {
	data, err := os.ReadFile(filepath.Join(runDir, fileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: read: %w", err)
	}
	var cp models.RunCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, nil
	}
	if cp.SchemaVersion != 0 && cp.SchemaVersion != models.CurrentCheckpointSchemaVersion {
		return nil, nil
	}
	return &cp, nil
}

// Delete removes the checkpoint file; idempotent, a no-op on an absent file.
func Delete(runDir string) error {
	err := os.Remove(filepath.Join(runDir, fileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}

// FindResumable returns the run ids under {workspaceRoot}/runs/ whose
// checkpoint.json exists and whose event log either does not exist or
// contains no run_complete event.
func FindResumable(workspaceRoot string) ([]string, error) {
	ids, err := runstore.ListRuns(workspaceRoot)
	if err != nil {
		return nil, err
	}
	var resumable []string
	for _, id := range ids {
		runDir := filepath.Join(workspaceRoot, "runs", id)
		if _, err := os.Stat(filepath.Join(runDir, fileName)); err != nil {
			continue
		}
		complete, err := runstore.HasRunComplete(runDir)
		if err != nil {
			continue
		}
		if !complete {
			resumable = append(resumable, id)
		}
	}
	return resumable, nil
}
