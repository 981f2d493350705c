// Package files implements the workspace-confined read/write/list tool
// executors (C2), delegating path confinement to the sandbox package.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/forgehq/taskforge/internal/sandbox"
)

// ReadText returns {path, content} for a workspace-relative path.
func ReadText(p *sandbox.Policy, rel string) (map[string]interface{}, error) {
	abs, err := p.SafePath(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return map[string]interface{}{"path": rel, "content": string(data)}, nil
}

// WriteText creates parent directories as needed and returns {path, bytes}.
func WriteText(p *sandbox.Policy, rel, content string) (map[string]interface{}, error) {
	abs, err := p.SafePath(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	return map[string]interface{}{"path": rel, "bytes": len(content)}, nil
}

// ListTree returns a lexicographic list of file rel-paths under the
// workspace root, capped at maxFiles.
func ListTree(p *sandbox.Policy, maxFiles int) (map[string]interface{}, error) {
	var paths []string
	err := filepath.WalkDir(p.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(p.Root, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tree: %w", err)
	}
	sort.Strings(paths)
	truncated := false
	if maxFiles > 0 && len(paths) > maxFiles {
		paths = paths[:maxFiles]
		truncated = true
	}
	return map[string]interface{}{"files": paths, "truncated": truncated}, nil
}
