package checkpoint

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Event reports a checkpoint file appearing or disappearing, for a
// live doctor-style view of in-flight runs. Off by default; callers
// that want it call Watch explicitly.
type Event struct {
	RunID   string
	Created bool
}

// Watch streams checkpoint create/remove events under
// {workspaceRoot}/runs/*/checkpoint.json until ctx is done. It assumes
// run directories already exist (it does not watch for new run
// directories being created).
func Watch(ctx context.Context, workspaceRoot string, runIDs []string) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, id := range runIDs {
		_ = watcher.Add(filepath.Join(workspaceRoot, "runs", id))
	}

	out := make(chan Event)
	go func() {
		defer watcher.Close()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != fileName {
					continue
				}
				runID := filepath.Base(filepath.Dir(ev.Name))
				switch {
				case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
					out <- Event{RunID: runID, Created: true}
				case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
					out <- Event{RunID: runID, Created: false}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}
