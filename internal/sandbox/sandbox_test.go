package sandbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	dir := t.TempDir()
	p, err := New(dir, false, []string{"ls", "sh"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSafePathRejectsEscape(t *testing.T) {
	p := newTestPolicy(t)

	if _, err := p.SafePath("../../etc/passwd"); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}

	got, err := p.SafePath("sub/dir/file.txt")
	if err != nil {
		t.Fatalf("SafePath: %v", err)
	}
	want := filepath.Join(p.Root, "sub", "dir", "file.txt")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRunCmdRejectsDisallowedCommand(t *testing.T) {
	p := newTestPolicy(t)
	_, err := p.RunCmd(context.Background(), []string{"rm", "-rf", "/"}, time.Second)
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}

func TestRunCmdRejectsEmpty(t *testing.T) {
	p := newTestPolicy(t)
	_, err := p.RunCmd(context.Background(), nil, time.Second)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRunCmdTimeoutIsAResultNotAnError(t *testing.T) {
	p := newTestPolicy(t)
	result, err := p.RunCmd(context.Background(), []string{"sh", "-c", "sleep 2"}, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("RunCmd returned error instead of synthetic timeout result: %v", err)
	}
	if result.ReturnCode != -1 {
		t.Fatalf("expected returncode -1 on timeout, got %d", result.ReturnCode)
	}
}

func TestRunCmdCapturesExitCode(t *testing.T) {
	p := newTestPolicy(t)
	result, err := p.RunCmd(context.Background(), []string{"sh", "-c", "exit 3"}, time.Second)
	if err != nil {
		t.Fatalf("RunCmd: %v", err)
	}
	if result.ReturnCode != 3 {
		t.Fatalf("expected returncode 3, got %d", result.ReturnCode)
	}
}
