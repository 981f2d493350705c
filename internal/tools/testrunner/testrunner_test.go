package testrunner

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectPrefersCargo(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "Cargo.toml", "[package]\nname=\"x\"")
	write(t, dir, "package.json", `{"scripts":{"test":"jest"}}`)
	if got := Detect(dir); got != FrameworkCargo {
		t.Fatalf("got %v want cargo", got)
	}
}

func TestDetectFallsBackToNPMThenPytest(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"scripts":{"test":"jest"}}`)
	if got := Detect(dir); got != FrameworkNPM {
		t.Fatalf("got %v want npm", got)
	}

	dir2 := t.TempDir()
	if got := Detect(dir2); got != FrameworkPytest {
		t.Fatalf("got %v want pytest default", got)
	}
}

func TestParsePytestAloneDoesNotForceFailureWithNoCounts(t *testing.T) {
	result := parsePytestLike("collected 0 items\n\n==== no tests ran in 0.01s ====")
	if !result.Passed {
		t.Fatalf("parser alone should not force failure: %+v", result)
	}
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
