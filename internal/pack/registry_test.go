package pack

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefinitionsFromFileJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json5")
	writeFile(t, path, `
// a comment json5 tolerates and strict JSON does not
[
  {
    id: "ops",
    description: "Operations specialist",
    system_prompt: "You triage incidents.",
    capabilities: ["ops"],
    keywords: ["incident", "outage"],
    requires_tests_verified: false,
  },
]
`)

	defs, err := LoadDefinitionsFromFile(path)
	if err != nil {
		t.Fatalf("LoadDefinitionsFromFile: %v", err)
	}
	if len(defs) != 1 || defs[0].ID != "ops" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
}

func TestLoadDefinitionsFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	writeFile(t, path, `
- id: ops
  description: Operations specialist
  system_prompt: You triage incidents.
  capabilities: [ops]
  keywords: [incident, outage]
  requires_tests_verified: false
`)

	defs, err := LoadDefinitionsFromFile(path)
	if err != nil {
		t.Fatalf("LoadDefinitionsFromFile: %v", err)
	}
	if len(defs) != 1 || defs[0].ID != "ops" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
}

func TestLoadDefinitionsFromFileUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.toml")
	writeFile(t, path, "id = \"ops\"")

	if _, err := LoadDefinitionsFromFile(path); err == nil {
		t.Fatal("expected an error for an unsupported extension")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
