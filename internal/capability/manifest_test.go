package capability

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("writeManifest(%s): %v", name, err)
	}
}

func TestDiscoverManifestsParsesValidFile(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "cargo-check.yaml", `
id: cargo-check
name: Cargo Check
version: "1.0"
executable: /usr/bin/cargo-check
applicable_languages: ["Rust"]
capabilities:
  - name: cargo-check
    description: runs cargo check
    tool_type: CodeAnalysis
`)

	manifests, err := DiscoverManifests([]string{dir})
	if err != nil {
		t.Fatalf("DiscoverManifests() error = %v", err)
	}
	if len(manifests) != 1 {
		t.Fatalf("len(manifests) = %d, want 1", len(manifests))
	}
	if manifests[0].ID != "cargo-check" {
		t.Errorf("ID = %q, want cargo-check", manifests[0].ID)
	}
	if len(manifests[0].Capabilities) != 1 || manifests[0].Capabilities[0].ToolType != ToolCodeAnalysis {
		t.Errorf("Capabilities = %+v, want one CodeAnalysis entry", manifests[0].Capabilities)
	}
}

func TestDiscoverManifestsSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "broken.yaml", "not: [valid yaml")
	writeManifest(t, dir, "missing-fields.yaml", "name: incomplete\n")
	writeManifest(t, dir, "good.yaml", "id: x\nexecutable: /bin/x\n")

	manifests, err := DiscoverManifests([]string{dir})
	if err != nil {
		t.Fatalf("DiscoverManifests() error = %v", err)
	}
	if len(manifests) != 1 {
		t.Fatalf("len(manifests) = %d, want 1 (only the well-formed manifest)", len(manifests))
	}
}

func TestDiscoverManifestsIgnoresNonManifestFiles(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "README.md", "not a manifest")

	manifests, err := DiscoverManifests([]string{dir})
	if err != nil {
		t.Fatalf("DiscoverManifests() error = %v", err)
	}
	if len(manifests) != 0 {
		t.Errorf("len(manifests) = %d, want 0", len(manifests))
	}
}

func TestDiscoverManifestsEmptyRoot(t *testing.T) {
	manifests, err := DiscoverManifests([]string{t.TempDir()})
	if err != nil {
		t.Fatalf("DiscoverManifests() error = %v", err)
	}
	if len(manifests) != 0 {
		t.Errorf("len(manifests) = %d, want 0", len(manifests))
	}
}
