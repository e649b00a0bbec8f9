package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/boshu2/patchrunner/internal/types"
)

func TestDefaultSetsDefaultProvenance(t *testing.T) {
	p := Default()
	if p.Provenance["default_branch"] != types.ProvenanceDefault {
		t.Fatalf("expected default provenance, got %s", p.Provenance["default_branch"])
	}
	if p.DefaultBranch != "main" {
		t.Fatalf("DefaultBranch = %q", p.DefaultBranch)
	}
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	p := Default()
	if err := LoadFile(p, filepath.Join(t.TempDir(), "nope.toml")); err != nil {
		t.Fatalf("missing config file should not error: %v", err)
	}
}

func TestLoadFileAppliesSectionsAndProvenance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "am_patch.toml")
	content := `
[git]
default_branch = "develop"

[gates]
gates_order = ["compile", "pytest"]
gates_allow_fail = true

[promotion]
live_changed_resolution = "overwrite_workspace"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p := Default()
	if err := LoadFile(p, path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if p.DefaultBranch != "develop" {
		t.Fatalf("DefaultBranch = %q", p.DefaultBranch)
	}
	if p.Provenance["default_branch"] != types.ProvenanceConfig {
		t.Fatalf("expected config provenance for default_branch")
	}
	if len(p.GatesOrder) != 2 || p.GatesOrder[1] != "pytest" {
		t.Fatalf("GatesOrder = %v", p.GatesOrder)
	}
	if p.LiveChangedResolution != types.LiveChangedOverwriteWorkspace {
		t.Fatalf("LiveChangedResolution = %v", p.LiveChangedResolution)
	}
}

func TestLoadFileRejectsInvalidEnum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "am_patch.toml")
	content := `
[promotion]
live_changed_resolution = "bogus"
`
	os.WriteFile(path, []byte(content), 0o644)

	p := Default()
	if err := LoadFile(p, path); err == nil {
		t.Fatal("expected error for invalid enum value")
	}
}

func TestApplyOverridesSetsCLIProvenance(t *testing.T) {
	p := Default()
	err := ApplyOverrides(p, map[string]string{
		"allow_no_op":    "true",
		"default_branch": "release",
	})
	if err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	if !p.AllowNoOp {
		t.Fatal("expected AllowNoOp = true")
	}
	if p.DefaultBranch != "release" {
		t.Fatalf("DefaultBranch = %q", p.DefaultBranch)
	}
	if p.Provenance["allow_no_op"] != types.ProvenanceCLI {
		t.Fatalf("expected cli provenance")
	}
}

func TestApplyOverridesRejectsUnknownKey(t *testing.T) {
	p := Default()
	if err := ApplyOverrides(p, map[string]string{"totally_bogus": "x"}); err == nil {
		t.Fatal("expected error for unrecognised override key")
	}
}

func TestDumpIsSortedAndDeterministic(t *testing.T) {
	p := Default()
	lines1 := Dump(p)
	lines2 := Dump(p)
	if strings.Join(lines1, "\n") != strings.Join(lines2, "\n") {
		t.Fatal("Dump is not deterministic across calls")
	}
	for i := 1; i < len(lines1); i++ {
		if lines1[i-1] > lines1[i] {
			t.Fatalf("Dump not sorted: %q before %q", lines1[i-1], lines1[i])
		}
	}
}

func TestDumpNonDefaultFiltersDefaults(t *testing.T) {
	p := Default()
	p.DefaultBranch = "release"
	p.Provenance["default_branch"] = types.ProvenanceCLI

	lines := DumpNonDefault(p)
	if len(lines) != 1 {
		t.Fatalf("expected exactly 1 non-default line, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "default_branch=release") {
		t.Fatalf("unexpected line: %q", lines[0])
	}
}
