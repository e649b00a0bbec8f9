package auditrubric

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRubric(t *testing.T, root, body string) {
	t.Helper()
	dir := filepath.Join(root, "audit")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "audit_rubric.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write rubric: %v", err)
	}
}

func TestGuardPassesOnWellFormedRubric(t *testing.T) {
	root := t.TempDir()
	writeRubric(t, root, "meta:\n  schema_version: 1\ndomains:\n  correctness: {}\n")
	if err := Guard(root, ""); err != nil {
		t.Fatalf("Guard: %v", err)
	}
}

func TestGuardFailsWhenRubricMissing(t *testing.T) {
	root := t.TempDir()
	if err := Guard(root, ""); err == nil {
		t.Fatal("expected an error for a missing rubric")
	}
}

func TestGuardFailsOnZeroSchemaVersion(t *testing.T) {
	root := t.TempDir()
	writeRubric(t, root, "meta:\n  schema_version: 0\ndomains:\n  correctness: {}\n")
	if err := Guard(root, ""); err == nil {
		t.Fatal("expected an error for schema_version 0")
	}
}

func TestGuardFailsWhenNoDomainsDeclared(t *testing.T) {
	root := t.TempDir()
	writeRubric(t, root, "meta:\n  schema_version: 1\ndomains: {}\n")
	if err := Guard(root, ""); err == nil {
		t.Fatal("expected an error for an empty domains map")
	}
}
