package patchinput

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

func pathsIn(dir string) types.Paths {
	return types.Paths{
		PatchDir:        dir,
		SuccessfulDir:   filepath.Join(dir, "successful"),
		UnsuccessfulDir: filepath.Join(dir, "unsuccessful"),
	}
}

func TestResolveDefaultPicksSoleCandidate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "issue_42.patch"), []byte("diff\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	plan, err := Resolve(pathsIn(dir), "42", "", "", false, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Mode != types.PatchModeUnified {
		t.Fatalf("mode = %v", plan.Mode)
	}
}

func TestResolveDefaultFailsWhenAmbiguous(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".patch", ".py"} {
		if err := os.WriteFile(filepath.Join(dir, "issue_42"+ext), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	_, err := Resolve(pathsIn(dir), "42", "", "", false, false)
	if err == nil {
		t.Fatal("expected ambiguity failure")
	}
	if taxonomy.FingerprintOf(err).Category != taxonomy.CategoryPatchPath {
		t.Fatalf("category = %v", taxonomy.FingerprintOf(err).Category)
	}
}

func TestResolveDefaultFailsWhenNoCandidate(t *testing.T) {
	dir := t.TempDir()
	_, err := Resolve(pathsIn(dir), "42", "", "", false, false)
	if err == nil {
		t.Fatal("expected no-candidate failure")
	}
}

func TestResolveExplicitPatchDirRelative(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "custom.py"), []byte("FILES = []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	plan, err := Resolve(pathsIn(dir), "42", "custom.py", "", false, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Mode != types.PatchModeScript {
		t.Fatalf("mode = %v", plan.Mode)
	}
}

func TestResolveExplicitRejectsOutsidePatchRoot(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "evil.patch")
	if err := os.WriteFile(outsideFile, []byte("diff\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Resolve(pathsIn(dir), "42", outsideFile, "", false, false)
	if err == nil {
		t.Fatal("expected rejection of a path outside the patch root")
	}
}

func TestResolveRerunLatestPicksNewestByMtime(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "issue_42_a.patch")
	newer := filepath.Join(dir, "issue_42_b.patch")
	if err := os.WriteFile(older, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newer, []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := os.Chtimes(older, now.Add(-time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(newer, now, now); err != nil {
		t.Fatal(err)
	}

	plan, err := Resolve(pathsIn(dir), "42", "", "", true, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Path != newer {
		t.Fatalf("Path = %q, want %q", plan.Path, newer)
	}
}

func TestResolveForceUnifiedRejectsScript(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "issue_42.py"), []byte("FILES = []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Resolve(pathsIn(dir), "42", "", "", false, true)
	if err == nil {
		t.Fatal("expected --unified-patch to reject a script input")
	}
}

func TestClassifyZipWithPatchEntryIsUnified(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "issue_42.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	w := zip.NewWriter(f)
	entry, err := w.Create("0001.patch")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := entry.Write([]byte("diff --git a/x b/x\n")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	plan, err := Resolve(pathsIn(dir), "42", "", "", false, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if plan.Mode != types.PatchModeUnified {
		t.Fatalf("mode = %v", plan.Mode)
	}
}
