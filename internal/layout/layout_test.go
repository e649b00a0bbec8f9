package layout

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boshu2/patchrunner/internal/types"
)

func TestBuildDefaultsPatchDirName(t *testing.T) {
	p := Build("/repo", &types.Policy{})
	if p.PatchDir != filepath.Join("/repo", "patches") {
		t.Fatalf("PatchDir = %q", p.PatchDir)
	}
	if p.LockFile != filepath.Join("/repo", "patches", "am_patch.lock") {
		t.Fatalf("LockFile = %q", p.LockFile)
	}
}

func TestBuildRespectsCustomPatchDirName(t *testing.T) {
	p := Build("/repo", &types.Policy{PatchDirName: "custom_patches"})
	if p.PatchDir != filepath.Join("/repo", "custom_patches") {
		t.Fatalf("PatchDir = %q", p.PatchDir)
	}
}

func TestEnsureDirsCreatesLayout(t *testing.T) {
	root := t.TempDir()
	p := Build(root, &types.Policy{})
	if err := EnsureDirs(p); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, dir := range []string{p.LogsDir, p.WorkspacesDir, p.SuccessfulDir, p.UnsuccessfulDir, p.ArtifactsDir} {
		fi, err := os.Stat(dir)
		if err != nil || !fi.IsDir() {
			t.Fatalf("expected directory at %s", dir)
		}
	}
}

func TestIssueWorkspaceDir(t *testing.T) {
	p := Build("/repo", &types.Policy{})
	got := IssueWorkspaceDir(p, "42")
	want := filepath.Join(p.WorkspacesDir, "issue_42")
	if got != want {
		t.Fatalf("IssueWorkspaceDir = %q, want %q", got, want)
	}
}

func TestIssueLogNameTemplate(t *testing.T) {
	ts := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	got := IssueLogName("am_patch_issue_{issue}_{ts}.log", "42", ts)
	want := "am_patch_issue_42_20260730T120000Z.log"
	if got != want {
		t.Fatalf("IssueLogName = %q, want %q", got, want)
	}
}

func TestSuccessArchiveName(t *testing.T) {
	got := SuccessArchiveName("{repo}-{branch}.zip", "myrepo", "main")
	if got != "myrepo-main.zip" {
		t.Fatalf("SuccessArchiveName = %q", got)
	}
}
