package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/boshu2/patchrunner/internal/gitops"
	"github.com/boshu2/patchrunner/internal/procrunner"
)

func TestAllocateVersionedReturnsBareNameWhenFree(t *testing.T) {
	dir := t.TempDir()
	got := AllocateVersioned(dir, "repo-main.zip")
	if got != filepath.Join(dir, "repo-main.zip") {
		t.Fatalf("got %q", got)
	}
}

func TestAllocateVersionedBumpsOnCollision(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "repo-main.zip"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := AllocateVersioned(dir, "repo-main.zip")
	if got != filepath.Join(dir, "repo-main_v2.zip") {
		t.Fatalf("got %q", got)
	}
}

func TestAllocateVersionedSkipsExistingVersions(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "repo-main.zip"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "repo-main_v2.zip"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := AllocateVersioned(dir, "repo-main.zip")
	if got != filepath.Join(dir, "repo-main_v3.zip") {
		t.Fatalf("got %q", got)
	}
}

func TestFailureZipWritesReadmeWhenNothingToArchive(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "failure.zip")
	if err := FailureZip(dest, "", "", nil); err != nil {
		t.Fatalf("FailureZip: %v", err)
	}
	r, err := zip.OpenReader(dest)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer r.Close()
	if len(r.File) != 1 || r.File[0].Name != "README.txt" {
		t.Fatalf("entries = %v", r.File)
	}
}

func TestFailureZipIncludesWorkspaceLogAndPatch(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "a.py"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(ws, "__pycache__"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "__pycache__", "a.pyc"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	logPath := filepath.Join(t.TempDir(), "current.log")
	if err := os.WriteFile(logPath, []byte("log lines\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "failure.zip")
	offending := []OffendingPatch{{Name: "issue_1.patch", Data: []byte("diff --git\n")}}
	if err := FailureZip(dest, ws, logPath, offending); err != nil {
		t.Fatalf("FailureZip: %v", err)
	}

	r, err := zip.OpenReader(dest)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer r.Close()
	names := map[string]bool{}
	for _, f := range r.File {
		names[f.Name] = true
	}
	if !names["workspace/a.py"] {
		t.Fatal("expected workspace/a.py in the archive")
	}
	if names["workspace/__pycache__/a.pyc"] {
		t.Fatal("expected __pycache__ to be excluded")
	}
	if !names["logs/current.log"] {
		t.Fatal("expected logs/current.log in the archive")
	}
	if !names["patches/issue_1.patch"] {
		t.Fatal("expected patches/issue_1.patch in the archive")
	}
}

func TestDiffBundleWritesManifestAndEntries(t *testing.T) {
	fake := procrunner.NewFake()
	fake.On([]string{"git", "diff", "base", "HEAD", "--", "a.py"}, procrunner.Result{ExitCode: 0, Stdout: "diff content\n"})
	git := gitops.New(fake, 0)

	dest := filepath.Join(t.TempDir(), "issue_1_diff.zip")
	if err := DiffBundle(git, "/repo", dest, "1", "base", []string{"a.py"}, nil); err != nil {
		t.Fatalf("DiffBundle: %v", err)
	}

	r, err := zip.OpenReader(dest)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer r.Close()
	names := map[string]bool{}
	var manifest string
	for _, f := range r.File {
		names[f.Name] = true
		if f.Name == "manifest.txt" {
			rc, err := f.Open()
			if err != nil {
				t.Fatalf("open manifest.txt: %v", err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				t.Fatalf("read manifest.txt: %v", err)
			}
			manifest = string(data)
		}
	}
	if !names["diff/a.py.patch"] || !names["manifest.txt"] {
		t.Fatalf("entries = %v", names)
	}
	wantManifest := "issue_id=1\nbase_sha=base\nfiles_to_promote=1\nFILE a.py\n" +
		"diff_entries=1\nDIFF diff/a.py.patch\nlogs=0\n"
	if manifest != wantManifest {
		t.Fatalf("manifest.txt = %q, want %q", manifest, wantManifest)
	}
}
