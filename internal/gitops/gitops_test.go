package gitops

import (
	"testing"

	"github.com/boshu2/patchrunner/internal/procrunner"
)

func TestCurrentBranchDetachedHeadFails(t *testing.T) {
	fake := procrunner.NewFake()
	fake.On([]string{"git", "rev-parse", "--abbrev-ref", "HEAD"}, procrunner.Result{ExitCode: 0, Stdout: "HEAD\n"})
	g := New(fake, 0)

	if _, err := g.CurrentBranch("/repo"); err == nil {
		t.Fatal("expected detached HEAD to fail")
	}
}

func TestRequireUpToDateFailsWhenAhead(t *testing.T) {
	fake := procrunner.NewFake()
	fake.On([]string{"git", "fetch", "--prune"}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "rev-list", "--count", "main..origin/main"}, procrunner.Result{ExitCode: 0, Stdout: "2\n"})
	g := New(fake, 0)

	if err := g.RequireUpToDate("/repo", "main"); err == nil {
		t.Fatal("expected RequireUpToDate to fail when origin is ahead")
	}
}

func TestRequireUpToDatePassesWhenEven(t *testing.T) {
	fake := procrunner.NewFake()
	fake.On([]string{"git", "fetch", "--prune"}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "rev-list", "--count", "main..origin/main"}, procrunner.Result{ExitCode: 0, Stdout: "0\n"})
	g := New(fake, 0)

	if err := g.RequireUpToDate("/repo", "main"); err != nil {
		t.Fatalf("expected RequireUpToDate to pass: %v", err)
	}
}

func TestCommitChangedFilesNameStatusNormalisesRenamesAndCopies(t *testing.T) {
	fake := procrunner.NewFake()
	fake.On(
		[]string{"git", "diff", "--name-status", "-M", "-C", "base", "HEAD"},
		procrunner.Result{ExitCode: 0, Stdout: "A\tnew.txt\nR100\told.txt\trenamed.txt\nC100\tsrc.txt\tcopy.txt\n"},
	)
	g := New(fake, 0)

	files, err := g.CommitChangedFilesNameStatus("/repo", "base")
	if err != nil {
		t.Fatalf("CommitChangedFilesNameStatus: %v", err)
	}

	want := map[string]string{
		"new.txt":      "A",
		"old.txt":      "D",
		"renamed.txt":  "A",
		"copy.txt":     "A",
	}
	if len(files) != len(want) {
		t.Fatalf("got %d files, want %d: %+v", len(files), len(want), files)
	}
	for _, f := range files {
		if want[f.Path] != f.Status {
			t.Fatalf("path %s: got status %s, want %s", f.Path, f.Status, want[f.Path])
		}
	}
}

func TestRunWrapsNonZeroExitAsRunnerError(t *testing.T) {
	fake := procrunner.NewFake()
	fake.On([]string{"git", "push", "origin", "main"}, procrunner.Result{ExitCode: 1, Stderr: "rejected"})
	g := New(fake, 0)

	err := g.Push("/repo", "main", false)
	if err == nil {
		t.Fatal("expected push failure")
	}
}
