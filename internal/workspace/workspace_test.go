package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/boshu2/patchrunner/internal/gitops"
	"github.com/boshu2/patchrunner/internal/procrunner"
	"github.com/boshu2/patchrunner/internal/types"
)

func newGit(fake *procrunner.Fake) *gitops.Git {
	return gitops.New(fake, 0)
}

func TestPrepareCreatesWorkspaceOnFirstRun(t *testing.T) {
	root := t.TempDir()
	wsRoot := filepath.Join(root, "workspaces", "issue_42")
	fake := procrunner.NewFake()
	fake.On([]string{"git", "clone", "/live/repo", filepath.Join(wsRoot, "repo")}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "checkout", "--detach", "abc123"}, procrunner.Result{ExitCode: 0})

	m := New(newGit(fake))
	ws, err := m.Prepare(wsRoot, "/live/repo", "42", "abc123", &types.Policy{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if ws.Meta.Attempt != 1 {
		t.Fatalf("Attempt = %d, want 1", ws.Meta.Attempt)
	}
	if ws.Meta.BaseSHA != "abc123" {
		t.Fatalf("BaseSHA = %q", ws.Meta.BaseSHA)
	}

	meta, err := loadMeta(wsRoot)
	if err != nil {
		t.Fatalf("loadMeta: %v", err)
	}
	if meta.BaseSHA != "abc123" || meta.Attempt != 1 {
		t.Fatalf("persisted meta = %+v", meta)
	}
}

func TestPrepareReuseBumpsAttemptAndKeepsBaseSHA(t *testing.T) {
	root := t.TempDir()
	wsRoot := filepath.Join(root, "workspaces", "issue_42")
	fake := procrunner.NewFake()
	fake.On([]string{"git", "clone", "/live/repo", filepath.Join(wsRoot, "repo")}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "checkout", "--detach", "abc123"}, procrunner.Result{ExitCode: 0})

	m := New(newGit(fake))
	if _, err := m.Prepare(wsRoot, "/live/repo", "42", "abc123", &types.Policy{}); err != nil {
		t.Fatalf("Prepare (create): %v", err)
	}
	// The fake clone writes nothing; create the repo dir a real clone leaves.
	if err := os.MkdirAll(filepath.Join(wsRoot, "repo"), 0o755); err != nil {
		t.Fatal(err)
	}

	// Second run: base_sha should NOT change even though a different
	// sha is observed at preflight, since UpdateWorkspace is false.
	ws2, err := m.Prepare(wsRoot, "/live/repo", "42", "def456", &types.Policy{})
	if err != nil {
		t.Fatalf("Prepare (reuse): %v", err)
	}
	if ws2.Meta.BaseSHA != "abc123" {
		t.Fatalf("BaseSHA changed on reuse without update_workspace: %q", ws2.Meta.BaseSHA)
	}
	if ws2.Meta.Attempt != 2 {
		t.Fatalf("Attempt = %d, want 2", ws2.Meta.Attempt)
	}
}

func TestPrepareReuseWithUpdateWorkspaceRefreshesBaseSHA(t *testing.T) {
	root := t.TempDir()
	wsRoot := filepath.Join(root, "workspaces", "issue_42")
	repoDir := filepath.Join(wsRoot, "repo")
	fake := procrunner.NewFake()
	fake.On([]string{"git", "clone", "/live/repo", repoDir}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "checkout", "--detach", "abc123"}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "fetch", "--prune"}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "reset", "--hard", "def456"}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "clean", "-fdx"}, procrunner.Result{ExitCode: 0})

	m := New(newGit(fake))
	if _, err := m.Prepare(wsRoot, "/live/repo", "42", "abc123", &types.Policy{}); err != nil {
		t.Fatalf("Prepare (create): %v", err)
	}
	// The fake clone writes nothing; create the repo dir a real clone leaves.
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		t.Fatal(err)
	}
	ws2, err := m.Prepare(wsRoot, "/live/repo", "42", "def456", &types.Policy{UpdateWorkspace: true})
	if err != nil {
		t.Fatalf("Prepare (reuse+update): %v", err)
	}
	if ws2.Meta.BaseSHA != "def456" {
		t.Fatalf("BaseSHA = %q, want def456", ws2.Meta.BaseSHA)
	}
}

func TestCheckpointCleanWorkspace(t *testing.T) {
	root := t.TempDir()
	fake := procrunner.NewFake()
	fake.On([]string{"git", "status", "--porcelain", "--untracked-files=all"}, procrunner.Result{ExitCode: 0, Stdout: ""})
	m := New(newGit(fake))

	ws := &types.Workspace{IssueID: "42", Root: root, RepoDir: filepath.Join(root, "repo")}
	if err := m.Checkpoint(ws); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if ws.Checkpoint.Kind != types.CheckpointClean {
		t.Fatalf("Kind = %v, want clean", ws.Checkpoint.Kind)
	}
}

func TestCheckpointDirtyWorkspaceStashes(t *testing.T) {
	root := t.TempDir()
	repoDir := filepath.Join(root, "repo")
	fake := procrunner.NewFake()
	fake.On([]string{"git", "status", "--porcelain", "--untracked-files=all"}, procrunner.Result{ExitCode: 0, Stdout: " M file.txt\n"})
	fake.On([]string{"git", "stash", "push", "-u", "-m", stashMarkerPrefix + "42"}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "stash", "list"}, procrunner.Result{ExitCode: 0, Stdout: "stash@{0}: On main: " + stashMarkerPrefix + "42\n"})
	fake.On([]string{"git", "stash", "apply", "--index", "stash@{0}"}, procrunner.Result{ExitCode: 0})
	m := New(newGit(fake))

	ws := &types.Workspace{IssueID: "42", Root: root, RepoDir: repoDir}
	if err := m.Checkpoint(ws); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if ws.Checkpoint.Kind != types.CheckpointStash || ws.Checkpoint.StashRef != "stash@{0}" {
		t.Fatalf("Checkpoint = %+v", ws.Checkpoint)
	}
}

func TestRollbackNoneAppliedSkipsWhenPatchesApplied(t *testing.T) {
	fake := procrunner.NewFake()
	m := New(newGit(fake))
	ws := &types.Workspace{RepoDir: "/repo", Meta: types.WorkspaceMeta{BaseSHA: "abc"}}

	if err := m.Rollback(ws, types.RollbackNoneApplied, 1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(fake.Calls) != 0 {
		t.Fatalf("expected no git calls, got %v", fake.Calls)
	}
}

func TestRollbackNoneAppliedRollsBackWhenZeroApplied(t *testing.T) {
	fake := procrunner.NewFake()
	fake.On([]string{"git", "reset", "--hard", "abc"}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "clean", "-fd"}, procrunner.Result{ExitCode: 0})
	m := New(newGit(fake))
	ws := &types.Workspace{RepoDir: "/repo", Meta: types.WorkspaceMeta{BaseSHA: "abc"}, Checkpoint: types.WorkspaceCheckpoint{Kind: types.CheckpointClean}}

	if err := m.Rollback(ws, types.RollbackNoneApplied, 0); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(fake.Calls) != 2 {
		t.Fatalf("expected 2 git calls, got %v", fake.Calls)
	}
}

func TestRollbackStashRestoresAndDrops(t *testing.T) {
	fake := procrunner.NewFake()
	fake.On([]string{"git", "reset", "--hard", "abc"}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "clean", "-fd"}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "stash", "apply", "--index", "stash@{0}"}, procrunner.Result{ExitCode: 0})
	fake.On([]string{"git", "stash", "drop", "stash@{0}"}, procrunner.Result{ExitCode: 0})
	m := New(newGit(fake))
	ws := &types.Workspace{
		RepoDir:    "/repo",
		Meta:       types.WorkspaceMeta{BaseSHA: "abc"},
		Checkpoint: types.WorkspaceCheckpoint{Kind: types.CheckpointStash, StashRef: "stash@{0}"},
	}

	if err := m.Rollback(ws, types.RollbackAlways, 3); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(fake.Calls) != 4 {
		t.Fatalf("expected 4 git calls, got %v", fake.Calls)
	}
}

func TestShouldDelete(t *testing.T) {
	if !ShouldDelete(&types.Policy{TestMode: true}, false) {
		t.Fatal("test_mode should always delete")
	}
	if ShouldDelete(&types.Policy{}, true) {
		t.Fatal("delete_workspace_on_success defaults to false")
	}
	if !ShouldDelete(&types.Policy{DeleteWorkspaceOnSuccess: true}, true) {
		t.Fatal("expected delete on success when policy enabled")
	}
	if ShouldDelete(&types.Policy{DeleteWorkspaceOnSuccess: true}, false) {
		t.Fatal("should not delete on failure")
	}
}

func TestMergeAllowedUnionIsMonotonicAndSorted(t *testing.T) {
	state := types.IssueState{SchemaVersion: 1, BaseSHA: "abc", AllowedUnion: []string{"b.txt"}}
	state = MergeAllowedUnion(state, []string{"a.txt", "b.txt", "c.txt"})
	want := []string{"a.txt", "b.txt", "c.txt"}
	if len(state.AllowedUnion) != len(want) {
		t.Fatalf("AllowedUnion = %v", state.AllowedUnion)
	}
	for i, p := range want {
		if state.AllowedUnion[i] != p {
			t.Fatalf("AllowedUnion[%d] = %q, want %q", i, state.AllowedUnion[i], p)
		}
	}
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	root := t.TempDir()
	state := types.IssueState{SchemaVersion: stateSchemaVersion, BaseSHA: "abc", AllowedUnion: []string{"z.txt", "a.txt"}}
	if err := SaveState(root, state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, err := LoadState(root, "abc")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.AllowedUnion[0] != "a.txt" || got.AllowedUnion[1] != "z.txt" {
		t.Fatalf("AllowedUnion = %v", got.AllowedUnion)
	}
}

func TestLoadStateMissingReturnsFreshState(t *testing.T) {
	root := t.TempDir()
	got, err := LoadState(root, "abc")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.BaseSHA != "abc" || len(got.AllowedUnion) != 0 {
		t.Fatalf("got = %+v", got)
	}
}
