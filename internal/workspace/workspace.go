// Package workspace implements the Workspace Manager: a durable,
// per-issue clone of the live repo with a checkpoint/rollback lifecycle
// that survives across reruns.
package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/boshu2/patchrunner/internal/gitops"
	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

const (
	metaSchemaVersion  = 1
	stateSchemaVersion = 1
	metaFileName       = "meta.json"
	stateFileName      = "state.json"
	stashMarkerPrefix  = "am_patch checkpoint "
)

// Manager creates, reuses, checkpoints, rolls back and deletes per-issue
// workspaces. All git operations go through gitops so the same process
// capture and error taxonomy apply here as everywhere else.
type Manager struct {
	git *gitops.Git
}

// New builds a Manager.
func New(git *gitops.Git) *Manager {
	return &Manager{git: git}
}

// Prepare returns the ready-to-patch workspace for issueID, creating it
// on first use and reusing (optionally refreshing) it thereafter. baseSHA
// is the live repo's HEAD at preflight time; it is recorded on create and
// never overwritten on reuse unless policy.UpdateWorkspace is set.
func (m *Manager) Prepare(root, liveRepo, issueID, baseSHA string, policy *types.Policy) (*types.Workspace, error) {
	ws := &types.Workspace{
		IssueID: issueID,
		Root:    root,
		RepoDir: filepath.Join(root, "repo"),
	}

	if _, err := os.Stat(ws.RepoDir); os.IsNotExist(err) {
		if err := m.create(ws, liveRepo, baseSHA); err != nil {
			return nil, err
		}
		return ws, nil
	}

	if err := m.reuse(ws, baseSHA, policy); err != nil {
		return nil, err
	}
	return ws, nil
}

func (m *Manager) create(ws *types.Workspace, liveRepo, baseSHA string) error {
	if err := os.MkdirAll(ws.Root, 0o755); err != nil {
		return taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryInternal, err, "creating workspace directory")
	}
	for _, dir := range []string{"logs", "oldlogs", "patches", "oldpatches"} {
		if err := os.MkdirAll(filepath.Join(ws.Root, dir), 0o755); err != nil {
			return taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryInternal, err, "creating workspace history directory")
		}
	}

	if err := m.git.Clone(liveRepo, ws.RepoDir); err != nil {
		return err
	}
	if err := m.git.CheckoutDetached(ws.RepoDir, baseSHA); err != nil {
		return err
	}

	ws.Meta = types.WorkspaceMeta{SchemaVersion: metaSchemaVersion, BaseSHA: baseSHA, Attempt: 1}
	if err := saveMeta(ws.Root, ws.Meta); err != nil {
		return err
	}
	return nil
}

func (m *Manager) reuse(ws *types.Workspace, baseSHA string, policy *types.Policy) error {
	meta, err := loadMeta(ws.Root)
	if err != nil {
		return err
	}
	ws.Meta = meta

	if policy.UpdateWorkspace {
		if err := m.git.Fetch(ws.RepoDir); err != nil {
			return err
		}
		ws.Meta.BaseSHA = baseSHA
		if err := m.git.ResetHard(ws.RepoDir, baseSHA); err != nil {
			return err
		}
		if err := m.git.CleanFDX(ws.RepoDir); err != nil {
			return err
		}
	} else if policy.SoftResetWorkspace {
		if err := m.git.ResetHard(ws.RepoDir, ws.Meta.BaseSHA); err != nil {
			return err
		}
		if err := m.git.CleanFDX(ws.RepoDir); err != nil {
			return err
		}
	}

	ws.Meta.Attempt++
	return saveMeta(ws.Root, ws.Meta)
}

// SetMessage records the issue's commit message in meta.json, used later
// by finalize-workspace mode as the commit message source.
func (m *Manager) SetMessage(ws *types.Workspace, message string) error {
	ws.Meta.Message = message
	return saveMeta(ws.Root, ws.Meta)
}

// Checkpoint snapshots workspace state before patch execution so a
// failed run can be rolled back to it.
func (m *Manager) Checkpoint(ws *types.Workspace) error {
	lines, err := m.git.Status(ws.RepoDir)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		ws.Checkpoint = types.WorkspaceCheckpoint{Kind: types.CheckpointClean}
		return nil
	}

	marker := stashMarkerPrefix + ws.IssueID
	ref, err := m.git.StashPush(ws.RepoDir, marker)
	if err != nil {
		return err
	}
	if err := m.git.StashApplyIndex(ws.RepoDir, ref); err != nil {
		return err
	}
	ws.Checkpoint = types.WorkspaceCheckpoint{Kind: types.CheckpointStash, StashRef: ref}
	return nil
}

// Rollback restores the workspace to its checkpoint according to mode:
// never skips, always always rolls back, none_applied rolls back only
// when zero patches were applied successfully.
func (m *Manager) Rollback(ws *types.Workspace, mode types.RollbackMode, patchesApplied int) error {
	switch mode {
	case types.RollbackNever:
		return nil
	case types.RollbackNoneApplied:
		if patchesApplied > 0 {
			return nil
		}
	case types.RollbackAlways:
	default:
		return taxonomy.New(taxonomy.StageRollback, taxonomy.CategoryInternal, "unknown rollback mode: "+string(mode))
	}

	if err := m.git.ResetHard(ws.RepoDir, ws.Meta.BaseSHA); err != nil {
		return err
	}
	if err := m.git.CleanFD(ws.RepoDir); err != nil {
		return err
	}
	if ws.Checkpoint.Kind != types.CheckpointStash {
		return nil
	}
	if err := m.git.StashApplyIndex(ws.RepoDir, ws.Checkpoint.StashRef); err != nil {
		return err
	}
	return m.git.StashDrop(ws.RepoDir, ws.Checkpoint.StashRef)
}

// Delete removes the whole per-issue workspace directory.
func (m *Manager) Delete(ws *types.Workspace) error {
	if err := os.RemoveAll(ws.Root); err != nil {
		return taxonomy.Wrap(taxonomy.StageCleanup, taxonomy.CategoryInternal, err, "deleting workspace")
	}
	return nil
}

// ShouldDelete reports whether the workspace should be deleted given the
// run outcome and policy (always in test_mode; on success when
// delete_workspace_on_success is set).
func ShouldDelete(policy *types.Policy, success bool) bool {
	if policy.TestMode {
		return true
	}
	return success && policy.DeleteWorkspaceOnSuccess
}

func metaPath(root string) string  { return filepath.Join(root, metaFileName) }
func statePath(root string) string { return filepath.Join(root, stateFileName) }

func loadMeta(root string) (types.WorkspaceMeta, error) {
	var meta types.WorkspaceMeta
	raw, err := os.ReadFile(metaPath(root))
	if err != nil {
		return meta, taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryInternal, err, "reading workspace meta.json")
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryInternal, err, "parsing workspace meta.json")
	}
	if meta.SchemaVersion != metaSchemaVersion {
		return meta, taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryInternal,
			"unsupported workspace meta.json schema version: got "+strconv.Itoa(meta.SchemaVersion)+", want "+strconv.Itoa(metaSchemaVersion))
	}
	return meta, nil
}

func saveMeta(root string, meta types.WorkspaceMeta) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryInternal, err, "encoding workspace meta.json")
	}
	return writeAtomic(metaPath(root), raw)
}

// LoadState reads the per-issue allowed-union state, returning a fresh
// zero-value state if none exists yet.
func LoadState(root, baseSHA string) (types.IssueState, error) {
	raw, err := os.ReadFile(statePath(root))
	if os.IsNotExist(err) {
		return types.IssueState{SchemaVersion: stateSchemaVersion, BaseSHA: baseSHA}, nil
	}
	if err != nil {
		return types.IssueState{}, taxonomy.Wrap(taxonomy.StageScope, taxonomy.CategoryInternal, err, "reading workspace state.json")
	}
	var state types.IssueState
	if err := json.Unmarshal(raw, &state); err != nil {
		return types.IssueState{}, taxonomy.Wrap(taxonomy.StageScope, taxonomy.CategoryInternal, err, "parsing workspace state.json")
	}
	if state.SchemaVersion != stateSchemaVersion {
		return types.IssueState{}, taxonomy.New(taxonomy.StageScope, taxonomy.CategoryInternal,
			"unsupported workspace state.json schema version: got "+strconv.Itoa(state.SchemaVersion)+", want "+strconv.Itoa(stateSchemaVersion))
	}
	return state, nil
}

// SaveState writes the allowed-union state, sorted and deduplicated.
func SaveState(root string, state types.IssueState) error {
	state.AllowedUnion = sortedUnique(state.AllowedUnion)
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return taxonomy.Wrap(taxonomy.StageScope, taxonomy.CategoryInternal, err, "encoding workspace state.json")
	}
	return writeAtomic(statePath(root), raw)
}

// MergeAllowedUnion grows the allowed-union with newly touched paths,
// keeping it monotonically increasing within the issue.
func MergeAllowedUnion(state types.IssueState, touched []string) types.IssueState {
	set := make(map[string]struct{}, len(state.AllowedUnion)+len(touched))
	for _, p := range state.AllowedUnion {
		set[p] = struct{}{}
	}
	for _, p := range touched {
		set[p] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	state.AllowedUnion = sortedUnique(out)
	return state
}

func sortedUnique(paths []string) []string {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryInternal, err, "writing "+filepath.Base(path))
	}
	if err := os.Rename(tmp, path); err != nil {
		return taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryInternal, err, "renaming "+filepath.Base(path))
	}
	return nil
}
