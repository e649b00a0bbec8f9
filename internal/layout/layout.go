// Package layout computes the deterministic on-disk directory structure
// rooted at <repo_root>/<patch_dir>/. Paths are always derived from
// Policy; nothing here reads the environment directly.
package layout

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boshu2/patchrunner/internal/types"
)

const defaultPatchDirName = "patches"

// Build computes the full Paths struct for a repo root and policy.
func Build(repoRoot string, policy *types.Policy) types.Paths {
	dirName := policy.PatchDirName
	if dirName == "" {
		dirName = defaultPatchDirName
	}
	base := filepath.Join(repoRoot, dirName)
	return types.Paths{
		RepoRoot:        repoRoot,
		PatchDir:        base,
		LogsDir:         filepath.Join(base, "logs"),
		WorkspacesDir:   filepath.Join(base, "workspaces"),
		SuccessfulDir:   filepath.Join(base, "successful"),
		UnsuccessfulDir: filepath.Join(base, "unsuccessful"),
		ArtifactsDir:    filepath.Join(base, "artifacts"),
		LockFile:        filepath.Join(base, "am_patch.lock"),
		CurrentLog:      filepath.Join(base, "current_log"),
	}
}

// EnsureDirs creates every directory in the layout (idempotent).
func EnsureDirs(p types.Paths) error {
	for _, dir := range []string{p.LogsDir, p.WorkspacesDir, p.SuccessfulDir, p.UnsuccessfulDir, p.ArtifactsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// IssueWorkspaceDir returns workspaces/issue_<ID>.
func IssueWorkspaceDir(p types.Paths, issueID string) string {
	return filepath.Join(p.WorkspacesDir, "issue_"+issueID)
}

// IssueLogName renders the per-run log filename from a template, e.g.
// "am_patch_issue_{issue}_{ts}.log".
func IssueLogName(template, issueID string, ts time.Time) string {
	s := strings.ReplaceAll(template, "{issue}", issueID)
	s = strings.ReplaceAll(s, "{ts}", ts.UTC().Format("20060102T150405Z"))
	return s
}

// FinalizeLogName renders the finalize-mode log filename template, e.g.
// "am_patch_finalize_{ts}.log".
func FinalizeLogName(template string, ts time.Time) string {
	return strings.ReplaceAll(template, "{ts}", ts.UTC().Format("20060102T150405Z"))
}

// SuccessArchiveName renders "{repo}-{branch}.zip".
func SuccessArchiveName(template, repo, branch string) string {
	s := strings.ReplaceAll(template, "{repo}", repo)
	return strings.ReplaceAll(s, "{branch}", branch)
}

// DiffBundleName renders "issue_<ID>_diff.zip".
func DiffBundleName(template, issueID string) string {
	return strings.ReplaceAll(template, "{issue}", issueID)
}
