// Package gitops is the small, typed vocabulary of git operations the
// rest of the runner is built on. Every wrapper except ShowFile raises a
// *taxonomy.RunnerError on non-zero exit; callers never shell out to git
// directly.
package gitops

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/boshu2/patchrunner/internal/procrunner"
	"github.com/boshu2/patchrunner/internal/taxonomy"
)

// Git wraps a procrunner.Runner with the git vocabulary used across the
// pipeline.
type Git struct {
	runner  procrunner.Runner
	timeout time.Duration
}

// New builds a Git facade. A zero timeout means no per-call deadline.
func New(runner procrunner.Runner, timeout time.Duration) *Git {
	return &Git{runner: runner, timeout: timeout}
}

func (g *Git) ctx() (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), g.timeout)
}

func (g *Git) run(stage taxonomy.Stage, dir string, args ...string) (procrunner.Result, error) {
	ctx, cancel := g.ctx()
	defer cancel()
	res, err := g.runner.Run(ctx, dir, nil, "git", args...)
	if err != nil {
		return res, taxonomy.Wrap(stage, taxonomy.CategoryGit, err, "git "+strings.Join(args, " ")+" failed to start")
	}
	if res.ExitCode != 0 {
		return res, taxonomy.New(stage, taxonomy.CategoryGit,
			"git "+strings.Join(args, " ")+" exited "+strconv.Itoa(res.ExitCode)+": "+strings.TrimSpace(res.Stderr))
	}
	return res, nil
}

// Fetch runs "git fetch --prune" in repo.
func (g *Git) Fetch(repo string) error {
	_, err := g.run(taxonomy.StagePreflight, repo, "fetch", "--prune")
	return err
}

// CurrentBranch returns the checked-out branch, or a RunnerError if HEAD
// is detached.
func (g *Git) CurrentBranch(repo string) (string, error) {
	res, err := g.run(taxonomy.StagePreflight, repo, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(res.Stdout)
	if branch == "HEAD" {
		return "", taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryGit, "repository HEAD is detached")
	}
	return branch, nil
}

// HeadSHA returns the current HEAD commit SHA.
func (g *Git) HeadSHA(repo string) (string, error) {
	res, err := g.run(taxonomy.StagePreflight, repo, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// OriginAheadCount returns how many commits origin/<branch> is ahead of
// the local branch (used by require_up_to_date).
func (g *Git) OriginAheadCount(repo, branch string) (int, error) {
	res, err := g.run(taxonomy.StagePreflight, repo, "rev-list", "--count", branch+".."+"origin/"+branch)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if convErr != nil {
		return 0, taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryGit, convErr, "parsing rev-list count")
	}
	return n, nil
}

// RequireBranch fails unless the repo's current branch equals branch.
func (g *Git) RequireBranch(repo, branch string) error {
	current, err := g.CurrentBranch(repo)
	if err != nil {
		return err
	}
	if current != branch {
		return taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryGit,
			"expected branch "+branch+", got "+current)
	}
	return nil
}

// RequireUpToDate fails unless origin is not ahead of the local branch.
func (g *Git) RequireUpToDate(repo, branch string) error {
	if err := g.Fetch(repo); err != nil {
		return err
	}
	ahead, err := g.OriginAheadCount(repo, branch)
	if err != nil {
		return err
	}
	if ahead > 0 {
		return taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryGit,
			"origin/"+branch+" is ahead by "+strconv.Itoa(ahead)+" commit(s)")
	}
	return nil
}

// Status returns the sorted porcelain status lines (untracked files
// included), used by the Live-Repo Guard and Scope Enforcer snapshots.
func (g *Git) Status(repo string) ([]string, error) {
	res, err := g.run(taxonomy.StageSecurity, repo, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	sort.Strings(lines)
	return lines, nil
}

// FilesChangedSince returns the subset of files whose content differs
// between sha and HEAD (uncommitted working-tree edits are not compared).
func (g *Git) FilesChangedSince(repo, sha string, files []string) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	args := append([]string{"diff", "--name-only", sha, "HEAD", "--"}, files...)
	res, err := g.run(taxonomy.StagePromotion, repo, args...)
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line != "" {
			changed = append(changed, line)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

// UnifiedDiffSince returns the unified diff of path between sha and HEAD.
func (g *Git) UnifiedDiffSince(repo, sha, path string) (string, error) {
	res, err := g.run(taxonomy.StageArchive, repo, "diff", sha, "HEAD", "--", path)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// ShowFile returns path's content as of sha ("git show sha:path"), and
// false whenever git show fails (the path did not exist at sha, say, or
// any other git error); it never returns an error.
func (g *Git) ShowFile(repo, sha, path string) (string, bool, error) {
	res, err := g.run(taxonomy.StageGates, repo, "show", sha+":"+path)
	if err != nil {
		return "", false, nil
	}
	return res.Stdout, true, nil
}

// Add stages the given paths ("git add --").
func (g *Git) Add(repo string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := g.run(taxonomy.StagePromotion, repo, append([]string{"add", "--"}, paths...)...)
	return err
}

// Commit stages (optionally all changes) and commits with message.
func (g *Git) Commit(repo, message string, stageAll bool) (string, error) {
	if stageAll {
		if _, err := g.run(taxonomy.StagePromotion, repo, "add", "-A"); err != nil {
			return "", err
		}
	}
	if _, err := g.run(taxonomy.StagePromotion, repo, "commit", "-m", message); err != nil {
		return "", err
	}
	return g.HeadSHA(repo)
}

// Push pushes branch to origin. If allowFail, a push error is returned
// to the caller but is not itself treated as fatal by the engine.
func (g *Git) Push(repo, branch string, allowFail bool) error {
	_, err := g.run(taxonomy.StagePromotion, repo, "push", "origin", branch)
	if err != nil && allowFail {
		return err
	}
	return err
}

// GitArchive writes "git archive <treeish>" to zipPath.
func (g *Git) GitArchive(repo, zipPath, treeish string) error {
	_, err := g.run(taxonomy.StageArchive, repo, "archive", "--format=zip", "-o", zipPath, treeish)
	return err
}

// ChangedFile is the (status, path) pair returned by
// CommitChangedFilesNameStatus.
type ChangedFile struct {
	Status string
	Path   string
}

// CommitChangedFilesNameStatus returns the sorted (status, path) tuples
// changed between sha and HEAD, with renames normalised to D+A and
// copies normalised to A.
func (g *Git) CommitChangedFilesNameStatus(repo, sha string) ([]ChangedFile, error) {
	res, err := g.run(taxonomy.StagePromotion, repo, "diff", "--name-status", "-M", "-C", sha, "HEAD")
	if err != nil {
		return nil, err
	}

	var out []ChangedFile
	for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		status := fields[0]
		switch {
		case strings.HasPrefix(status, "R"):
			// Rename: old\tnew -> D old, A new.
			if len(fields) >= 3 {
				out = append(out, ChangedFile{Status: "D", Path: fields[1]})
				out = append(out, ChangedFile{Status: "A", Path: fields[2]})
			}
		case strings.HasPrefix(status, "C"):
			// Copy: old\tnew -> A new.
			if len(fields) >= 3 {
				out = append(out, ChangedFile{Status: "A", Path: fields[2]})
			}
		default:
			out = append(out, ChangedFile{Status: status[:1], Path: fields[1]})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

// Clone clones src into dst. The live repo's .git is never recursively
// copied elsewhere in the pipeline; this is the sole supported way a
// workspace acquires history.
func (g *Git) Clone(src, dst string) error {
	_, err := g.run(taxonomy.StagePreflight, "", "clone", src, dst)
	return err
}

// CheckoutDetached checks out sha as a detached HEAD in repo.
func (g *Git) CheckoutDetached(repo, sha string) error {
	_, err := g.run(taxonomy.StagePreflight, repo, "checkout", "--detach", sha)
	return err
}

// ResetHard runs "git reset --hard <sha>".
func (g *Git) ResetHard(repo, sha string) error {
	_, err := g.run(taxonomy.StagePreflight, repo, "reset", "--hard", sha)
	return err
}

// CleanFDX runs "git clean -fdx".
func (g *Git) CleanFDX(repo string) error {
	_, err := g.run(taxonomy.StagePreflight, repo, "clean", "-fdx")
	return err
}

// CleanFD runs "git clean -fd" (used by rollback, which keeps ignored
// files intact unlike the -x variant used on workspace reuse).
func (g *Git) CleanFD(repo string) error {
	_, err := g.run(taxonomy.StageRollback, repo, "clean", "-fd")
	return err
}

// StashPush stashes including untracked files, tagged with message.
func (g *Git) StashPush(repo, message string) (string, error) {
	if _, err := g.run(taxonomy.StagePreflight, repo, "stash", "push", "-u", "-m", message); err != nil {
		return "", err
	}
	res, err := g.run(taxonomy.StagePreflight, repo, "stash", "list")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.Contains(line, message) {
			ref := strings.SplitN(line, ":", 2)[0]
			return ref, nil
		}
	}
	return "stash@{0}", nil
}

// StashApplyIndex applies ref, restoring the index too.
func (g *Git) StashApplyIndex(repo, ref string) error {
	_, err := g.run(taxonomy.StagePreflight, repo, "stash", "apply", "--index", ref)
	return err
}

// StashDrop drops ref.
func (g *Git) StashDrop(repo, ref string) error {
	_, err := g.run(taxonomy.StagePreflight, repo, "stash", "drop", ref)
	return err
}

// ApplyPatch runs "git apply --whitespace=nowarn -pN <path>".
func (g *Git) ApplyPatch(repo, path string, stripDepth int) error {
	_, err := g.run(taxonomy.StagePatch, repo, "apply", "--whitespace=nowarn",
		"-p"+strconv.Itoa(stripDepth), path)
	return err
}

// ApplyPatchCheck runs "git apply --check" to test applicability without
// mutating the tree, used to probe strip depth.
func (g *Git) ApplyPatchCheck(repo, path string, stripDepth int) error {
	_, err := g.run(taxonomy.StagePatch, repo, "apply", "--check",
		"-p"+strconv.Itoa(stripDepth), path)
	return err
}
