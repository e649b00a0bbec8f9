// Package engine implements the Engine: it materialises a mode-specific
// phase plan and walks it, wiring together every other package (git,
// workspace, patch input/exec, scope, gates, live-repo guard, promote,
// archive, lock, logging) into one sequential run.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/boshu2/patchrunner/internal/archive"
	"github.com/boshu2/patchrunner/internal/auditrubric"
	"github.com/boshu2/patchrunner/internal/gates"
	"github.com/boshu2/patchrunner/internal/gitops"
	"github.com/boshu2/patchrunner/internal/layout"
	"github.com/boshu2/patchrunner/internal/liveguard"
	"github.com/boshu2/patchrunner/internal/lock"
	"github.com/boshu2/patchrunner/internal/logging"
	"github.com/boshu2/patchrunner/internal/patchexec"
	"github.com/boshu2/patchrunner/internal/patchinput"
	"github.com/boshu2/patchrunner/internal/procrunner"
	"github.com/boshu2/patchrunner/internal/promote"
	"github.com/boshu2/patchrunner/internal/scope"
	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
	"github.com/boshu2/patchrunner/internal/workspace"
)

// Deps bundles the capabilities the engine threads through a run. These
// are value-typed aggregates built once by the CLI layer: no component
// here holds a reference back to the Engine itself.
type Deps struct {
	Runner procrunner.Runner
	Logger *logging.Logger
	Now    func() time.Time
}

// Engine walks a resolved plan for a single invocation.
type Engine struct {
	deps   Deps
	git    *gitops.Git
	ws     *workspace.Manager
	policy *types.Policy
	paths  types.Paths
}

// New builds an Engine over the given Policy and Paths, with every git
// invocation and subprocess call routed through deps.Runner.
func New(deps Deps, policy *types.Policy, paths types.Paths) *Engine {
	git := gitops.New(deps.Runner, 0)
	return &Engine{
		deps:   deps,
		git:    git,
		ws:     workspace.New(git),
		policy: policy,
		paths:  paths,
	}
}

// run carries per-invocation mutable state across phases, threaded
// explicitly as a local rather than shared through back-references.
type run struct {
	ctx          context.Context
	cli          types.CLIArgs
	liveRepo     string
	runID        string
	phases       []types.PhaseResult
	secondary    []taxonomy.Fingerprint

	baseSHA        string
	ws             *types.Workspace
	patchesApplied int
	plan           types.PatchPlan
	declared       []string
	touched        []string
	beforeStatus   []string
	guard          *liveguard.Guard
	state          types.IssueState
	promoteResult  promote.Result
	commitSHA      string
	pushed         []types.ChangedFile
}

// Run executes the plan for cli against liveRepo and returns the
// terminal RunResult. logPath is the already-opened per-run log file
// path, recorded verbatim in the result and in the NDJSON result record.
func (e *Engine) Run(ctx context.Context, cli types.CLIArgs, liveRepo, logPath string) types.RunResult {
	r := &run{
		ctx:      ctx,
		cli:      cli,
		liveRepo: liveRepo,
		runID:    e.deps.Now().UTC().Format("20060102T150405Z"),
	}

	e.emitHello(r)

	lk, err := e.acquireLock()
	if err != nil {
		return e.fail(r, logPath, err)
	}
	defer lk.Release()

	if err := e.preflight(r); err != nil {
		return e.fail(r, logPath, err)
	}

	switch r.cli.Mode {
	case types.ModeFinalizeLive:
		return e.runFinalizeLive(r, logPath)
	case types.ModeFinalizeWorkspace:
		return e.runFinalizeWorkspace(r, logPath)
	case types.ModeWorkspace, types.ModeRerunLatest:
		return e.runWorkspace(r, logPath)
	default:
		return e.runWorkspace(r, logPath)
	}
}

func (e *Engine) acquireLock() (*lock.Lock, error) {
	return lock.Acquire(e.paths.LockFile, e.policy.OnConflict, e.policy.LockTTL, e.deps.Now())
}

// preflight enforces branch and up-to-date policy against the live
// repo and records base_sha, common to every mode.
func (e *Engine) preflight(r *run) error {
	e.startPhase(r, types.PhasePreflight)

	if e.policy.EnforceMainBranch && !r.cli.AllowNonMain {
		if err := e.git.RequireBranch(r.liveRepo, e.policy.DefaultBranch); err != nil {
			return e.failPhase(r, types.PhasePreflight, err)
		}
	}
	if e.policy.RequireUpToDate {
		if err := e.git.RequireUpToDate(r.liveRepo, e.policy.DefaultBranch); err != nil {
			return e.failPhase(r, types.PhasePreflight, err)
		}
	}

	sha, err := e.git.HeadSHA(r.liveRepo)
	if err != nil {
		return e.failPhase(r, types.PhasePreflight, err)
	}
	r.baseSHA = sha

	if e.policy.LiveRepoGuard {
		guard, err := liveguard.Snapshot(e.git, r.liveRepo, e.policy.LiveRepoGuardScope)
		if err != nil {
			return e.failPhase(r, types.PhasePreflight, err)
		}
		r.guard = guard
	}

	if e.policy.AuditRubricGuard {
		if err := auditrubric.Guard(r.liveRepo, e.policy.AuditRubricPath); err != nil {
			return e.failPhase(r, types.PhasePreflight, err)
		}
	}

	e.okPhase(r, types.PhasePreflight)
	return nil
}

// runWorkspace implements workspace mode: prepare workspace, resolve
// and execute the patch, enforce scope, run gates, promote, commit,
// push, archive, clean up.
func (e *Engine) runWorkspace(r *run, logPath string) types.RunResult {
	issueDir := layout.IssueWorkspaceDir(e.paths, r.cli.IssueID)

	if err := e.prepareWorkspace(r, issueDir); err != nil {
		return e.fail(r, logPath, err)
	}

	state, err := workspace.LoadState(issueDir, r.baseSHA)
	if err != nil {
		return e.fail(r, logPath, err)
	}
	r.state = state

	plan, err := patchinput.Resolve(e.paths, r.cli.IssueID, r.cli.PatchInput, r.cli.RerunHint, r.cli.RerunLatest, r.cli.ForceUnified)
	if err != nil {
		return e.fail(r, logPath, err)
	}
	r.plan = plan

	if err := e.ws.Checkpoint(r.ws); err != nil {
		return e.fail(r, logPath, err)
	}

	beforeStatus, err := e.git.Status(r.ws.RepoDir)
	if err != nil {
		return e.fail(r, logPath, err)
	}
	r.beforeStatus = beforeStatus

	patchErr := e.runPatch(r)

	runDiagnostics := patchErr == nil ||
		(r.patchesApplied > 0 && e.policy.GatesOnPartialApply) ||
		(r.patchesApplied == 0 && e.policy.GatesOnZeroApply)

	var scopeErr error
	if runDiagnostics {
		scopeErr = e.evaluateScope(r)
		if scopeErr != nil && patchErr != nil {
			r.secondary = append(r.secondary, taxonomy.FingerprintOf(scopeErr))
		}
	}

	if r.guard != nil {
		if err := r.guard.CheckAfterPatch(); err != nil {
			return e.terminate(r, logPath, err)
		}
	}

	if patchErr != nil {
		return e.terminate(r, logPath, patchErr)
	}
	if scopeErr != nil {
		return e.terminate(r, logPath, scopeErr)
	}

	if r.cli.TestMode {
		if err := e.runGates(r, false); err != nil {
			return e.terminate(r, logPath, err)
		}
		return e.finishTestMode(r, logPath)
	}

	if err := e.runGates(r, false); err != nil {
		return e.terminate(r, logPath, err)
	}

	if r.guard != nil {
		if err := r.guard.CheckAfterGates(); err != nil {
			return e.terminate(r, logPath, err)
		}
	}

	if err := e.promoteAndCommit(r); err != nil {
		return e.terminate(r, logPath, err)
	}

	return e.finishSuccess(r, logPath)
}

// runFinalizeWorkspace resumes a workspace a prior workspace-mode run
// already patched: it runs WORKSPACE to reuse the existing workspace
// (bumping its attempt), skips PATCH, and treats the workspace's
// persisted allowed-union (state.json) as the declared set for a final
// scope pass, then runs gates, promotes, commits and archives exactly
// like the tail of runWorkspace.
func (e *Engine) runFinalizeWorkspace(r *run, logPath string) types.RunResult {
	issueDir := layout.IssueWorkspaceDir(e.paths, r.cli.IssueID)
	if err := e.prepareWorkspace(r, issueDir); err != nil {
		return e.fail(r, logPath, err)
	}
	if r.cli.CommitMessage == "" {
		r.cli.CommitMessage = r.ws.Meta.Message
	}

	state, err := workspace.LoadState(issueDir, r.baseSHA)
	if err != nil {
		return e.fail(r, logPath, err)
	}
	r.state = state
	r.declared = state.AllowedUnion

	afterStatus, err := e.git.Status(r.ws.RepoDir)
	if err != nil {
		return e.fail(r, logPath, err)
	}
	result, err := scope.Evaluate(e.policy, r.declared, nil, afterStatus)
	if err != nil {
		return e.terminate(r, logPath, err)
	}
	r.touched = result.Touched

	if r.guard != nil {
		if err := r.guard.CheckAfterPatch(); err != nil {
			return e.terminate(r, logPath, err)
		}
	}
	if err := e.runGates(r, false); err != nil {
		return e.terminate(r, logPath, err)
	}
	if r.guard != nil {
		if err := r.guard.CheckAfterGates(); err != nil {
			return e.terminate(r, logPath, err)
		}
	}
	if err := e.promoteAndCommit(r); err != nil {
		return e.terminate(r, logPath, err)
	}
	return e.finishSuccess(r, logPath)
}

// runFinalizeLive operates directly on the live repo with no workspace:
// whatever is already modified there (by a human, or a prior manual
// step) is the touched set, gated and committed in place.
func (e *Engine) runFinalizeLive(r *run, logPath string) types.RunResult {
	afterStatus, err := e.git.Status(r.liveRepo)
	if err != nil {
		return e.fail(r, logPath, err)
	}
	touched := make([]string, 0, len(afterStatus))
	for _, line := range afterStatus {
		if p := statusLinePath(line); p != "" {
			touched = append(touched, p)
		}
	}
	sort.Strings(touched)
	r.touched = touched

	if err := e.runGates(r, true); err != nil {
		return e.fail(r, logPath, err)
	}

	e.startPhase(r, types.PhasePromote)
	if err := e.git.Add(r.liveRepo, touched); err != nil {
		return e.fail(r, logPath, e.failPhase(r, types.PhasePromote, err))
	}
	e.okPhase(r, types.PhasePromote)

	if !e.policy.CommitAndPush {
		return e.finishSuccess(r, logPath)
	}

	e.startPhase(r, types.PhaseCommit)
	sha, err := e.git.Commit(r.liveRepo, r.cli.CommitMessage, false)
	if err != nil {
		return e.fail(r, logPath, e.failPhase(r, types.PhaseCommit, err))
	}
	r.commitSHA = sha
	changed, err := e.git.CommitChangedFilesNameStatus(r.liveRepo, r.baseSHA)
	if err != nil {
		return e.fail(r, logPath, e.failPhase(r, types.PhaseCommit, err))
	}
	r.pushed = toChangedFiles(changed)
	e.okPhase(r, types.PhaseCommit)

	e.startPhase(r, types.PhasePush)
	if err := e.git.Push(r.liveRepo, e.policy.DefaultBranch, e.policy.AllowPushFail); err != nil {
		if !e.policy.AllowPushFail {
			return e.fail(r, logPath, e.failPhase(r, types.PhasePush, err))
		}
		e.deps.Logger.Warnf("push failed, commit kept locally: %v", err)
	}
	e.okPhase(r, types.PhasePush)

	return e.finishSuccess(r, logPath)
}

// statusLinePath extracts the repo-relative path from a porcelain status
// line ("XY path" or "XY old -> new"), taking the rename target.
func statusLinePath(line string) string {
	if len(line) < 4 {
		return ""
	}
	rest := strings.TrimSpace(line[3:])
	if idx := strings.Index(rest, " -> "); idx >= 0 {
		return rest[idx+4:]
	}
	return rest
}

func (e *Engine) prepareWorkspace(r *run, issueDir string) error {
	e.startPhase(r, types.PhaseWorkspace)
	ws, err := e.ws.Prepare(issueDir, r.liveRepo, r.cli.IssueID, r.baseSHA, e.policy)
	if err != nil {
		return e.failPhase(r, types.PhaseWorkspace, err)
	}
	if r.cli.CommitMessage != "" {
		if err := e.ws.SetMessage(ws, r.cli.CommitMessage); err != nil {
			return e.failPhase(r, types.PhaseWorkspace, err)
		}
	}
	r.ws = ws
	e.okPhase(r, types.PhaseWorkspace)
	return nil
}

func (e *Engine) runPatch(r *run) error {
	e.startPhase(r, types.PhasePatch)

	switch r.plan.Mode {
	case types.PatchModeScript:
		res, err := patchexec.RunScript(r.ctx, e.deps.Runner, r.plan.Path, r.ws.RepoDir, e.policy)
		if err != nil {
			e.failPhase(r, types.PhasePatch, err)
			return err
		}
		r.declared = res.DeclaredFiles
		r.patchesApplied = 1
	case types.PatchModeUnified:
		res, err := patchexec.RunUnified(e.git, r.plan.Path, r.ws.RepoDir, e.policy)
		if err != nil {
			e.failPhase(r, types.PhasePatch, err)
			return err
		}
		r.declared = res.DeclaredFiles
		r.touched = res.TouchedFiles
		r.patchesApplied = res.AppliedOK
		if res.AppliedFail > 0 {
			names := make([]string, 0, len(res.Failures))
			for _, f := range res.Failures {
				names = append(names, f.Name+": "+f.Reason)
			}
			err := taxonomy.New(taxonomy.StagePatch, taxonomy.CategoryPatchSyntax,
				"unified patch bundle had "+itoa(res.AppliedFail)+" failing entr(y/ies): "+strings.Join(names, "; "))
			e.failPhase(r, types.PhasePatch, err)
			return err
		}
	}

	e.okPhase(r, types.PhasePatch)
	return nil
}

// evaluateScope runs after the PATCH phase has been closed: there is no
// dedicated SCOPE step in the phase enum, so its failures surface only as
// a SCOPE stage/category error and no phase result is marked failed.
func (e *Engine) evaluateScope(r *run) error {
	afterStatus, err := e.git.Status(r.ws.RepoDir)
	if err != nil {
		return err
	}

	result, err := scope.Evaluate(e.policy, r.declared, r.beforeStatus, afterStatus)
	if err != nil {
		return err
	}

	r.touched = result.Touched
	r.state = workspace.MergeAllowedUnion(r.state, append(append([]string{}, r.declared...), result.Legalized...))
	if err := workspace.SaveState(r.ws.Root, r.state); err != nil {
		return err
	}

	e.deps.Logger.Infof("scope: touched=%v outside=%v untouched_declared=%v", result.Touched, result.Outside, result.UntouchedDeclared)
	return nil
}

func (e *Engine) runGates(r *run, live bool) error {
	phase := types.PhaseGatesWorkspace
	var dir string
	if live {
		phase = types.PhaseGatesLive
		dir = r.liveRepo
	} else {
		dir = r.ws.RepoDir
	}
	e.startPhase(r, phase)

	in := gates.Input{
		Runner:        e.deps.Runner,
		Git:           e.git,
		Policy:        e.policy,
		WorkspaceDir:  dir,
		BaseSHA:       r.baseSHA,
		ChangedFiles:  r.touched,
		DeclaredUnion: union(r.declared, r.touched),
		Progress: func(kind gates.Kind, ok bool, detail string) {
			e.emitGate(string(kind), ok)
		},
	}
	if live {
		in.LiveRepoDir = dir
	}

	_, err := gates.Run(r.ctx, in)
	if err != nil {
		e.failPhase(r, phase, err)
		return err
	}
	e.okPhase(r, phase)
	return nil
}

func (e *Engine) promoteAndCommit(r *run) error {
	e.startPhase(r, types.PhasePromote)
	toPromote := union(r.declared, r.touched)
	result, err := promote.Promote(e.git, r.ws.RepoDir, r.liveRepo, r.baseSHA, toPromote, e.policy.LiveChangedResolution)
	if err != nil {
		e.failPhase(r, types.PhasePromote, err)
		return err
	}
	r.promoteResult = result
	e.okPhase(r, types.PhasePromote)

	if !e.policy.CommitAndPush {
		return nil
	}

	e.startPhase(r, types.PhaseCommit)
	sha, err := e.git.Commit(r.liveRepo, r.cli.CommitMessage, false)
	if err != nil {
		e.failPhase(r, types.PhaseCommit, err)
		return err
	}
	r.commitSHA = sha
	changed, err := e.git.CommitChangedFilesNameStatus(r.liveRepo, r.baseSHA)
	if err != nil {
		e.failPhase(r, types.PhaseCommit, err)
		return err
	}
	r.pushed = toChangedFiles(changed)
	e.okPhase(r, types.PhaseCommit)

	e.startPhase(r, types.PhasePush)
	if err := e.git.Push(r.liveRepo, e.policy.DefaultBranch, e.policy.AllowPushFail); err != nil {
		if !e.policy.AllowPushFail {
			e.failPhase(r, types.PhasePush, err)
			return err
		}
		e.deps.Logger.Warnf("push failed, commit kept locally: %v", err)
	}
	e.okPhase(r, types.PhasePush)
	return nil
}

func (e *Engine) finishSuccess(r *run, logPath string) types.RunResult {
	e.startPhase(r, types.PhaseArchive)
	e.archiveSuccess(r, logPath)
	e.okPhase(r, types.PhaseArchive)

	e.startPhase(r, types.PhaseCleanup)
	if r.ws != nil && workspace.ShouldDelete(e.policy, true) {
		_ = e.ws.Delete(r.ws)
	}
	e.okPhase(r, types.PhaseCleanup)

	result := types.RunResult{
		OK:           true,
		ExitCode:     0,
		PhaseResults: r.phases,
		LogPath:      logPath,
		CommitSHA:    r.commitSHA,
		PushedFiles:  r.pushed,
	}
	e.emitResult(r, result)
	return result
}

func (e *Engine) finishTestMode(r *run, logPath string) types.RunResult {
	e.startPhase(r, types.PhaseCleanup)
	_ = e.ws.Delete(r.ws)
	e.okPhase(r, types.PhaseCleanup)

	result := types.RunResult{OK: true, ExitCode: 0, PhaseResults: r.phases, LogPath: logPath}
	e.emitResult(r, result)
	return result
}

// terminate handles any failure once a workspace exists: it rolls back
// (deferred until the failure archive is written), optionally deletes
// the workspace, and builds the terminal RunResult.
func (e *Engine) terminate(r *run, logPath string, primary error) types.RunResult {
	e.startPhase(r, types.PhaseArchive)
	e.archiveFailure(r, logPath, primary)
	e.okPhase(r, types.PhaseArchive)

	e.startPhase(r, types.PhaseCleanup)
	if r.ws != nil {
		if err := e.ws.Rollback(r.ws, e.policy.RollbackWorkspaceOnFail, r.patchesApplied); err != nil {
			e.deps.Logger.Warnf("rollback failed: %v", err)
		}
		if workspace.ShouldDelete(e.policy, false) {
			_ = e.ws.Delete(r.ws)
		}
	}
	e.okPhase(r, types.PhaseCleanup)

	return e.fail(r, logPath, primary)
}

// fail builds the terminal failure RunResult directly, used both before
// a workspace exists (preflight, lock) and as the tail of terminate.
func (e *Engine) fail(r *run, logPath string, err error) types.RunResult {
	fp := taxonomy.FingerprintOf(err)
	stages := []string{string(fp.Stage)}
	for _, s := range r.secondary {
		stages = append(stages, string(s.Stage))
	}
	stages = dedupe(stages)

	e.deps.Logger.Summary("RESULT: FAIL")
	e.deps.Logger.Summary("STAGE: %s", strings.Join(stages, ","))
	e.deps.Logger.Summary("REASON: %s", fp.Message)
	e.deps.Logger.Summary("LOG: %s", logPath)

	if events := e.deps.Logger.Events(); events != nil {
		_ = events.Emit(logging.FailEvent{Type: "fail", Stage: string(fp.Stage), Category: string(fp.Category), Message: fp.Message})
	}

	result := types.RunResult{
		OK:           false,
		ExitCode:     1,
		PhaseResults: r.phases,
		LogPath:      logPath,
		FailStages:   stages,
		FailReason:   fp.Message,
	}
	e.emitResult(r, result)
	return result
}

func (e *Engine) failPhase(r *run, phase types.Phase, err error) error {
	e.setPhase(r, phase, types.PhaseFailed, err)
	return err
}

func (e *Engine) okPhase(r *run, phase types.Phase) {
	e.setPhase(r, phase, types.PhaseOK, nil)
}

func (e *Engine) startPhase(r *run, phase types.Phase) {
	r.phases = append(r.phases, types.PhaseResult{Phase: phase, Status: types.PhaseRunning})
	ok := false
	if events := e.deps.Logger.Events(); events != nil {
		_ = events.Emit(logging.PhaseEvent{Type: "phase_start", Phase: string(phase), OK: &ok})
	}
	e.deps.Logger.Infof("phase_start: %s", phase)
}

func (e *Engine) setPhase(r *run, phase types.Phase, status types.PhaseStatus, err error) {
	for i := len(r.phases) - 1; i >= 0; i-- {
		if r.phases[i].Phase == phase && r.phases[i].Status == types.PhaseRunning {
			r.phases[i].Status = status
			r.phases[i].Err = err
			break
		}
	}
	ok := status == types.PhaseOK
	if events := e.deps.Logger.Events(); events != nil {
		_ = events.Emit(logging.PhaseEvent{Type: "phase_end", Phase: string(phase), OK: &ok})
	}
	e.deps.Logger.Infof("phase_end: %s ok=%v", phase, ok)
}

func (e *Engine) emitHello(r *run) {
	if events := e.deps.Logger.Events(); events != nil {
		_ = events.Emit(logging.Hello{Type: "hello", Mode: string(r.cli.Mode), IssueID: r.cli.IssueID, RunID: r.runID})
	}
}

func (e *Engine) emitGate(name string, ok bool) {
	if events := e.deps.Logger.Events(); events != nil {
		_ = events.Emit(logging.GateEvent{Type: "gate", Gate: name, OK: ok})
	}
	if ok {
		e.deps.Logger.DetailInfof("OK:%s", name)
	} else {
		e.deps.Logger.DetailInfof("FAIL:%s", name)
	}
}

func (e *Engine) emitResult(r *run, result types.RunResult) {
	if events := e.deps.Logger.Events(); events != nil {
		_ = events.Emit(logging.ResultEvent{Type: "result", OK: result.OK, ExitCode: result.ExitCode, CommitSHA: result.CommitSHA, LogPath: result.LogPath})
	}
}

func (e *Engine) archiveSuccess(r *run, logPath string) {
	repo := filepath.Base(e.paths.RepoRoot)
	name := layout.SuccessArchiveName(e.policy.SuccessArchiveTemplate, repo, e.policy.DefaultBranch)
	dest := archive.AllocateVersioned(e.paths.ArtifactsDir, name)
	if err := archive.SuccessZip(e.git, r.liveRepo, dest); err != nil {
		e.deps.Logger.Warnf("success archive failed: %v", err)
	}

	diffName := layout.DiffBundleName(e.policy.DiffBundleTemplate, r.cli.IssueID)
	diffDest := archive.AllocateVersioned(e.paths.ArtifactsDir, diffName)
	if err := archive.DiffBundle(e.git, r.liveRepo, diffDest, r.cli.IssueID, r.baseSHA, r.promoteResult.Promoted, []string{logPath}); err != nil {
		e.deps.Logger.Warnf("diff bundle failed: %v", err)
	}
}

func (e *Engine) archiveFailure(r *run, logPath string, primary error) {
	name := issueFailureName(e.policy.FailureArchiveTemplate, r.cli.IssueID, r.ws)
	dest := archive.AllocateVersioned(e.paths.UnsuccessfulDir, name)

	var offending []archive.OffendingPatch
	if r.plan.Path != "" {
		if data, err := os.ReadFile(r.plan.Path); err == nil {
			offending = append(offending, archive.OffendingPatch{Name: filepath.Base(r.plan.Path), Data: data})
		}
	}

	workspaceDir := ""
	if r.ws != nil {
		workspaceDir = r.ws.RepoDir
	}
	if err := archive.FailureZip(dest, workspaceDir, logPath, offending); err != nil {
		e.deps.Logger.Warnf("failure archive failed: %v", err)
	}
}

func issueFailureName(template, issueID string, ws *types.Workspace) string {
	attempt := 1
	if ws != nil {
		attempt = ws.Meta.Attempt
	}
	s := strings.ReplaceAll(template, "{issue}", issueID)
	s = strings.ReplaceAll(s, "{n}", itoa(attempt))
	return s
}

func union(a, b []string) []string {
	set := map[string]struct{}{}
	for _, p := range a {
		set[p] = struct{}{}
	}
	for _, p := range b {
		set[p] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func dedupe(items []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, i := range items {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out
}

func toChangedFiles(cs []gitops.ChangedFile) []types.ChangedFile {
	out := make([]types.ChangedFile, 0, len(cs))
	for _, c := range cs {
		out = append(out, types.ChangedFile{Status: c.Status, Path: c.Path})
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
