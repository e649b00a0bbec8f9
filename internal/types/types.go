// Package types holds the data model shared across every pipeline phase:
// CLI input, resolved policy, the on-disk layout, workspace bookkeeping,
// the resolved patch plan, the execution plan and the final result.
// Types here are intentionally plain data — behaviour lives in the
// packages that own each concern.
package types

import "time"

// Mode selects the CLI grammar and therefore the phase sequence.
type Mode string

const (
	ModeWorkspace         Mode = "workspace"
	ModeFinalizeLive      Mode = "finalize_live"
	ModeFinalizeWorkspace Mode = "finalize_workspace"
	ModeRerunLatest       Mode = "rerun_latest"
	ModeShowConfig        Mode = "show_config"
)

// Phase is one step of the execution plan.
type Phase string

const (
	PhasePreflight      Phase = "PREFLIGHT"
	PhaseWorkspace      Phase = "WORKSPACE"
	PhasePatch          Phase = "PATCH"
	PhaseGatesWorkspace Phase = "GATES_WORKSPACE"
	PhasePromote        Phase = "PROMOTE"
	PhaseGatesLive      Phase = "GATES_LIVE"
	PhaseArchive        Phase = "ARCHIVE"
	PhaseCommit         Phase = "COMMIT"
	PhasePush           Phase = "PUSH"
	PhaseCleanup        Phase = "CLEANUP"
)

// PhaseStatus is the per-phase state machine: NEW -> RUNNING -> {OK,FAILED}.
type PhaseStatus string

const (
	PhaseNew     PhaseStatus = "NEW"
	PhaseRunning PhaseStatus = "RUNNING"
	PhaseOK      PhaseStatus = "OK"
	PhaseFailed  PhaseStatus = "FAILED"
)

// CLIArgs are the normalised inputs produced once by the CLI parser and
// never mutated afterward.
type CLIArgs struct {
	Mode           Mode
	IssueID        string
	CommitMessage  string
	PatchInput     string
	RerunHint      string
	Verbosity      string
	LogLevel       string
	GatesSkip      []string
	GatesOrder     []string
	ForceUnified   bool
	AllowNonMain   bool
	AllowNoOp      bool
	AllowOutside   bool
	AllowUntouched bool
	AllowGatesFail bool
	RunAllGates    bool
	RerunLatest    bool
	TestMode       bool
	UpdateWorkspace bool
	Overrides      map[string]string
	ConfigPath     string
}

// RollbackMode controls when a failed run rolls back the workspace.
type RollbackMode string

const (
	RollbackNever        RollbackMode = "never"
	RollbackAlways        RollbackMode = "always"
	RollbackNoneApplied  RollbackMode = "none_applied"
)

// LiveChangedResolution controls how the Promoter reacts to live-repo
// drift on a promoted path.
type LiveChangedResolution string

const (
	LiveChangedFail              LiveChangedResolution = "fail"
	LiveChangedOverwriteLive     LiveChangedResolution = "overwrite_live"
	LiveChangedOverwriteWorkspace LiveChangedResolution = "overwrite_workspace"
)

// LiveGuardScope controls when the Live-Repo Guard re-snapshots.
type LiveGuardScope string

const (
	LiveGuardScopePatch          LiveGuardScope = "patch"
	LiveGuardScopePatchAndGates  LiveGuardScope = "patch_and_gates"
)

// OnConflict controls Lock behaviour when the lockfile already exists.
type OnConflict string

const (
	OnConflictFail  OnConflict = "fail"
	OnConflictSteal OnConflict = "steal"
)

// Provenance tags where a Policy field's value came from.
type Provenance string

const (
	ProvenanceDefault Provenance = "default"
	ProvenanceConfig  Provenance = "config"
	ProvenanceCLI     Provenance = "cli"
)

// Policy is the fully resolved configuration for a run. Every field has
// exactly one provenance tag once CLI overrides have been applied; see
// internal/config for resolution order and the provenance ledger.
type Policy struct {
	DefaultBranch      string
	RequireUpToDate    bool
	EnforceMainBranch  bool

	UpdateWorkspace     bool
	SoftResetWorkspace  bool
	DeleteWorkspaceOnSuccess bool
	TestMode            bool

	ASCIIOnlyPatch bool
	NoOpFail       bool
	AllowNoOp      bool

	EnforceAllowedFiles   bool
	AllowOutsideFiles     bool
	AllowDeclaredUntouched bool

	GatesOrder     []string
	GatesSkip      []string
	GatesAllowFail bool
	RunAllTests    bool

	RuffFormat                   bool
	RuffAutofix                  bool
	RuffAutofixLegalizeOutside   bool

	PytestUseVenv bool

	FailIfLiveFilesChanged bool
	LiveChangedResolution  LiveChangedResolution

	CommitAndPush  bool
	AllowPushFail  bool

	RollbackWorkspaceOnFail RollbackMode

	LiveRepoGuard      bool
	LiveRepoGuardScope LiveGuardScope

	PatchJail            bool
	PatchJailUnshareNet  bool

	PostSuccessAudit  bool
	AuditRubricGuard  bool
	AuditRubricPath   string

	OnConflict OnConflict
	LockTTL    time.Duration

	GatesOnPartialApply bool
	GatesOnZeroApply    bool

	PatchDirName string
	IgnoreGlobs  []string

	// BlessedGateOutputs are paths gates are expected to regenerate (e.g.
	// a junit XML); touching them never causes a SCOPE failure.
	BlessedGateOutputs []string

	LogFilenameIssueTemplate     string
	LogFilenameFinalizeTemplate string
	SuccessArchiveTemplate       string
	FailureArchiveTemplate       string
	DiffBundleTemplate           string

	ScreenLevel string
	FileLevel   string

	// GateParams carries the per-gate-kind parameters (targets, the
	// monolith structural guard's area map and thresholds, …) that are
	// too shaped to flatten into the scalar/enum fields above. It is
	// tracked under the single provenance key "gate_params".
	GateParams GateParams

	// Provenance records, by flattened field name, which layer set it.
	Provenance map[string]Provenance
}

// Paths is the deterministic on-disk layout rooted at repo_root/patch_dir.
type Paths struct {
	RepoRoot     string
	PatchDir     string
	LogsDir      string
	WorkspacesDir string
	SuccessfulDir string
	UnsuccessfulDir string
	ArtifactsDir string
	LockFile     string
	CurrentLog   string
}

// WorkspaceMeta is the persisted workspace/meta.json contract.
type WorkspaceMeta struct {
	SchemaVersion int    `json:"schema_version"`
	BaseSHA       string `json:"base_sha"`
	Attempt       int    `json:"attempt"`
	Message       string `json:"message"`
}

// IssueState is the persisted workspace/state.json contract: the
// accumulating allowed-union of paths legitimately touched for an issue.
type IssueState struct {
	SchemaVersion int      `json:"schema_version"`
	BaseSHA       string   `json:"base_sha"`
	AllowedUnion  []string `json:"allowed_union"`
}

// CheckpointKind distinguishes a clean workspace checkpoint from a stash.
type CheckpointKind string

const (
	CheckpointClean CheckpointKind = "clean"
	CheckpointStash CheckpointKind = "stash"
)

// WorkspaceCheckpoint snapshots workspace state before PATCH so a failed
// run can be rolled back to it.
type WorkspaceCheckpoint struct {
	Kind     CheckpointKind
	StashRef string
}

// Workspace is the durable, per-issue clone of the live repo.
type Workspace struct {
	IssueID string
	Root    string // workspaces/issue_<ID>
	RepoDir string // workspaces/issue_<ID>/repo
	Meta    WorkspaceMeta
	Checkpoint WorkspaceCheckpoint
}

// UnifiedMode distinguishes a patch script from a unified-diff bundle.
type UnifiedMode string

const (
	PatchModeScript  UnifiedMode = "script"
	PatchModeUnified UnifiedMode = "unified"
)

// PatchPlan is a resolved patch input ready for execution.
type PatchPlan struct {
	Path         string
	Mode         UnifiedMode
	DeclaredFiles []string // for scripts: parsed from the FILES assignment
}

// ExecutionPlan is the immutable, mode-specific phase sequence.
type ExecutionPlan struct {
	Mode          Mode
	RepoRoot      string
	ConfigPath    string
	ConfigSources map[string]Provenance
	Phases        []Phase
	Parameters    map[string]string
}

// PhaseResult records the outcome of a single phase.
type PhaseResult struct {
	Phase  Phase
	Status PhaseStatus
	Err    error
}

// RunResult is the terminal, user-visible outcome of a run.
type RunResult struct {
	OK            bool
	ExitCode      int
	PhaseResults  []PhaseResult
	LogPath       string
	CommitSHA     string
	PushedFiles   []ChangedFile
	FailStages    []string
	FailReason    string
}

// ChangedFile is a (status, path) pair from git's porcelain/name-status
// output: A (added), M (modified), D (deleted). Renames are normalised to
// D+A and copies to A.
type ChangedFile struct {
	Status string
	Path   string
}

// GateParams carries the shaped, per-gate-kind configuration consumed by
// internal/gates: source targets, the JS syntax checker, and the
// monolith structural guard.
type GateParams struct {
	CompileTargets      []string
	CompileExcludeGlobs []string

	RuffTargets []string

	PytestPaths   []string
	PytestVenvDir string

	MypyPaths []string

	JSExtensions    []string
	JSSyntaxChecker string

	DocsWatchedInclude []string
	DocsWatchedExclude []string
	DocsRequiredFiles  []string

	Monolith MonolithParams
}

// MonolithParams configures the structural guard.
type MonolithParams struct {
	// Areas maps a repo-relative path prefix to the area name it belongs
	// to; the longest matching prefix wins.
	Areas map[string]string
	// CoreAreas names areas subject to the core-boundary check: a core
	// file may not import a non-core area.
	CoreAreas []string
	// CatchallPatterns are basenames/directory names (e.g. "utils.py",
	// "utils/") that flag a new file as a dumping ground unless allow-
	// listed.
	CatchallPatterns []string
	AllowlistPaths   []string

	Mode         string // strict | warn_only | report_only
	OnParseError string // fail | warn

	NewFileLOCCap     int
	NewFileExportsCap int
	NewFileImportsCap int

	LargeLOCThreshold  int
	HugeLOCThreshold   int
	GrowthLOCAllowance int

	HubFanInLimit  int
	HubFanOutLimit int

	CrossAreaLimit int
}
