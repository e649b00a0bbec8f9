// Package config resolves the runner's Policy from three layers, in
// order: built-in defaults, a flattened TOML file, and CLI overrides.
// Every field's provenance is tracked so show-config can print a
// deterministic, source-annotated dump.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/boshu2/patchrunner/internal/auditrubric"
	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

// fileSchema mirrors the flattened namespace the TOML file is decoded
// into: recognised [git]/[paths]/[workspace]/[patch]/[scope]/[gates]/
// [promotion]/[security]/[logging]/[audit] sections are merged into one
// struct by BurntSushi/toml's dotted-table decoding, then flattened here.
type fileSchema struct {
	Git struct {
		DefaultBranch     string `toml:"default_branch"`
		RequireUpToDate   *bool  `toml:"require_up_to_date"`
		SkipUpToDate      *bool  `toml:"skip_up_to_date"`
		EnforceMainBranch *bool  `toml:"enforce_main_branch"`
		AllowNonMain      *bool  `toml:"allow_non_main"`
	} `toml:"git"`
	Paths struct {
		PatchDirName string   `toml:"patch_dir_name"`
		IgnoreGlobs  []string `toml:"ignore_globs"`
	} `toml:"paths"`
	Workspace struct {
		UpdateWorkspace          *bool  `toml:"update_workspace"`
		SoftResetWorkspace       *bool  `toml:"soft_reset_workspace"`
		DeleteWorkspaceOnSuccess *bool  `toml:"delete_workspace_on_success"`
		TestMode                 *bool  `toml:"test_mode"`
		RollbackWorkspaceOnFail  string `toml:"rollback_workspace_on_fail"`
	} `toml:"workspace"`
	Patch struct {
		ASCIIOnlyPatch      *bool `toml:"ascii_only_patch"`
		NoOpFail            *bool `toml:"no_op_fail"`
		AllowNoOp           *bool `toml:"allow_no_op"`
		PatchJail           *bool `toml:"patch_jail"`
		PatchJailUnshareNet *bool `toml:"patch_jail_unshare_net"`
		GatesOnPartialApply *bool `toml:"gates_on_partial_apply"`
		GatesOnZeroApply    *bool `toml:"gates_on_zero_apply"`
	} `toml:"patch"`
	Scope struct {
		EnforceAllowedFiles    *bool    `toml:"enforce_allowed_files"`
		AllowOutsideFiles      *bool    `toml:"allow_outside_files"`
		AllowDeclaredUntouched *bool    `toml:"allow_declared_untouched"`
		BlessedGateOutputs     []string `toml:"blessed_gate_outputs"`
	} `toml:"scope"`
	Gates struct {
		GatesOrder                 []string `toml:"gates_order"`
		GatesSkip                  []string `toml:"gates_skip"`
		GatesAllowFail             *bool    `toml:"gates_allow_fail"`
		RunAllTests                *bool    `toml:"run_all_tests"`
		RuffFormat                 *bool    `toml:"ruff_format"`
		RuffAutofix                *bool    `toml:"ruff_autofix"`
		RuffAutofixLegalizeOutside *bool    `toml:"ruff_autofix_legalize_outside"`
		PytestUseVenv              *bool    `toml:"pytest_use_venv"`
	} `toml:"gates"`
	Promotion struct {
		FailIfLiveFilesChanged *bool  `toml:"fail_if_live_files_changed"`
		LiveChangedResolution  string `toml:"live_changed_resolution"`
		CommitAndPush          *bool  `toml:"commit_and_push"`
		AllowPushFail          *bool  `toml:"allow_push_fail"`
	} `toml:"promotion"`
	Security struct {
		LiveRepoGuard      *bool  `toml:"live_repo_guard"`
		LiveRepoGuardScope string `toml:"live_repo_guard_scope"`
	} `toml:"security"`
	Logging struct {
		ScreenLevel string `toml:"screen_level"`
		FileLevel   string `toml:"file_level"`
	} `toml:"logging"`
	Audit struct {
		PostSuccessAudit *bool  `toml:"post_success_audit"`
		AuditRubricGuard *bool  `toml:"audit_rubric_guard"`
		AuditRubricPath  string `toml:"audit_rubric_path"`
	} `toml:"audit"`
}

var allowedEnums = map[string][]string{
	"rollback_workspace_on_fail": {"never", "always", "none_applied"},
	"live_changed_resolution":    {"fail", "overwrite_live", "overwrite_workspace"},
	"live_repo_guard_scope":      {"patch", "patch_and_gates"},
	"on_conflict":                {"fail", "steal"},
}

// Default returns the built-in defaults, with every field's provenance
// set to "default".
func Default() *types.Policy {
	p := &types.Policy{
		DefaultBranch:                "main",
		RequireUpToDate:              true,
		EnforceMainBranch:            true,
		UpdateWorkspace:              false,
		SoftResetWorkspace:           false,
		DeleteWorkspaceOnSuccess:     true,
		TestMode:                     false,
		ASCIIOnlyPatch:               false,
		NoOpFail:                     true,
		AllowNoOp:                    false,
		EnforceAllowedFiles:          true,
		AllowOutsideFiles:            false,
		AllowDeclaredUntouched:       false,
		GatesOrder:                   []string{"compile", "ruff", "pytest", "mypy", "docs", "js", "monolith"},
		GatesSkip:                    nil,
		GatesAllowFail:               false,
		RunAllTests:                  false,
		RuffFormat:                   true,
		RuffAutofix:                  false,
		RuffAutofixLegalizeOutside:   false,
		PytestUseVenv:                true,
		FailIfLiveFilesChanged:       true,
		LiveChangedResolution:        types.LiveChangedFail,
		CommitAndPush:                true,
		AllowPushFail:                false,
		RollbackWorkspaceOnFail:      types.RollbackNoneApplied,
		LiveRepoGuard:                true,
		LiveRepoGuardScope:           types.LiveGuardScopePatch,
		PatchJail:                    true,
		PatchJailUnshareNet:          true,
		PostSuccessAudit:             false,
		AuditRubricGuard:             false,
		AuditRubricPath:              auditrubric.DefaultPath,
		OnConflict:                   types.OnConflictFail,
		LockTTL:                      30 * time.Minute,
		GatesOnPartialApply:          true,
		GatesOnZeroApply:             false,
		PatchDirName:                 "patches",
		IgnoreGlobs:                  nil,
		BlessedGateOutputs:           nil,
		LogFilenameIssueTemplate:     "am_patch_issue_{issue}_{ts}.log",
		LogFilenameFinalizeTemplate:  "am_patch_finalize_{ts}.log",
		SuccessArchiveTemplate:       "{repo}-{branch}.zip",
		FailureArchiveTemplate:       "issue_{issue}_failure_v{n}.zip",
		DiffBundleTemplate:           "issue_{issue}_diff.zip",
		ScreenLevel:                  "normal",
		FileLevel:                   "verbose",
		GateParams:                   defaultGateParams(),
		Provenance:                   map[string]types.Provenance{},
	}
	for _, f := range fieldNames {
		p.Provenance[f] = types.ProvenanceDefault
	}
	return p
}

// fieldNames lists every Policy field by its flattened config key, used
// for provenance bookkeeping: Default seeds each key as "default".
var fieldNames = []string{
	"default_branch", "require_up_to_date", "enforce_main_branch",
	"update_workspace", "soft_reset_workspace", "delete_workspace_on_success", "test_mode",
	"ascii_only_patch", "no_op_fail", "allow_no_op",
	"enforce_allowed_files", "allow_outside_files", "allow_declared_untouched", "blessed_gate_outputs",
	"gates_order", "gates_skip", "gates_allow_fail", "run_all_tests",
	"ruff_format", "ruff_autofix", "ruff_autofix_legalize_outside", "pytest_use_venv",
	"fail_if_live_files_changed", "live_changed_resolution",
	"commit_and_push", "allow_push_fail",
	"rollback_workspace_on_fail",
	"live_repo_guard", "live_repo_guard_scope",
	"patch_jail", "patch_jail_unshare_net",
	"post_success_audit", "audit_rubric_guard", "audit_rubric_path",
	"on_conflict", "gates_on_partial_apply", "gates_on_zero_apply",
	"patch_dir_name", "ignore_globs",
	"screen_level", "file_level",
	"gate_params",
}

// defaultGateParams returns the built-in per-gate targets and the
// monolith guard's default thresholds.
func defaultGateParams() types.GateParams {
	return types.GateParams{
		CompileTargets:      []string{"."},
		CompileExcludeGlobs: []string{"*/migrations/*", "*/.venv/*"},
		RuffTargets:         []string{"."},
		PytestPaths:         []string{"tests"},
		PytestVenvDir:       ".venv",
		MypyPaths:           []string{"."},
		JSExtensions:        []string{".js", ".jsx", ".ts", ".tsx"},
		JSSyntaxChecker:     "node",
		DocsWatchedInclude:  []string{"."},
		DocsWatchedExclude:  nil,
		DocsRequiredFiles:   nil,
		Monolith: types.MonolithParams{
			Areas:              map[string]string{},
			CoreAreas:          nil,
			CatchallPatterns:   []string{"utils.py", "utils", "helpers.py", "misc.py"},
			Mode:               "warn_only",
			OnParseError:       "warn",
			NewFileLOCCap:      400,
			NewFileExportsCap:  40,
			NewFileImportsCap:  30,
			LargeLOCThreshold:  600,
			HugeLOCThreshold:   1200,
			GrowthLOCAllowance: 150,
			HubFanInLimit:      25,
			HubFanOutLimit:     25,
			CrossAreaLimit:     3,
		},
	}
}

// LoadFile reads and flattens a TOML config file into the policy,
// recording "config" provenance for every field it actually sets.
// A missing file is not an error: it simply contributes nothing.
func LoadFile(policy *types.Policy, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return taxonomy.Wrap(taxonomy.StageConfig, taxonomy.CategoryConfig, err, "stat config file")
	}

	var fs fileSchema
	if _, err := toml.DecodeFile(path, &fs); err != nil {
		return taxonomy.Wrap(taxonomy.StageConfig, taxonomy.CategoryConfig, err, "parsing TOML config")
	}

	set := func(field string) { policy.Provenance[field] = types.ProvenanceConfig }

	if fs.Git.DefaultBranch != "" {
		policy.DefaultBranch = fs.Git.DefaultBranch
		set("default_branch")
	}
	if fs.Git.RequireUpToDate != nil {
		policy.RequireUpToDate = *fs.Git.RequireUpToDate
		set("require_up_to_date")
	}
	if fs.Git.SkipUpToDate != nil && *fs.Git.SkipUpToDate {
		policy.RequireUpToDate = false
		set("require_up_to_date")
	}
	if fs.Git.EnforceMainBranch != nil {
		policy.EnforceMainBranch = *fs.Git.EnforceMainBranch
		set("enforce_main_branch")
	}
	if fs.Git.AllowNonMain != nil && *fs.Git.AllowNonMain {
		policy.EnforceMainBranch = false
		set("enforce_main_branch")
	}

	if fs.Paths.PatchDirName != "" {
		policy.PatchDirName = fs.Paths.PatchDirName
		set("patch_dir_name")
	}
	if fs.Paths.IgnoreGlobs != nil {
		policy.IgnoreGlobs = fs.Paths.IgnoreGlobs
		set("ignore_globs")
	}

	if fs.Workspace.UpdateWorkspace != nil {
		policy.UpdateWorkspace = *fs.Workspace.UpdateWorkspace
		set("update_workspace")
	}
	if fs.Workspace.SoftResetWorkspace != nil {
		policy.SoftResetWorkspace = *fs.Workspace.SoftResetWorkspace
		set("soft_reset_workspace")
	}
	if fs.Workspace.DeleteWorkspaceOnSuccess != nil {
		policy.DeleteWorkspaceOnSuccess = *fs.Workspace.DeleteWorkspaceOnSuccess
		set("delete_workspace_on_success")
	}
	if fs.Workspace.TestMode != nil {
		policy.TestMode = *fs.Workspace.TestMode
		set("test_mode")
	}
	if fs.Workspace.RollbackWorkspaceOnFail != "" {
		if err := validateEnum("rollback_workspace_on_fail", fs.Workspace.RollbackWorkspaceOnFail); err != nil {
			return err
		}
		policy.RollbackWorkspaceOnFail = types.RollbackMode(fs.Workspace.RollbackWorkspaceOnFail)
		set("rollback_workspace_on_fail")
	}

	if fs.Patch.ASCIIOnlyPatch != nil {
		policy.ASCIIOnlyPatch = *fs.Patch.ASCIIOnlyPatch
		set("ascii_only_patch")
	}
	if fs.Patch.NoOpFail != nil {
		policy.NoOpFail = *fs.Patch.NoOpFail
		set("no_op_fail")
	}
	if fs.Patch.AllowNoOp != nil {
		policy.AllowNoOp = *fs.Patch.AllowNoOp
		set("allow_no_op")
	}
	if fs.Patch.PatchJail != nil {
		policy.PatchJail = *fs.Patch.PatchJail
		set("patch_jail")
	}
	if fs.Patch.PatchJailUnshareNet != nil {
		policy.PatchJailUnshareNet = *fs.Patch.PatchJailUnshareNet
		set("patch_jail_unshare_net")
	}
	if fs.Patch.GatesOnPartialApply != nil {
		policy.GatesOnPartialApply = *fs.Patch.GatesOnPartialApply
		set("gates_on_partial_apply")
	}
	if fs.Patch.GatesOnZeroApply != nil {
		policy.GatesOnZeroApply = *fs.Patch.GatesOnZeroApply
		set("gates_on_zero_apply")
	}

	if fs.Scope.EnforceAllowedFiles != nil {
		policy.EnforceAllowedFiles = *fs.Scope.EnforceAllowedFiles
		set("enforce_allowed_files")
	}
	if fs.Scope.AllowOutsideFiles != nil {
		policy.AllowOutsideFiles = *fs.Scope.AllowOutsideFiles
		set("allow_outside_files")
	}
	if fs.Scope.AllowDeclaredUntouched != nil {
		policy.AllowDeclaredUntouched = *fs.Scope.AllowDeclaredUntouched
		set("allow_declared_untouched")
	}
	if fs.Scope.BlessedGateOutputs != nil {
		policy.BlessedGateOutputs = fs.Scope.BlessedGateOutputs
		set("blessed_gate_outputs")
	}

	if fs.Gates.GatesOrder != nil {
		policy.GatesOrder = fs.Gates.GatesOrder
		set("gates_order")
	}
	if fs.Gates.GatesSkip != nil {
		policy.GatesSkip = fs.Gates.GatesSkip
		set("gates_skip")
	}
	if fs.Gates.GatesAllowFail != nil {
		policy.GatesAllowFail = *fs.Gates.GatesAllowFail
		set("gates_allow_fail")
	}
	if fs.Gates.RunAllTests != nil {
		policy.RunAllTests = *fs.Gates.RunAllTests
		set("run_all_tests")
	}
	if fs.Gates.RuffFormat != nil {
		policy.RuffFormat = *fs.Gates.RuffFormat
		set("ruff_format")
	}
	if fs.Gates.RuffAutofix != nil {
		policy.RuffAutofix = *fs.Gates.RuffAutofix
		set("ruff_autofix")
	}
	if fs.Gates.RuffAutofixLegalizeOutside != nil {
		policy.RuffAutofixLegalizeOutside = *fs.Gates.RuffAutofixLegalizeOutside
		set("ruff_autofix_legalize_outside")
	}
	if fs.Gates.PytestUseVenv != nil {
		policy.PytestUseVenv = *fs.Gates.PytestUseVenv
		set("pytest_use_venv")
	}

	if fs.Promotion.FailIfLiveFilesChanged != nil {
		policy.FailIfLiveFilesChanged = *fs.Promotion.FailIfLiveFilesChanged
		set("fail_if_live_files_changed")
	}
	if fs.Promotion.LiveChangedResolution != "" {
		if err := validateEnum("live_changed_resolution", fs.Promotion.LiveChangedResolution); err != nil {
			return err
		}
		policy.LiveChangedResolution = types.LiveChangedResolution(fs.Promotion.LiveChangedResolution)
		set("live_changed_resolution")
	}
	if fs.Promotion.CommitAndPush != nil {
		policy.CommitAndPush = *fs.Promotion.CommitAndPush
		set("commit_and_push")
	}
	if fs.Promotion.AllowPushFail != nil {
		policy.AllowPushFail = *fs.Promotion.AllowPushFail
		set("allow_push_fail")
	}

	if fs.Security.LiveRepoGuard != nil {
		policy.LiveRepoGuard = *fs.Security.LiveRepoGuard
		set("live_repo_guard")
	}
	if fs.Security.LiveRepoGuardScope != "" {
		if err := validateEnum("live_repo_guard_scope", fs.Security.LiveRepoGuardScope); err != nil {
			return err
		}
		policy.LiveRepoGuardScope = types.LiveGuardScope(fs.Security.LiveRepoGuardScope)
		set("live_repo_guard_scope")
	}

	if fs.Logging.ScreenLevel != "" {
		policy.ScreenLevel = fs.Logging.ScreenLevel
		set("screen_level")
	}
	if fs.Logging.FileLevel != "" {
		policy.FileLevel = fs.Logging.FileLevel
		set("file_level")
	}

	if fs.Audit.PostSuccessAudit != nil {
		policy.PostSuccessAudit = *fs.Audit.PostSuccessAudit
		set("post_success_audit")
	}
	if fs.Audit.AuditRubricGuard != nil {
		policy.AuditRubricGuard = *fs.Audit.AuditRubricGuard
		set("audit_rubric_guard")
	}
	if fs.Audit.AuditRubricPath != "" {
		policy.AuditRubricPath = fs.Audit.AuditRubricPath
		set("audit_rubric_path")
	}

	return nil
}

func validateEnum(field, value string) error {
	allowed, ok := allowedEnums[field]
	if !ok {
		return nil
	}
	for _, a := range allowed {
		if a == value {
			return nil
		}
	}
	return taxonomy.New(taxonomy.StageConfig, taxonomy.CategoryConfig,
		fmt.Sprintf("invalid value %q for %s, want one of %v", value, field, allowed))
}

// ApplyOverrides applies named "KEY=VALUE" overrides (the CLI's
// repeatable --override flag) on top of the policy, recording "cli"
// provenance. The cmd layer calls it twice: first with the named flags
// folded into a KEY=VALUE map, then with the free-form --override map,
// so an --override entry wins on a key collision.
func ApplyOverrides(policy *types.Policy, overrides map[string]string) error {
	// Apply in sorted key order for determinism.
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := overrides[key]
		if err := applyOne(policy, key, value); err != nil {
			return err
		}
		policy.Provenance[key] = types.ProvenanceCLI
	}
	return nil
}

func applyOne(policy *types.Policy, key, value string) error {
	switch key {
	case "default_branch":
		policy.DefaultBranch = value
	case "patch_dir_name":
		policy.PatchDirName = value
	case "screen_level":
		policy.ScreenLevel = value
	case "file_level":
		policy.FileLevel = value
	case "audit_rubric_path":
		policy.AuditRubricPath = value
	case "rollback_workspace_on_fail":
		if err := validateEnum(key, value); err != nil {
			return err
		}
		policy.RollbackWorkspaceOnFail = types.RollbackMode(value)
	case "live_changed_resolution":
		if err := validateEnum(key, value); err != nil {
			return err
		}
		policy.LiveChangedResolution = types.LiveChangedResolution(value)
	case "live_repo_guard_scope":
		if err := validateEnum(key, value); err != nil {
			return err
		}
		policy.LiveRepoGuardScope = types.LiveGuardScope(value)
	case "on_conflict":
		if err := validateEnum(key, value); err != nil {
			return err
		}
		policy.OnConflict = types.OnConflict(value)
	case "gates_order", "gates_skip", "ignore_globs", "blessed_gate_outputs":
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch key {
		case "gates_order":
			policy.GatesOrder = parts
		case "gates_skip":
			policy.GatesSkip = parts
		case "ignore_globs":
			policy.IgnoreGlobs = parts
		case "blessed_gate_outputs":
			policy.BlessedGateOutputs = parts
		}
	default:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return taxonomy.New(taxonomy.StageConfig, taxonomy.CategoryConfig, "unrecognised override key: "+key)
		}
		return applyBool(policy, key, b)
	}
	return nil
}

func applyBool(policy *types.Policy, key string, value bool) error {
	switch key {
	case "require_up_to_date":
		policy.RequireUpToDate = value
	case "enforce_main_branch":
		policy.EnforceMainBranch = value
	case "update_workspace":
		policy.UpdateWorkspace = value
	case "soft_reset_workspace":
		policy.SoftResetWorkspace = value
	case "delete_workspace_on_success":
		policy.DeleteWorkspaceOnSuccess = value
	case "test_mode":
		policy.TestMode = value
	case "ascii_only_patch":
		policy.ASCIIOnlyPatch = value
	case "no_op_fail":
		policy.NoOpFail = value
	case "allow_no_op":
		policy.AllowNoOp = value
	case "enforce_allowed_files":
		policy.EnforceAllowedFiles = value
	case "allow_outside_files":
		policy.AllowOutsideFiles = value
	case "allow_declared_untouched":
		policy.AllowDeclaredUntouched = value
	case "gates_allow_fail":
		policy.GatesAllowFail = value
	case "run_all_tests":
		policy.RunAllTests = value
	case "ruff_format":
		policy.RuffFormat = value
	case "ruff_autofix":
		policy.RuffAutofix = value
	case "ruff_autofix_legalize_outside":
		policy.RuffAutofixLegalizeOutside = value
	case "pytest_use_venv":
		policy.PytestUseVenv = value
	case "fail_if_live_files_changed":
		policy.FailIfLiveFilesChanged = value
	case "commit_and_push":
		policy.CommitAndPush = value
	case "allow_push_fail":
		policy.AllowPushFail = value
	case "live_repo_guard":
		policy.LiveRepoGuard = value
	case "patch_jail":
		policy.PatchJail = value
	case "patch_jail_unshare_net":
		policy.PatchJailUnshareNet = value
	case "post_success_audit":
		policy.PostSuccessAudit = value
	case "audit_rubric_guard":
		policy.AuditRubricGuard = value
	case "gates_on_partial_apply":
		policy.GatesOnPartialApply = value
	case "gates_on_zero_apply":
		policy.GatesOnZeroApply = value
	default:
		return taxonomy.New(taxonomy.StageConfig, taxonomy.CategoryConfig, "unrecognised override key: "+key)
	}
	return nil
}

// Dump renders the policy deterministically: sorted keys, one per line,
// "key=<repr> (src=<default|config|cli>)".
func Dump(policy *types.Policy) []string {
	values := map[string]string{
		"default_branch":                 policy.DefaultBranch,
		"require_up_to_date":             fmt.Sprint(policy.RequireUpToDate),
		"enforce_main_branch":            fmt.Sprint(policy.EnforceMainBranch),
		"update_workspace":               fmt.Sprint(policy.UpdateWorkspace),
		"soft_reset_workspace":           fmt.Sprint(policy.SoftResetWorkspace),
		"delete_workspace_on_success":    fmt.Sprint(policy.DeleteWorkspaceOnSuccess),
		"test_mode":                      fmt.Sprint(policy.TestMode),
		"ascii_only_patch":               fmt.Sprint(policy.ASCIIOnlyPatch),
		"no_op_fail":                     fmt.Sprint(policy.NoOpFail),
		"allow_no_op":                    fmt.Sprint(policy.AllowNoOp),
		"enforce_allowed_files":          fmt.Sprint(policy.EnforceAllowedFiles),
		"allow_outside_files":            fmt.Sprint(policy.AllowOutsideFiles),
		"allow_declared_untouched":       fmt.Sprint(policy.AllowDeclaredUntouched),
		"blessed_gate_outputs":           strings.Join(policy.BlessedGateOutputs, ","),
		"gates_order":                    strings.Join(policy.GatesOrder, ","),
		"gates_skip":                     strings.Join(policy.GatesSkip, ","),
		"gates_allow_fail":               fmt.Sprint(policy.GatesAllowFail),
		"run_all_tests":                  fmt.Sprint(policy.RunAllTests),
		"ruff_format":                    fmt.Sprint(policy.RuffFormat),
		"ruff_autofix":                   fmt.Sprint(policy.RuffAutofix),
		"ruff_autofix_legalize_outside":  fmt.Sprint(policy.RuffAutofixLegalizeOutside),
		"pytest_use_venv":                fmt.Sprint(policy.PytestUseVenv),
		"fail_if_live_files_changed":     fmt.Sprint(policy.FailIfLiveFilesChanged),
		"live_changed_resolution":        string(policy.LiveChangedResolution),
		"commit_and_push":                fmt.Sprint(policy.CommitAndPush),
		"allow_push_fail":                fmt.Sprint(policy.AllowPushFail),
		"rollback_workspace_on_fail":     string(policy.RollbackWorkspaceOnFail),
		"live_repo_guard":                fmt.Sprint(policy.LiveRepoGuard),
		"live_repo_guard_scope":          string(policy.LiveRepoGuardScope),
		"patch_jail":                     fmt.Sprint(policy.PatchJail),
		"patch_jail_unshare_net":         fmt.Sprint(policy.PatchJailUnshareNet),
		"post_success_audit":             fmt.Sprint(policy.PostSuccessAudit),
		"audit_rubric_guard":             fmt.Sprint(policy.AuditRubricGuard),
		"audit_rubric_path":              policy.AuditRubricPath,
		"on_conflict":                    string(policy.OnConflict),
		"gates_on_partial_apply":         fmt.Sprint(policy.GatesOnPartialApply),
		"gates_on_zero_apply":            fmt.Sprint(policy.GatesOnZeroApply),
		"patch_dir_name":                 policy.PatchDirName,
		"ignore_globs":                   strings.Join(policy.IgnoreGlobs, ","),
		"screen_level":                   policy.ScreenLevel,
		"file_level":                     policy.FileLevel,
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		src := policy.Provenance[k]
		if src == "" {
			src = types.ProvenanceDefault
		}
		lines = append(lines, fmt.Sprintf("%s=%s (src=%s)", k, values[k], src))
	}
	return lines
}

// DumpNonDefault backs show-config's --diff mode: only fields whose
// provenance is not "default".
func DumpNonDefault(policy *types.Policy) []string {
	all := Dump(policy)
	out := make([]string, 0, len(all))
	for _, line := range all {
		if !strings.Contains(line, "(src=default)") {
			out = append(out, line)
		}
	}
	return out
}
