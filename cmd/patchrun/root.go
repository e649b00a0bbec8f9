package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/patchrunner/internal/config"
	"github.com/boshu2/patchrunner/internal/engine"
	"github.com/boshu2/patchrunner/internal/layout"
	"github.com/boshu2/patchrunner/internal/logging"
	"github.com/boshu2/patchrunner/internal/procrunner"
	"github.com/boshu2/patchrunner/internal/types"
)

// Shared, persistent flags. Every grammar (the bare root form and every
// subcommand) reads from these.
var (
	flagRepo           string
	flagConfigPath     string
	flagVerbosity      string
	flagLogLevel       string
	flagGatesSkip      []string
	flagGatesOrder     []string
	flagUnified        bool
	flagAllowNonMain   bool
	flagAllowNoOp      bool
	flagAllowOutside   bool
	flagAllowUntouched bool
	flagAllowGatesFail bool
	flagRunAllGates    bool
	flagRerunLatest    bool
	flagTestMode       bool
	flagUpdateWS       bool
	flagOverrides      []string
	flagHelpFull       bool

	// Bare-grammar back-compat flags, root-only.
	flagFinalizeLive      string
	flagFinalizeWorkspace string
)

var rootCmd = &cobra.Command{
	Use:   "patchrun ISSUE_ID MESSAGE [PATCH_PATH]",
	Short: "Apply, gate, and promote a single-issue patch against a live repo.",
	Long: `patchrun drives one issue's patch through a durable per-issue
workspace: apply (script or unified diff), enforce file-scope, run the
gate pipeline, promote into the live repo, and archive the outcome.

Grammars:
  patchrun ISSUE_ID MESSAGE [PATCH_PATH]       workspace mode
  patchrun -f MESSAGE                          finalize-live mode
  patchrun --finalize-workspace ISSUE_ID       finalize-workspace mode

Equivalent subcommands (run, finalize-live, finalize-workspace,
rerun-latest, show-config) are also available for scripted callers that
prefer an explicit verb.

Exit codes: 0 success, 1 user-visible failure (patch/gates/scope/
promotion/preflight), 2 internal or plan-level failure raised before the
first phase (bad arguments, unreadable/invalid config).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	RunE:          runRoot,
}

func init() {
	rootCmd.SetHelpFunc(shortHelpFunc)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagRepo, "repo", "", "live repo root (default: current directory)")
	pf.StringVar(&flagConfigPath, "config", "", "path to a patchrunner TOML config file")
	pf.StringVar(&flagVerbosity, "verbosity", "", "screen log level (quiet|normal|warning|verbose|debug)")
	pf.StringVar(&flagLogLevel, "log-level", "", "file log level (quiet|normal|warning|verbose|debug)")
	pf.StringSliceVar(&flagGatesSkip, "gates-skip", nil, "comma-separated gate kinds to skip")
	pf.StringSliceVar(&flagGatesOrder, "gates-order", nil, "comma-separated gate kinds, in order")
	pf.BoolVarP(&flagUnified, "unified", "u", false, "force unified-diff classification of the patch input")
	pf.BoolVar(&flagAllowNonMain, "allow-non-main", false, "skip the default-branch enforcement")
	pf.BoolVar(&flagAllowNoOp, "allow-no-op", false, "do not fail when the patch touches nothing")
	pf.BoolVar(&flagAllowOutside, "allow-outside-files", false, "legalise files touched outside the declared set")
	pf.BoolVar(&flagAllowUntouched, "allow-untouched-files", false, "do not fail when a declared file is left untouched")
	pf.BoolVar(&flagAllowGatesFail, "allow-gates-fail", false, "record gate failures but keep going")
	pf.BoolVar(&flagRunAllGates, "run-all-gates", false, "run every gate even after a failure")
	pf.BoolVarP(&flagRerunLatest, "rerun-latest", "l", false, "rerun the newest matching patch input instead of resolving one")
	pf.BoolVar(&flagTestMode, "test-mode", false, "run gates then stop; always delete the workspace on exit")
	pf.BoolVar(&flagUpdateWS, "update-workspace", false, "fetch and hard-reset a reused workspace before patching")
	pf.StringArrayVar(&flagOverrides, "override", nil, "KEY=VALUE policy override, repeatable")
	pf.BoolVarP(&flagHelpFull, "help-full", "H", false, "show full help, including every option, and exit")

	rootCmd.Flags().StringVarP(&flagFinalizeLive, "finalize-live", "f", "", "finalize-live mode: commit MESSAGE directly against the live repo (must be the final argument)")
	rootCmd.Flags().StringVar(&flagFinalizeWorkspace, "finalize-workspace", "", "finalize-workspace mode: promote ISSUE_ID's workspace using its saved allowed-union")

	rootCmd.AddCommand(runCmd, finalizeLiveCmd, finalizeWorkspaceCmd, rerunLatestCmd, showConfigCmd)
}

// shortHelpFunc backs plain -h/--help: one line plus usage, no option
// descriptions. -H/--help-full (checked in each RunE) prints the rest.
func shortHelpFunc(cmd *cobra.Command, _ []string) {
	fmt.Fprintln(cmd.OutOrStdout(), cmd.Short)
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "Usage:", cmd.UseLine())
	fmt.Fprintln(cmd.OutOrStdout(), "Run with -H/--help-full for the full option list.")
}

func printFullHelp(cmd *cobra.Command) {
	fmt.Fprintln(cmd.OutOrStdout(), cmd.Long)
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprint(cmd.OutOrStdout(), cmd.UsageString())
}

// Execute runs the root command and translates its outcome into a
// process exit code. Cobra's own parse/usage errors (bad flags, unknown
// subcommand) are plan-level failures: exit 2.
func Execute() {
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "patchrun:", err)
		os.Exit(2)
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	if flagHelpFull {
		printFullHelp(cmd)
		return nil
	}

	switch {
	case flagFinalizeLive != "":
		if len(args) != 0 {
			return fmt.Errorf("-f/--finalize-live MESSAGE must be the final argument, got %d leftover positional argument(s): %v", len(args), args)
		}
		return dispatch(cmd, types.ModeFinalizeLive, types.CLIArgs{CommitMessage: flagFinalizeLive})
	case flagFinalizeWorkspace != "":
		return dispatch(cmd, types.ModeFinalizeWorkspace, types.CLIArgs{IssueID: flagFinalizeWorkspace})
	default:
		issueID, message, patchPath, err := parseWorkspacePositional(args)
		if err != nil {
			return err
		}
		return dispatch(cmd, types.ModeWorkspace, types.CLIArgs{IssueID: issueID, CommitMessage: message, PatchInput: patchPath})
	}
}

// parseWorkspacePositional validates and unpacks the ISSUE_ID MESSAGE
// [PATCH_PATH] grammar shared by the bare root form and `run`.
func parseWorkspacePositional(args []string) (issueID, message, patchPath string, err error) {
	if len(args) < 2 || len(args) > 3 {
		return "", "", "", fmt.Errorf("expected ISSUE_ID MESSAGE [PATCH_PATH], got %d argument(s)", len(args))
	}
	issueID = args[0]
	if !isDigits(issueID) {
		return "", "", "", fmt.Errorf("ISSUE_ID must be digits, got %q", issueID)
	}
	message = args[1]
	if strings.TrimSpace(message) == "" {
		return "", "", "", fmt.Errorf("MESSAGE must not be empty")
	}
	if len(args) == 3 {
		patchPath = args[2]
	}
	return issueID, message, patchPath, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// dispatch fills in the flag-derived fields common to every mode, runs
// the engine, and exits with the resulting code.
func dispatch(cmd *cobra.Command, mode types.Mode, cli types.CLIArgs) error {
	if flagHelpFull {
		printFullHelp(cmd)
		return nil
	}

	cli.Mode = mode
	cli.Verbosity = flagVerbosity
	cli.LogLevel = flagLogLevel
	cli.GatesSkip = flagGatesSkip
	cli.GatesOrder = flagGatesOrder
	cli.ForceUnified = flagUnified
	cli.AllowNonMain = flagAllowNonMain
	cli.AllowNoOp = flagAllowNoOp
	cli.AllowOutside = flagAllowOutside
	cli.AllowUntouched = flagAllowUntouched
	cli.AllowGatesFail = flagAllowGatesFail
	cli.RunAllGates = flagRunAllGates
	cli.RerunLatest = cli.RerunLatest || flagRerunLatest
	cli.TestMode = flagTestMode
	cli.UpdateWorkspace = flagUpdateWS
	cli.ConfigPath = flagConfigPath
	cli.Overrides = parseOverrideFlags(flagOverrides)

	policy, err := resolvePolicy(cli)
	if err != nil {
		return err
	}

	repoRoot, err := resolveRepoRoot(flagRepo)
	if err != nil {
		return err
	}

	exitCode, err := runEngine(cmd.Context(), cli, policy, repoRoot)
	if err != nil {
		return err
	}
	os.Exit(exitCode)
	return nil
}

func parseOverrideFlags(raw []string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func resolveRepoRoot(repo string) (string, error) {
	if repo != "" {
		abs, err := filepath.Abs(repo)
		if err != nil {
			return "", fmt.Errorf("resolving --repo: %w", err)
		}
		return abs, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving current directory: %w", err)
	}
	return cwd, nil
}

// resolvePolicy runs the three-layer config resolution:
// defaults, TOML file, then CLI overrides. Named boolean/enable flags
// are folded into the same override namespace as --override KEY=VALUE
// so show-config reports one consistent provenance surface; explicit
// --override entries are applied last and win on key collisions.
func resolvePolicy(cli types.CLIArgs) (*types.Policy, error) {
	policy := config.Default()
	if err := config.LoadFile(policy, cli.ConfigPath); err != nil {
		return nil, err
	}

	named := map[string]string{}
	if cli.AllowNonMain {
		named["enforce_main_branch"] = "false"
	}
	if cli.AllowNoOp {
		named["allow_no_op"] = "true"
	}
	if cli.AllowOutside {
		named["allow_outside_files"] = "true"
	}
	if cli.AllowUntouched {
		named["allow_declared_untouched"] = "true"
	}
	if cli.AllowGatesFail {
		named["gates_allow_fail"] = "true"
	}
	if cli.RunAllGates {
		named["run_all_tests"] = "true"
	}
	if cli.TestMode {
		named["test_mode"] = "true"
	}
	if cli.UpdateWorkspace {
		named["update_workspace"] = "true"
	}
	if len(cli.GatesOrder) > 0 {
		named["gates_order"] = strings.Join(cli.GatesOrder, ",")
	}
	if len(cli.GatesSkip) > 0 {
		named["gates_skip"] = strings.Join(cli.GatesSkip, ",")
	}
	if err := config.ApplyOverrides(policy, named); err != nil {
		return nil, err
	}
	if err := config.ApplyOverrides(policy, cli.Overrides); err != nil {
		return nil, err
	}
	return policy, nil
}

// runEngine builds the on-disk layout, the logger (screen + file +
// NDJSON sinks), and the Engine, then executes one run and returns the
// process exit code.
func runEngine(ctx context.Context, cli types.CLIArgs, policy *types.Policy, repoRoot string) (int, error) {
	paths := layout.Build(repoRoot, policy)
	if err := layout.EnsureDirs(paths); err != nil {
		return 0, fmt.Errorf("preparing %s: %w", paths.PatchDir, err)
	}

	now := time.Now().UTC()
	logName := logNameFor(cli, policy, now)
	logPath := filepath.Join(paths.LogsDir, logName)

	logFile, err := os.Create(logPath)
	if err != nil {
		return 0, fmt.Errorf("creating log file: %w", err)
	}
	defer logFile.Close()

	jsonlPath := strings.TrimSuffix(logPath, filepath.Ext(logPath)) + ".jsonl"
	jsonlFile, err := os.Create(jsonlPath)
	if err != nil {
		return 0, fmt.Errorf("creating event stream: %w", err)
	}
	defer jsonlFile.Close()

	screenLevel := logging.Level(policy.ScreenLevel)
	if cli.Verbosity != "" {
		screenLevel = logging.Level(cli.Verbosity)
	}
	fileLevel := logging.Level(policy.FileLevel)
	if cli.LogLevel != "" {
		fileLevel = logging.Level(cli.LogLevel)
	}

	logger := logging.New(
		logging.NewSink(os.Stdout, screenLevel),
		logging.NewSink(logFile, fileLevel),
		logging.NewEventSink(jsonlFile),
	)

	updateCurrentLog(paths.CurrentLog, logPath)

	if os.Getenv("AM_PATCH_VENV_BOOTSTRAPPED") == "" {
		os.Setenv("AM_PATCH_VENV_BOOTSTRAPPED", "1")
	}

	deps := engine.Deps{Runner: procrunner.NewExec(), Logger: logger, Now: time.Now}
	eng := engine.New(deps, policy, paths)

	result := eng.Run(ctx, cli, repoRoot, logPath)
	return result.ExitCode, nil
}

func logNameFor(cli types.CLIArgs, policy *types.Policy, now time.Time) string {
	if cli.Mode == types.ModeFinalizeLive {
		return layout.FinalizeLogName(policy.LogFilenameFinalizeTemplate, now)
	}
	return layout.IssueLogName(policy.LogFilenameIssueTemplate, cli.IssueID, now)
}

// updateCurrentLog best-effort refreshes the current_log symlink to
// point at this run's log file. Failure to symlink (e.g. unsupported
// filesystem) never aborts the run.
func updateCurrentLog(linkPath, target string) {
	tmp := linkPath + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return
	}
	_ = os.Rename(tmp, linkPath)
}
