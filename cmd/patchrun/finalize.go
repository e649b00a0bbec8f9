package main

import (
	"github.com/spf13/cobra"

	"github.com/boshu2/patchrunner/internal/types"
)

var finalizeLiveCmd = &cobra.Command{
	Use:   "finalize-live MESSAGE",
	Short: "Gate, commit, and push whatever is already changed in the live repo.",
	Long: `finalize-live treats the live repo's current working tree as the
touched set: no workspace, no patch input. It runs the gate pipeline
directly against the live repo, stages the changed files, and (unless
commit_and_push is disabled) commits MESSAGE and pushes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagHelpFull {
			printFullHelp(cmd)
			return nil
		}
		return dispatch(cmd, types.ModeFinalizeLive, types.CLIArgs{CommitMessage: args[0]})
	},
}

var finalizeWorkspaceCmd = &cobra.Command{
	Use:   "finalize-workspace ISSUE_ID",
	Short: "Resume ISSUE_ID's already-patched workspace: gate, promote, commit.",
	Long: `finalize-workspace resumes a workspace a prior "run" already patched:
it skips patching, takes the workspace's saved allowed-union as the
declared set for a final scope pass, then runs gates, promotes, and
commits exactly like the tail of "run".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagHelpFull {
			printFullHelp(cmd)
			return nil
		}
		return dispatch(cmd, types.ModeFinalizeWorkspace, types.CLIArgs{IssueID: args[0]})
	},
}
