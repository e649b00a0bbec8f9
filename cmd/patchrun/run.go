package main

import (
	"github.com/spf13/cobra"

	"github.com/boshu2/patchrunner/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run ISSUE_ID MESSAGE [PATCH_PATH]",
	Short: "Apply a patch for ISSUE_ID into its workspace, gate, and promote it.",
	Long: `run is the explicit-verb equivalent of the bare "patchrun ISSUE_ID
MESSAGE [PATCH_PATH]" form: it prepares (or reuses) the issue's
workspace, resolves the patch input, applies it, enforces file scope,
runs the gate pipeline, and promotes the result into the live repo.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagHelpFull {
			printFullHelp(cmd)
			return nil
		}
		issueID, message, patchPath, err := parseWorkspacePositional(args)
		if err != nil {
			return err
		}
		return dispatch(cmd, types.ModeWorkspace, types.CLIArgs{IssueID: issueID, CommitMessage: message, PatchInput: patchPath})
	},
}
