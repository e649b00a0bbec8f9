package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/patchrunner/internal/types"
)

var rerunLatestCmd = &cobra.Command{
	Use:   "rerun-latest ISSUE_ID MESSAGE [HINT]",
	Short: "Replay the newest archived patch input matching ISSUE_ID (or HINT).",
	Long: `rerun-latest is the explicit-verb equivalent of "-l": instead of
reading PATCH_PATH from the command line, it scans patches/,
patches/successful/ and patches/unsuccessful/ for the input whose name
matches HINT (if given) or the issue_<ID> prefix, and replays the one
with the newest mtime, lexical tiebreak.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagHelpFull {
			printFullHelp(cmd)
			return nil
		}
		issueID := args[0]
		if !isDigits(issueID) {
			return fmt.Errorf("ISSUE_ID must be digits, got %q", issueID)
		}
		message := args[1]
		hint := ""
		if len(args) == 3 {
			hint = args[2]
		}
		cli := types.CLIArgs{
			IssueID:       issueID,
			CommitMessage: message,
			RerunHint:     hint,
			RerunLatest:   true,
		}
		return dispatch(cmd, types.ModeRerunLatest, cli)
	},
}
