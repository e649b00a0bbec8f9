package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/patchrunner/internal/config"
	"github.com/boshu2/patchrunner/internal/types"
)

var flagConfigDiff bool

var showConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the fully resolved policy, one key per line, with provenance.",
	Long: `show-config resolves the same three layers every other mode does
(defaults, the TOML config file, CLI overrides) and prints the result.
It never touches the live repo, a workspace, or the lock file, and it
has no exit code besides 0/2 — it is a dry, read-only view of what a
run would actually do.

--diff restricts the output to fields whose provenance is not the
built-in default, i.e. fields set by the config file or a flag, which is
the fast way to see what a config file or a flag actually set. A field
set to the same value as its default is still listed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagHelpFull {
			printFullHelp(cmd)
			return nil
		}
		cli := types.CLIArgs{Mode: types.ModeShowConfig, ConfigPath: flagConfigPath}
		cli.AllowNonMain = flagAllowNonMain
		cli.AllowNoOp = flagAllowNoOp
		cli.AllowOutside = flagAllowOutside
		cli.AllowUntouched = flagAllowUntouched
		cli.AllowGatesFail = flagAllowGatesFail
		cli.RunAllGates = flagRunAllGates
		cli.TestMode = flagTestMode
		cli.UpdateWorkspace = flagUpdateWS
		cli.GatesOrder = flagGatesOrder
		cli.GatesSkip = flagGatesSkip
		cli.Overrides = parseOverrideFlags(flagOverrides)

		policy, err := resolvePolicy(cli)
		if err != nil {
			return err
		}

		lines := config.Dump(policy)
		if flagConfigDiff {
			lines = config.DumpNonDefault(policy)
		}
		for _, line := range lines {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

func init() {
	showConfigCmd.Flags().BoolVar(&flagConfigDiff, "diff", false, "only print fields set by the config file or a flag (provenance not default)")
}
