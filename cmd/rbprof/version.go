package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at link time via -ldflags "-X ...cmd.Version=...".
var Version = "dev"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print rbprof's version and the Ruby versions it supports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "rbprof %s\n", Version)
		fmt.Fprintln(out, "supported Ruby versions:")
		for _, v := range dispatchTable.SupportedVersions() {
			fmt.Fprintf(out, "  %s\n", v)
		}
		return nil
	},
}
