package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var snapshotForceVersion string

func init() {
	snapshotCmd.Flags().StringVar(&snapshotForceVersion, "force-version", "", "skip version detection and assume this Ruby version")
	rootCmd.AddCommand(snapshotCmd)
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <pid>",
	Short: "Bootstrap a target once and print a single stack trace",
	Long: `Attach to pid, run the bootstrap retry loop until the address map is
ready (or a terminal error occurs), take exactly one sample, and print it.

Mainly useful for checking whether a target is attachable at all before
running a longer-lived "watch" or "serve" session.`,
	Example: "  rbprof snapshot 12345",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[0], err)
		}

		g, err := newGetter(pid, snapshotForceVersion, false)
		if err != nil {
			return err
		}

		trace, err := g.Sample()
		if err != nil {
			return err
		}
		if trace == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "(nothing to sample: target was off-CPU or no frames were decoded)")
			return nil
		}
		printTrace(cmd, trace)
		return nil
	},
}
