package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fencepost/rbprof/tui"
)

var (
	watchForceVersion string
	watchRate         time.Duration
)

func init() {
	watchCmd.Flags().StringVar(&watchForceVersion, "force-version", "", "skip version detection and assume this Ruby version")
	watchCmd.Flags().DurationVar(&watchRate, "rate", 10*time.Millisecond, "interval between samples")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <pid>",
	Short: "Attach to a running Ruby process and watch its stack live in a terminal UI",
	Long: `Attach to pid and open a live, top-like terminal view of its current
stack trace, Trace Getter state, and recent frame-0 method names. Press
'p' to pause sampling and 'q' to quit.`,
	Example: "  rbprof watch 12345",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[0], err)
		}

		g, err := newGetter(pid, watchForceVersion, cfg.Sampling.OnCPUOnly)
		if err != nil {
			return err
		}

		t := tui.New(g, watchRate)
		return t.Run()
	},
}
