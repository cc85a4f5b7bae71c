package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fencepost/rbprof/profiler"
)

var (
	attachForceVersion string
	attachRate         time.Duration
	attachDuration     time.Duration
)

func init() {
	attachCmd.Flags().StringVar(&attachForceVersion, "force-version", "", "skip version detection and assume this Ruby version")
	attachCmd.Flags().DurationVar(&attachRate, "rate", 10*time.Millisecond, "interval between samples")
	attachCmd.Flags().DurationVar(&attachDuration, "duration", 0, "stop after this long (0: run until the target exits)")
	rootCmd.AddCommand(attachCmd)
}

var attachCmd = &cobra.Command{
	Use:   "attach <pid>",
	Short: "Attach to a running Ruby process and sample it continuously",
	Long: `Attach to pid and print one stack trace per sampling interval until the
target exits, --duration elapses, or the Trace Getter reaches a terminal
state (process ended, or an unrecoverable memory fault).`,
	Example: "  rbprof attach 12345 --rate 5ms",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[0], err)
		}

		g, err := newGetter(pid, attachForceVersion, cfg.Sampling.OnCPUOnly)
		if err != nil {
			return err
		}

		var deadline time.Time
		if attachDuration > 0 {
			deadline = time.Now().Add(attachDuration)
		}

		ticker := time.NewTicker(attachRate)
		defer ticker.Stop()

		for range ticker.C {
			if !deadline.IsZero() && time.Now().After(deadline) {
				return nil
			}

			trace, err := g.Sample()
			if err != nil {
				var endedErr *profiler.ProcessEndedError
				if errors.As(err, &endedErr) {
					fmt.Fprintln(cmd.OutOrStdout(), "target process ended")
					return nil
				}
				if g.State() == profiler.StateTerminal {
					return err
				}
				logrus.WithError(err).WithField("pid", pid).Debug("attach: sample failed")
				continue
			}
			if trace == nil {
				continue
			}
			logReinit(g)
			printTrace(cmd, trace)
		}
		return nil
	},
}

func logReinit(g *profiler.Getter) {
	if g.ReinitCount() > 0 {
		logrus.WithField("reinit_count", g.ReinitCount()).Debug("attach: getter reinitialized since last report")
	}
}
