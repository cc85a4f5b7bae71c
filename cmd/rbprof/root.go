// Package cmd implements rbprof's command-line surface: a small cobra tree
// wiring config, bootstrap, profiler, abi and the tui/inspector packages
// together for interactive use.
package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fencepost/rbprof/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rbprof",
	Short: "Sampling profiler for running Ruby processes",
	Long: `rbprof attaches to a running Ruby process and periodically samples its
call stack without pausing or modifying the target for longer than a single
read. It never requires the target to load an agent or debug symbols.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadFrom(cfgFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		level, err := logrus.ParseLevel(cfg.Logging.Level)
		if err != nil {
			level = logrus.InfoLevel
		}
		logrus.SetLevel(level)
		if cfg.Logging.JSON {
			logrus.SetFormatter(&logrus.JSONFormatter{})
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.toml (default: platform config dir)")
}
