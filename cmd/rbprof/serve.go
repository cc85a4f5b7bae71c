package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fencepost/rbprof/inspector"
	"github.com/fencepost/rbprof/profiler"
)

var (
	serveForceVersion string
	serveRate         time.Duration
	serveAddr         string
)

func init() {
	serveCmd.Flags().StringVar(&serveForceVersion, "force-version", "", "skip version detection and assume this Ruby version")
	serveCmd.Flags().DurationVar(&serveRate, "rate", 10*time.Millisecond, "interval between samples")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "inspector listen address (default: config's inspector.addr)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve <pid>",
	Short: "Sample a target and expose it over the local inspector HTTP+websocket API",
	Long: `Attach to pid and start the inspector server: /health and
/api/v1/status over HTTP, and a live sample feed over /api/v1/ws. Runs
until interrupted.`,
	Example: "  rbprof serve 12345 --addr 127.0.0.1:9547",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[0], err)
		}

		g, err := newGetter(pid, serveForceVersion, cfg.Sampling.OnCPUOnly)
		if err != nil {
			return err
		}

		addr := serveAddr
		if addr == "" {
			addr = cfg.Inspector.Addr
		}

		srv := inspector.NewServer(addr)
		srv.Register(pid, g)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go sampleAndPublish(ctx, g, srv, pid, serveRate)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	},
}

// sampleAndPublish drives g's sampling loop for as long as ctx is live,
// registering each sample's frame count with the inspector server so
// websocket clients see it on the broadcast feed.
func sampleAndPublish(ctx context.Context, g *profiler.Getter, srv *inspector.Server, pid int, rate time.Duration) {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trace, err := g.Sample()
			if err != nil {
				logrus.WithError(err).WithField("pid", pid).Debug("serve: sample failed")
				if _, ok := err.(*profiler.ProcessEndedError); ok {
					srv.Unregister(pid)
					return
				}
				continue
			}
			if trace == nil {
				continue
			}
			srv.Publish(pid, len(trace.Frames))
		}
	}
}
