package cmd

import (
	"time"

	"github.com/fencepost/rbprof/bootstrap"
	"github.com/fencepost/rbprof/dispatch"
	"github.com/fencepost/rbprof/profiler"
	"github.com/fencepost/rbprof/target"
	"github.com/fencepost/rbprof/versions"
)

var dispatchTable = dispatch.NewTable(versions.All())

func openTarget(pid int) (target.Handle, error) {
	return target.OpenLinux(pid)
}

// bootstrapOptions turns the loaded Config into bootstrap.Options, applying
// any CLI-level overrides (forceVersion, onCPU) last.
func bootstrapOptions(forceVersion string, onCPU bool) bootstrap.Options {
	opts := bootstrap.Options{
		MaxAttempts:   cfg.Bootstrap.MaxAttempts,
		RetryInterval: time.Duration(cfg.Bootstrap.RetryIntervalMs) * time.Millisecond,
		ForceVersion:  cfg.Bootstrap.ForceVersion,
		LockProcess:   cfg.Sampling.FreezeTarget,
		OnCPU:         cfg.Sampling.OnCPUOnly,
	}
	if forceVersion != "" {
		opts.ForceVersion = forceVersion
	}
	if onCPU {
		opts.OnCPU = true
	}
	return opts
}

func newGetter(pid int, forceVersion string, onCPU bool) (*profiler.Getter, error) {
	opts := bootstrapOptions(forceVersion, onCPU)
	return profiler.New(pid, opts, dispatchTable, openTarget)
}
