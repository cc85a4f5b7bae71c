// Package bootstrap implements the retry loop that turns a bare PID into a
// ready Trace Getter by repeatedly invoking Address Finder and Version
// Dispatcher until every required address resolves, or a terminal error
// (NoSuchProcess, PermissionDenied, UnsupportedVersion) ends the attempt.
//
// The retry loop uses a fixed 1ms sleep between attempts, no exponential
// backoff, and a hard cap after which a permission error is reported with a
// remediation hint rather than a bare timeout.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fencepost/rbprof/addressfinder"
	"github.com/fencepost/rbprof/dispatch"
	"github.com/fencepost/rbprof/target"
)

// Options tunes the retry loop; zero value is not valid, use DefaultOptions.
type Options struct {
	MaxAttempts     int
	RetryInterval   time.Duration
	ForceVersion    string // empty: detect from the target
	LockProcess     bool
	OnCPU           bool
}

// DefaultOptions matches config.DefaultConfig's bootstrap section.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:   100,
		RetryInterval: time.Millisecond,
		LockProcess:   true,
	}
}

// Addresses is the address map snapshot: the three slots Bootstrap
// resolves before a Trace Getter can take a sample.
type Addresses struct {
	Version             string
	CurrentThreadSlot    uint64 // 0 for version >= 3.0.0 (resolved dynamically through VM)
	VMSlot               uint64
	GlobalSymbolsSlot    uint64 // 0 if absent; non-fatal
	HasGlobalSymbolsSlot bool
}

// Error wraps a failed bootstrap attempt with the last partial address
// snapshot it managed to collect, for diagnostics.
type Error struct {
	PID              int
	Attempts         int
	PartialAddresses Addresses
	Err              error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bootstrap pid %d failed after %d attempts: %v", e.PID, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Bootstrap drives target.OpenLinux + addressfinder + dispatch.Table to
// produce a ready address map for pid. It returns a terminal error
// immediately for NoSuchProcess, PermissionDenied, and UnsupportedVersion;
// only Address Finder's NotYetReady is retried, for at most opts.MaxAttempts
// attempts in all.
func Bootstrap(pid int, opts Options, table *dispatch.Table, open func(int) (target.Handle, error)) (target.Handle, Addresses, dispatch.Entry, error) {
	var last Addresses
	for attempt := 1; ; attempt++ {
		h, addrs, entry, err := attempt1(pid, opts, table, open)
		if err == nil {
			return h, addrs, entry, nil
		}

		if addrs != (Addresses{}) {
			last = addrs
		}

		if !retryable(err) {
			return nil, Addresses{}, dispatch.Entry{}, err
		}

		if attempt >= opts.MaxAttempts {
			if errors.Is(err, os.ErrPermission) {
				err = addressfinder.ClassifyOpenError(pid, err)
			}
			return nil, Addresses{}, dispatch.Entry{}, &Error{
				PID: pid, Attempts: attempt, PartialAddresses: last, Err: err,
			}
		}

		logrus.WithError(err).WithField("pid", pid).WithField("attempt", attempt).
			Debug("bootstrap: address map not ready yet, retrying")
		time.Sleep(opts.RetryInterval)
	}
}

// retryable reports which failures are worth retrying: only Address
// Finder's KindNotYetReady is. NoSuchProcess, PermissionDenied, and
// UnsupportedVersion are all terminal.
func retryable(err error) bool {
	if afErr, ok := err.(*addressfinder.Error); ok {
		return afErr.Retryable()
	}
	return false
}

func attempt1(pid int, opts Options, table *dispatch.Table, open func(int) (target.Handle, error)) (target.Handle, Addresses, dispatch.Entry, error) {
	h, err := open(pid)
	if err != nil {
		return nil, Addresses{}, dispatch.Entry{}, addressfinder.ClassifyOpenError(pid, err)
	}

	maps, err := h.Maps()
	if err != nil {
		return nil, Addresses{}, dispatch.Entry{}, addressfinder.ClassifyOpenError(pid, err)
	}

	img, err := addressfinder.FindImage(pid, maps)
	if err != nil {
		return nil, Addresses{}, dispatch.Entry{}, err
	}

	version := opts.ForceVersion
	if version == "" {
		version, err = addressfinder.FindVersion(pid, h, img)
		if err != nil {
			return nil, Addresses{}, dispatch.Entry{}, err
		}
	}

	entry, err := table.Lookup(version)
	if err != nil {
		return nil, Addresses{}, dispatch.Entry{}, err
	}

	var addrs Addresses
	addrs.Version = version

	// force_version still runs the address search below even when the
	// version itself was supplied rather than detected: the current-thread,
	// VM, and global-symbols addresses are always looked up fresh, and
	// force_version only short-circuits the version string itself.
	vmSlot, err := addressfinder.FindVMSlot(pid, h, img, maps, entry.Layout, entry.Reader)
	if err != nil {
		return nil, addrs, dispatch.Entry{}, err
	}
	addrs.VMSlot = vmSlot

	if entry.SupportsCurrentThreadSlot {
		ctSlot, err := addressfinder.FindCurrentThreadSlot(pid, h, img, maps, entry.Reader)
		if err != nil {
			return nil, addrs, dispatch.Entry{}, err
		}
		addrs.CurrentThreadSlot = ctSlot
	}

	if gsa, ok := addressfinder.FindGlobalSymbolsSlot(img); ok {
		addrs.GlobalSymbolsSlot = gsa
		addrs.HasGlobalSymbolsSlot = true
	}

	return h, addrs, entry, nil
}
