// Package profiler implements the Trace Getter: the stateful object that
// turns a ready Bootstrap result into a stream of samples, handling on-CPU
// gating, scoped freezing, and a single-reinit recovery path for a drifted
// current-thread slot.
//
// The on-CPU check runs before locking, since freezing the target already
// takes it off-CPU and would make the check meaningless afterward. Locking
// is scoped to one sample. Exactly one reinitialize() attempt is made when
// the read that fails targets the current-thread address specifically, not
// any other address, before giving up.
package profiler

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/fencepost/rbprof/bootstrap"
	"github.com/fencepost/rbprof/dispatch"
	"github.com/fencepost/rbprof/target"
	"github.com/fencepost/rbprof/versionreader"
)

// State is the Trace Getter's lifecycle state.
type State int

const (
	StateReady State = iota
	StateReinit
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateReinit:
		return "reinit"
	default:
		return "terminal"
	}
}

// ProcessEndedError is returned once the target process has exited, or
// exec'd into a binary the Target Handle can no longer resolve.
type ProcessEndedError struct {
	PID int
}

func (e *ProcessEndedError) Error() string {
	return "ruby process ended"
}

// Opener reopens a Target Handle for pid; production code wires this to
// target.OpenLinux (or the platform equivalent). Bootstrap takes the same
// shape, so a single closure serves both.
type Opener func(pid int) (target.Handle, error)

// Getter is the Trace Getter: a ready-to-sample handle bound to one target
// process, reinitializing itself at most once per Sample call if the
// current-thread slot drifts (e.g. the interpreter reinitialized after a
// fork).
type Getter struct {
	pid     int
	opts    bootstrap.Options
	table   *dispatch.Table
	open    Opener

	handle      target.Handle
	addrs       bootstrap.Addresses
	entry       dispatch.Entry
	reinitCount int
	state       State
}

// New runs Bootstrap once and returns a ready Getter.
func New(pid int, opts bootstrap.Options, table *dispatch.Table, open Opener) (*Getter, error) {
	h, addrs, entry, err := bootstrap.Bootstrap(pid, opts, table, open)
	if err != nil {
		return nil, err
	}
	return &Getter{
		pid: pid, opts: opts, table: table, open: open,
		handle: h, addrs: addrs, entry: entry, state: StateReady,
	}, nil
}

// State reports the Getter's current lifecycle state.
func (g *Getter) State() State { return g.state }

// ReinitCount reports how many times this Getter has reinitialized, for
// diagnostics (the inspector surfaces this).
func (g *Getter) ReinitCount() int { return g.reinitCount }

// Sample takes one stack trace: on-CPU gate, then (optionally) freeze, then
// read. A nil trace with a nil error means there was nothing to sample this
// tick: either the on-CPU gate found no thread on a CPU, or the Reader
// decoded no frames.
func (g *Getter) Sample() (trace *versionreader.StackTrace, err error) {
	if g.state == StateTerminal {
		return nil, &ProcessEndedError{PID: g.pid}
	}

	if g.opts.OnCPU {
		onCPU, err := g.isOnCPU()
		if err != nil {
			return nil, g.classify(err)
		}
		if !onCPU {
			return nil, nil
		}
	}

	trace, sampleErr := g.sampleOnce()
	if sampleErr == nil {
		return trace, nil
	}

	var memErr *target.MemoryError
	if !errors.As(sampleErr, &memErr) || memErr.Kind != target.InvalidAddress || memErr.Addr != g.currentThreadAddr() {
		return nil, g.classify(sampleErr)
	}

	logrus.WithField("pid", g.pid).Debug("trace getter: current thread address invalid, reinitializing")
	if err := g.reinitialize(); err != nil {
		return nil, err
	}

	trace, sampleErr = g.sampleOnce()
	if sampleErr != nil {
		return nil, g.classify(sampleErr)
	}
	return trace, nil
}

func (g *Getter) currentThreadAddr() uint64 {
	if g.entry.SupportsCurrentThreadSlot {
		return g.addrs.CurrentThreadSlot
	}
	return g.addrs.VMSlot
}

func (g *Getter) isOnCPU() (bool, error) {
	threads, err := g.handle.Threads()
	if err != nil {
		return false, err
	}
	for _, t := range threads {
		active, err := t.Active()
		if err != nil {
			continue // a single unreadable thread shouldn't fail the whole gate
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

func (g *Getter) sampleOnce() (*versionreader.StackTrace, error) {
	if g.opts.LockProcess {
		fz, err := g.handle.Lock()
		if err != nil {
			return nil, err
		}
		defer fz.Release()
	}

	var gsaPtr *uint64
	if g.addrs.HasGlobalSymbolsSlot {
		gsa := g.addrs.GlobalSymbolsSlot
		gsaPtr = &gsa
	}
	var onCPUHint *bool
	if g.opts.OnCPU {
		v := true
		onCPUHint = &v
	}

	trace, err := g.entry.Reader.GetStackTrace(
		g.addrs.CurrentThreadSlot, g.addrs.VMSlot, gsaPtr, g.handle, g.pid, onCPUHint,
	)
	if err != nil {
		return nil, err
	}
	if trace != nil {
		trace.PID = g.pid
	}
	return trace, nil
}

func (g *Getter) reinitialize() error {
	h, addrs, entry, err := bootstrap.Bootstrap(g.pid, g.opts, g.table, g.open)
	if err != nil {
		g.state = StateTerminal
		return err
	}
	g.handle, g.addrs, g.entry = h, addrs, entry
	g.reinitCount++
	g.state = StateReady
	return nil
}

// classify applies one disposition rule: once the target's exe can no
// longer be resolved, every further error is reported as ProcessEnded
// instead of the underlying memory fault, and the Getter moves to terminal.
func (g *Getter) classify(err error) error {
	if _, exeErr := g.handle.Exe(); exeErr != nil {
		g.state = StateTerminal
		return &ProcessEndedError{PID: g.pid}
	}
	return err
}
