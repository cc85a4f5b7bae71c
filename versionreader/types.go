// Package versionreader defines the Version Reader capability: the uniform
// interface that translates raw bytes in a Ruby process's address space into
// stack frames. Concrete readers are precompiled per Ruby minor/patch
// version; the interface here is the only thing the rest of rbprof depends
// on (see dispatch.Table for how a version string is resolved to a Reader).
package versionreader

import "github.com/fencepost/rbprof/target"

// FrameKind classifies how a Frame's method was implemented.
type FrameKind int

const (
	// FrameRuby is a method defined in Ruby source (has a path and line).
	FrameRuby FrameKind = iota
	// FrameCFunc is a method implemented in C with no Ruby source location.
	FrameCFunc
	// FrameUnknown is a frame the reader could not classify.
	FrameUnknown
)

func (k FrameKind) String() string {
	switch k {
	case FrameRuby:
		return "ruby"
	case FrameCFunc:
		return "cfunc"
	default:
		return "unknown"
	}
}

// Frame is one entry in a stack trace: a method name, the source file it was
// defined in (empty for cfunc/unknown), and the line currently executing.
type Frame struct {
	MethodName string
	Path       string
	Line       int
	Kind       FrameKind
}

// StackTrace is one sample: an ordered sequence of frames, innermost first,
// as produced by a Reader. Callers (the C ABI surface) reverse this order
// when joining frames for output.
type StackTrace struct {
	PID    int
	OnCPU  *bool // nil when the caller did not request on-CPU gating
	Frames []Frame
}

// Reader is the Version Reader capability: a pair of callables bound at
// bootstrap time to one Ruby minor/patch version's in-memory layout.
//
// Reader implementations are precompiled, per-version structural decoders;
// this package only names the contract. rbprof shares one generic walker
// (genericReader, in generic.go) across every registered version, driven by
// a per-version StackLayout; see the versions package for the build-time
// registration table.
type Reader interface {
	// IsMaybeThread is the heuristic predicate Address Finder uses on
	// Ruby <= 2.x to validate a scanned pointer as a plausible rb_thread_t.
	IsMaybeThread(addr, vmAddr uint64, h target.Handle, maps []target.MapEntry) bool

	// GetStackTrace walks the Ruby VM call-frame chain starting from the
	// current-thread slot (or, when cta == 0, by chasing vma's
	// ractor.main_ractor.running_ec on Ruby >= 3.0) and returns one sample.
	// A nil trace with a nil error means "no sample" (e.g. on_cpu gating
	// determined the thread wasn't executing Ruby code at the moment of
	// the read, which is distinct from a hard failure).
	GetStackTrace(cta, vma uint64, gsa *uint64, h target.Handle, pid int, onCPUHint *bool) (*StackTrace, error)
}
