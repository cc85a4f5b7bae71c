package versionreader

import (
	"fmt"

	"github.com/fencepost/rbprof/target"
	lru "github.com/hashicorp/golang-lru/v2"
)

// genericReader is the stack-walking template shared by every registered
// Ruby version; only the StackLayout offsets differ between versions, so
// one templated walker covers every entry instead of a walker per version.
type genericReader struct {
	version string
	layout  StackLayout
	// methodNames caches iseq label VALUE -> decoded Go string. A given
	// iseq's label is immutable for the lifetime of the iseq, so once
	// decoded it never needs a fresh cross-process read.
	methodNames *lru.Cache[uint64, string]
}

// New constructs the shared generic stack-walking Reader for one Ruby
// version's StackLayout. Exported so the build-time registration table
// (outside this package, to avoid a dispatch<->versionreader import cycle)
// can build Reader values without duplicating the walker.
func New(version string, layout StackLayout) Reader {
	return newGenericReader(version, layout)
}

func newGenericReader(version string, layout StackLayout) *genericReader {
	cache, err := lru.New[uint64, string](4096)
	if err != nil {
		// Only returns an error for a non-positive size, which 4096 never is.
		panic(err)
	}
	return &genericReader{version: version, layout: layout, methodNames: cache}
}

// IsMaybeThread implements the Reader capability's heuristic predicate: a
// candidate is a plausible rb_thread_t/rb_ractor_t if it has a readable
// execution-context pointer whose control-frame pointer is itself non-nil.
func (g *genericReader) IsMaybeThread(addr, _ uint64, h target.Handle, _ []target.MapEntry) bool {
	if addr == 0 {
		return false
	}
	var ec uint64
	if err := h.CopyStruct(addr+g.layout.ThreadECOffset, &ec); err != nil || ec == 0 {
		return false
	}
	var cfp uint64
	if err := h.CopyStruct(ec+g.layout.ECCFPOffset, &cfp); err != nil {
		return false
	}
	return cfp != 0
}

// GetStackTrace walks the call-frame chain starting from whichever of cta
// (Ruby < 3.0) or vma (Ruby >= 3.0, cta == 0) resolves to the current
// execution context.
func (g *genericReader) GetStackTrace(cta, vma uint64, gsa *uint64, h target.Handle, pid int, onCPUHint *bool) (*StackTrace, error) {
	ec, err := g.resolveEC(cta, vma, h)
	if err != nil {
		return nil, err
	}

	var cfp uint64
	if err := h.CopyStruct(ec+g.layout.ECCFPOffset, &cfp); err != nil {
		return nil, target.NewInvalidAddress(ec+g.layout.ECCFPOffset, err)
	}

	var frames []Frame
	for i := 0; i < g.layout.MaxFrames; i++ {
		var iseq, pc, ep uint64
		if err := h.CopyStruct(cfp+g.layout.CFPIseqOffset, &iseq); err != nil {
			break
		}
		if iseq == 0 {
			if err := h.CopyStruct(cfp+g.layout.CFPEPOffset, &ep); err != nil || ep == 0 {
				break // sentinel frame: top of the control-frame stack
			}
			frames = append(frames, Frame{MethodName: "(cfunc)", Kind: FrameCFunc})
			cfp += g.layout.CFPSize
			continue
		}
		if err := h.CopyStruct(cfp+g.layout.CFPPCOffset, &pc); err != nil {
			break
		}
		if frame, ok := g.decodeFrame(h, iseq, pc); ok {
			frames = append(frames, frame)
		}
		cfp += g.layout.CFPSize
	}

	if len(frames) == 0 {
		return nil, nil
	}
	return &StackTrace{PID: pid, OnCPU: onCPUHint, Frames: frames}, nil
}

func (g *genericReader) resolveEC(cta, vma uint64, h target.Handle) (uint64, error) {
	if cta != 0 {
		var threadPtr uint64
		if err := h.CopyStruct(cta, &threadPtr); err != nil {
			return 0, target.NewInvalidAddress(cta, err)
		}
		if threadPtr == 0 {
			return 0, target.NewInvalidAddress(cta, fmt.Errorf("current thread slot is nil"))
		}
		var ec uint64
		if err := h.CopyStruct(threadPtr+g.layout.ThreadECOffset, &ec); err != nil {
			return 0, target.NewInvalidAddress(threadPtr+g.layout.ThreadECOffset, err)
		}
		return ec, nil
	}

	var mainRactor uint64
	if err := h.CopyStruct(vma+g.layout.VMRactorOffset, &mainRactor); err != nil {
		// Report the failure against vma itself, not the offset read from
		// it: vma is what the caller tracks as the current-thread address
		// for versions without a dedicated current-thread slot, so a read
		// rooted there failing is what should be recognized as drift.
		return 0, target.NewInvalidAddress(vma, err)
	}
	var ec uint64
	if err := h.CopyStruct(mainRactor+g.layout.RactorRunningECOffset, &ec); err != nil {
		return 0, target.NewInvalidAddress(mainRactor+g.layout.RactorRunningECOffset, err)
	}
	return ec, nil
}

func (g *genericReader) decodeFrame(h target.Handle, iseq, pc uint64) (Frame, bool) {
	var body uint64
	if err := h.CopyStruct(iseq+g.layout.IseqBodyOffset, &body); err != nil || body == 0 {
		return Frame{}, false
	}
	loc := body + g.layout.IseqBodyLocationOffset

	var pathVal, labelVal uint64
	_ = h.CopyStruct(loc+g.layout.IseqLocationPathOffset, &pathVal)
	_ = h.CopyStruct(loc+g.layout.IseqLocationLabelOffset, &labelVal)

	methodName := g.methodName(h, labelVal)
	path := ""
	if pathVal != 0 {
		if s, err := readRubyString(h, pathVal, defaultRStringLayout); err == nil {
			path = s
		}
	}

	return Frame{
		MethodName: methodName,
		Path:       path,
		Line:       g.lineForPC(h, body, pc),
		Kind:       FrameRuby,
	}, true
}

func (g *genericReader) methodName(h target.Handle, labelVal uint64) string {
	const unknown = "(unknown)"
	if labelVal == 0 {
		return unknown
	}
	if name, ok := g.methodNames.Get(labelVal); ok {
		return name
	}
	s, err := readRubyString(h, labelVal, defaultRStringLayout)
	if err != nil || s == "" {
		return unknown
	}
	g.methodNames.Add(labelVal, s)
	return s
}

// lineEntry is one row of Ruby's instruction-offset-to-source-line table.
type lineEntry struct {
	Position uint64
	Line     uint32
	_        uint32 // padding to the table's 16-byte stride
}

const lineEntrySize = 16

// lineForPC computes the source line for the instruction currently pointed
// to by pc, by locating it in the iseq's sorted position/line table.
func (g *genericReader) lineForPC(h target.Handle, body, pc uint64) int {
	var encoded uint64
	if err := h.CopyStruct(body+g.layout.IseqBodyEncodedOffset, &encoded); err != nil || encoded == 0 || pc < encoded {
		return 0
	}
	index := (pc - encoded) / 8

	var tablePtr, tableSize uint64
	if err := h.CopyStruct(body+g.layout.IseqLocationLineTableOffset, &tablePtr); err != nil || tablePtr == 0 {
		return 0
	}
	_ = h.CopyStruct(body+g.layout.IseqLocationLineTableSizeOffset, &tableSize)
	if tableSize == 0 || tableSize > 1<<20 {
		return 0
	}

	line := 0
	for i := uint64(0); i < tableSize; i++ {
		var e lineEntry
		if err := h.CopyStruct(tablePtr+i*lineEntrySize, &e); err != nil {
			break
		}
		if e.Position > index {
			break
		}
		line = int(e.Line)
	}
	return line
}
