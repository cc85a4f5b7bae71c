package versionreader

import (
	"testing"

	"github.com/fencepost/rbprof/target"
)

// memHandle is a minimal in-memory target.Handle for exercising the generic
// walker without a real Ruby process.
type memHandle struct {
	mem map[uint64][]byte
}

func (m *memHandle) PID() int { return 777 }

func (m *memHandle) CopyBytes(addr uint64, n int) ([]byte, error) {
	b, ok := m.mem[addr]
	if !ok {
		return nil, target.NewInvalidAddress(addr, nil)
	}
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	copy(out, b[:n])
	return out, nil
}

func (m *memHandle) CopyStruct(addr uint64, dst any) error {
	switch p := dst.(type) {
	case *uint64:
		raw, err := m.CopyBytes(addr, 8)
		if err != nil {
			return err
		}
		*p = putLE(raw)
		return nil
	case *lineEntry:
		raw, err := m.CopyBytes(addr, lineEntrySize)
		if err != nil {
			return err
		}
		if len(raw) < lineEntrySize {
			return target.NewCopyError(nil)
		}
		p.Position = putLE(raw[0:8])
		p.Line = uint32(putLE(raw[8:12]))
		return nil
	}
	return target.NewCopyError(nil)
}

func (m *memHandle) Maps() ([]target.MapEntry, error)     { return nil, nil }
func (m *memHandle) Threads() ([]target.ThreadRef, error) { return nil, nil }
func (m *memHandle) Lock() (target.Freeze, error)         { return memFreeze{}, nil }
func (m *memHandle) Exe() (string, error)                 { return "/proc/777/exe", nil }

type memFreeze struct{}

func (memFreeze) Release() {}

func putLE(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

func setU64(mem map[uint64][]byte, addr, val uint64) {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(val >> (8 * uint(i)))
	}
	mem[addr] = b
}

func setBytes(mem map[uint64][]byte, addr uint64, b []byte) {
	mem[addr] = append([]byte(nil), b...)
}

// buildLayout mirrors the 3.2-style ractor-based layout in versions.All but
// keeps the offsets small and distinct so test addresses stay readable.
func buildLayout() StackLayout {
	return StackLayout{
		VMRactorOffset:                  0x10,
		RactorRunningECOffset:           0x8,
		ECCFPOffset:                     0x10,
		CFPSize:                         0x30,
		CFPPCOffset:                     0,
		CFPIseqOffset:                   0x10,
		CFPEPOffset:                     0x18,
		IseqBodyOffset:                  0x10,
		IseqBodyLocationOffset:          0x40,
		IseqBodyEncodedOffset:           0,
		IseqLocationPathOffset:          0,
		IseqLocationLabelOffset:         0x10,
		IseqLocationLineTableOffset:     0x60,
		IseqLocationLineTableSizeOffset: 0x68,
		MaxFrames:                       16,
	}
}

func TestGenericReaderGetStackTraceSingleFrame(t *testing.T) {
	mem := map[uint64][]byte{}
	h := &memHandle{mem: mem}
	layout := buildLayout()

	const (
		vmAddr     = 0x1000
		ractorAddr = 0x2000
		ecAddr     = 0x3000
		cfp0       = 0x4000
		iseqAddr   = 0x5000
		bodyAddr   = 0x6000
		labelAddr  = 0x7000
		encoded    = 0x8000
	)

	setU64(mem, vmAddr+layout.VMRactorOffset, ractorAddr)
	setU64(mem, ractorAddr+layout.RactorRunningECOffset, ecAddr)
	setU64(mem, ecAddr+layout.ECCFPOffset, cfp0)

	setU64(mem, cfp0+layout.CFPIseqOffset, iseqAddr)
	setU64(mem, cfp0+layout.CFPPCOffset, encoded+8) // second instruction

	setU64(mem, iseqAddr+layout.IseqBodyOffset, bodyAddr)
	setU64(mem, bodyAddr+layout.IseqBodyLocationOffset+layout.IseqLocationLabelOffset, labelAddr)
	setU64(mem, bodyAddr+layout.IseqBodyEncodedOffset, encoded)

	// label: embedded Ruby string "bar", length 3 packed into flags.
	labelFlags := uint64(3) << defaultRStringLayout.EmbedLenShift
	setU64(mem, labelAddr+defaultRStringLayout.FlagsOffset, labelFlags)
	setBytes(mem, labelAddr+defaultRStringLayout.EmbedAryOffset, []byte("bar"))

	// line table: one entry at position 0 -> line 10, matches any index.
	lineTable := uint64(0x9000)
	setU64(mem, bodyAddr+layout.IseqLocationLineTableOffset, lineTable)
	setU64(mem, bodyAddr+layout.IseqLocationLineTableSizeOffset, 1)
	entryBytes := make([]byte, 16)
	entryBytes[8] = 10 // Line field, little-endian uint32 at offset 8
	setBytes(mem, lineTable, entryBytes)

	// sentinel frame after cfp0: iseq == 0 and ep == 0 ends the walk.
	cfp1 := cfp0 + layout.CFPSize
	setU64(mem, cfp1+layout.CFPIseqOffset, 0)
	setU64(mem, cfp1+layout.CFPEPOffset, 0)

	r := New("test", layout)
	onCPU := true
	trace, err := r.GetStackTrace(0, vmAddr, nil, h, 777, &onCPU)
	if err != nil {
		t.Fatalf("GetStackTrace: %v", err)
	}
	if trace == nil || len(trace.Frames) != 1 {
		t.Fatalf("expected exactly one frame, got %+v", trace)
	}
	f := trace.Frames[0]
	if f.MethodName != "bar" {
		t.Errorf("MethodName = %q, want bar", f.MethodName)
	}
	if f.Kind != FrameRuby {
		t.Errorf("Kind = %v, want FrameRuby", f.Kind)
	}
	if f.Line != 10 {
		t.Errorf("Line = %d, want 10", f.Line)
	}
}

func TestGenericReaderIsMaybeThread(t *testing.T) {
	mem := map[uint64][]byte{}
	h := &memHandle{mem: mem}
	layout := buildLayout()
	layout.ThreadECOffset = 0x8

	const threadAddr = 0x1000
	setU64(mem, threadAddr+layout.ThreadECOffset, 0x2000)
	setU64(mem, 0x2000+layout.ECCFPOffset, 0x3000)

	r := newGenericReader("test", layout)
	if !r.IsMaybeThread(threadAddr, 0, h, nil) {
		t.Error("expected IsMaybeThread to accept a well-formed thread")
	}
	if r.IsMaybeThread(0, 0, h, nil) {
		t.Error("expected IsMaybeThread to reject a nil address")
	}
}
