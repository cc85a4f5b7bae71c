package versionreader

import (
	"fmt"

	"github.com/fencepost/rbprof/target"
)

// rStringLayout captures the handful of RString offsets that are stable
// across the versions rbprof registers. Ruby strings are either embedded
// (characters stored inline in the object slot) or heap-allocated (the slot
// holds a pointer and length); the flags word's NOEMBED bit tells them
// apart.
type rStringLayout struct {
	FlagsOffset    uint64
	NoEmbedBit     uint64 // bit position, not mask
	HeapPtrOffset  uint64
	HeapLenOffset  uint64
	EmbedLenOffset uint64 // embedded strings pack their length into the flags word on modern Rubies
	EmbedLenMask   uint64
	EmbedLenShift  uint
	EmbedAryOffset uint64
	MaxLen         int
}

// defaultRStringLayout matches the layout used by every Ruby version rbprof
// currently registers (2.5 through 3.2); it is split out as its own value
// so a future version with a different RString shape only needs a new
// rStringLayout, not a new string reader.
var defaultRStringLayout = rStringLayout{
	FlagsOffset:    0,
	NoEmbedBit:     13,
	HeapPtrOffset:  16,
	HeapLenOffset:  24,
	EmbedLenMask:   0x1f,
	EmbedLenShift:  15,
	EmbedAryOffset: 24,
	MaxLen:         4096,
}

// readRubyString decodes a Ruby String VALUE at addr into a Go string.
func readRubyString(h target.Handle, addr uint64, l rStringLayout) (string, error) {
	if addr == 0 {
		return "", fmt.Errorf("nil VALUE")
	}
	var flags uint64
	if err := h.CopyStruct(addr+l.FlagsOffset, &flags); err != nil {
		return "", err
	}

	noEmbed := flags&(1<<l.NoEmbedBit) != 0
	if noEmbed {
		var ptr, length uint64
		if err := h.CopyStruct(addr+l.HeapPtrOffset, &ptr); err != nil {
			return "", err
		}
		if err := h.CopyStruct(addr+l.HeapLenOffset, &length); err != nil {
			return "", err
		}
		return readCString(h, ptr, length, l.MaxLen)
	}

	length := (flags >> l.EmbedLenShift) & l.EmbedLenMask
	return readCString(h, addr+l.EmbedAryOffset, length, l.MaxLen)
}

func readCString(h target.Handle, addr, length uint64, maxLen int) (string, error) {
	if length == 0 {
		return "", nil
	}
	n := int(length)
	if n > maxLen {
		n = maxLen
	}
	raw, err := h.CopyBytes(addr, n)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
