// Package addressfinder locates the Ruby version string and the three
// address-map slots (current-thread, VM, global-symbols) in a target
// process without symbols being required, by scanning memory maps and,
// where available, the image's ELF symbol table.
package addressfinder

import (
	"bytes"
	"debug/elf"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fencepost/rbprof/target"
	"github.com/fencepost/rbprof/versionreader"
)

// versionPattern matches a bare dotted-triple Ruby version string.
var versionPattern = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)

const maxVersionStringLen = 15

// Layout carries the handful of version-specific constants Address Finder
// needs to validate scanned pointer candidates when symbols are stripped.
// It is supplied by the Version Reader registry entry for a detected (or
// forced) version; Address Finder itself has no per-version knowledge.
type Layout struct {
	// VMSelfOffset is the byte offset within the Ruby VM struct of a field
	// that, when dereferenced, points back to the struct's own start
	// (used to confirm a scanned candidate is really the VM root).
	VMSelfOffset uint64
	// MainThreadOffset is the byte offset of the VM struct's main_thread
	// (or, on ractor-based VMs, ractor.main_ractor) field, cross-checked
	// through Reader.IsMaybeThread.
	MainThreadOffset uint64
}

// Image identifies the memory-mapped Ruby interpreter image within a
// target's address space.
type Image struct {
	Map  target.MapEntry
	File *elf.File // nil if the backing file could not be opened for symbol lookup
	Bias uint64    // Map.Start - lowest PT_LOAD vaddr, for symbol->runtime address translation
}

// FindImage identifies the map whose backing file matches `ruby` or
// `libruby*`. Returns a classified NotYetReady error when no such map
// exists yet (maps may not be populated right after exec).
func FindImage(pid int, maps []target.MapEntry) (Image, error) {
	for _, m := range maps {
		base := baseName(m.BackingPath)
		if base == "" {
			continue
		}
		if strings.HasPrefix(base, "libruby") || base == "ruby" || strings.Contains(base, "/ruby") {
			img := Image{Map: m}
			if f, err := elf.Open(m.BackingPath); err == nil {
				img.File = f
				img.Bias = computeBias(m, f)
			}
			return img, nil
		}
	}
	return Image{}, notYetReady(pid, "no ruby image loaded yet", nil)
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	i := strings.LastIndexByte(path, '/')
	return path[i+1:]
}

// computeBias returns the runtime load bias for a PIE image: the difference
// between where the OS mapped it and the lowest PT_LOAD segment's vaddr.
func computeBias(m target.MapEntry, f *elf.File) uint64 {
	lowest := ^uint64(0)
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Vaddr < lowest {
			lowest = p.Vaddr
		}
	}
	if lowest == ^uint64(0) {
		return 0
	}
	if m.Start < lowest {
		return 0
	}
	return m.Start - lowest
}

// symbolAddress looks up name in img's ELF symbol table and translates it to
// a runtime address. ok is false if the image has no file, is stripped, or
// lacks the symbol — never an error, since stripped binaries are expected.
func (img Image) symbolAddress(name string) (addr uint64, ok bool) {
	if img.File == nil {
		return 0, false
	}
	syms, err := img.File.Symbols()
	if err != nil {
		// no .symtab (stripped): try the dynamic symbol table; if that is
		// missing too, ok=false and the caller falls back to scanning.
		if dsyms, derr := img.File.DynamicSymbols(); derr == nil {
			syms = dsyms
		} else {
			return 0, false
		}
	}
	for _, s := range syms {
		if s.Name == name && s.Value != 0 {
			return img.Bias + s.Value, true
		}
	}
	return 0, false
}

// FindVersion resolves the dotted-triple Ruby version string, from the
// image's symbol table when present or by scanning its rodata otherwise.
func FindVersion(pid int, h target.Handle, img Image) (string, error) {
	if addr, ok := img.symbolAddress("ruby_version"); ok {
		if v, err := readVersionString(h, addr); err == nil {
			return v, nil
		}
		// symbol present but not yet readable (maps racing bootstrap): retry.
		return "", notYetReady(pid, "ruby_version symbol present but not yet readable", nil)
	}

	// Stripped: scan the image's read-only data for a matching literal.
	v, err := scanForVersionString(h, img.Map)
	if err != nil {
		return "", notYetReady(pid, "ruby version string not found yet", err)
	}
	return v, nil
}

func readVersionString(h target.Handle, addr uint64) (string, error) {
	raw, err := h.CopyBytes(addr, maxVersionStringLen)
	if err != nil {
		return "", err
	}
	return parseVersionBytes(raw)
}

func parseVersionBytes(raw []byte) (string, error) {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	s := string(raw)
	if !versionPattern.MatchString(s) {
		return "", fmt.Errorf("%q is not a dotted-triple version", s)
	}
	return s, nil
}

// scanForVersionString reads the whole read-only region of the Ruby image
// map and looks for a NUL-terminated dotted-triple. This is the fallback
// path for binaries stripped of their symbol table.
func scanForVersionString(h target.Handle, m target.MapEntry) (string, error) {
	if !m.Read {
		return "", fmt.Errorf("ruby image map is not readable")
	}
	size := int(m.End - m.Start)
	const maxScan = 4 << 20 // bound the scan; the version string lives near the start of rodata
	if size > maxScan {
		size = maxScan
	}
	raw, err := h.CopyBytes(m.Start, size)
	if err != nil {
		return "", err
	}
	for _, chunk := range splitNulTerminated(raw) {
		if len(chunk) == 0 || len(chunk) > maxVersionStringLen {
			continue
		}
		if versionPattern.Match(chunk) {
			return string(chunk), nil
		}
	}
	return "", fmt.Errorf("no version-shaped string found in image rodata")
}

func splitNulTerminated(raw []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range raw {
		if b == 0 {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// FindVMSlot resolves the address of the running rb_vm_t, from the image's
// symbol table when present or by scanning writable image data otherwise.
func FindVMSlot(pid int, h target.Handle, img Image, maps []target.MapEntry, layout Layout, reader versionreader.Reader) (uint64, error) {
	if addr, ok := img.symbolAddress("ruby_current_vm_ptr"); ok {
		return addr, nil
	}
	if addr, ok := img.symbolAddress("ruby_current_vm"); ok {
		return addr, nil
	}

	candidates := scanWritableForCandidates(h, img, maps, func(candidate uint64) bool {
		return confirmVMCandidate(h, candidate, layout, reader, img.Map.Start, maps)
	})
	if len(candidates) == 0 {
		return 0, notYetReady(pid, "vm_slot not found yet", nil)
	}
	return pickCandidate(candidates, img.Map), nil
}

func confirmVMCandidate(h target.Handle, candidate uint64, layout Layout, reader versionreader.Reader, vmAddrGuess uint64, maps []target.MapEntry) bool {
	var self uint64
	if err := h.CopyStruct(candidate+layout.VMSelfOffset, &self); err != nil {
		return false
	}
	if self != candidate {
		return false
	}
	if reader == nil {
		return true
	}
	var mainThreadPtr uint64
	if err := h.CopyStruct(candidate+layout.MainThreadOffset, &mainThreadPtr); err != nil {
		return false
	}
	return reader.IsMaybeThread(mainThreadPtr, candidate, h, maps)
}

// FindCurrentThreadSlot resolves the address of the slot holding the
// running rb_thread_t, for Ruby < 3.0.0 only. Callers must not call this
// for versions >= 3.0.0, where the VM slot doubles as the current-thread
// address via the sentinel value 0 instead.
func FindCurrentThreadSlot(pid int, h target.Handle, img Image, maps []target.MapEntry, reader versionreader.Reader) (uint64, error) {
	if addr, ok := img.symbolAddress("ruby_current_thread"); ok {
		return addr, nil
	}
	if reader == nil {
		return 0, notYetReady(pid, "current_thread_slot needs a reader for stripped-binary scanning", nil)
	}

	candidates := scanWritableForCandidates(h, img, maps, func(candidate uint64) bool {
		var threadPtr uint64
		if err := h.CopyStruct(candidate, &threadPtr); err != nil {
			return false
		}
		return reader.IsMaybeThread(threadPtr, 0, h, maps)
	})
	if len(candidates) == 0 {
		return 0, notYetReady(pid, "current_thread_slot not found yet", nil)
	}
	return pickCandidate(candidates, img.Map), nil
}

// FindGlobalSymbolsSlot does a symbol lookup only; absence is non-fatal
// (ok=false).
func FindGlobalSymbolsSlot(img Image) (addr uint64, ok bool) {
	return img.symbolAddress("ruby_global_symbols")
}

// scanWritableForCandidates scans every writable, non-executable map that
// belongs to (or immediately follows, for anonymous .bss) the Ruby image for
// 8-byte-aligned pointer-shaped values satisfying confirm.
func scanWritableForCandidates(h target.Handle, img Image, maps []target.MapEntry, confirm func(uint64) bool) []uint64 {
	var out []uint64
	for _, m := range maps {
		if !m.Write || m.Exec {
			continue
		}
		if !isImageData(m, img) {
			continue
		}
		size := int(m.End - m.Start)
		const maxScan = 1 << 20
		if size > maxScan {
			size = maxScan
		}
		raw, err := h.CopyBytes(m.Start, size)
		if err != nil {
			continue
		}
		for off := 0; off+8 <= len(raw); off += 8 {
			candidate := leUint64(raw[off : off+8])
			if candidate == 0 {
				continue
			}
			if confirm(candidate) {
				out = append(out, candidate)
			}
		}
	}
	return out
}

// isImageData reports whether m is plausibly the Ruby image's .data/.bss:
// same backing path as the image, or anonymous (.bss is often a separate
// anonymous mapping immediately adjacent to the file-backed segments).
func isImageData(m target.MapEntry, img Image) bool {
	if m.BackingPath == img.Map.BackingPath && m.BackingPath != "" {
		return true
	}
	return m.BackingPath == "" && m.Start >= img.Map.Start
}

func leUint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

// pickCandidate applies the tie-breaking rule when a scan turns up more
// than one plausible candidate: prefer one inside the Ruby image's own
// mapping, otherwise the lowest address.
func pickCandidate(candidates []uint64, img target.MapEntry) uint64 {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	for _, c := range candidates {
		if c >= img.Start && c < img.End {
			return c
		}
	}
	return candidates[0]
}
