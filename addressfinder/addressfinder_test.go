package addressfinder

import (
	"testing"

	"github.com/fencepost/rbprof/target"
)

// fakeHandle is a minimal in-memory target.Handle for exercising Address
// Finder's scanning logic without a real process.
type fakeHandle struct {
	mem map[uint64][]byte
}

func (f *fakeHandle) PID() int { return 4242 }

func (f *fakeHandle) CopyBytes(addr uint64, n int) ([]byte, error) {
	b, ok := f.mem[addr]
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

func (f *fakeHandle) CopyStruct(addr uint64, dst any) error {
	p, ok := dst.(*uint64)
	if !ok {
		return target.NewCopyError(nil)
	}
	raw, err := f.CopyBytes(addr, 8)
	if err != nil {
		return err
	}
	*p = leUint64(raw)
	return nil
}

func (f *fakeHandle) Maps() ([]target.MapEntry, error)      { return nil, nil }
func (f *fakeHandle) Threads() ([]target.ThreadRef, error)  { return nil, nil }
func (f *fakeHandle) Lock() (target.Freeze, error)          { return noopFreeze{}, nil }
func (f *fakeHandle) Exe() (string, error)                  { return "/proc/4242/exe", nil }

type noopFreeze struct{}

func (noopFreeze) Release() {}

func TestParseVersionBytes(t *testing.T) {
	cases := map[string]struct {
		ok   bool
		want string
	}{
		"3.2.1\x00garbage": {ok: true, want: "3.2.1"},
		"2.7.0\x00":        {ok: true, want: "2.7.0"},
		"not-a-version\x00": {ok: false},
		"\x00":              {ok: false},
	}
	for raw, c := range cases {
		got, err := parseVersionBytes([]byte(raw))
		if c.ok && err != nil {
			t.Errorf("parseVersionBytes(%q): unexpected error %v", raw, err)
		}
		if !c.ok && err == nil {
			t.Errorf("parseVersionBytes(%q): expected error", raw)
		}
		if c.ok && got != c.want {
			t.Errorf("parseVersionBytes(%q) = %q, want %q", raw, got, c.want)
		}
	}
}

func TestScanForVersionString(t *testing.T) {
	h := &fakeHandle{mem: map[uint64][]byte{
		0x1000: append(append([]byte("garbagepad\x00"), []byte("3.2.4\x00")...), []byte("moretrailinggarbage")...),
	}}
	m := target.MapEntry{Start: 0x1000, End: 0x1000 + 64, Read: true}
	got, err := scanForVersionString(h, m)
	if err != nil {
		t.Fatalf("scanForVersionString: %v", err)
	}
	if got != "3.2.4" {
		t.Errorf("got %q, want 3.2.4", got)
	}
}

func TestScanForVersionStringNotReadable(t *testing.T) {
	h := &fakeHandle{}
	m := target.MapEntry{Start: 0x1000, End: 0x1000 + 64, Read: false}
	if _, err := scanForVersionString(h, m); err == nil {
		t.Fatal("expected error for unreadable map")
	}
}

func TestPickCandidateTieBreak(t *testing.T) {
	img := target.MapEntry{Start: 0x2000, End: 0x3000}

	// Prefer the candidate inside the image range even if not lowest.
	got := pickCandidate([]uint64{0x1000, 0x2500, 0x4000}, img)
	if got != 0x2500 {
		t.Errorf("got 0x%x, want 0x2500", got)
	}

	// No candidate inside range: lowest wins.
	got = pickCandidate([]uint64{0x5000, 0x1000, 0x9000}, img)
	if got != 0x1000 {
		t.Errorf("got 0x%x, want 0x1000", got)
	}
}

func TestFindImageNotYetReady(t *testing.T) {
	maps := []target.MapEntry{
		{BackingPath: "/lib/libc.so.6"},
		{BackingPath: "[heap]"},
	}
	_, err := FindImage(4242, maps)
	var afErr *Error
	if err == nil {
		t.Fatal("expected NotYetReady error")
	}
	if ok := asErr(err, &afErr); !ok || afErr.Kind != KindNotYetReady {
		t.Fatalf("expected KindNotYetReady, got %v", err)
	}
}

func TestFindImageMatchesLibruby(t *testing.T) {
	maps := []target.MapEntry{
		{BackingPath: "/lib/libc.so.6"},
		{BackingPath: "/usr/lib/x86_64-linux-gnu/libruby-3.2.so.3.2", Start: 0x1000, End: 0x2000, Read: true},
	}
	img, err := FindImage(4242, maps)
	if err != nil {
		t.Fatalf("FindImage: %v", err)
	}
	if img.Map.Start != 0x1000 {
		t.Errorf("matched wrong map: %+v", img.Map)
	}
}

func asErr(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}
