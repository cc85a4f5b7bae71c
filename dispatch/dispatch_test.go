package dispatch

import (
	"errors"
	"testing"
)

func TestLookupUnknownVersionIsTerminal(t *testing.T) {
	table := NewTable(nil)
	_, err := table.Lookup("9.9.9")
	if err == nil {
		t.Fatal("expected an error for an unregistered version")
	}
	var uv *UnsupportedVersionError
	if !errors.As(err, &uv) {
		t.Fatalf("got %T, want *UnsupportedVersionError", err)
	}
	if uv.Version != "9.9.9" {
		t.Errorf("Version = %q, want 9.9.9", uv.Version)
	}
}

func TestLookupFindsRegisteredVersion(t *testing.T) {
	table := NewTable([]Registration{
		{Entry: Entry{Version: "3.2.0", SupportsCurrentThreadSlot: false}},
	})
	entry, err := table.Lookup("3.2.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Version != "3.2.0" {
		t.Errorf("Version = %q, want 3.2.0", entry.Version)
	}
}

func TestNewTablePanicsOnDuplicateVersion(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a duplicate registration")
		}
	}()
	NewTable([]Registration{
		{Entry: Entry{Version: "3.2.0"}},
		{Entry: Entry{Version: "3.2.0"}},
	})
}

func TestSupportedVersionsSorted(t *testing.T) {
	table := NewTable([]Registration{
		{Entry: Entry{Version: "3.2.0"}},
		{Entry: Entry{Version: "2.7.0"}},
		{Entry: Entry{Version: "3.0.0"}},
	})
	got := table.SupportedVersions()
	want := []string{"2.7.0", "3.0.0", "3.2.0"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
