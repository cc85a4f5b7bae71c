// Package dispatch implements the Version Dispatcher: a pure mapping from a
// dotted Ruby version string to the pair of Version Reader callables bound
// to that version's memory layout, plus the Address Finder's scanning
// Layout for that version. No fuzzy matching — a miss is a terminal
// UnsupportedVersion error.
package dispatch

import (
	"fmt"
	"sort"

	"github.com/fencepost/rbprof/addressfinder"
	"github.com/fencepost/rbprof/versionreader"
)

// Entry is what the dispatcher hands back for a supported version: the
// Reader itself plus the scanning constants Address Finder needs when
// symbols are stripped.
type Entry struct {
	Version string
	Reader  versionreader.Reader
	Layout  addressfinder.Layout
	// SupportsCurrentThreadSlot is false for version >= 3.0.0, where the
	// sentinel value 0 applies and the Reader resolves the current thread
	// dynamically via the VM instead.
	SupportsCurrentThreadSlot bool
}

// UnsupportedVersionError is returned when a version has no registered
// reader. It carries the detected version and a suggestion for overriding
// it.
type UnsupportedVersionError struct {
	Version string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported ruby version %q; pass force_version to override "+
		"if you believe this build is layout-compatible with a supported version", e.Version)
}

// Table is the build-time-generated registry of supported versions: the
// single authoritative set, keyed by exact dotted string, constructed once
// from a literal []Registration list rather than a hand-written switch.
type Table struct {
	entries map[string]Entry
}

// Registration is one build-time table row.
type Registration struct {
	Entry
}

// NewTable builds a Table from a literal registration list. Duplicate
// versions are a programming error and panic at construction time, not at
// lookup time.
func NewTable(regs []Registration) *Table {
	t := &Table{entries: make(map[string]Entry, len(regs))}
	for _, r := range regs {
		if _, dup := t.entries[r.Version]; dup {
			panic(fmt.Sprintf("dispatch: duplicate registration for version %q", r.Version))
		}
		t.entries[r.Version] = r.Entry
	}
	return t
}

// Lookup resolves a dotted version string to its Entry. Exact match only.
func (t *Table) Lookup(version string) (Entry, error) {
	e, ok := t.entries[version]
	if !ok {
		return Entry{}, &UnsupportedVersionError{Version: version}
	}
	return e, nil
}

// SupportedVersions returns every registered version string, sorted, mainly
// for diagnostics (the CLI `version` command, error messages).
func (t *Table) SupportedVersions() []string {
	out := make([]string, 0, len(t.entries))
	for v := range t.entries {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
