package cmd

import (
	"bytes"
	"testing"

	"github.com/fencepost/rbprof/config"
)

func init() {
	// RunE handlers read the package-level cfg populated by
	// PersistentPreRunE; tests invoke RunE directly, bypassing Execute(), so
	// seed it once with defaults.
	cfg = config.DefaultConfig()
}

func TestSnapshotRejectsNonNumericPID(t *testing.T) {
	var out bytes.Buffer
	snapshotCmd.SetOut(&out)
	err := snapshotCmd.RunE(snapshotCmd, []string{"not-a-pid"})
	if err == nil {
		t.Fatal("expected an error for a non-numeric pid")
	}
}

func TestAttachRejectsNonNumericPID(t *testing.T) {
	var out bytes.Buffer
	attachCmd.SetOut(&out)
	err := attachCmd.RunE(attachCmd, []string{"not-a-pid"})
	if err == nil {
		t.Fatal("expected an error for a non-numeric pid")
	}
}

func TestVersionCommandListsSupportedVersions(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("expected version output")
	}
}
