package tui

import (
	"fmt"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/fencepost/rbprof/versionreader"
)

func newTestTUI(t *testing.T) (*TUI, tcell.SimulationScreen) {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("failed to init simulation screen: %v", err)
	}
	tui := NewWithScreen(nil, time.Millisecond, screen)
	return tui, screen
}

func TestNewWithScreenInitializesViews(t *testing.T) {
	tui, screen := newTestTUI(t)
	defer screen.Fini()

	if tui.App == nil || tui.Pages == nil {
		t.Fatal("TUI app/pages not initialized")
	}
	if tui.FrameView == nil || tui.StatsView == nil || tui.HistoryView == nil || tui.CommandInput == nil {
		t.Fatal("TUI views not initialized")
	}
}

func TestUpdateFrameViewOrdersOutermostFirst(t *testing.T) {
	tui, screen := newTestTUI(t)
	defer screen.Fini()

	trace := &versionreader.StackTrace{
		Frames: []versionreader.Frame{
			{MethodName: "inner", Path: "a.rb", Line: 2},
			{MethodName: "outer", Path: "a.rb", Line: 1},
		},
	}
	tui.updateFrameView(trace)

	text := tui.FrameView.GetText(true)
	outerIdx := indexOf(text, "outer")
	innerIdx := indexOf(text, "inner")
	if outerIdx < 0 || innerIdx < 0 || outerIdx > innerIdx {
		t.Errorf("expected outer before inner in rendered text, got %q", text)
	}
}

func TestUpdateHistoryTrimsTo200(t *testing.T) {
	tui, screen := newTestTUI(t)
	defer screen.Fini()

	for i := 0; i < 250; i++ {
		tui.updateHistory(&versionreader.StackTrace{
			Frames: []versionreader.Frame{{MethodName: fmt.Sprintf("m%d", i)}},
		})
	}
	if len(tui.history) != 200 {
		t.Errorf("history length = %d, want 200", len(tui.history))
	}
	if tui.history[len(tui.history)-1] != "m249" {
		t.Errorf("last history entry = %q, want m249", tui.history[len(tui.history)-1])
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
