// Package tui implements a live, top-like terminal viewer for rbprof
// samples: a tview/tcell panel-and-command-input layout showing streaming
// stack traces as they arrive.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/fencepost/rbprof/profiler"
	"github.com/fencepost/rbprof/versionreader"
)

// TUI is the live sampling viewer: one panel for the most recent trace, one
// for Trace Getter state, one for scrollback of recent frame-zero method
// names, and a command input for run-time controls.
type TUI struct {
	Getter *profiler.Getter
	Rate   time.Duration

	App   *tview.Application
	Pages *tview.Pages

	MainLayout   *tview.Flex
	FrameView    *tview.TextView
	StatsView    *tview.TextView
	HistoryView  *tview.TextView
	CommandInput *tview.InputField

	paused      bool
	sampleCount int
	history     []string
}

// New builds a TUI bound to an already-bootstrapped Getter.
func New(getter *profiler.Getter, rate time.Duration) *TUI {
	return NewWithScreen(getter, rate, nil)
}

// NewWithScreen builds a TUI against an explicit tcell.Screen, letting tests
// drive it with tcell.NewSimulationScreen instead of a real terminal. A nil
// screen uses tview's default (the real terminal).
func NewWithScreen(getter *profiler.Getter, rate time.Duration, screen tcell.Screen) *TUI {
	t := &TUI{
		Getter: getter,
		Rate:   rate,
		App:    tview.NewApplication(),
	}
	if screen != nil {
		t.App.SetScreen(screen)
	}
	t.initializeViews()
	t.buildLayout()
	t.setupKeyBindings()
	return t
}

func (t *TUI) initializeViews() {
	t.FrameView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.FrameView.SetBorder(true).SetTitle(" Stack Trace ")

	t.StatsView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	t.StatsView.SetBorder(true).SetTitle(" Trace Getter ")

	t.HistoryView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	t.HistoryView.SetBorder(true).SetTitle(" Recent Frame-0 Methods ")

	t.CommandInput = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	t.CommandInput.SetBorder(true).SetTitle(" Command (p: pause, q: quit) ")
	t.CommandInput.SetDoneFunc(t.handleCommand)
}

func (t *TUI) buildLayout() {
	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.StatsView, 6, 0, false).
		AddItem(t.HistoryView, 0, 1, false)

	content := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(t.FrameView, 0, 2, false).
		AddItem(right, 0, 1, false)

	t.MainLayout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(content, 0, 4, false).
		AddItem(t.CommandInput, 3, 0, true)

	t.Pages = tview.NewPages().AddPage("main", t.MainLayout, true, true)
}

func (t *TUI) setupKeyBindings() {
	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'p':
			t.paused = !t.paused
			return nil
		case 'q':
			t.App.Stop()
			return nil
		}
		if event.Key() == tcell.KeyCtrlC {
			t.App.Stop()
			return nil
		}
		return event
	})
}

func (t *TUI) handleCommand(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}
	cmd := strings.TrimSpace(t.CommandInput.GetText())
	t.CommandInput.SetText("")
	switch cmd {
	case "pause":
		t.paused = true
	case "resume":
		t.paused = false
	case "quit", "exit":
		t.App.Stop()
	}
}

// Run starts the sampling loop and the tview event loop; it blocks until
// the user quits. Once the Getter reports that the process ended, sampling
// stops and the error stays on screen until then.
func (t *TUI) Run() error {
	go t.sampleLoop()
	return t.App.SetRoot(t.Pages, true).SetFocus(t.CommandInput).Run()
}

func (t *TUI) sampleLoop() {
	ticker := time.NewTicker(t.Rate)
	defer ticker.Stop()

	for range ticker.C {
		if t.paused {
			continue
		}
		trace, err := t.Getter.Sample()
		t.App.QueueUpdateDraw(func() {
			t.onSample(trace, err)
		})
		if err != nil {
			if _, ok := err.(*profiler.ProcessEndedError); ok {
				return
			}
		}
	}
}

func (t *TUI) onSample(trace *versionreader.StackTrace, err error) {
	if err != nil {
		t.FrameView.SetText(fmt.Sprintf("[red]error:[white] %v", err))
		t.updateStats()
		return
	}
	if trace == nil {
		t.updateStats()
		return
	}

	t.sampleCount++
	t.updateFrameView(trace)
	t.updateHistory(trace)
	t.updateStats()
}

func (t *TUI) updateFrameView(trace *versionreader.StackTrace) {
	var lines []string
	n := len(trace.Frames)
	for i := n - 1; i >= 0; i-- {
		f := trace.Frames[i]
		marker := "  "
		if i == 0 {
			marker = "->"
		}
		lines = append(lines, fmt.Sprintf("[yellow]%s[white] %s (%s:%d)", marker, f.MethodName, f.Path, f.Line))
	}
	t.FrameView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) updateHistory(trace *versionreader.StackTrace) {
	if len(trace.Frames) == 0 {
		return
	}
	t.history = append(t.history, trace.Frames[0].MethodName)
	if len(t.history) > 200 {
		t.history = t.history[len(t.history)-200:]
	}
	t.HistoryView.SetText(strings.Join(t.history, "\n"))
	t.HistoryView.ScrollToEnd()
}

func (t *TUI) updateStats() {
	state := t.Getter.State().String()
	lines := []string{
		fmt.Sprintf("State: %s", state),
		fmt.Sprintf("Samples: %d", t.sampleCount),
		fmt.Sprintf("Reinits: %d", t.Getter.ReinitCount()),
		fmt.Sprintf("Paused: %v", t.paused),
	}
	t.StatsView.SetText(strings.Join(lines, "\n"))
}

// Stop stops the TUI application.
func (t *TUI) Stop() {
	t.App.Stop()
}
