package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ent0n29/intervue/internal/channel"
	"github.com/ent0n29/intervue/internal/live"
	"github.com/ent0n29/intervue/internal/persistence"
	"github.com/ent0n29/intervue/internal/protocol"
)

type fakeEngine struct {
	mu       sync.Mutex
	openErr  error
	toggles  int
	pauses   int
	ends     int
	closed   bool
	snap     live.Snapshot
	endRes   live.EndResult
	updates  chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (f *fakeEngine) Open(context.Context) error { return f.openErr }

func (f *fakeEngine) ToggleMic() {
	f.mu.Lock()
	f.toggles++
	f.mu.Unlock()
}

func (f *fakeEngine) PausePlayback() {
	f.mu.Lock()
	f.pauses++
	f.mu.Unlock()
}

func (f *fakeEngine) EndCall(context.Context) (live.EndResult, error) {
	f.mu.Lock()
	f.ends++
	f.mu.Unlock()
	return f.endRes, nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeEngine) Updates() <-chan struct{} { return f.updates }
func (f *fakeEngine) Done() <-chan struct{}    { return f.done }

func (f *fakeEngine) Snapshot() live.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func openModel(t *testing.T, f *fakeEngine) Model {
	t.Helper()
	m := New(f, Info{Title: "Backend", Role: "Go Engineer", Mic: "tone", Speaker: "mute"})
	m.width = 100
	m.height = 30
	updated, cmd := m.Update(OpenedMsg{})
	if cmd == nil {
		t.Fatal("OpenedMsg should start waiting for updates")
	}
	return updated.(Model)
}

func key(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNewModel(t *testing.T) {
	m := New(newFakeEngine(), Info{})
	if m.opened {
		t.Error("new model should not be opened")
	}
	if !m.follow {
		t.Error("new model should follow the transcript")
	}
	if m.View() != "Initializing..." {
		t.Errorf("View() before size = %q", m.View())
	}
}

func TestOpenErrorEndsCall(t *testing.T) {
	m := New(newFakeEngine(), Info{})
	m.width = 80
	m.height = 24
	updated, _ := m.Update(OpenedMsg{Err: errors.New("dial refused")})
	model := updated.(Model)
	if !model.ended {
		t.Error("should be ended after open error")
	}
	if !strings.Contains(model.View(), "dial refused") {
		t.Error("View() should show the connect error")
	}
}

func TestSpaceTogglesMic(t *testing.T) {
	f := newFakeEngine()
	m := openModel(t, f)
	updated, _ := m.Update(key(" "))
	_ = updated.(Model)
	if f.toggles != 1 {
		t.Fatalf("toggles = %d, want 1", f.toggles)
	}
}

func TestSpaceIgnoredBeforeOpen(t *testing.T) {
	f := newFakeEngine()
	m := New(f, Info{})
	m.Update(key(" "))
	if f.toggles != 0 {
		t.Fatalf("toggles = %d, want 0", f.toggles)
	}
}

func TestPauseKey(t *testing.T) {
	f := newFakeEngine()
	m := openModel(t, f)
	m.Update(key("p"))
	if f.pauses != 1 {
		t.Fatalf("pauses = %d, want 1", f.pauses)
	}
}

func TestEndCallFlow(t *testing.T) {
	f := newFakeEngine()
	score := 72.0
	f.endRes = live.EndResult{Evaluation: &protocol.Report{OverallScore: &score, BriefSummary: "Solid answers."}}
	m := openModel(t, f)

	updated, cmd := m.Update(key("e"))
	model := updated.(Model)
	if !model.ending {
		t.Fatal("should be ending after e")
	}
	if cmd == nil {
		t.Fatal("e should return an end-call command")
	}
	msg := cmd()
	ended, ok := msg.(EndedMsg)
	if !ok {
		t.Fatalf("end-call command returned %T, want EndedMsg", msg)
	}

	// A second e while ending does nothing.
	if _, again := model.Update(key("e")); again != nil {
		t.Fatal("e while ending should be ignored")
	}

	updated, _ = model.Update(ended)
	model = updated.(Model)
	if !model.ended || model.ending {
		t.Fatalf("ended = %v ending = %v, want true false", model.ended, model.ending)
	}
	view := model.View()
	if !strings.Contains(view, "Score 72/100") {
		t.Errorf("View() missing score:\n%s", view)
	}
	if !strings.Contains(view, "Solid answers.") {
		t.Errorf("View() missing summary:\n%s", view)
	}
	if f.ends != 1 {
		t.Fatalf("ends = %d, want 1", f.ends)
	}
}

func TestEndCallCompleteErrorShown(t *testing.T) {
	f := newFakeEngine()
	m := openModel(t, f)
	updated, _ := m.Update(EndedMsg{Result: live.EndResult{CompleteErr: errors.New("503")}})
	model := updated.(Model)
	if !strings.Contains(model.View(), "could not mark interview complete") {
		t.Error("View() should report the completion failure")
	}
}

func TestSnapshotRendersTranscriptAndCaptions(t *testing.T) {
	f := newFakeEngine()
	m := openModel(t, f)
	snap := live.Snapshot{
		Channel:      channel.StateOpen,
		UserSpeaking: true,
		AISpeaking:   true,
		AICaption:    "Tell me about yourself.",
		Transcript: []live.TranscriptLine{
			{Speaker: persistence.SpeakerAI, Text: "Hello there."},
			{Speaker: persistence.SpeakerUser, Text: "Hi, I build services in Go."},
		},
		Notice: "Could not save ai turn",
	}
	updated, cmd := m.Update(SnapshotMsg{Snapshot: snap})
	model := updated.(Model)
	if cmd == nil {
		t.Fatal("SnapshotMsg should keep waiting for updates")
	}
	view := model.View()
	for _, want := range []string{"● REC", "AI speaking", "open", "Tell me about yourself.", "Hello there.", "I build services in Go.", "Could not save ai turn", "Go Engineer"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}
}

func TestSessionDoneMarksEnded(t *testing.T) {
	f := newFakeEngine()
	m := openModel(t, f)
	updated, cmd := m.Update(SessionDoneMsg{Snapshot: live.Snapshot{Channel: channel.StateClosed}})
	model := updated.(Model)
	if !model.ended {
		t.Fatal("should be ended after SessionDoneMsg")
	}
	if cmd != nil {
		t.Fatal("SessionDoneMsg without quit should not schedule work")
	}
	if model.callActive() {
		t.Fatal("call should not be active after session done")
	}
}

func TestQuitClosesEngine(t *testing.T) {
	f := newFakeEngine()
	m := openModel(t, f)
	updated, cmd := m.Update(key("q"))
	model := updated.(Model)
	if !model.closing {
		t.Fatal("should be closing after q")
	}
	if cmd == nil {
		t.Fatal("q should return a close command")
	}
	if _, ok := cmd().(ClosedMsg); !ok {
		t.Fatal("close command should return ClosedMsg")
	}
	if !f.closed {
		t.Fatal("engine should be closed")
	}
	if _, cmd := model.Update(ClosedMsg{}); cmd == nil {
		t.Fatal("ClosedMsg should quit")
	}
}

func TestWaitForUpdateReturnsSnapshot(t *testing.T) {
	f := newFakeEngine()
	f.snap = live.Snapshot{Channel: channel.StateOpen, AICaption: "hi"}
	f.updates <- struct{}{}
	msg := waitForUpdateCmd(f)()
	sm, ok := msg.(SnapshotMsg)
	if !ok {
		t.Fatalf("waitForUpdateCmd() = %T, want SnapshotMsg", msg)
	}
	if sm.Snapshot.AICaption != "hi" {
		t.Fatalf("AICaption = %q, want hi", sm.Snapshot.AICaption)
	}

	_ = f.Close()
	if _, ok := waitForUpdateCmd(f)().(SessionDoneMsg); !ok {
		t.Fatal("waitForUpdateCmd() after close should return SessionDoneMsg")
	}
}

func TestScrollStopsFollowing(t *testing.T) {
	f := newFakeEngine()
	m := openModel(t, f)
	m.height = 14
	var lines []live.TranscriptLine
	for i := 0; i < 20; i++ {
		lines = append(lines, live.TranscriptLine{Speaker: persistence.SpeakerUser, Text: "answer"})
	}
	updated, _ := m.Update(SnapshotMsg{Snapshot: live.Snapshot{Transcript: lines}})
	model := updated.(Model)
	bottom := model.scroll
	if bottom == 0 {
		t.Fatal("scroll should follow to the bottom")
	}
	updated, _ = model.Update(key("k"))
	model = updated.(Model)
	if model.follow || model.scroll != bottom-1 {
		t.Fatalf("follow = %v scroll = %d, want false %d", model.follow, model.scroll, bottom-1)
	}
	updated, _ = model.Update(key("j"))
	model = updated.(Model)
	if !model.follow {
		t.Fatal("scrolling back to the bottom should resume following")
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("one two three four", 9)
	want := []string{"one two", "three", "four"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("wrapText() = %q, want %q", got, want)
	}
}

func TestFormatElapsed(t *testing.T) {
	if got := formatElapsed(83 * time.Second); got != "01:23" {
		t.Fatalf("formatElapsed() = %q, want 01:23", got)
	}
}
