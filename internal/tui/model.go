package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ent0n29/intervue/internal/channel"
	"github.com/ent0n29/intervue/internal/live"
	"github.com/ent0n29/intervue/internal/observability"
	"github.com/ent0n29/intervue/internal/persistence"
	"github.com/ent0n29/intervue/internal/protocol"
)

// Engine is the part of a live session the TUI drives.
type Engine interface {
	Open(ctx context.Context) error
	ToggleMic()
	PausePlayback()
	EndCall(ctx context.Context) (live.EndResult, error)
	Close() error
	Updates() <-chan struct{}
	Done() <-chan struct{}
	Snapshot() live.Snapshot
}

// Info is the static header shown above the call.
type Info struct {
	Title   string
	Role    string
	Mic     string
	Speaker string
}

// Model is the bubbletea model for one interview call.
type Model struct {
	engine     Engine
	info       Info
	endTimeout time.Duration

	snap      live.Snapshot
	opened    bool
	ending    bool
	ended     bool
	closing   bool
	result    *live.EndResult
	startedAt time.Time
	now       time.Time

	errorMessage string

	scroll int
	follow bool

	width  int
	height int
}

// New creates a model around an unopened engine.
func New(engine Engine, info Info) Model {
	return Model{
		engine:     engine,
		info:       info,
		endTimeout: 2 * time.Minute,
		follow:     true,
		snap:       live.Snapshot{Channel: channel.StateDisconnected},
	}
}

// WithEndTimeout bounds how long an end-call request may wait for the
// evaluation and pending saves.
func (m Model) WithEndTimeout(d time.Duration) Model {
	if d > 0 {
		m.endTimeout = d
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(openCmd(m.engine), tickCmd())
}

func openCmd(engine Engine) tea.Cmd {
	return func() tea.Msg {
		return OpenedMsg{Err: engine.Open(context.Background())}
	}
}

func waitForUpdateCmd(engine Engine) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-engine.Updates():
			return SnapshotMsg{Snapshot: engine.Snapshot()}
		case <-engine.Done():
			return SessionDoneMsg{Snapshot: engine.Snapshot()}
		}
	}
}

func endCallCmd(engine Engine, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := engine.EndCall(ctx)
		return EndedMsg{Result: res, Err: err}
	}
}

func closeCmd(engine Engine) tea.Cmd {
	return func() tea.Msg {
		_ = engine.Close()
		return ClosedMsg{}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.clampScroll()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case OpenedMsg:
		if msg.Err != nil {
			m.errorMessage = fmt.Sprintf("connect: %v", msg.Err)
			m.ended = true
			return m, nil
		}
		m.opened = true
		m.startedAt = time.Now()
		return m, waitForUpdateCmd(m.engine)

	case SnapshotMsg:
		m.applySnapshot(msg.Snapshot)
		return m, waitForUpdateCmd(m.engine)

	case SessionDoneMsg:
		m.applySnapshot(msg.Snapshot)
		m.ended = true
		if m.closing {
			return m, tea.Quit
		}
		return m, nil

	case EndedMsg:
		m.ending = false
		m.ended = true
		if msg.Err != nil {
			m.errorMessage = fmt.Sprintf("end call: %v", msg.Err)
			return m, nil
		}
		res := msg.Result
		m.result = &res
		if res.CompleteErr != nil {
			m.errorMessage = fmt.Sprintf("could not mark interview complete: %v", res.CompleteErr)
		}
		return m, nil

	case ClosedMsg:
		return m, tea.Quit

	case TickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()
	}

	return m, nil
}

func (m *Model) applySnapshot(s live.Snapshot) {
	m.snap = s
	if s.Ending {
		m.ending = !s.Ended
	}
	if s.Ended {
		m.ended = true
	}
	if m.follow {
		m.scroll = m.maxScroll()
	}
	m.clampScroll()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if m.closing {
			return m, tea.Quit
		}
		m.closing = true
		return m, closeCmd(m.engine)

	case KeySpace:
		if !m.callActive() {
			return m, nil
		}
		m.engine.ToggleMic()
		return m, nil

	case KeyPause, KeyPauseUp:
		if !m.opened {
			return m, nil
		}
		m.engine.PausePlayback()
		return m, nil

	case KeyEnd, KeyEndUpper:
		if !m.callActive() {
			return m, nil
		}
		m.ending = true
		return m, endCallCmd(m.engine, m.endTimeout)

	case KeyUp, KeyK:
		if m.scroll > 0 {
			m.scroll--
			m.follow = false
		}
		return m, nil

	case KeyDown, KeyJ:
		if m.scroll < m.maxScroll() {
			m.scroll++
		}
		m.follow = m.scroll >= m.maxScroll()
		return m, nil
	}

	return m, nil
}

func (m Model) callActive() bool {
	return m.opened && !m.ending && !m.ended && !m.closing
}

func (m Model) transcriptLines() []string {
	width := m.width - 6
	if width < 20 {
		width = 20
	}
	var lines []string
	for _, line := range m.snap.Transcript {
		label := AILabelStyle.Render("AI  ")
		if line.Speaker == persistence.SpeakerUser {
			label = UserLabelStyle.Render("You ")
		}
		for i, w := range wrapText(line.Text, width) {
			prefix := "    "
			if i == 0 {
				prefix = label
			}
			lines = append(lines, prefix+" "+TextStyle.Render(w))
		}
	}
	return lines
}

// transcriptHeight is the number of rows left for the transcript after
// the fixed sections.
func (m Model) transcriptHeight() int {
	h := m.height - 9
	if m.errorMessage != "" || m.snap.Notice != "" {
		h--
	}
	if r := m.report(); r != nil {
		h -= 2 + len(r.Strengths) + len(r.AreasForImprovement)
	}
	if h < 3 {
		h = 3
	}
	return h
}

func (m Model) maxScroll() int {
	n := len(m.transcriptLines()) - m.transcriptHeight()
	if n < 0 {
		return 0
	}
	return n
}

func (m *Model) clampScroll() {
	if limit := m.maxScroll(); m.scroll > limit {
		m.scroll = limit
	}
	if m.scroll < 0 {
		m.scroll = 0
	}
}

func (m Model) report() *protocol.Report {
	if m.result != nil && m.result.Evaluation != nil {
		return m.result.Evaluation
	}
	return m.snap.Evaluation
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	divider := DividerStyle.Render(strings.Repeat("─", m.width))
	sections := []string{
		m.renderHeader(),
		m.renderStatusBar(),
		divider,
		m.renderCaptions(),
		divider,
		m.renderTranscript(),
	}
	if ev := m.renderEvaluation(); ev != "" {
		sections = append(sections, divider, ev)
	}
	sections = append(sections, divider)
	if bar := m.renderNoticeBar(); bar != "" {
		sections = append(sections, bar)
	}
	sections = append(sections, m.renderLatency(), m.renderFooter())
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := TitleStyle.Render("INTERVUE")
	if m.info.Role != "" {
		title += DimStyle.Render(" · ") + TitleStyle.Render(m.info.Role)
	}
	if m.info.Title != "" && m.info.Title != m.info.Role {
		title += DimStyle.Render(" · " + m.info.Title)
	}
	var devices []string
	if m.info.Mic != "" {
		devices = append(devices, "mic "+m.info.Mic)
	}
	if m.info.Speaker != "" {
		devices = append(devices, "out "+m.info.Speaker)
	}
	if len(devices) > 0 {
		title += DimStyle.Render("  [" + strings.Join(devices, ", ") + "]")
	}
	return title
}

func (m Model) renderStatusBar() string {
	var dot string
	if m.snap.UserSpeaking {
		dot = RecordingDotStyle.Render("● REC")
	} else {
		dot = IdleDotStyle.Render("○ IDLE")
	}

	var speaking string
	if m.snap.AISpeaking {
		speaking = "  " + SpeakingStyle.Render("♪ AI speaking")
	}

	state := string(m.snap.Channel)
	chStyle := ChannelDownStyle
	if m.snap.Channel == channel.StateOpen {
		chStyle = ChannelOpenStyle
	}
	status := "  " + chStyle.Render(state)

	switch {
	case m.ended:
		status += "  " + DimStyle.Render("call ended")
	case m.ending:
		status += "  " + NoticeStyle.Render("ending call…")
	}
	if m.snap.InFlight > 0 {
		status += "  " + DimStyle.Render(fmt.Sprintf("saving %d", m.snap.InFlight))
	}
	if !m.startedAt.IsZero() && !m.now.IsZero() && m.now.After(m.startedAt) {
		status += "  " + DimStyle.Render(formatElapsed(m.now.Sub(m.startedAt)))
	}
	return dot + speaking + status
}

func (m Model) renderCaptions() string {
	user := DimStyle.Render("…")
	if m.snap.UserCaption != "" {
		user = CaptionStyle.Render(truncateToWidth(m.snap.UserCaption, m.width-6))
	}
	ai := DimStyle.Render("…")
	if m.snap.AICaption != "" {
		ai = CaptionStyle.Render(truncateToWidth(m.snap.AICaption, m.width-6))
	}
	return UserLabelStyle.Render("You ") + " " + user + "\n" + AILabelStyle.Render("AI  ") + " " + ai
}

func (m Model) renderTranscript() string {
	lines := m.transcriptLines()
	height := m.transcriptHeight()
	if len(lines) == 0 {
		hint := "Press Space to start answering."
		if !m.opened {
			hint = "Connecting to the interviewer…"
		}
		lines = []string{DimStyle.Render(hint)}
	}
	start := m.scroll
	if start > len(lines) {
		start = len(lines)
	}
	end := start + height
	if end > len(lines) {
		end = len(lines)
	}
	visible := lines[start:end]
	for len(visible) < height {
		visible = append(visible, "")
	}
	return strings.Join(visible, "\n")
}

func (m Model) renderEvaluation() string {
	r := m.report()
	if r == nil {
		return ""
	}
	score := "n/a"
	if r.OverallScore != nil {
		score = fmt.Sprintf("%.0f/100", *r.OverallScore)
	}
	out := []string{ScoreStyle.Render("Score "+score) + "  " + TextStyle.Render(truncateToWidth(r.BriefSummary, m.width-14))}
	for _, s := range r.Strengths {
		out = append(out, ChannelOpenStyle.Render("  + ")+truncateToWidth(s, m.width-4))
	}
	for _, s := range r.AreasForImprovement {
		out = append(out, NoticeStyle.Render("  - ")+truncateToWidth(s, m.width-4))
	}
	return strings.Join(out, "\n")
}

func (m Model) renderNoticeBar() string {
	if m.errorMessage != "" {
		return ErrorStyle.Render("Error: ") + ErrorTextStyle.Render(m.errorMessage)
	}
	if m.snap.Notice != "" {
		return NoticeStyle.Render(m.snap.Notice)
	}
	return ""
}

func (m Model) renderLatency() string {
	st, ok := m.snap.Latency.Stage(observability.StageSegmentToSpeech)
	if !ok {
		return DimStyle.Render("latency: no turns yet")
	}
	line := fmt.Sprintf("latency p50 %dms p95 %dms (%d turns)", st.P50.Milliseconds(), st.P95.Milliseconds(), st.Samples)
	if st.OverTarget() {
		line += " over budget"
	}
	if s := m.snap.Stats; s.UploadErrors > 0 || s.SaveErrors > 0 {
		line += fmt.Sprintf("  upload errors %d  save errors %d", s.UploadErrors, s.SaveErrors)
	}
	return DimStyle.Render(line)
}

func (m Model) renderFooter() string {
	var parts []string
	if m.callActive() {
		if m.snap.UserSpeaking {
			parts = append(parts, FooterKeyStyle.Render("Space")+FooterDescStyle.Render(" Send"))
		} else {
			parts = append(parts, FooterKeyStyle.Render("Space")+FooterDescStyle.Render(" Answer"))
		}
		parts = append(parts, FooterKeyStyle.Render("p")+FooterDescStyle.Render(" Pause AI"))
		parts = append(parts, FooterKeyStyle.Render("e")+FooterDescStyle.Render(" End call"))
	}
	parts = append(parts, FooterKeyStyle.Render("↑↓")+FooterDescStyle.Render(" Scroll"))
	parts = append(parts, FooterKeyStyle.Render("q")+FooterDescStyle.Render(" Quit"))
	return strings.Join(parts, "  ")
}

func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func truncateToWidth(s string, width int) string {
	if width <= 1 {
		return s
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if len(current)+1+len(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
