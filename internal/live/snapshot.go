package live

import (
	"time"

	"github.com/ent0n29/intervue/internal/channel"
	"github.com/ent0n29/intervue/internal/observability"
	"github.com/ent0n29/intervue/internal/persistence"
	"github.com/ent0n29/intervue/internal/protocol"
	"github.com/ent0n29/intervue/internal/turns"
)

// TranscriptLine is one line of the on-screen transcript. It reflects what
// was heard, independent of what persistence managed to save.
type TranscriptLine struct {
	Speaker persistence.Speaker
	Text    string
	At      time.Time
}

// Snapshot is a read-only view of the session for rendering.
type Snapshot struct {
	Channel      channel.State
	UserSpeaking bool
	AISpeaking   bool
	UserCaption  string
	AICaption    string
	Transcript   []TranscriptLine
	Notice       string
	Evaluation   *protocol.Report
	Ending       bool
	Ended        bool
	Pending      turns.PendingState
	InFlight     int
	Stats        turns.Stats
	Latency      observability.StageSnapshot
}

func (s Snapshot) clone() Snapshot {
	s.Transcript = append([]TranscriptLine(nil), s.Transcript...)
	return s
}

func (s *Session) publish() {
	now := time.Now()
	user, ai := s.playback.Captions(now)
	userInFlight, aiInFlight := s.seq.InFlight()
	snap := Snapshot{
		Channel:      s.channel.State(),
		UserSpeaking: s.capture.Recording(),
		AISpeaking:   s.playback.AISpeaking(),
		UserCaption:  user,
		AICaption:    ai,
		Transcript:   s.transcript,
		Notice:       s.notice,
		Evaluation:   s.report,
		Ending:       s.ending,
		Ended:        s.ended,
		Pending:      s.seq.Pending().State,
		InFlight:     userInFlight + aiInFlight,
		Stats:        s.seq.Stats(),
		Latency:      s.latency.Snapshot(),
	}
	s.snapMu.Lock()
	s.snap = snap.clone()
	s.snapMu.Unlock()
	s.notify()
}

func (s *Session) setChannelState(st channel.State) {
	s.snapMu.Lock()
	s.snap.Channel = st
	s.snapMu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
