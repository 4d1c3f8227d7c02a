package turns

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ent0n29/intervue/internal/observability"
	"github.com/ent0n29/intervue/internal/persistence"
)

// PendingState tags the single assistant turn awaiting its speech frame.
type PendingState int

const (
	PendingNone PendingState = iota
	PendingOpen
	PendingResolved
)

func (s PendingState) String() string {
	switch s {
	case PendingOpen:
		return "pending"
	case PendingResolved:
		return "resolved"
	default:
		return "none"
	}
}

// PendingTurn is the reply text held until its audio arrives.
type PendingTurn struct {
	State    PendingState
	Text     string
	OpenedAt time.Time
}

// Outcome reports one finished persistence job.
type Outcome struct {
	Turn      persistence.Turn
	UploadErr error
	SaveErr   error
}

type Config struct {
	InterviewID    string
	Gateway        persistence.Gateway
	PersistTimeout time.Duration
	Logger         *slog.Logger
	// OnPersisted runs on a lane goroutine after each job.
	OnPersisted func(Outcome)
}

// Stats counts sequencing anomalies.
type Stats struct {
	UserTurns    int
	AITurns      int
	Discarded    int
	Unmatched    int
	UploadErrors int64
	SaveErrors   int64
}

type job struct {
	speaker     persistence.Speaker
	text        string
	audio       []byte
	contentType string
	at          time.Time
	// after gates the save on an earlier job's save, keeping a reply behind
	// the utterance it answers.
	after <-chan struct{}
	saved chan struct{}
}

// Sequencer pairs recognized utterances with the interviewer's spoken reply
// and hands them to per-speaker persistence lanes. Its methods are called from
// the session loop only; the lanes run on their own goroutines.
type Sequencer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	user   *lane
	ai     *lane

	lastSegment     []byte
	lastSegmentType string
	lastUserSaved   chan struct{}
	pending         PendingTurn
	stats           Stats
	uploadErrors    atomic.Int64
	saveErrors      atomic.Int64
}

func NewSequencer(cfg Config) *Sequencer {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sequencer{
		cfg:    cfg,
		logger: observability.OrDiscard(cfg.Logger),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	s.user = newLane(s.persist)
	s.ai = newLane(s.persist)
	return s
}

// SegmentClosed records the bytes of the segment just sent. Only the most
// recent segment is kept; earlier unanswered segments are not persisted.
func (s *Sequencer) SegmentClosed(data []byte, contentType string) {
	if len(s.lastSegment) > 0 {
		s.logger.Debug("replacing unanswered segment", "bytes", len(s.lastSegment))
	}
	s.lastSegment = data
	s.lastSegmentType = contentType
}

// OnAssistantText persists the user's turn (if audio was captured) and opens
// the pending assistant turn, discarding any earlier one.
func (s *Sequencer) OnAssistantText(transcript, reply string) {
	now := s.now()
	switch {
	case transcript == "":
		// The greeting carries no transcript; a segment sent before it
		// arrived still waits for its own reply.
		if len(s.lastSegment) > 0 {
			s.logger.Debug("reply without transcript, keeping closed segment", "bytes", len(s.lastSegment))
		}
	case len(s.lastSegment) > 0:
		saved := make(chan struct{})
		s.user.enqueue(job{
			speaker:     persistence.SpeakerUser,
			text:        transcript,
			audio:       s.lastSegment,
			contentType: s.lastSegmentType,
			at:          now,
			saved:       saved,
		})
		s.lastUserSaved = saved
		s.stats.UserTurns++
		s.lastSegment = nil
		s.lastSegmentType = ""
	default:
		s.logger.Debug("transcript without captured audio, user turn not saved", "transcript_len", len(transcript))
	}

	if s.pending.State == PendingOpen {
		s.stats.Discarded++
		s.logger.Warn("assistant turn discarded before its audio arrived", "text_len", len(s.pending.Text))
	}
	s.pending = PendingTurn{State: PendingOpen, Text: reply, OpenedAt: now}
}

// OnAssistantAudio resolves the pending turn with its speech frame. It
// reports whether the frame was matched; unmatched frames are still played
// by the caller but not persisted.
func (s *Sequencer) OnAssistantAudio(data []byte, contentType string) bool {
	if s.pending.State != PendingOpen {
		s.stats.Unmatched++
		s.logger.Warn("speech frame without pending assistant text", "bytes", len(data), "state", s.pending.State.String())
		return false
	}
	s.ai.enqueue(job{
		speaker:     persistence.SpeakerAI,
		text:        s.pending.Text,
		audio:       data,
		contentType: contentType,
		at:          s.now(),
		after:       s.lastUserSaved,
	})
	s.lastUserSaved = nil
	s.stats.AITurns++
	s.pending.State = PendingResolved
	return true
}

// Discard drops the pending turn without persisting it.
func (s *Sequencer) Discard() {
	if s.pending.State == PendingOpen {
		s.stats.Discarded++
	}
	s.pending = PendingTurn{}
}

func (s *Sequencer) Pending() PendingTurn {
	return s.pending
}

func (s *Sequencer) Stats() Stats {
	st := s.stats
	st.UploadErrors = s.uploadErrors.Load()
	st.SaveErrors = s.saveErrors.Load()
	return st
}

// InFlight reports queued or running persistence jobs per speaker.
func (s *Sequencer) InFlight() (user, ai int) {
	return s.user.pending(), s.ai.pending()
}

// Drain waits for both lanes to finish everything queued so far.
func (s *Sequencer) Drain(ctx context.Context) error {
	return errors.Join(s.user.wait(ctx), s.ai.wait(ctx))
}

// Close lets queued jobs finish and stops the lanes.
func (s *Sequencer) Close() {
	s.user.close()
	s.ai.close()
	s.cancel()
}

// Abort cancels in-flight persistence and stops the lanes.
func (s *Sequencer) Abort() {
	s.cancel()
	s.Close()
}

func (s *Sequencer) persist(j job) {
	if j.saved != nil {
		defer close(j.saved)
	}
	out := Outcome{Turn: persistence.Turn{Speaker: j.speaker, Text: j.text, Timestamp: j.at.UTC()}}
	gw := s.cfg.Gateway
	if gw == nil {
		return
	}

	if len(j.audio) > 0 {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PersistTimeout)
		url, err := gw.UploadAudio(ctx, s.cfg.InterviewID, j.speaker, j.audio, j.contentType)
		cancel()
		if err != nil {
			s.uploadErrors.Add(1)
			out.UploadErr = err
			s.logger.Warn("audio upload failed, saving turn without audio", "speaker", j.speaker, "error", err)
		} else {
			out.Turn.AudioURL = url
		}
	}

	if j.after != nil {
		select {
		case <-j.after:
		case <-s.ctx.Done():
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PersistTimeout)
	err := gw.SaveTurn(ctx, s.cfg.InterviewID, out.Turn)
	cancel()
	if err != nil {
		s.saveErrors.Add(1)
		out.SaveErr = err
		s.logger.Warn("save turn failed", "speaker", j.speaker, "error", err)
	}

	if s.cfg.OnPersisted != nil {
		s.cfg.OnPersisted(out)
	}
}
