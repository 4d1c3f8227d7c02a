package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/intervue/internal/capture"
	"github.com/ent0n29/intervue/internal/channel"
	"github.com/ent0n29/intervue/internal/observability"
	"github.com/ent0n29/intervue/internal/persistence"
	"github.com/ent0n29/intervue/internal/playback"
	"github.com/ent0n29/intervue/internal/protocol"
	"github.com/ent0n29/intervue/internal/turns"
)

var (
	ErrSessionClosed = errors.New("live: session closed")
	ErrAlreadyOpen   = errors.New("live: session already opened")
)

const (
	indicatorSegmentEmpty     = "segment_empty"
	indicatorDeviceFailure    = "device_unavailable"
	indicatorRateLimited      = "rate_limited"
	indicatorUnmatchedSpeech  = "speech_frame_unmatched"
	indicatorSegmentSendError = "segment_send_failed"
	indicatorReplyAbandoned   = "reply_abandoned"
)

type Config struct {
	InterviewID        string
	Meta               protocol.InterviewMeta
	Channel            channel.Config
	EndCallGrace       time.Duration
	PersistTimeout     time.Duration
	UserCaptionTTL     time.Duration
	AICaptionTTL       time.Duration
	SegmentContentType string
	Logger             *slog.Logger
}

// Deps are the collaborators a session owns for its lifetime.
type Deps struct {
	Device  capture.Device
	Encoder capture.Encoder
	Player  playback.Player
	Gateway persistence.Gateway
}

// EndResult is what a finished call leaves behind.
type EndResult struct {
	Evaluation  *protocol.Report
	CompleteErr error
}

type command struct {
	kind  commandKind
	reply chan EndResult
}

type commandKind int

const (
	cmdToggleMic commandKind = iota + 1
	cmdPausePlayback
	cmdEndCall
)

// Session is one interview attempt. It owns the microphone, the interviewer
// channel, playback and the turn sequencer; a single loop goroutine mutates
// all of them, and the exported methods only post commands to it.
type Session struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	capture  *capture.Controller
	channel  *channel.Channel
	playback *playback.Controller
	seq      *turns.Sequencer
	latency  *observability.StageWindow

	cmds      chan command
	persisted chan turns.Outcome
	finished  chan EndResult
	stop      chan struct{}
	done      chan struct{}
	updates   chan struct{}

	openOnce  sync.Once
	stopOnce  sync.Once
	doneOnce  sync.Once
	opened    bool
	openMu    sync.Mutex
	snapMu    sync.RWMutex
	snap      Snapshot

	// loop-owned state
	transcript    []TranscriptLine
	notice        string
	report        *protocol.Report
	ending        bool
	finishing     bool
	ended         bool
	endWaiters    []chan EndResult
	graceTimer    *time.Timer
	segmentSentAt time.Time
	replyTextAt   time.Time
}

func New(cfg Config, deps Deps) *Session {
	if cfg.EndCallGrace < 0 {
		cfg.EndCallGrace = 0
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 30 * time.Second
	}
	logger := observability.OrDiscard(cfg.Logger).With("interview_id", cfg.InterviewID)
	s := &Session{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		capture:   capture.NewController(deps.Device, deps.Encoder, logger.With("component", "capture")),
		channel:   channel.New(cfg.Channel, logger.With("component", "channel")),
		playback:  playback.NewController(deps.Player, cfg.UserCaptionTTL, cfg.AICaptionTTL, logger.With("component", "playback")),
		latency:   observability.NewStageWindow(64),
		cmds:      make(chan command),
		persisted: make(chan turns.Outcome, 64),
		finished:  make(chan EndResult, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		updates:   make(chan struct{}, 1),
	}
	s.seq = turns.NewSequencer(turns.Config{
		InterviewID:    cfg.InterviewID,
		Gateway:        deps.Gateway,
		PersistTimeout: cfg.PersistTimeout,
		Logger:         logger.With("component", "turns"),
		OnPersisted: func(o turns.Outcome) {
			select {
			case s.persisted <- o:
			default:
			}
		},
	})
	s.snap = Snapshot{Channel: channel.StateDisconnected}
	return s
}

// Open connects to the interviewer and starts the session loop. The
// interview context is the first frame on the wire.
func (s *Session) Open(ctx context.Context) error {
	s.openMu.Lock()
	if s.opened {
		s.openMu.Unlock()
		return ErrAlreadyOpen
	}
	s.opened = true
	s.openMu.Unlock()

	s.setChannelState(channel.StateConnecting)
	if err := s.channel.Open(ctx, s.cfg.Meta); err != nil {
		s.setChannelState(s.channel.State())
		s.releaseResources()
		s.markDone()
		return err
	}
	s.setChannelState(channel.StateOpen)
	go s.run()
	return nil
}

// ToggleMic starts a segment when idle and sends it when recording.
func (s *Session) ToggleMic() {
	s.post(command{kind: cmdToggleMic})
}

// PausePlayback silences the interviewer, keeping its caption.
func (s *Session) PausePlayback() {
	s.post(command{kind: cmdPausePlayback})
}

// EndCall sends end_call, waits for the evaluation or the grace period,
// drains persistence and marks the interview complete.
func (s *Session) EndCall(ctx context.Context) (EndResult, error) {
	reply := make(chan EndResult, 1)
	if err := s.postContext(ctx, command{kind: cmdEndCall, reply: reply}); err != nil {
		return EndResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-s.done:
		select {
		case res := <-reply:
			return res, nil
		default:
		}
		return EndResult{}, ErrSessionClosed
	case <-ctx.Done():
		return EndResult{}, ctx.Err()
	}
}

// Close tears the session down, releasing the microphone, the channel and
// the player. It is safe to call more than once.
func (s *Session) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.openMu.Lock()
	opened := s.opened
	s.opened = true
	s.openMu.Unlock()
	if !opened {
		s.releaseResources()
		s.markDone()
	}
	<-s.done
	return nil
}

// Updates signals that a new Snapshot is available. Signals coalesce.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap.clone()
}

func (s *Session) post(c command) {
	_ = s.postContext(context.Background(), c)
}

// postContext hands c to the loop, giving up when the session is done or
// ctx ends.
func (s *Session) postContext(ctx context.Context, c command) error {
	select {
	case s.cmds <- c:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) run() {
	defer s.markDone()

	events := s.channel.Events()
	captionTick := time.NewTicker(500 * time.Millisecond)
	defer captionTick.Stop()
	s.publish()

	for {
		var grace <-chan time.Time
		if s.graceTimer != nil {
			grace = s.graceTimer.C
		}

		select {
		case <-s.stop:
			s.teardown()
			return
		case c := <-s.cmds:
			s.handleCommand(c)
		case chunk := <-s.capture.Chunks():
			s.capture.Collect(chunk)
			continue
		case ev, ok := <-events:
			if !ok {
				events = nil
				s.onChannelEnded()
			} else {
				s.handleChannelEvent(ev)
			}
		case pev := <-s.playback.Events():
			s.playback.Handle(pev)
		case o := <-s.persisted:
			if o.SaveErr != nil {
				s.notice = fmt.Sprintf("Could not save %s turn", o.Turn.Speaker)
			}
		case <-grace:
			s.graceTimer = nil
			s.logger.Info("end-call grace period elapsed")
			s.beginFinish()
		case res := <-s.finished:
			s.completeEnd(res)
		case <-captionTick.C:
		}
		s.publish()
	}
}

func (s *Session) handleCommand(c command) {
	switch c.kind {
	case cmdToggleMic:
		s.toggleMic()
	case cmdPausePlayback:
		s.playback.Pause()
	case cmdEndCall:
		s.endCall(c.reply)
	}
}

func (s *Session) toggleMic() {
	if s.capture.Recording() {
		s.flushSegment()
		return
	}
	if s.ending || s.ended {
		s.notice = "The call has ended"
		return
	}
	if st := s.channel.State(); st != channel.StateOpen {
		s.notice = "Not connected to the interviewer"
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.capture.StartSegment(ctx); err != nil {
		s.latency.ObserveIndicator(indicatorDeviceFailure)
		s.notice = "Microphone unavailable"
		s.logger.Warn("start segment failed", "error", err)
		return
	}
	s.notice = ""
}

// flushSegment stops recording and sends the segment with its boundary.
func (s *Session) flushSegment() {
	seg := s.capture.StopSegment()
	if seg.Empty() {
		s.latency.ObserveIndicator(indicatorSegmentEmpty)
		s.notice = "Nothing was recorded"
		return
	}
	if err := s.channel.SendSegment(seg.Data); err != nil {
		s.latency.ObserveIndicator(indicatorSegmentSendError)
		s.notice = "Disconnected, answer not sent"
		s.logger.Warn("send segment failed", "seq", seg.Seq, "error", err)
		return
	}
	s.seq.SegmentClosed(seg.Data, s.cfg.SegmentContentType)
	s.segmentSentAt = time.Now()
	s.logger.Info("segment sent", "seq", seg.Seq, "bytes", len(seg.Data), "duration", seg.Duration)
}

func (s *Session) handleChannelEvent(ev channel.Event) {
	now := ev.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}
	switch ev.Kind {
	case channel.EventAssistantText:
		if !s.segmentSentAt.IsZero() {
			s.latency.Observe(observability.StageSegmentToReplyText, now.Sub(s.segmentSentAt))
		}
		s.replyTextAt = now
		transcript := ev.Text.Transcript
		if transcript != "" {
			s.transcript = append(s.transcript, TranscriptLine{Speaker: persistence.SpeakerUser, Text: transcript, At: now})
			s.playback.SetUserCaption(transcript)
		}
		s.seq.OnAssistantText(transcript, ev.Text.Text)
		s.playback.Anticipate(ev.Text.Text)
		if ev.Text.Text != "" {
			s.transcript = append(s.transcript, TranscriptLine{Speaker: persistence.SpeakerAI, Text: ev.Text.Text, At: now})
		}

	case channel.EventAssistantAudio:
		if !s.replyTextAt.IsZero() {
			s.latency.Observe(observability.StageReplyTextToSpeech, now.Sub(s.replyTextAt))
			s.replyTextAt = time.Time{}
		}
		if !s.segmentSentAt.IsZero() {
			s.latency.Observe(observability.StageSegmentToSpeech, now.Sub(s.segmentSentAt))
			s.segmentSentAt = time.Time{}
		}
		if !s.seq.OnAssistantAudio(ev.Audio, ev.AudioFormat) {
			s.latency.ObserveIndicator(indicatorUnmatchedSpeech)
		}
		if s.ending {
			return
		}
		if err := s.playback.Play(ev.Audio, ev.AudioFormat); err != nil {
			s.notice = "Could not play the interviewer's audio"
		}

	case channel.EventEvaluation:
		report := ev.Evaluation.Report()
		s.report = &report
		s.logger.Info("evaluation received")
		if s.ending {
			s.beginFinish()
		}

	case channel.EventNotice:
		s.latency.ObserveIndicator(indicatorRateLimited)
		s.notice = ev.Notice
		// A rate-limited reply never gets its speech frame.
		s.abandonPendingReply("rate limited")
	}
}

// abandonPendingReply drops a reply whose speech frame will not arrive and
// releases the speaking state it anticipated.
func (s *Session) abandonPendingReply(reason string) {
	if s.seq.Pending().State == turns.PendingOpen {
		s.seq.Discard()
		s.latency.ObserveIndicator(indicatorReplyAbandoned)
		s.logger.Info("pending reply abandoned", "reason", reason)
	}
	s.playback.CancelAnticipation()
}

func (s *Session) onChannelEnded() {
	if s.ended {
		return
	}
	st := s.channel.State()
	if s.capture.Recording() {
		_ = s.capture.StopSegment()
	}
	s.abandonPendingReply("channel " + string(st))
	if s.ending {
		s.beginFinish()
		return
	}
	if st == channel.StateErrored {
		s.notice = "Disconnected from the interviewer"
		s.logger.Warn("channel errored", "error", s.channel.Err())
	} else {
		s.notice = "The interviewer closed the call"
	}
}

func (s *Session) endCall(reply chan EndResult) {
	if s.ended {
		reply <- EndResult{Evaluation: s.report}
		return
	}
	s.endWaiters = append(s.endWaiters, reply)
	if s.ending {
		return
	}
	s.ending = true

	if s.capture.Recording() {
		s.flushSegment()
	}
	if err := s.channel.EndCall(); err != nil {
		s.logger.Warn("send end_call failed", "error", err)
		s.beginFinish()
		return
	}
	s.notice = "Ending the call"
	if s.report != nil {
		s.beginFinish()
		return
	}
	s.graceTimer = time.NewTimer(s.cfg.EndCallGrace)
}

// beginFinish drains persistence and completes the interview off the loop.
func (s *Session) beginFinish() {
	if s.finishing || s.ended {
		return
	}
	s.finishing = true
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.playback.Stop()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
		defer cancel()
		if err := s.seq.Drain(ctx); err != nil {
			s.logger.Warn("persistence did not drain before completion", "error", err)
		}
		var err error
		if s.deps.Gateway != nil {
			err = s.deps.Gateway.CompleteSession(ctx, s.cfg.InterviewID)
		}
		if err != nil {
			s.logger.Warn("complete session failed", "error", err)
		}
		s.finished <- EndResult{CompleteErr: err}
	}()
}

func (s *Session) completeEnd(res EndResult) {
	s.ended = true
	s.ending = false
	res.Evaluation = s.report
	if res.CompleteErr != nil {
		s.notice = "Call ended, but the interview could not be marked complete"
	} else {
		s.notice = "Call ended"
	}
	_ = s.capture.Close()
	_ = s.channel.Close()
	for _, w := range s.endWaiters {
		w <- res
	}
	s.endWaiters = nil
}

func (s *Session) teardown() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.releaseResources()
	for _, w := range s.endWaiters {
		w <- EndResult{Evaluation: s.report, CompleteErr: ErrSessionClosed}
	}
	s.endWaiters = nil
	s.setChannelState(s.channel.State())
}

// releaseResources runs on every exit path: device, player, channel, then
// persistence with a bounded drain.
func (s *Session) releaseResources() {
	if err := s.capture.Close(); err != nil {
		s.logger.Debug("release microphone failed", "error", err)
	}
	s.playback.Stop()
	if s.deps.Player != nil {
		_ = s.deps.Player.Close()
	}
	_ = s.channel.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.seq.Drain(ctx); err != nil {
		s.seq.Abort()
		return
	}
	s.seq.Close()
}
