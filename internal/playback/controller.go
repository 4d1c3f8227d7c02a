package playback

import (
	"log/slog"
	"time"

	"github.com/ent0n29/intervue/internal/observability"
)

type State string

const (
	StateIdle     State = "idle"
	StateSpeaking State = "speaking"
)

const (
	DefaultUserCaptionTTL = 7 * time.Second
	DefaultAICaptionTTL   = 9 * time.Second
)

// Caption is transient on-screen text. A zero ExpiresAt holds it until
// something schedules its removal.
type Caption struct {
	Text      string
	ExpiresAt time.Time
}

func (c Caption) visible(now time.Time) bool {
	if c.Text == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// Controller tracks whether the interviewer is speaking and manages the
// captions around it. It is owned by the session loop.
type Controller struct {
	player  Player
	logger  *slog.Logger
	now     func() time.Time
	userTTL time.Duration
	aiTTL   time.Duration

	state   State
	nextID  uint64
	current uint64
	user    Caption
	ai      Caption
}

func NewController(player Player, userTTL, aiTTL time.Duration, logger *slog.Logger) *Controller {
	if userTTL <= 0 {
		userTTL = DefaultUserCaptionTTL
	}
	if aiTTL <= 0 {
		aiTTL = DefaultAICaptionTTL
	}
	return &Controller{
		player:  player,
		logger:  observability.OrDiscard(logger),
		now:     time.Now,
		userTTL: userTTL,
		aiTTL:   aiTTL,
		state:   StateIdle,
	}
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) AISpeaking() bool {
	return c.state == StateSpeaking
}

// Events exposes the player's notifications for the session loop.
func (c *Controller) Events() <-chan Event {
	if c.player == nil {
		return nil
	}
	return c.player.Events()
}

// Anticipate marks the interviewer as speaking as soon as its reply text
// arrives, before any audio, and shows the reply as a held caption.
func (c *Controller) Anticipate(text string) {
	c.state = StateSpeaking
	c.ai = Caption{Text: text}
}

// Play starts a speech frame. A player failure ends the speaking state the
// same way a finished clip would.
func (c *Controller) Play(data []byte, contentType string) error {
	c.nextID++
	c.current = c.nextID
	c.state = StateSpeaking
	if c.player == nil {
		c.finish()
		return nil
	}
	if err := c.player.Play(Clip{ID: c.current, Data: data, ContentType: contentType}); err != nil {
		c.logger.Warn("playback failed to start", "error", err)
		c.finish()
		return err
	}
	return nil
}

// Handle applies a player event. Events for superseded clips are ignored.
func (c *Controller) Handle(ev Event) {
	if ev.ClipID != c.current {
		return
	}
	switch ev.Kind {
	case EventStarted:
		c.state = StateSpeaking
	case EventEnded:
		c.finish()
	case EventFailed:
		c.logger.Warn("playback failed", "clip", ev.ClipID, "error", ev.Err)
		c.finish()
	case EventPaused, EventStopped:
		c.state = StateIdle
		c.current = 0
	}
}

// Pause stops the current clip and keeps the caption on screen.
func (c *Controller) Pause() {
	if c.state != StateSpeaking {
		return
	}
	if c.current != 0 && c.player != nil {
		if err := c.player.Pause(); err != nil {
			c.logger.Warn("pause playback failed", "error", err)
		}
	}
	c.state = StateIdle
	c.current = 0
}

// Stop halts playback and lets the AI caption expire, used on teardown.
func (c *Controller) Stop() {
	if c.player != nil && c.current != 0 {
		if err := c.player.Stop(); err != nil {
			c.logger.Debug("stop playback failed", "error", err)
		}
	}
	c.finish()
}

// CancelAnticipation ends a speaking state that was only anticipated from
// reply text, when no speech frame will follow. A clip already playing is
// left alone.
func (c *Controller) CancelAnticipation() {
	if c.state != StateSpeaking || c.current != 0 {
		return
	}
	c.finish()
}

// SetUserCaption shows what the user just said for the user caption TTL.
func (c *Controller) SetUserCaption(text string) {
	if text == "" {
		return
	}
	c.user = Caption{Text: text, ExpiresAt: c.now().Add(c.userTTL)}
}

// Captions returns the captions visible at now.
func (c *Controller) Captions(now time.Time) (user, ai string) {
	if c.user.visible(now) {
		user = c.user.Text
	}
	if c.ai.visible(now) {
		ai = c.ai.Text
	}
	return user, ai
}

func (c *Controller) finish() {
	c.state = StateIdle
	c.current = 0
	if c.ai.Text != "" {
		c.ai.ExpiresAt = c.now().Add(c.aiTTL)
	}
}
