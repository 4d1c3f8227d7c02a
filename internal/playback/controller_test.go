package playback

import (
	"errors"
	"testing"
	"time"
)

type failingPlayer struct {
	*MemoryPlayer
}

func (p *failingPlayer) Play(Clip) error { return errors.New("no audio output") }

func newTestController(player Player) (*Controller, *time.Time) {
	now := time.Unix(1000, 0)
	c := NewController(player, 0, 0, nil)
	c.now = func() time.Time { return now }
	return c, &now
}

func nextEvent(t *testing.T, p *MemoryPlayer) Event {
	t.Helper()
	select {
	case ev := <-p.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no player event")
	}
	return Event{}
}

func TestAnticipateMarksSpeakingBeforeAudio(t *testing.T) {
	p := NewMemoryPlayer(0)
	c, _ := newTestController(p)

	c.Anticipate("Sure, REST is...")
	if !c.AISpeaking() {
		t.Fatalf("AISpeaking() = false right after reply text")
	}
	_, ai := c.Captions(time.Unix(5000, 0))
	if ai != "Sure, REST is..." {
		t.Fatalf("ai caption = %q, want held reply text", ai)
	}
}

func TestSpeakingUntilEndedThenCaptionExpires(t *testing.T) {
	p := NewMemoryPlayer(0)
	c, now := newTestController(p)

	c.Anticipate("hello")
	if err := c.Play([]byte("speech"), "audio/wav"); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	c.Handle(nextEvent(t, p))
	if !c.AISpeaking() {
		t.Fatalf("AISpeaking() = false after started")
	}

	p.Finish()
	c.Handle(nextEvent(t, p))
	if c.AISpeaking() {
		t.Fatalf("AISpeaking() = true after ended")
	}
	if _, ai := c.Captions(now.Add(8 * time.Second)); ai != "hello" {
		t.Fatalf("ai caption before TTL = %q, want hello", ai)
	}
	if _, ai := c.Captions(now.Add(10 * time.Second)); ai != "" {
		t.Fatalf("ai caption after TTL = %q, want cleared", ai)
	}
}

func TestPauseKeepsCaption(t *testing.T) {
	p := NewMemoryPlayer(0)
	c, now := newTestController(p)

	c.Anticipate("long answer")
	_ = c.Play([]byte("speech"), "")
	c.Handle(nextEvent(t, p))
	c.Pause()
	if c.AISpeaking() {
		t.Fatalf("AISpeaking() = true after pause")
	}
	c.Handle(nextEvent(t, p))
	if c.State() != StateIdle {
		t.Fatalf("State() = %s, want idle", c.State())
	}
	if _, ai := c.Captions(now.Add(time.Hour)); ai != "long answer" {
		t.Fatalf("ai caption after pause = %q, want kept", ai)
	}
}

func TestStaleClipEventsAreIgnored(t *testing.T) {
	p := NewMemoryPlayer(0)
	c, _ := newTestController(p)

	_ = c.Play([]byte("one"), "")
	_ = c.Play([]byte("two"), "")
	// started(1), stopped(1), started(2)
	for i := 0; i < 3; i++ {
		c.Handle(nextEvent(t, p))
	}
	if !c.AISpeaking() {
		t.Fatalf("stopping the superseded clip must not end the current one")
	}
	if got := len(p.Played()); got != 2 {
		t.Fatalf("Played() = %d, want 2", got)
	}
}

func TestPlayerFailureEndsSpeaking(t *testing.T) {
	c, _ := newTestController(&failingPlayer{NewMemoryPlayer(0)})
	c.Anticipate("text")
	if err := c.Play([]byte("x"), ""); err == nil {
		t.Fatalf("Play() error = nil, want failure")
	}
	if c.AISpeaking() {
		t.Fatalf("AISpeaking() = true after failed playback")
	}
}

func TestUserCaptionTTL(t *testing.T) {
	c, now := newTestController(nil)
	c.SetUserCaption("my answer")
	if user, _ := c.Captions(now.Add(6 * time.Second)); user != "my answer" {
		t.Fatalf("user caption = %q before TTL", user)
	}
	if user, _ := c.Captions(now.Add(7 * time.Second)); user != "" {
		t.Fatalf("user caption = %q after TTL, want cleared", user)
	}
}

func TestFFPlayMissingBinary(t *testing.T) {
	if _, err := NewFFPlayPlayer("/nonexistent/ffplay-intervue-test", 80, nil); err == nil {
		t.Fatalf("NewFFPlayPlayer() error = nil for missing binary")
	}
}

func TestCancelAnticipationReleasesSpeakingAndCaption(t *testing.T) {
	c, now := newTestController(NewMemoryPlayer(0))

	c.Anticipate("Hello")
	c.CancelAnticipation()
	if c.AISpeaking() {
		t.Fatalf("AISpeaking() = true after cancelling an anticipated reply")
	}
	if _, ai := c.Captions(*now); ai != "Hello" {
		t.Fatalf("ai caption = %q, want it kept until its TTL", ai)
	}
	if _, ai := c.Captions(now.Add(DefaultAICaptionTTL + time.Second)); ai != "" {
		t.Fatalf("ai caption = %q after TTL, want cleared", ai)
	}
}

func TestCancelAnticipationKeepsPlayingClip(t *testing.T) {
	p := NewMemoryPlayer(0)
	c, _ := newTestController(p)

	c.Anticipate("hello")
	if err := c.Play([]byte("speech"), "audio/wav"); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	c.CancelAnticipation()
	if !c.AISpeaking() {
		t.Fatalf("AISpeaking() = false; a playing clip must not be cut off")
	}
}

func TestStopSchedulesCaptionExpiry(t *testing.T) {
	c, now := newTestController(NewMemoryPlayer(0))
	c.Anticipate("bye")
	c.Stop()
	if c.AISpeaking() {
		t.Fatalf("AISpeaking() = true after Stop")
	}
	if _, ai := c.Captions(now.Add(DefaultAICaptionTTL + time.Second)); ai != "" {
		t.Fatalf("ai caption = %q after TTL, want cleared", ai)
	}
}
