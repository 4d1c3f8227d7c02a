package turns

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/intervue/internal/persistence"
)

func newTestSequencer(t *testing.T, gw *persistence.MemoryGateway) (*Sequencer, string) {
	t.Helper()
	iv, err := gw.CreateInterview(context.Background(), persistence.NewInterview{Title: "Backend Engineer", Role: "Backend Engineer", Difficulty: "medium"})
	if err != nil {
		t.Fatalf("CreateInterview() error = %v", err)
	}
	s := NewSequencer(Config{InterviewID: iv.ID, Gateway: gw, PersistTimeout: time.Second})
	t.Cleanup(s.Close)
	return s, iv.ID
}

func drain(t *testing.T, s *Sequencer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
}

func TestExchangePersistsUserThenAIWithAudioURLs(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	s, id := newTestSequencer(t, gw)

	s.SegmentClosed([]byte("user-audio"), "audio/webm")
	s.OnAssistantText("Tell me about REST", "Sure, REST is...")
	if got := s.Pending(); got.State != PendingOpen || got.Text != "Sure, REST is..." {
		t.Fatalf("Pending() = %+v, want open with reply text", got)
	}
	if !s.OnAssistantAudio([]byte("ai-audio"), "audio/wav") {
		t.Fatalf("OnAssistantAudio() = false, want matched")
	}
	if got := s.Pending().State; got != PendingResolved {
		t.Fatalf("Pending().State = %s, want resolved", got)
	}
	drain(t, s)

	turns := gw.Turns(id)
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2: %+v", len(turns), turns)
	}
	if turns[0].Speaker != persistence.SpeakerUser || turns[0].Text != "Tell me about REST" || turns[0].AudioURL == "" {
		t.Fatalf("turns[0] = %+v", turns[0])
	}
	if turns[1].Speaker != persistence.SpeakerAI || turns[1].Text != "Sure, REST is..." || turns[1].AudioURL == "" {
		t.Fatalf("turns[1] = %+v", turns[1])
	}
}

func TestSecondTextDiscardsPendingTurn(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	s, id := newTestSequencer(t, gw)

	s.OnAssistantText("", "first reply")
	s.OnAssistantText("", "second reply")
	s.OnAssistantAudio([]byte("speech"), "")
	drain(t, s)

	turns := gw.Turns(id)
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want 1: %+v", len(turns), turns)
	}
	if turns[0].Text != "second reply" {
		t.Fatalf("persisted text = %q, want %q", turns[0].Text, "second reply")
	}
	if st := s.Stats(); st.Discarded != 1 || st.AITurns != 1 {
		t.Fatalf("Stats() = %+v, want 1 discarded and 1 AI turn", st)
	}
}

func TestAudioWithoutPendingIsNotPersisted(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	s, id := newTestSequencer(t, gw)

	if s.OnAssistantAudio([]byte("orphan"), "") {
		t.Fatalf("OnAssistantAudio() = true without pending text")
	}
	s.OnAssistantText("", "reply")
	s.OnAssistantAudio([]byte("speech"), "")
	if s.OnAssistantAudio([]byte("again"), "") {
		t.Fatalf("second frame for a resolved turn should not be persisted")
	}
	drain(t, s)

	if turns := gw.Turns(id); len(turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(turns))
	}
	if st := s.Stats(); st.Unmatched != 2 {
		t.Fatalf("Stats().Unmatched = %d, want 2", st.Unmatched)
	}
}

func TestGreetingProducesOnlyAITurn(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	s, id := newTestSequencer(t, gw)

	s.OnAssistantText("", "Hi, I'm your interviewer today.")
	s.OnAssistantAudio([]byte("hello"), "audio/wav")
	drain(t, s)

	turns := gw.Turns(id)
	if len(turns) != 1 || turns[0].Speaker != persistence.SpeakerAI {
		t.Fatalf("turns = %+v, want one AI turn", turns)
	}
}

func TestOnlyLatestSegmentIsAttached(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	s, id := newTestSequencer(t, gw)

	s.SegmentClosed([]byte("1"), "")
	s.SegmentClosed([]byte("22"), "")
	s.SegmentClosed([]byte("333"), "")
	s.OnAssistantText("third answer", "reply")
	s.OnAssistantAudio([]byte("speech"), "")
	drain(t, s)

	var uploads []persistence.Op
	for _, op := range gw.Ops() {
		if op.Kind == "upload" && op.Speaker == persistence.SpeakerUser {
			uploads = append(uploads, op)
		}
	}
	if len(uploads) != 1 || uploads[0].Bytes != 3 {
		t.Fatalf("user uploads = %+v, want one upload of the last segment", uploads)
	}
	if turns := gw.Turns(id); len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
}

func TestUploadFailureStillSavesText(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	gw.UploadErr = map[persistence.Speaker]error{persistence.SpeakerUser: errors.New("storage down")}
	s, id := newTestSequencer(t, gw)

	s.SegmentClosed([]byte("a"), "")
	s.OnAssistantText("my answer", "next question")
	s.OnAssistantAudio([]byte("b"), "")
	drain(t, s)

	turns := gw.Turns(id)
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].AudioURL != "" || turns[0].Text != "my answer" {
		t.Fatalf("user turn = %+v, want text without audio", turns[0])
	}
	if turns[1].AudioURL == "" {
		t.Fatalf("AI turn should keep its audio url")
	}
	if st := s.Stats(); st.UploadErrors != 1 {
		t.Fatalf("Stats().UploadErrors = %d, want 1", st.UploadErrors)
	}
}

func TestLaneRunsJobsSerially(t *testing.T) {
	gate := make(chan struct{})
	var once sync.Once
	started := make(chan struct{}, 8)

	gw := persistence.NewMemoryGateway()
	gw.Hook = func(op persistence.Op) {
		if op.Kind != "upload" {
			return
		}
		started <- struct{}{}
		once.Do(func() { <-gate })
	}
	s, id := newTestSequencer(t, gw)

	s.SegmentClosed([]byte("a"), "")
	s.OnAssistantText("one", "r1")
	s.SegmentClosed([]byte("b"), "")
	s.OnAssistantText("two", "r2")

	<-started
	select {
	case <-started:
		t.Fatalf("second user upload started before the first job finished")
	case <-time.After(50 * time.Millisecond):
	}
	if user, _ := s.InFlight(); user != 2 {
		t.Fatalf("InFlight() user = %d, want 2", user)
	}
	close(gate)
	drain(t, s)

	turns := gw.Turns(id)
	if len(turns) != 2 || turns[0].Text != "one" || turns[1].Text != "two" {
		t.Fatalf("turns = %+v, want one then two", turns)
	}
}

func TestExplicitDiscard(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	s, id := newTestSequencer(t, gw)

	s.OnAssistantText("", "reply")
	s.Discard()
	if got := s.Pending().State; got != PendingNone {
		t.Fatalf("Pending().State = %s, want none", got)
	}
	s.OnAssistantAudio([]byte("late"), "")
	drain(t, s)
	if turns := gw.Turns(id); len(turns) != 0 {
		t.Fatalf("turns = %+v, want none", turns)
	}
}

func TestSegmentSentBeforeGreetingWaitsForItsReply(t *testing.T) {
	gw := persistence.NewMemoryGateway()
	s, id := newTestSequencer(t, gw)

	s.SegmentClosed([]byte("early"), "audio/webm")
	s.OnAssistantText("", "Hello! Tell me about yourself.")
	s.OnAssistantAudio([]byte("greeting"), "audio/wav")
	s.OnAssistantText("I build payment systems", "Which one are you proudest of?")
	s.OnAssistantAudio([]byte("question"), "audio/wav")
	drain(t, s)

	turns := gw.Turns(id)
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3: %+v", len(turns), turns)
	}
	var user []persistence.Turn
	for _, turn := range turns {
		if turn.Speaker == persistence.SpeakerUser {
			user = append(user, turn)
		}
	}
	// Lanes are independent, so only the user turns are checked in order.
	if len(user) != 1 || user[0].Text != "I build payment systems" || user[0].AudioURL == "" {
		t.Fatalf("user turns = %+v, want the answer with its audio", user)
	}
	if st := s.Stats(); st.UserTurns != 1 {
		t.Fatalf("Stats().UserTurns = %d, want 1", st.UserTurns)
	}
}
