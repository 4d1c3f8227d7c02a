package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/intervue/internal/protocol"
)

type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerAI   Speaker = "ai"
)

func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerAI
}

// Turn is one saved transcript entry.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	AudioURL  string    `json:"audioUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Interview is the metadata the session needs to open a call.
type Interview struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Role       string `json:"role"`
	Difficulty string `json:"difficulty"`
	Notes      string `json:"notes"`
	AIVoice    string `json:"aiVoice,omitempty"`
	Status     string `json:"status"`
}

func (i Interview) Meta() protocol.InterviewMeta {
	return protocol.InterviewMeta{
		Title:      i.Title,
		Role:       i.Role,
		Difficulty: i.Difficulty,
		Notes:      i.Notes,
		AIVoice:    i.AIVoice,
	}
}

// NewInterview is the payload for creating an interview.
type NewInterview struct {
	Title      string `json:"title"`
	Role       string `json:"role"`
	Difficulty string `json:"difficulty"`
	Notes      string `json:"notes,omitempty"`
	AIVoice    string `json:"aiVoice,omitempty"`
}

var ErrNotFound = errors.New("persistence: interview not found")

// Gateway is the out-of-band persistence collaborator. Calls are
// fire-and-forget from the session's point of view: failures are logged and
// never retried.
type Gateway interface {
	UploadAudio(ctx context.Context, interviewID string, speaker Speaker, audio []byte, contentType string) (string, error)
	SaveTurn(ctx context.Context, interviewID string, turn Turn) error
	CompleteSession(ctx context.Context, interviewID string) error
	GetInterview(ctx context.Context, interviewID string) (Interview, error)
	CreateInterview(ctx context.Context, in NewInterview) (Interview, error)
}
