package interview

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

var (
	ErrNotFound = errors.New("interview: not found")
	ErrInvalid  = errors.New("interview: invalid input")
)

// ConversationTurn is one persisted transcript entry.
type ConversationTurn struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	AudioURL  string    `json:"audioUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Interview is one mock-interview attempt and its transcript.
type Interview struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	Role         string             `json:"role"`
	Difficulty   string             `json:"difficulty"`
	Notes        string             `json:"notes"`
	AIVoice      string             `json:"aiVoice,omitempty"`
	Status       Status             `json:"status"`
	Conversation []ConversationTurn `json:"conversation"`
	Evaluation   json.RawMessage    `json:"evaluation,omitempty"`
	StartedAt    *time.Time         `json:"startedAt,omitempty"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// AudioObject is an uploaded recording of one turn.
type AudioObject struct {
	ID          string    `json:"id"`
	InterviewID string    `json:"interviewId"`
	Speaker     string    `json:"speaker"`
	ContentType string    `json:"contentType"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists interviews, their transcripts and uploaded audio.
type Store interface {
	Create(ctx context.Context, iv Interview) (Interview, error)
	Get(ctx context.Context, id string) (Interview, error)
	AppendTurn(ctx context.Context, id string, turn ConversationTurn) error
	// Complete marks the interview completed. The bool reports whether this
	// call made the transition; completing an already completed interview
	// returns it unchanged with false.
	Complete(ctx context.Context, id string) (Interview, bool, error)
	SetEvaluation(ctx context.Context, id string, result json.RawMessage) error
	PutAudio(ctx context.Context, obj AudioObject) (AudioObject, error)
	GetAudio(ctx context.Context, id string) (AudioObject, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	Ping(ctx context.Context) error
	Close() error
}

// ValidSpeaker reports whether s names a transcript speaker.
func ValidSpeaker(s string) bool {
	return s == "user" || s == "ai"
}

func validateNew(iv Interview) error {
	if strings.TrimSpace(iv.Role) == "" {
		return errors.Join(ErrInvalid, errors.New("role is required"))
	}
	return nil
}

func validateTurn(turn ConversationTurn) error {
	if !ValidSpeaker(turn.Speaker) {
		return errors.Join(ErrInvalid, errors.New("speaker must be user or ai"))
	}
	return nil
}

// normalizeNew fills defaults for a freshly created interview.
func normalizeNew(iv Interview, id string, now time.Time) Interview {
	iv.ID = id
	iv.Title = strings.TrimSpace(iv.Title)
	if iv.Title == "" {
		iv.Title = strings.TrimSpace(iv.Role)
	}
	iv.Role = strings.TrimSpace(iv.Role)
	iv.Difficulty = strings.TrimSpace(iv.Difficulty)
	if iv.Difficulty == "" {
		iv.Difficulty = "medium"
	}
	iv.Status = StatusPending
	iv.Conversation = []ConversationTurn{}
	iv.Evaluation = nil
	iv.StartedAt = nil
	iv.CompletedAt = nil
	iv.CreatedAt = now
	iv.UpdatedAt = now
	return iv
}
