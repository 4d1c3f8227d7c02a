package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Op is one recorded gateway call.
type Op struct {
	Kind        string
	InterviewID string
	Speaker     Speaker
	Text        string
	AudioURL    string
	Bytes       int
}

// MemoryGateway keeps everything in process. It backs the client's offline
// mode and the engine tests.
type MemoryGateway struct {
	// UploadErr, when set, fails uploads for that speaker.
	UploadErr map[Speaker]error
	// Hook runs before each call; it may block to simulate a slow service.
	Hook func(op Op)

	mu         sync.Mutex
	interviews map[string]*memoryInterview
	ops        []Op
}

type memoryInterview struct {
	info  Interview
	turns []Turn
	audio map[string][]byte
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{interviews: make(map[string]*memoryInterview)}
}

func (g *MemoryGateway) CreateInterview(_ context.Context, in NewInterview) (Interview, error) {
	if strings.TrimSpace(in.Role) == "" {
		return Interview{}, errors.New("role is required")
	}
	info := Interview{
		ID:         uuid.NewString(),
		Title:      in.Title,
		Role:       in.Role,
		Difficulty: in.Difficulty,
		Notes:      in.Notes,
		AIVoice:    in.AIVoice,
		Status:     "pending",
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.interviews[info.ID] = &memoryInterview{info: info, audio: make(map[string][]byte)}
	return info, nil
}

func (g *MemoryGateway) GetInterview(_ context.Context, interviewID string) (Interview, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	iv, ok := g.interviews[interviewID]
	if !ok {
		return Interview{}, ErrNotFound
	}
	return iv.info, nil
}

func (g *MemoryGateway) UploadAudio(ctx context.Context, interviewID string, speaker Speaker, data []byte, _ string) (string, error) {
	g.before(Op{Kind: "upload", InterviewID: interviewID, Speaker: speaker, Bytes: len(data)})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := g.UploadErr[speaker]; err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	iv, err := g.lookupLocked(interviewID)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	iv.audio[id] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s/%s", interviewID, id), nil
}

func (g *MemoryGateway) SaveTurn(ctx context.Context, interviewID string, turn Turn) error {
	g.before(Op{Kind: "save", InterviewID: interviewID, Speaker: turn.Speaker, Text: turn.Text, AudioURL: turn.AudioURL})
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	iv, err := g.lookupLocked(interviewID)
	if err != nil {
		return err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	iv.turns = append(iv.turns, turn)
	if iv.info.Status == "pending" {
		iv.info.Status = "in_progress"
	}
	return nil
}

func (g *MemoryGateway) CompleteSession(_ context.Context, interviewID string) error {
	g.before(Op{Kind: "complete", InterviewID: interviewID})
	g.mu.Lock()
	defer g.mu.Unlock()
	iv, err := g.lookupLocked(interviewID)
	if err != nil {
		return err
	}
	iv.info.Status = "completed"
	return nil
}

// Turns returns the saved transcript of an interview in save order.
func (g *MemoryGateway) Turns(interviewID string) []Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	iv, ok := g.interviews[interviewID]
	if !ok {
		return nil
	}
	return append([]Turn(nil), iv.turns...)
}

// Ops returns every call made so far, in call order.
func (g *MemoryGateway) Ops() []Op {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Op(nil), g.ops...)
}

func (g *MemoryGateway) before(op Op) {
	g.mu.Lock()
	g.ops = append(g.ops, op)
	hook := g.Hook
	g.mu.Unlock()
	if hook != nil {
		hook(op)
	}
}

func (g *MemoryGateway) lookupLocked(id string) (*memoryInterview, error) {
	iv, ok := g.interviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	return iv, nil
}
