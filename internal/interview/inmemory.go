package interview

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-process store for local/dev use.
type InMemoryStore struct {
	mu         sync.RWMutex
	interviews map[string]*Interview
	audio      map[string]AudioObject
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		interviews: make(map[string]*Interview),
		audio:      make(map[string]AudioObject),
	}
}

func (s *InMemoryStore) Create(_ context.Context, iv Interview) (Interview, error) {
	if err := validateNew(iv); err != nil {
		return Interview{}, err
	}
	iv = normalizeNew(iv, uuid.NewString(), time.Now().UTC())
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := iv
	s.interviews[iv.ID] = &stored
	return cloneInterview(stored), nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Interview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iv, ok := s.interviews[id]
	if !ok {
		return Interview{}, ErrNotFound
	}
	return cloneInterview(*iv), nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, id string, turn ConversationTurn) error {
	if err := validateTurn(turn); err != nil {
		return err
	}
	now := time.Now().UTC()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.interviews[id]
	if !ok {
		return ErrNotFound
	}
	iv.Conversation = append(iv.Conversation, turn)
	if iv.Status == StatusPending {
		iv.Status = StatusInProgress
		iv.StartedAt = &now
	}
	iv.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) Complete(_ context.Context, id string) (Interview, bool, error) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.interviews[id]
	if !ok {
		return Interview{}, false, ErrNotFound
	}
	if iv.Status == StatusCompleted {
		return cloneInterview(*iv), false, nil
	}
	iv.Status = StatusCompleted
	iv.CompletedAt = &now
	if iv.StartedAt == nil {
		iv.StartedAt = &now
	}
	iv.UpdatedAt = now
	return cloneInterview(*iv), true, nil
}

func (s *InMemoryStore) SetEvaluation(_ context.Context, id string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.interviews[id]
	if !ok {
		return ErrNotFound
	}
	iv.Evaluation = append(json.RawMessage(nil), result...)
	iv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) PutAudio(_ context.Context, obj AudioObject) (AudioObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.interviews[obj.InterviewID]; !ok {
		return AudioObject{}, ErrNotFound
	}
	obj.ID = uuid.NewString()
	obj.CreatedAt = time.Now().UTC()
	obj.Data = append([]byte(nil), obj.Data...)
	s.audio[obj.ID] = obj
	return obj, nil
}

func (s *InMemoryStore) GetAudio(_ context.Context, id string) (AudioObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.audio[id]
	if !ok {
		return AudioObject{}, ErrNotFound
	}
	return obj, nil
}

func (s *InMemoryStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Status]int)
	for _, iv := range s.interviews {
		out[iv.Status]++
	}
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }

func cloneInterview(iv Interview) Interview {
	iv.Conversation = append([]ConversationTurn{}, iv.Conversation...)
	if iv.Evaluation != nil {
		iv.Evaluation = append(json.RawMessage(nil), iv.Evaluation...)
	}
	return iv
}
