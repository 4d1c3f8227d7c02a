package calls

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// End reasons recorded on a call.
const (
	ReasonEndCall    = "end_call"
	ReasonDisconnect = "disconnect"
	ReasonExpired    = "expired"
	ReasonShutdown   = "shutdown"
)

var ErrNotFound = errors.New("call not found")

// Call tracks one live websocket conversation with the mock interviewer.
type Call struct {
	ID             string    `json:"call_id"`
	InterviewID    string    `json:"interview_id,omitempty"`
	Role           string    `json:"role,omitempty"`
	AIVoice        string    `json:"ai_voice,omitempty"`
	Status         Status    `json:"status"`
	Segments       int       `json:"segments"`
	EndReason      string    `json:"end_reason,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	calls             map[string]*Call
	inactivityTimeout time.Duration
	onExpire          func(*Call)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		calls:             make(map[string]*Call),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Call)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(interviewID string) *Call {
	now := time.Now().UTC()
	c := &Call{
		ID:             uuid.NewString(),
		InterviewID:    interviewID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.ID] = c
	return clone(c)
}

func (m *Manager) Get(callID string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *Manager) Touch(callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// Describe records the interview context announced on the channel.
func (m *Manager) Describe(callID, role, aiVoice string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.Role = role
	c.AIVoice = aiVoice
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// RecordSegment counts one finished candidate segment and returns the new total.
func (m *Manager) RecordSegment(callID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return 0, ErrNotFound
	}
	c.Segments++
	c.LastActivityAt = time.Now().UTC()
	return c.Segments, nil
}

// End marks the call ended. The first reason wins.
func (m *Manager) End(callID, reason string) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != StatusEnded {
		c.Status = StatusEnded
		c.EndReason = reason
	}
	c.LastActivityAt = time.Now().UTC()
	return clone(c), nil
}

// Forget drops an ended call from the registry.
func (m *Manager) Forget(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calls[callID]; ok && c.Status == StatusEnded {
		delete(m.calls, callID)
	}
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.calls {
		if c.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Call

	m.mu.Lock()
	for _, c := range m.calls {
		if c.Status != StatusActive {
			continue
		}
		if now.Sub(c.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		c.Status = StatusEnded
		c.EndReason = ReasonExpired
		c.LastActivityAt = now
		expired = append(expired, clone(c))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Call) *Call {
	cp := *c
	return &cp
}
