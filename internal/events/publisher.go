package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ent0n29/intervue/internal/observability"
)

// Subjects for interview lifecycle notifications.
const (
	SubjectTurnSaved = "interview.turn.saved"
	SubjectCompleted = "interview.completed"
	SubjectCallEnded = "interview.call.ended"
)

// TurnSaved is emitted after a transcript turn is persisted.
type TurnSaved struct {
	InterviewID string    `json:"interview_id"`
	Speaker     string    `json:"speaker"`
	Text        string    `json:"text"`
	Redactions  int       `json:"redactions,omitempty"`
	AudioURL    string    `json:"audio_url,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Completed is emitted when an interview transitions to completed.
type Completed struct {
	InterviewID string    `json:"interview_id"`
	Turns       int       `json:"turns"`
	CompletedAt time.Time `json:"completed_at"`
}

// CallEnded is emitted when a mock interviewer call closes.
type CallEnded struct {
	CallID      string        `json:"call_id"`
	InterviewID string        `json:"interview_id,omitempty"`
	Segments    int           `json:"segments"`
	Duration    time.Duration `json:"duration_ns"`
	Reason      string        `json:"reason"`
}

// Publisher fans interview events out to downstream consumers.
type Publisher interface {
	Publish(subject string, data any) error
	Close()
}

// NATSPublisher publishes JSON events on a NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewNATSPublisher(_ context.Context, url, token string, logger *slog.Logger) (*NATSPublisher, error) {
	logger = observability.OrDiscard(logger)
	opts := []nats.Option{
		nats.Name("intervued"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: nc, logger: logger}, nil
}

func (p *NATSPublisher) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.conn.Publish(subject, payload)
}

func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }
func (Nop) Close()                    {}

// Message is one event captured by a Recorder.
type Message struct {
	Subject string
	Payload json.RawMessage
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, Message{Subject: subject, Payload: payload})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() {}

// Messages returns the events published on subject, or all when subject is empty.
func (r *Recorder) Messages(subject string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0, len(r.msgs))
	for _, m := range r.msgs {
		if subject == "" || m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}

// New connects to NATS when url is set, otherwise returns Nop.
func New(ctx context.Context, url, token string, logger *slog.Logger) (Publisher, error) {
	if url == "" {
		return Nop{}, nil
	}
	return NewNATSPublisher(ctx, url, token, logger)
}

// PublishBestEffort logs and counts failures instead of returning them.
func PublishBestEffort(p Publisher, subject string, data any, logger *slog.Logger, metrics *observability.Metrics) {
	if p == nil {
		return
	}
	if err := p.Publish(subject, data); err != nil {
		observability.OrDiscard(logger).Warn("event publish failed", "subject", subject, "error", err)
		if metrics != nil {
			metrics.PublishFailures.Inc()
		}
	}
}
