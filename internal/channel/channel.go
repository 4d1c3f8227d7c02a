package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/intervue/internal/observability"
	"github.com/ent0n29/intervue/internal/protocol"
	"github.com/ent0n29/intervue/internal/reliability"
	"github.com/gorilla/websocket"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosed       State = "closed"
	StateErrored      State = "errored"
)

var (
	ErrNotOpen = errors.New("channel: not open")
	ErrClosed  = errors.New("channel: closed")
)

type EventKind int

const (
	EventAssistantText EventKind = iota + 1
	EventAssistantAudio
	EventEvaluation
	EventNotice
)

// Event is one demultiplexed inbound message.
type Event struct {
	Kind        EventKind
	Text        protocol.AssistantText
	Audio       []byte
	AudioFormat string
	Evaluation  protocol.Evaluation
	Notice      string
	ReceivedAt  time.Time
}

type Config struct {
	URL          string
	Header       http.Header
	DialTimeout  time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	Dialer       *websocket.Dialer
}

// Channel is the duplex connection to the interviewer. Outbound frames are
// serialized by a single writer goroutine; inbound messages are decoded by a
// reader goroutine and delivered on Events, which is closed when the
// connection ends. There is no reconnect.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	err         error
	conn        *websocket.Conn
	endCallSent bool
	localClose  bool

	out       chan frame
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	ignored   atomic.Int64
}

type frame struct {
	text     []byte
	binary   []byte
	trailer  []byte
	closeAck chan struct{}
}

func New(cfg Config, logger *slog.Logger) *Channel {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 16 << 20
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Channel{
		cfg:    cfg,
		logger: observability.OrDiscard(logger),
		state:  StateDisconnected,
		out:    make(chan frame, 64),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the transport error that moved the channel to errored, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Events delivers inbound messages. It is closed once the connection ends;
// State then reports closed or errored.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Ignored reports how many inbound messages had an unknown type.
func (c *Channel) Ignored() int64 {
	return c.ignored.Load()
}

// Open dials the interviewer and queues the interview context as the first
// outbound frame. A channel can be opened once.
func (c *Channel) Open(ctx context.Context, meta protocol.InterviewMeta) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("channel: open in state %s", st)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, resp, err := c.cfg.Dialer.DialContext(dialCtx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		err = fmt.Errorf("dial interviewer websocket: %w", err)
		c.mu.Lock()
		c.state = StateErrored
		c.err = err
		c.mu.Unlock()
		c.closeOnce.Do(func() {
			close(c.done)
			close(c.events)
		})
		return err
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	payload, err := json.Marshal(protocol.NewInterviewContext(meta))
	if err != nil {
		_ = conn.Close()
		return err
	}
	c.out <- frame{text: payload}

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)
	c.logger.Info("interviewer channel open", "url", c.cfg.URL)
	return nil
}

// SendSegment queues one finished segment followed by segment_end. The pair
// is written back-to-back by the writer.
func (c *Channel) SendSegment(data []byte) error {
	trailer, err := json.Marshal(protocol.NewSegmentEnd())
	if err != nil {
		return err
	}
	return c.enqueue(frame{binary: data, trailer: trailer})
}

// EndCall asks the interviewer to finish the call. Only the first call sends.
func (c *Channel) EndCall() error {
	c.mu.Lock()
	if c.endCallSent {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	payload, err := json.Marshal(protocol.NewEndCall())
	if err != nil {
		return err
	}
	if err := c.enqueue(frame{text: payload}); err != nil {
		return err
	}
	c.mu.Lock()
	c.endCallSent = true
	c.mu.Unlock()
	return nil
}

func (c *Channel) enqueue(f frame) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	select {
	case c.out <- f:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Channel) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateOpen:
		return nil
	case StateClosed, StateErrored:
		return ErrClosed
	default:
		return ErrNotOpen
	}
}

// Close flushes queued frames, sends a close frame and tears the connection
// down. Frames still queued after the write timeout are dropped.
func (c *Channel) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.state = StateClosed
		c.mu.Unlock()
		c.closeOnce.Do(func() {
			close(c.done)
			close(c.events)
		})
		return nil
	case StateOpen:
		c.localClose = true
	default:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ack := make(chan struct{})
	select {
	case c.out <- frame{closeAck: ack}:
		select {
		case <-ack:
		case <-c.done:
		case <-time.After(c.cfg.WriteTimeout):
		}
	case <-c.done:
	}
	c.shutdown(StateClosed, nil)
	return nil
}

func (c *Channel) shutdown(state State, err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.localClose && state == StateErrored {
			state, err = StateClosed, nil
		}
		c.state = state
		c.err = err
		conn := c.conn
		c.mu.Unlock()

		close(c.done)
		if conn != nil {
			_ = conn.Close()
		}
		if state == StateErrored {
			c.logger.Warn("interviewer channel errored", "error", err)
		} else {
			c.logger.Info("interviewer channel closed")
		}
	})
}

func (c *Channel) writeLoop(conn *websocket.Conn) {
	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.shutdown(StateErrored, fmt.Errorf("write ping: %w", err))
				return
			}
		case f := <-c.out:
			if f.closeAck != nil {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.cfg.WriteTimeout))
				close(f.closeAck)
				return
			}
			if err := c.writeFrame(conn, f); err != nil {
				c.shutdown(StateErrored, fmt.Errorf("write frame: %w", err))
				return
			}
		}
	}
}

func (c *Channel) writeFrame(conn *websocket.Conn, f frame) error {
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if len(f.text) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, f.text); err != nil {
			return err
		}
	}
	if len(f.binary) > 0 {
		if err := conn.WriteMessage(websocket.BinaryMessage, f.binary); err != nil {
			return err
		}
	}
	if len(f.trailer) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, f.trailer); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer close(c.events)

	var format string
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if reliability.IsGracefulClose(err) {
				c.shutdown(StateClosed, nil)
			} else {
				c.shutdown(StateErrored, fmt.Errorf("read: %w", err))
			}
			return
		}

		var ev Event
		switch msgType {
		case websocket.BinaryMessage:
			ev = Event{Kind: EventAssistantAudio, Audio: data, AudioFormat: format}
			format = ""
		case websocket.TextMessage:
			msg, err := protocol.ParseServerMessage(data)
			if err != nil {
				c.ignored.Add(1)
				c.logger.Debug("ignoring inbound message", "error", err)
				continue
			}
			switch m := msg.(type) {
			case protocol.AssistantText:
				ev = Event{Kind: EventAssistantText, Text: m}
			case protocol.AssistantAudio:
				format = m.AudioFormat
				continue
			case protocol.Evaluation:
				ev = Event{Kind: EventEvaluation, Evaluation: m}
			case protocol.RateLimitError:
				ev = Event{Kind: EventNotice, Notice: m.Message}
			default:
				c.ignored.Add(1)
				continue
			}
		default:
			continue
		}
		ev.ReceivedAt = time.Now()

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
