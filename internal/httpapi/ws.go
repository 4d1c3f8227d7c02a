package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/intervue/internal/calls"
	"github.com/ent0n29/intervue/internal/events"
	"github.com/ent0n29/intervue/internal/interview"
	"github.com/ent0n29/intervue/internal/mockai"
	"github.com/ent0n29/intervue/internal/protocol"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 16 << 20
)

func (s *Server) handleInterviewWS(w http.ResponseWriter, r *http.Request) {
	if s.interviewer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "interviewer not configured")
		return
	}
	interviewID := strings.TrimSpace(r.URL.Query().Get("interview_id"))
	if interviewID != "" {
		if _, err := s.store.Get(r.Context(), interviewID); err != nil {
			s.respondStoreError(w, "ws_lookup", err)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	call := s.calls.Create(interviewID)
	s.metrics.ActiveCalls.Set(float64(s.calls.ActiveCount()))
	s.metrics.CallEvents.WithLabelValues("ws_connected").Inc()
	logger := s.logger.With("call_id", call.ID, "interview_id", interviewID)
	logger.Info("interviewer call connected")

	// Detached from the request so a clean end_call can still flush its reply.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.trackCancel(call.ID, cancel)
	defer s.untrackCancel(call.ID)

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})
	var result mockai.Result

	go func() {
		defer close(runDone)
		defer close(outbound)
		res, err := s.interviewer.RunConnection(ctx, inbound, outbound)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("interviewer run failed", "error", err)
		}
		result = res
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			var err error
			if frame, ok := msg.(mockai.AudioFrame); ok {
				err = conn.WriteMessage(websocket.BinaryMessage, frame.Data)
				s.metrics.WSMessages.WithLabelValues("outbound", "binary").Inc()
			} else {
				err = conn.WriteJSON(msg)
				if t, ok := protocol.TypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
			if err != nil {
				logger.Debug("ws write failed", "error", err)
				cancel()
				_ = conn.SetReadDeadline(time.Now())
				// Keep draining so the interviewer never blocks on a dead socket.
				for range outbound {
				}
				return
			}
		}
		// The interviewer finished: close the socket cleanly.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"),
			time.Now().Add(wsWriteTimeout))
		// Give the client a moment to answer the close handshake.
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_ = s.calls.Touch(call.ID)
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteTimeout))
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_ = s.calls.Touch(call.ID)

		var msg any
		switch msgType {
		case websocket.BinaryMessage:
			msg = mockai.AudioFrame{Data: data}
			s.metrics.WSMessages.WithLabelValues("inbound", "binary").Inc()
		case websocket.TextMessage:
			parsed, err := protocol.ParseClientMessage(data)
			if err != nil {
				s.metrics.WSMessages.WithLabelValues("inbound", "unsupported").Inc()
				continue
			}
			if t, ok := protocol.TypeOf(parsed); ok {
				s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
			}
			switch m := parsed.(type) {
			case protocol.InterviewContext:
				_ = s.calls.Describe(call.ID, m.Data.Role, m.Data.AIVoice)
			case protocol.SegmentEnd:
				_, _ = s.calls.RecordSegment(call.ID)
			}
			msg = parsed
		default:
			continue
		}

		select {
		case <-ctx.Done():
			break readLoop
		case <-runDone:
			break readLoop
		case inbound <- msg:
		}
	}

	reason := calls.ReasonDisconnect
	close(inbound)
	<-runDone
	<-writerDone
	cancel()
	if result.EndedByClient {
		reason = calls.ReasonEndCall
	}
	s.finishCall(call.ID, interviewID, reason, result, logger)
}

func (s *Server) finishCall(callID, interviewID, reason string, result mockai.Result, logger *slog.Logger) {
	ended, err := s.calls.End(callID, reason)
	if err != nil {
		return
	}
	s.calls.Forget(callID)
	s.metrics.ActiveCalls.Set(float64(s.calls.ActiveCount()))
	s.metrics.CallEvents.WithLabelValues("ws_disconnected").Inc()
	s.metrics.CallEvents.WithLabelValues("ended_" + ended.EndReason).Inc()

	if interviewID != "" && len(result.Evaluation) > 0 {
		err := s.store.SetEvaluation(context.Background(), interviewID, result.Evaluation)
		s.metrics.ObservePersist("evaluation", err)
		if err != nil && !errors.Is(err, interview.ErrNotFound) {
			logger.Warn("store evaluation failed", "error", err)
		}
	}
	events.PublishBestEffort(s.publisher, events.SubjectCallEnded, events.CallEnded{
		CallID:      callID,
		InterviewID: interviewID,
		Segments:    ended.Segments,
		Duration:    ended.LastActivityAt.Sub(ended.StartedAt),
		Reason:      ended.EndReason,
	}, s.logger, s.metrics)
	logger.Info("interviewer call ended", "reason", ended.EndReason, "segments", ended.Segments)
}

// ExpireCall closes the websocket of a call the janitor expired.
func (s *Server) ExpireCall(c *calls.Call) {
	s.mu.Lock()
	cancel := s.cancels[c.ID]
	s.mu.Unlock()
	if cancel != nil {
		s.logger.Info("closing inactive call", "call_id", c.ID)
		cancel()
	}
}

func (s *Server) trackCancel(callID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[callID] = cancel
	s.mu.Unlock()
}

func (s *Server) untrackCancel(callID string) {
	s.mu.Lock()
	delete(s.cancels, callID)
	s.mu.Unlock()
}

// CloseCalls cancels every live call. Used on shutdown.
func (s *Server) CloseCalls() {
	s.mu.Lock()
	cancels := make(map[string]context.CancelFunc, len(s.cancels))
	for id, cancel := range s.cancels {
		cancels[id] = cancel
	}
	s.mu.Unlock()
	for id, cancel := range cancels {
		_, _ = s.calls.End(id, calls.ReasonShutdown)
		cancel()
	}
}
