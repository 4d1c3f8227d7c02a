package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/intervue/internal/calls"
	"github.com/ent0n29/intervue/internal/config"
	"github.com/ent0n29/intervue/internal/events"
	"github.com/ent0n29/intervue/internal/interview"
	"github.com/ent0n29/intervue/internal/mockai"
	"github.com/ent0n29/intervue/internal/observability"
)

// Interviewer drives one websocket call. Inbound carries decoded client
// messages and mockai.AudioFrame values; outbound accepts protocol messages
// and mockai.AudioFrame values.
type Interviewer interface {
	RunConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) (mockai.Result, error)
}

type Server struct {
	cfg         config.Config
	store       interview.Store
	calls       *calls.Manager
	interviewer Interviewer
	publisher   events.Publisher
	metrics     *observability.Metrics
	logger      *slog.Logger
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(cfg config.Config, store interview.Store, callManager *calls.Manager, interviewer Interviewer, publisher events.Publisher, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if publisher == nil {
		publisher = events.Nop{}
	}
	s := &Server{
		cfg:         cfg,
		store:       store,
		calls:       callManager,
		interviewer: interviewer,
		publisher:   publisher,
		metrics:     metrics,
		logger:      observability.OrDiscard(logger),
		cancels:     make(map[string]context.CancelFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.AllowAnyOrigin || sameOrigin(r)
			},
		},
	}
	if callManager != nil {
		callManager.SetExpireHook(s.ExpireCall)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/interviews", s.handleCreateInterview)
	r.Get("/v1/interviews/{id}", s.handleGetInterview)
	r.Post("/v1/interviews/{id}/upload-audio", s.handleUploadAudio)
	r.Post("/v1/interviews/{id}/conversation", s.handleSaveTurn)
	r.Post("/v1/interviews/{id}/complete", s.handleComplete)
	r.Get("/v1/audio/{id}", s.handleGetAudio)
	r.Get("/ws/interview", s.handleInterviewWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"store_mode":   s.storeMode(),
		"active_calls": s.activeCalls(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) storeMode() string {
	switch s.store.(type) {
	case *interview.PostgresStore:
		return "postgres"
	case *interview.SQLiteStore:
		return "sqlite"
	case *interview.InMemoryStore:
		return "in-memory"
	default:
		return "custom"
	}
}

func (s *Server) activeCalls() int {
	if s.calls == nil {
		return 0
	}
	return s.calls.ActiveCount()
}

// sameOrigin accepts requests without an Origin header (the terminal
// client) and browser requests from the serving host.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(out)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondStoreError maps store sentinels onto HTTP statuses.
func (s *Server) respondStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, interview.ErrNotFound):
		respondError(w, http.StatusNotFound, "interview_not_found", err.Error())
	case errors.Is(err, interview.ErrInvalid):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.logger.Error("store operation failed", "op", op, "error", err)
		respondError(w, http.StatusInternalServerError, "store_error", "internal error")
	}
}
