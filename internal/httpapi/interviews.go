package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/intervue/internal/audio"
	"github.com/ent0n29/intervue/internal/events"
	"github.com/ent0n29/intervue/internal/interview"
	"github.com/ent0n29/intervue/internal/redact"
)

type createInterviewRequest struct {
	Title      string `json:"title"`
	Role       string `json:"role"`
	Difficulty string `json:"difficulty"`
	Notes      string `json:"notes"`
	AIVoice    string `json:"aiVoice"`
}

type saveTurnRequest struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	AudioURL  string    `json:"audioUrl"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleCreateInterview(w http.ResponseWriter, r *http.Request) {
	var req createInterviewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	iv, err := s.store.Create(r.Context(), interview.Interview{
		Title:      req.Title,
		Role:       req.Role,
		Difficulty: req.Difficulty,
		Notes:      req.Notes,
		AIVoice:    strings.TrimSpace(req.AIVoice),
	})
	s.metrics.ObservePersist("create", err)
	if err != nil {
		s.respondStoreError(w, "create", err)
		return
	}
	s.metrics.InterviewsByStat.WithLabelValues(string(iv.Status)).Inc()
	respondJSON(w, http.StatusCreated, iv)
}

func (s *Server) handleGetInterview(w http.ResponseWriter, r *http.Request) {
	iv, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, "get", err)
		return
	}
	respondJSON(w, http.StatusOK, iv)
}

func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "upload_too_large", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	speaker := strings.TrimSpace(r.FormValue("speaker"))
	if !interview.ValidSpeaker(speaker) {
		respondError(w, http.StatusBadRequest, "invalid_speaker", "speaker must be user or ai")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing_audio", "multipart field audio is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "empty_audio", "audio part is empty")
		return
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == audio.ContentTypeRaw {
		contentType = audio.SniffContentType(data)
	}

	obj, err := s.store.PutAudio(r.Context(), interview.AudioObject{
		InterviewID: id,
		Speaker:     speaker,
		ContentType: contentType,
		Data:        data,
	})
	s.metrics.ObservePersist("upload", err)
	if err != nil {
		s.respondStoreError(w, "upload", err)
		return
	}
	s.metrics.UploadBytes.WithLabelValues(speaker).Add(float64(len(data)))
	respondJSON(w, http.StatusCreated, map[string]string{
		"audioUrl": strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/v1/audio/" + obj.ID,
	})
}

func (s *Server) handleSaveTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req saveTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	turn := interview.ConversationTurn{
		Speaker:   strings.TrimSpace(req.Speaker),
		Text:      req.Text,
		AudioURL:  strings.TrimSpace(req.AudioURL),
		Timestamp: req.Timestamp,
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	err := s.store.AppendTurn(r.Context(), id, turn)
	s.metrics.ObservePersist("save_turn", err)
	if err != nil {
		s.respondStoreError(w, "save_turn", err)
		return
	}
	text, redactions := redact.Text(turn.Text)
	events.PublishBestEffort(s.publisher, events.SubjectTurnSaved, events.TurnSaved{
		InterviewID: id,
		Speaker:     turn.Speaker,
		Text:        text,
		Redactions:  redactions,
		AudioURL:    turn.AudioURL,
		Timestamp:   turn.Timestamp,
	}, s.logger, s.metrics)
	respondJSON(w, http.StatusCreated, map[string]any{"status": "saved"})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	iv, changed, err := s.store.Complete(r.Context(), id)
	s.metrics.ObservePersist("complete", err)
	if err != nil {
		s.respondStoreError(w, "complete", err)
		return
	}
	if changed {
		s.metrics.InterviewsByStat.WithLabelValues(string(iv.Status)).Inc()
		completedAt := time.Now().UTC()
		if iv.CompletedAt != nil {
			completedAt = *iv.CompletedAt
		}
		events.PublishBestEffort(s.publisher, events.SubjectCompleted, events.Completed{
			InterviewID: id,
			Turns:       len(iv.Conversation),
			CompletedAt: completedAt,
		}, s.logger, s.metrics)
	}
	respondJSON(w, http.StatusOK, iv)
}

func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	obj, err := s.store.GetAudio(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, interview.ErrNotFound) {
		respondError(w, http.StatusNotFound, "audio_not_found", err.Error())
		return
	}
	if err != nil {
		s.respondStoreError(w, "get_audio", err)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}
