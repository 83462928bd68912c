package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/service/assist"
)

// MaxChunkBytes bounds the audio body of one chunk.
const MaxChunkBytes = 1 << 20

// Assistant is the session API served over HTTP.
type Assistant interface {
	StartSession(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) error
	SubmitChunk(ctx context.Context, sessionID string, sequence uint64, audio []byte) error
	GetLatestAssistance(sessionID string) (models.RealTimeAssistance, error)
	Subscribe(sessionID string) (<-chan models.RealTimeAssistance, func(), error)
}

// NewRouter constructs the HTTP router for the service. ready backs the
// readiness probe; nil means always ready.
func NewRouter(svc Assistant, ready func() bool) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	h := &handlers{svc: svc}

	// API routes
	r.Route("/v1/sessions/{id}", func(r chi.Router) {
		r.Post("/", h.startSession)
		r.Delete("/", h.endSession)
		r.Post("/chunks/{seq}", h.submitChunk)
		r.Get("/assistance", h.latest)
		r.Get("/ws", h.stream)
	})

	return r
}

type handlers struct {
	svc Assistant
}

type ackResponse struct {
	SessionID string `json:"sessionId"`
	Sequence  uint64 `json:"sequence,omitempty"`
	// Buffered is set when a chunk was accepted ahead of a missing predecessor.
	Buffered bool `json:"buffered,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.StartSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{SessionID: id})
}

func (h *handlers) endSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.EndSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) submitChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sequence must be a non-negative integer", Code: "invalid_sequence"})
		return
	}
	audio, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxChunkBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error(), Code: "chunk_too_large"})
		return
	}

	err = h.svc.SubmitChunk(r.Context(), id, seq, audio)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, ackResponse{SessionID: id, Sequence: seq})
	case errors.Is(err, assist.ErrSequenceOutOfOrder):
		writeJSON(w, http.StatusAccepted, ackResponse{SessionID: id, Sequence: seq, Buffered: true})
	default:
		writeError(w, err)
	}
}

func (h *handlers) latest(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetLatestAssistance(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

// writeError maps session lifecycle errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, assist.ErrSessionNotFound):
		status, code = http.StatusNotFound, "session_not_found"
	case errors.Is(err, assist.ErrNoAssistanceYet):
		status, code = http.StatusNotFound, "no_assistance_yet"
	case errors.Is(err, assist.ErrStaleSequence):
		status, code = http.StatusConflict, "stale_sequence"
	case errors.Is(err, assist.ErrInvalidSessionID):
		status, code = http.StatusBadRequest, "invalid_session_id"
	case errors.Is(err, assist.ErrShutdown):
		status, code = http.StatusServiceUnavailable, "shutting_down"
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}
