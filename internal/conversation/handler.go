package conversation

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

// StartRequest opens a conversation. SessionKey is optional.
type StartRequest struct {
	SessionKey string `json:"session_key"`
}

// MessageRequest carries one user message.
type MessageRequest struct {
	SessionKey string `json:"session_key"`
	Message    string `json:"message"`
}

// Handler wires HTTP requests to the conversation engine.
type Handler struct {
	engine *Engine
	logger *logging.Logger
}

// NewHandler creates a conversation handler.
func NewHandler(engine *Engine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

// Start handles POST /conversations/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.Error("failed to decode start request", "error", err)
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	resp, err := h.engine.Greet(r.Context(), req.SessionKey)
	if err != nil {
		h.logger.Error("failed to start conversation", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// Message handles POST /conversations/message.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode message request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.engine.Handle(r.Context(), req.SessionKey, req.Message)
	if err != nil {
		status := apperr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("failed to process message", "error", err)
			h.writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		h.writeJSON(w, status, map[string]any{"error": err.Error(), "kind": apperr.Kind(err)})
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Transcript handles GET /conversations/{key}/transcript.
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	messages, err := h.engine.Transcripts().List(r.Context(), key, limit)
	if err != nil {
		h.logger.Error("failed to list transcript", "session", key, "error", err)
		http.Error(w, "Failed to load transcript", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"session_key": key,
		"messages":    messages,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
