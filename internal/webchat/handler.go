// Package webchat serves the browser chat surface over WebSocket with an
// HTTP fallback. Every message is handled synchronously by the
// conversation engine.
package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/salon-concierge/internal/conversation"
	"github.com/wolfman30/salon-concierge/internal/session"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

const historyLimit = 50

// Conversation is the engine surface the chat needs.
type Conversation interface {
	Greet(ctx context.Context, key string) (conversation.Reply, error)
	Handle(ctx context.Context, key, text string) (conversation.Reply, error)
}

// TranscriptStore reads chat history.
type TranscriptStore interface {
	List(ctx context.Context, sessionKey string, limit int64) ([]conversation.TranscriptMessage, error)
}

// Handler manages web chat connections and messages.
type Handler struct {
	engine     Conversation
	transcript TranscriptStore
	logger     *logging.Logger

	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

// InboundMessage is what the widget sends.
type InboundMessage struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type      string           `json:"type"` // "message", "typing", "history", "session", "error", "pong"
	Text      string           `json:"text,omitempty"`
	Role      string           `json:"role,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Stage     session.Stage    `json:"stage,omitempty"`
	Booking   *session.Draft   `json:"booking,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	Messages  []HistoryMessage `json:"messages,omitempty"`
}

// HistoryMessage is a simplified message for history responses.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// NewHandler creates a web chat handler. transcript may be nil.
func NewHandler(engine Conversation, transcript TranscriptStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		engine:     engine,
		transcript: transcript,
		logger:     logger,
		conns:      make(map[string]*websocket.Conn),
	}
}

// SessionKey builds the conversation session key for a web chat session.
func SessionKey(sessionID string) string {
	return "webchat:" + sessionID
}

func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = generateSessionID()
	}
	key := SessionKey(sessionID)

	_ = websocket.JSON.Send(conn, OutboundMessage{Type: "session", SessionID: sessionID})

	history := h.history(ctx, key, historyLimit)
	if len(history) > 0 {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "history", Messages: history})
	} else {
		reply, err := h.engine.Greet(ctx, key)
		if err != nil {
			h.logger.Error("webchat: greet failed", "session_key", key, "error", err)
		}
		_ = websocket.JSON.Send(conn, replyMessage(reply))
	}

	h.mu.Lock()
	h.conns[key] = conn
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.conns[key] == conn {
			delete(h.conns, key)
		}
		h.mu.Unlock()
	}()

	h.logger.Info("webchat: connection opened", "session_key", key)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "session_key", key, "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
			continue
		}
		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "typing"})
		reply, err := h.engine.Handle(ctx, key, msg.Text)
		if err != nil {
			h.logger.Error("webchat: turn failed", "session_key", key, "error", err)
			if reply.Text == "" {
				_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "Sorry, something went wrong. Please try again."})
				continue
			}
		}
		_ = websocket.JSON.Send(conn, replyMessage(reply))
	}
}

// Connections reports how many sockets are open.
func (h *Handler) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func replyMessage(reply conversation.Reply) OutboundMessage {
	return OutboundMessage{
		Type:      "message",
		Role:      conversation.RoleAssistant,
		Text:      reply.Text,
		Stage:     reply.Stage,
		Booking:   reply.Booking,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// HandleMessage is the HTTP fallback for sending messages.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = generateSessionID()
	}

	status := http.StatusOK
	reply, err := h.engine.Handle(r.Context(), SessionKey(req.SessionID), req.Text)
	if err != nil {
		h.logger.Error("webchat: turn failed", "session_id", req.SessionID, "error", err)
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"session_id": req.SessionID,
		"reply":      reply.Text,
		"stage":      reply.Stage,
		"booking":    reply.Booking,
	})
}

// HandleHistory returns chat history for a session.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}

	var history []HistoryMessage
	if h.transcript != nil {
		msgs, err := h.transcript.List(r.Context(), SessionKey(sessionID), 100)
		if err != nil {
			h.logger.Error("webchat: failed to load history", "error", err)
			http.Error(w, "failed to load history", http.StatusInternalServerError)
			return
		}
		history = toHistory(msgs)
	}
	if history == nil {
		history = []HistoryMessage{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": history})
}

func (h *Handler) history(ctx context.Context, key string, limit int64) []HistoryMessage {
	if h.transcript == nil {
		return nil
	}
	msgs, err := h.transcript.List(ctx, key, limit)
	if err != nil {
		h.logger.Warn("webchat: failed to load history", "session_key", key, "error", err)
		return nil
	}
	return toHistory(msgs)
}

func toHistory(msgs []conversation.TranscriptMessage) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryMessage{
			Role:      m.Role,
			Text:      m.Body,
			Timestamp: m.Timestamp.Format(time.RFC3339),
		})
	}
	return out
}
