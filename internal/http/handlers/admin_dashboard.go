package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/salon-concierge/internal/audit"
	"github.com/wolfman30/salon-concierge/internal/observability/metrics"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

// AuditCounter tallies booking events; audit.Store satisfies it.
type AuditCounter interface {
	CountByAction(ctx context.Context, since time.Time, actions []audit.Action) (map[audit.Action]int, error)
}

// SessionSweeper removes idle conversation sessions.
type SessionSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// ConnectionCounter reports open web chat sockets.
type ConnectionCounter interface {
	Connections() int
}

// AdminDashboardHandler serves the operator stats and housekeeping
// endpoints.
type AdminDashboardHandler struct {
	gatherer prometheus.Gatherer
	audit    AuditCounter
	sweeper  SessionSweeper
	chat     ConnectionCounter
	window   time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

// NewAdminDashboardHandler wires the dashboard. counter may be nil when no
// database is configured.
func NewAdminDashboardHandler(gatherer prometheus.Gatherer, counter AuditCounter, sweeper SessionSweeper, logger *logging.Logger) *AdminDashboardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &AdminDashboardHandler{
		gatherer: gatherer,
		audit:    counter,
		sweeper:  sweeper,
		window:   24 * time.Hour,
		now:      time.Now,
		logger:   logger,
	}
}

// WithConnections adds the live web chat socket count to the stats.
func (h *AdminDashboardHandler) WithConnections(chat ConnectionCounter) *AdminDashboardHandler {
	h.chat = chat
	return h
}

// StatsResponse is the body of GET /admin/stats.
type StatsResponse struct {
	GeneratedAt   time.Time         `json:"generated_at"`
	Metrics       *metrics.Snapshot `json:"metrics"`
	BookingEvents map[string]int    `json:"booking_events,omitempty"`
	EventsSince   *time.Time        `json:"events_since,omitempty"`
	ChatSockets   *int              `json:"chat_sockets,omitempty"`
}

// Stats handles GET /admin/stats.
func (h *AdminDashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := metrics.TakeSnapshot(h.gatherer)
	if err != nil {
		h.logger.Error("failed to gather metrics", "error", err)
		http.Error(w, "Failed to load stats", http.StatusInternalServerError)
		return
	}
	now := h.now().UTC()
	resp := StatsResponse{GeneratedAt: now, Metrics: snap}
	if h.chat != nil {
		n := h.chat.Connections()
		resp.ChatSockets = &n
	}

	if h.audit != nil {
		since := now.Add(-h.window)
		counts, err := h.audit.CountByAction(r.Context(), since, []audit.Action{
			audit.ActionCreated, audit.ActionConfirmed, audit.ActionCancelled, audit.ActionCompleted, audit.ActionExpired,
		})
		if err != nil {
			// Counters are still useful without the event log.
			h.logger.Warn("failed to count booking events", "error", err)
		} else {
			resp.BookingEvents = make(map[string]int, len(counts))
			for action, n := range counts {
				resp.BookingEvents[string(action)] = n
			}
			resp.EventsSince = &since
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// SweepSessions handles POST /admin/sessions/sweep.
func (h *AdminDashboardHandler) SweepSessions(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		http.Error(w, "session sweep not configured", http.StatusNotImplemented)
		return
	}
	removed, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.logger.Error("session sweep failed", "error", err)
		http.Error(w, "Failed to sweep sessions", http.StatusServiceUnavailable)
		return
	}
	h.logger.Info("sessions swept", "removed", removed)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
