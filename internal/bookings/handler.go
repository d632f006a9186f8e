package bookings

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/internal/catalog"
	httpmiddleware "github.com/wolfman30/salon-concierge/internal/http/middleware"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

// Handler serves the booking endpoints.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates a booking handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// View is the JSON form of a booking.
type View struct {
	ID          string              `json:"id"`
	Status      Status              `json:"status"`
	CustomerID  int64               `json:"customer_id"`
	ServiceType catalog.ServiceType `json:"service_type"`
	ServiceID   int64               `json:"service_id"`
	StaffID     int64               `json:"staff_id"`
	Date        string              `json:"date"`
	Time        calendar.Clock      `json:"time"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// ViewOf renders b for JSON responses.
func ViewOf(b *Booking) View {
	return View{
		ID:          b.ID.String(),
		Status:      b.Status,
		CustomerID:  b.CustomerID,
		ServiceType: b.ServiceType,
		ServiceID:   b.ServiceID,
		StaffID:     b.StaffID,
		Date:        calendar.FormatDate(b.Date),
		Time:        b.Time,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

const maxBodyBytes = 64 << 10

// Create handles POST /bookings.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	req.Actor = httpmiddleware.ActorFromContext(r.Context())

	b, err := h.svc.Commit(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ViewOf(b))
}

// Get handles GET /bookings/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := bookingID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	b, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ViewOf(b))
}

type updateRequest struct {
	Action string `json:"action"`
}

// Update handles PATCH /bookings/{id} with {"action": "confirm|cancel|complete"}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := bookingID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req updateRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	var to Status
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "confirm":
		to = StatusConfirmed
	case "cancel":
		to = StatusCancelled
	case "complete":
		to = StatusCompleted
	default:
		h.writeError(w, apperr.Invalid("action must be confirm, cancel or complete"))
		return
	}

	b, err := h.svc.Transition(r.Context(), id, to, httpmiddleware.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ViewOf(b))
}

// ExpirePending handles POST /admin/bookings/expire.
func (h *Handler) ExpirePending(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ExpireDue(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func bookingID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Invalid("booking id %q is not valid", raw)
	}
	return id, nil
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("request body is required")
		}
		return apperr.Invalid("invalid JSON: %v", err)
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	body := map[string]any{"error": err.Error(), "kind": apperr.Kind(err)}

	var conflict *apperr.SlotConflictError
	if errors.As(err, &conflict) {
		body["error"] = "slot no longer available"
		body["slot"] = map[string]any{
			"staff_id": conflict.StaffID,
			"date":     calendar.FormatDate(conflict.Date),
			"time":     conflict.Time.String(),
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("booking request failed", "error", err)
		body["error"] = "we're having technical difficulties, please try again shortly"
	}
	h.writeJSON(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
