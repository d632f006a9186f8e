package availability

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/internal/catalog"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

// Handler serves the direct availability surfaces.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates an availability handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

type dayResponse struct {
	*DayAvailability
	OpenTimes  map[string][]string `json:"open_times"`
	TakenTimes map[string][]string `json:"taken_times"`
}

// GetDay handles GET /availability.
func (h *Handler) GetDay(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r, "date")
	if err != nil {
		h.writeError(w, err)
		return
	}
	day, err := h.svc.ForDay(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dayResponse{
		DayAvailability: day,
		OpenTimes:       day.OpenByName(),
		TakenTimes:      day.TakenByName(),
	})
}

// GetWeek handles GET /availability/weekly.
func (h *Handler) GetWeek(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r, "start_date")
	if err != nil {
		h.writeError(w, err)
		return
	}
	days, err := h.svc.Weekly(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"service_type": q.ServiceType,
		"start_date":   calendar.FormatDate(q.Date),
		"days":         days,
	})
}

func (h *Handler) parseQuery(r *http.Request, dateParam string) (Query, error) {
	values := r.URL.Query()
	var q Query

	if raw := strings.TrimSpace(values.Get("service_type")); raw != "" {
		t, err := catalog.ParseServiceType(raw)
		if err != nil {
			return q, apperr.Invalid("unknown service_type %q", raw)
		}
		q.ServiceType = t
	}
	id, err := parseID(values.Get("service_id"), "service_id")
	if err != nil {
		return q, err
	}
	q.ServiceID = id
	if q.ServiceID == 0 && !q.ServiceType.Valid() {
		return q, apperr.Invalid("service_type or service_id is required")
	}

	if q.StaffID, err = parseID(values.Get("staff_id"), "staff_id"); err != nil {
		return q, err
	}

	q.Date = h.svc.Today()
	if raw := strings.TrimSpace(values.Get(dateParam)); raw != "" {
		d, err := calendar.ParseDate(raw, h.svc.Location())
		if err != nil {
			return q, apperr.Invalid("%s must be YYYY-MM-DD", dateParam)
		}
		q.Date = d
	}
	return q, nil
}

func parseID(raw, name string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("%s must be a positive integer", name)
	}
	return id, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("availability query failed", "error", err)
		msg = "availability is temporarily unavailable"
	}
	h.writeJSON(w, status, map[string]any{
		"error": msg,
		"kind":  apperr.Kind(err),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
