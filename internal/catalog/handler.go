package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/wolfman30/salon-concierge/pkg/logging"
)

// Handler serves the public catalog.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

// NewHandler creates a catalog handler.
func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

// StaffSummary is a staff member as shown alongside a service.
type StaffSummary struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Weekdays []string `json:"weekdays"`
}

// ServiceView is a catalog entry with its qualified staff expanded.
type ServiceView struct {
	Service
	Price string         `json:"price"`
	Staff []StaffSummary `json:"staff"`
}

// ListServices handles GET /services.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	services, err := h.repo.ListServices(ctx)
	if err != nil {
		h.logger.Error("failed to list services", "error", err)
		http.Error(w, "Failed to load services", http.StatusServiceUnavailable)
		return
	}

	staffCache := make(map[int64]StaffSummary)
	views := make([]ServiceView, 0, len(services))
	for _, svc := range services {
		view := ServiceView{Service: svc, Price: FormatPrice(svc.PriceCents), Staff: []StaffSummary{}}
		for _, staffID := range svc.StaffIDs {
			summary, ok := staffCache[staffID]
			if !ok {
				staff, err := h.repo.GetStaff(ctx, staffID)
				if err != nil {
					h.logger.Warn("service references unknown staff", "service_id", svc.ID, "staff_id", staffID, "error", err)
					continue
				}
				windows, err := h.repo.StaffAvailability(ctx, staffID)
				if err != nil {
					h.logger.Error("failed to load staff availability", "staff_id", staffID, "error", err)
					http.Error(w, "Failed to load services", http.StatusServiceUnavailable)
					return
				}
				summary = StaffSummary{ID: staff.ID, Name: staff.FullName(), Weekdays: []string{}}
				for _, win := range windows {
					summary.Weekdays = append(summary.Weekdays, win.Weekday.String())
				}
				staffCache[staffID] = summary
			}
			view.Staff = append(view.Staff, summary)
		}
		views = append(views, view)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"services": views})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
