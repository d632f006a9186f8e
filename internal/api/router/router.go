package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/salon-concierge/internal/availability"
	"github.com/wolfman30/salon-concierge/internal/bookings"
	"github.com/wolfman30/salon-concierge/internal/catalog"
	"github.com/wolfman30/salon-concierge/internal/conversation"
	"github.com/wolfman30/salon-concierge/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/salon-concierge/internal/http/middleware"
	"github.com/wolfman30/salon-concierge/internal/webchat"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	CatalogHandler      *catalog.Handler
	AvailabilityHandler *availability.Handler
	BookingsHandler     *bookings.Handler
	ConversationHandler *conversation.Handler
	WebChatHandler      *webchat.Handler
	AdminDashboard      *handlers.AdminDashboardHandler
	MetricsHandler      http.Handler
	AdminAuthSecret     string
	CORSAllowedOrigins  []string

	// RateLimiter guards the write-heavy endpoints. When nil and
	// RateLimitRPS > 0 the router builds its own.
	RateLimiter    *httpmiddleware.RateLimiter
	RateLimitRPS   float64
	RateLimitBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimiter != nil {
		limit = cfg.RateLimiter.Middleware
	} else if cfg.RateLimitRPS > 0 {
		limit = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware
	}

	r.Get("/health", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.CatalogHandler != nil {
		r.Get("/services", cfg.CatalogHandler.ListServices)
	}
	if cfg.AvailabilityHandler != nil {
		r.Route("/availability", func(r chi.Router) {
			r.Get("/", cfg.AvailabilityHandler.GetDay)
			r.Get("/weekly", cfg.AvailabilityHandler.GetWeek)
		})
	}
	if cfg.BookingsHandler != nil {
		r.Route("/bookings", func(r chi.Router) {
			r.Use(limit)
			r.Post("/", cfg.BookingsHandler.Create)
			r.Get("/{id}", cfg.BookingsHandler.Get)
			r.Patch("/{id}", cfg.BookingsHandler.Update)
		})
	}
	if cfg.ConversationHandler != nil {
		r.Route("/conversations", func(r chi.Router) {
			r.With(limit).Post("/start", cfg.ConversationHandler.Start)
			r.With(limit).Post("/message", cfg.ConversationHandler.Message)
			r.Get("/{key}/transcript", cfg.ConversationHandler.Transcript)
		})
	}
	if cfg.WebChatHandler != nil {
		r.Route("/chat", func(r chi.Router) {
			r.Get("/ws", cfg.WebChatHandler.HandleWebSocket)
			r.With(limit).Post("/message", cfg.WebChatHandler.HandleMessage)
			r.Get("/history", cfg.WebChatHandler.HandleHistory)
		})
	}

	// Admin routes. AdminJWT rejects everything when no secret is set.
	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		if cfg.AdminDashboard != nil {
			admin.Get("/stats", cfg.AdminDashboard.Stats)
			admin.Post("/sessions/sweep", cfg.AdminDashboard.SweepSessions)
		}
		if cfg.BookingsHandler != nil {
			admin.Post("/bookings/expire", cfg.BookingsHandler.ExpirePending)
		}
	})

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
