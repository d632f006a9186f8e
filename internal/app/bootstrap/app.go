package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/salon-concierge/internal/api/router"
	"github.com/wolfman30/salon-concierge/internal/audit"
	"github.com/wolfman30/salon-concierge/internal/availability"
	"github.com/wolfman30/salon-concierge/internal/bookings"
	"github.com/wolfman30/salon-concierge/internal/catalog"
	appconfig "github.com/wolfman30/salon-concierge/internal/config"
	"github.com/wolfman30/salon-concierge/internal/conversation"
	"github.com/wolfman30/salon-concierge/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/salon-concierge/internal/http/middleware"
	"github.com/wolfman30/salon-concierge/internal/notify"
	"github.com/wolfman30/salon-concierge/internal/observability/metrics"
	"github.com/wolfman30/salon-concierge/internal/session"
	"github.com/wolfman30/salon-concierge/internal/webchat"
	"github.com/wolfman30/salon-concierge/internal/worker/housekeeping"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

// App is the fully wired API process.
type App struct {
	Handler  http.Handler
	Engine   *conversation.Engine
	Bookings *bookings.Service
	Slots    *availability.Service
	Workers  *housekeeping.Group
	Registry *prometheus.Registry

	pool   *pgxpool.Pool
	sqlDB  *sql.DB
	redis  *redis.Client
	closed bool
}

// Build wires storage, services, handlers and housekeeping from cfg.
// Without DATABASE_URL the catalog is loaded from the seed file and bookings
// live in memory; without REDIS_ADDR sessions stay in memory and transcripts
// are disabled.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	hours, err := cfg.BusinessHours()
	if err != nil {
		return nil, err
	}

	app := &App{Registry: prometheus.NewRegistry()}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bookingMetrics := metrics.NewBookingMetrics(app.Registry)
	conversationMetrics := metrics.NewConversationMetrics(app.Registry)

	var (
		catalogRepo catalog.Repository
		bookingRepo bookings.Repository
	)
	app.pool, err = BuildPostgresPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if app.pool != nil {
		catalogRepo = catalog.NewPostgresRepository(app.pool)
		bookingRepo = bookings.NewPostgresRepository(app.pool, loc)
		logger.Info("using postgres storage")
	} else {
		seed, err := catalog.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load seed: %w", err)
		}
		mem := catalog.NewInMemoryRepository()
		if err := seed.Apply(ctx, mem); err != nil {
			return nil, fmt.Errorf("bootstrap: apply seed: %w", err)
		}
		catalogRepo = mem
		bookingRepo = bookings.NewInMemoryRepository()
		logger.Warn("DATABASE_URL not set; using in-memory catalog and bookings")
	}

	slots := availability.NewService(catalogRepo, bookingRepo, hours, logger,
		availability.WithLocation(loc),
		availability.WithMetrics(bookingMetrics),
	)

	bookingOpts := []bookings.Option{
		bookings.WithMetrics(bookingMetrics),
		bookings.WithPendingTTL(cfg.PendingBookingTTL),
		bookings.WithMailer(notify.NewBookingMailer(BuildEmailSender(cfg, logger), cfg.BusinessName, logger)),
	}
	var auditStore *audit.Store
	if app.sqlDB, err = BuildAuditDB(cfg); err != nil {
		app.Close()
		return nil, err
	}
	if app.sqlDB != nil {
		auditStore = audit.NewStore(app.sqlDB)
		bookingOpts = append(bookingOpts, bookings.WithAuditor(auditStore))
	}
	bookingSvc := bookings.NewService(bookingRepo, catalogRepo, slots, logger, bookingOpts...)

	app.redis = BuildRedisClient(ctx, cfg, logger, true)
	var sessions session.Store = session.NewMemoryStore()
	if cfg.UseRedisSessions() {
		if app.redis == nil {
			app.Close()
			return nil, fmt.Errorf("bootstrap: SESSION_BACKEND=redis requires a reachable REDIS_ADDR")
		}
		sessions = session.NewRedisStore(app.redis, cfg.SessionTTL)
	}
	engine := conversation.NewEngine(sessions, slots, catalogRepo, logger,
		conversation.WithTranscripts(conversation.NewTranscriptStore(app.redis)),
		conversation.WithMetrics(conversationMetrics),
		conversation.WithConfig(conversation.Config{
			BusinessName:  cfg.BusinessName,
			PublicBaseURL: cfg.PublicBaseURL,
			SessionTTL:    cfg.SessionTTL,
		}),
	)

	var limiter *httpmiddleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	var counter handlers.AuditCounter
	if auditStore != nil {
		counter = auditStore
	}
	var transcripts webchat.TranscriptStore
	if ts := engine.Transcripts(); ts != nil {
		transcripts = ts
	}

	chat := webchat.NewHandler(engine, transcripts, logger)
	dashboard := handlers.NewAdminDashboardHandler(app.Registry, counter, engine, logger).WithConnections(chat)

	app.Handler = router.New(&router.Config{
		Logger:              logger,
		CatalogHandler:      catalog.NewHandler(catalogRepo, logger),
		AvailabilityHandler: availability.NewHandler(slots, logger),
		BookingsHandler:     bookings.NewHandler(bookingSvc, logger),
		ConversationHandler: conversation.NewHandler(engine, logger),
		WebChatHandler:      chat,
		AdminDashboard:      dashboard,
		MetricsHandler:      promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}),
		AdminAuthSecret:     cfg.AdminJWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimiter:         limiter,
	})

	workers := []*housekeeping.Worker{
		housekeeping.NewWorker("session-sweep", housekeeping.SessionSweep(engine), logger).
			WithInterval(cfg.SessionSweepInterval),
		housekeeping.NewWorker("booking-expiry", housekeeping.BookingExpiry(bookingSvc), logger).
			WithInterval(cfg.BookingExpiryInterval),
	}
	if limiter != nil {
		workers = append(workers, housekeeping.NewWorker("rate-limit-prune", housekeeping.LimiterPrune(limiter), logger))
	}
	app.Workers = housekeeping.NewGroup(workers...)

	app.Engine = engine
	app.Bookings = bookingSvc
	app.Slots = slots
	return app, nil
}

// Close releases database and Redis connections. It is safe to call more
// than once.
func (a *App) Close() {
	if a == nil || a.closed {
		return
	}
	a.closed = true
	if a.pool != nil {
		a.pool.Close()
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
