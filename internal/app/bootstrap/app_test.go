package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	appconfig "github.com/wolfman30/salon-concierge/internal/config"
	"github.com/wolfman30/salon-concierge/internal/notify"
	"github.com/wolfman30/salon-concierge/internal/session"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

func memoryConfig() *appconfig.Config {
	return &appconfig.Config{
		PublicBaseURL:         "http://salon.test",
		BusinessName:          "Test Salon",
		SessionBackend:        "memory",
		SessionTTL:            24 * time.Hour,
		SessionSweepInterval:  time.Minute,
		BusinessTimezone:      "UTC",
		BusinessOpen:          "09:00",
		BusinessClose:         "18:00",
		ClosedDays:            []string{"sunday"},
		SlotBufferMinutes:     15,
		DefaultSlotMinutes:    30,
		PendingBookingTTL:     24 * time.Hour,
		BookingExpiryInterval: time.Minute,
		RateLimitRPS:          100,
		RateLimitBurst:        100,
	}
}

func TestBuildRequiresConfig(t *testing.T) {
	if _, err := Build(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestBuildRejectsBadHours(t *testing.T) {
	cfg := memoryConfig()
	cfg.BusinessClose = "08:00"
	if _, err := Build(context.Background(), cfg, logging.New("error")); err == nil {
		t.Fatalf("expected error for close before open")
	}
}

func TestBuildInMemory(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(), logging.New("error"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	if app.Workers.Len() != 3 {
		t.Fatalf("expected sweep, expiry and prune workers, got %d", app.Workers.Len())
	}

	rr := httptest.NewRecorder()
	app.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/services", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /services, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "haircut") {
		t.Fatalf("expected seeded catalog, got %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	app.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/conversations/message",
		strings.NewReader(`{"session_key":"web:boot","message":"hi"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from message, got %d (%s)", rr.Code, rr.Body.String())
	}
	sess, err := app.Engine.Session(context.Background(), "web:boot")
	if err != nil || sess == nil {
		t.Fatalf("expected stored session, got %v / %v", sess, err)
	}
	if sess.Stage != session.StageChoosingService {
		t.Fatalf("expected choosing_service, got %s", sess.Stage)
	}

	// Safe to call twice.
	app.Close()
}

func TestBuildRedisSessionsRequireRedis(t *testing.T) {
	cfg := memoryConfig()
	cfg.SessionBackend = "redis"
	if _, err := Build(context.Background(), cfg, logging.New("error")); err == nil {
		t.Fatalf("expected error without REDIS_ADDR")
	}
}

func TestBuildWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.SessionBackend = "redis"
	cfg.RedisAddr = mr.Addr()

	app, err := Build(context.Background(), cfg, logging.New("error"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	if _, err := app.Engine.Handle(context.Background(), "web:redis", "hi"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if app.Engine.Transcripts() == nil {
		t.Fatalf("expected transcripts with redis configured")
	}
	msgs, err := app.Engine.Transcripts().List(context.Background(), "web:redis", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(msgs))
	}
}

func TestBuildRedisClient(t *testing.T) {
	if c := BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true); c != nil {
		t.Fatalf("expected nil client without address")
	}

	mr := miniredis.RunT(t)
	c := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, nil, true)
	if c == nil {
		t.Fatalf("expected client for reachable redis")
	}
	_ = c.Close()

	addr := mr.Addr()
	mr.Close()
	if c := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, logging.New("error"), true); c != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestBuildEmailSenderFallsBackToStub(t *testing.T) {
	sender := BuildEmailSender(&appconfig.Config{}, logging.New("error"))
	if _, ok := sender.(*notify.StubEmailSender); !ok {
		t.Fatalf("expected stub sender, got %T", sender)
	}

	sender = BuildEmailSender(&appconfig.Config{SendGridAPIKey: "SG.test", SendGridFromEmail: "hi@salon.test"}, logging.New("error"))
	if _, ok := sender.(*notify.SendGridSender); !ok {
		t.Fatalf("expected sendgrid sender, got %T", sender)
	}
}

func TestPostgresHelpersDisabledWithoutURL(t *testing.T) {
	pool, err := BuildPostgresPool(context.Background(), &appconfig.Config{})
	if err != nil || pool != nil {
		t.Fatalf("expected nil pool, got %v / %v", pool, err)
	}
	db, err := BuildAuditDB(&appconfig.Config{})
	if err != nil || db != nil {
		t.Fatalf("expected nil db, got %v / %v", db, err)
	}
}
