package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/salon-concierge/internal/app/bootstrap"
	appconfig "github.com/wolfman30/salon-concierge/internal/config"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

func TestNewServerUsesPort(t *testing.T) {
	srv := newServer(&appconfig.Config{Port: "9191"}, http.NotFoundHandler())
	if srv.Addr != ":9191" {
		t.Fatalf("expected :9191, got %s", srv.Addr)
	}
	if srv.ReadHeaderTimeout == 0 {
		t.Fatalf("expected a read header timeout")
	}
}

func TestDefaultConfigServesMetrics(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_ADDR", "SESSION_BACKEND", "SEED_FILE", "BUSINESS_TIMEZONE", "BUSINESS_OPEN", "BUSINESS_CLOSE", "CLOSED_DAYS"} {
		t.Setenv(key, "")
	}
	app, err := bootstrap.Build(context.Background(), appconfig.Load(), logging.New("error"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := app.Engine.Handle(ctx, "web:metrics", "hello"); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	rr := httptest.NewRecorder()
	newServer(appconfig.Load(), app.Handler).Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "salon_conversation_turns_total") {
		t.Fatalf("expected conversation turn counter to be exported")
	}
}
