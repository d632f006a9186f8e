package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/salon-concierge/internal/app/bootstrap"
	"github.com/wolfman30/salon-concierge/internal/catalog"
	appconfig "github.com/wolfman30/salon-concierge/internal/config"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

// seed loads staff, working hours, services and customers into Postgres.
// The file defaults to SEED_FILE, then to the built-in catalog.
func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	file := flag.String("file", cfg.SeedFile, "seed JSON file (empty uses the built-in catalog)")
	flag.Parse()

	seed, err := catalog.LoadSeedFile(*file)
	if err != nil {
		logger.Error("failed to load seed", "file", *file, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	if err := catalog.NewPostgresRepository(pool).Import(ctx, seed); err != nil {
		logger.Error("seed import failed", "error", err)
		os.Exit(1)
	}
	logger.Info("seed imported",
		"staff", len(seed.Staff),
		"services", len(seed.Services),
		"availability", len(seed.Availability),
		"customers", len(seed.Customers),
	)
}
