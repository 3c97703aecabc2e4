package main

import (
	"context"
	"os"
	"time"

	"findoc-backend/internal/shared/config"
	"findoc-backend/internal/shared/storage/db"
	"findoc-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		telemetry.Error("migrate.failed", map[string]any{"error": "DATABASE_URL is required"})
		telemetry.Sync()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err.Error()})
		telemetry.Sync()
		os.Exit(1)
	}
	defer conn.Close()

	if err := db.RunMigrations(ctx, conn); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err.Error()})
		telemetry.Sync()
		os.Exit(1)
	}

	telemetry.Info("migrate.complete", nil)
	telemetry.Sync()
}
