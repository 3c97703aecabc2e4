package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gin-gonic/gin"

	"findoc-backend/internal/analyses"
	"findoc-backend/internal/ingest"
	"findoc-backend/internal/pipeline"
	"findoc-backend/internal/server"
	"findoc-backend/internal/shared/config"
	"findoc-backend/internal/shared/metrics"
	"findoc-backend/internal/shared/server/middleware"
	"findoc-backend/internal/shared/storage/db"
	"findoc-backend/internal/shared/telemetry"
	"findoc-backend/internal/tasks"
	"findoc-backend/internal/users"
)

// App holds the wired application.
type App struct {
	Cfg        config.Config
	Router     *gin.Engine
	DB         *sql.DB
	Users      *users.Service
	Analyses   *analyses.Service
	Dispatcher *tasks.Dispatcher
}

// Build wires repositories, services, the worker pool, and the HTTP router.
// With DATABASE_URL unset outside production it falls back to in-memory
// repositories so the service runs without infrastructure.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	var (
		sqlDB        *sql.DB
		usersRepo    users.Repo
		analysesRepo analyses.Repo
		taskStore    tasks.Store
	)

	if cfg.DatabaseURL != "" {
		conn, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.RunMigrations(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		sqlDB = conn
		usersRepo = &users.PGRepo{DB: conn}
		analysesRepo = &analyses.PGRepo{DB: conn}
		taskStore = &tasks.PGStore{DB: conn}
	} else {
		if cfg.Env == "production" {
			return nil, fmt.Errorf("DATABASE_URL is required in production")
		}
		telemetry.Info("storage.memory_fallback", map[string]any{"env": cfg.Env})
		usersRepo = users.NewMemoryRepo()
		analysesRepo = analyses.NewMemoryRepo()
		taskStore = tasks.NewMemoryStore()
	}

	runner, err := buildRunner(cfg)
	if err != nil {
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, err
	}

	dispatcher := tasks.NewDispatcher(taskStore, runner, cfg.TaskWorkers, cfg.TaskMaxRetries)
	dispatcher.Start()

	usersSvc := users.NewService(usersRepo)
	analysesSvc := &analyses.Service{
		Repo:            analysesRepo,
		Users:           usersSvc,
		Ingestor:        ingest.New(cfg.WorkDir),
		Dispatcher:      dispatcher,
		Recorder:        metrics.NewRecorder(sqlDB),
		DuplicateWindow: cfg.DuplicateWindow,
		DefaultQuery:    cfg.DefaultQuery,
	}

	router := server.New(cfg,
		users.NewHandler(usersSvc),
		analyses.NewHandler(analysesSvc, cfg.MaxUploadBytes),
		middleware.NewRateLimiter(middleware.RateLimitConfig{}),
	)

	return &App{
		Cfg:        cfg,
		Router:     router,
		DB:         sqlDB,
		Users:      usersSvc,
		Analyses:   analysesSvc,
		Dispatcher: dispatcher,
	}, nil
}

// Close stops the worker pool and releases shared resources.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Stop()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	telemetry.Sync()
}

func buildRunner(cfg config.Config) (pipeline.Runner, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			telemetry.Info("pipeline.placeholder", map[string]any{"reason": "OPENAI_API_KEY not set"})
			return pipeline.Placeholder{}, nil
		}
		runner, err := pipeline.NewOpenAIRunner(cfg.OpenAIAPIKey, cfg.LLMModel, pipeline.NewSerperClient(cfg.SerperAPIKey))
		if err != nil {
			return nil, fmt.Errorf("configure openai runner: %w", err)
		}
		return runner, nil
	case "", "none":
		return pipeline.Placeholder{}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
