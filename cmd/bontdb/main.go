package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brain-byt-es/bont-db-sub000/internal/adapters/legacy"
	"github.com/brain-byt-es/bont-db-sub000/internal/audit"
	"github.com/brain-byt-es/bont-db-sub000/internal/certification"
	"github.com/brain-byt-es/bont-db-sub000/internal/draftcache"
	encounterapi "github.com/brain-byt-es/bont-db-sub000/internal/encounter/api"
	encounterinfra "github.com/brain-byt-es/bont-db-sub000/internal/encounter/infrastructure"
	encountersvc "github.com/brain-byt-es/bont-db-sub000/internal/encounter/service"
	"github.com/brain-byt-es/bont-db-sub000/internal/goal"
	"github.com/brain-byt-es/bont-db-sub000/internal/kurrentdb"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/auth"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/config"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/database"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/logging"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/metrics"
	secmiddleware "github.com/brain-byt-es/bont-db-sub000/internal/shared/middleware"
)

// App holds the application dependencies
type App struct {
	Config   *config.Config
	DB       *database.DB
	Events   *kurrentdb.Client
	Importer *legacy.Importer
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Server.Env)
	app := &App{Config: cfg}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	app.DB = db
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	// Audit backend: PostgreSQL by default, KurrentDB when configured.
	// KurrentDB skips the transactional audit-first coupling on status
	// transitions, so postgres is the safer default.
	var auditRepo audit.Repository
	switch cfg.Audit.Backend {
	case "kurrentdb":
		client, err := kurrentdb.NewClient(kurrentdb.FromConfig(cfg.KurrentDB))
		if err != nil {
			logger.Fatal().Err(err).Msg("kurrentdb connection failed")
		}
		app.Events = client
		defer client.Close()
		auditRepo = audit.NewKurrentDBRepository(client.DB())
		logger.Info().Msg("audit backend: kurrentdb")
	default:
		auditRepo = audit.NewPostgresRepository(db.Pool)
		logger.Info().Msg("audit backend: postgres")
	}
	if err := auditRepo.Initialize(ctx); err != nil {
		logger.Fatal().Err(err).Msg("audit initialization failed")
	}

	// Encounter module
	encounterRepo := encounterinfra.NewPostgresRepository(db.Pool)
	store := encounterinfra.NewAtomicStore(encounterRepo, auditRepo)

	// Goal module; carry-forward reads target history from encounters
	goalRepo := goal.NewPostgresRepository(db.Pool)
	tracker := goal.NewTracker(goalRepo, encounterRepo)

	svc := encountersvc.NewService(store, auditRepo, tracker)

	// Certification policy comes from the certifying body's published
	// requirements, so it is configuration.
	policy, err := certification.FromConfig(cfg.Certification)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid certification config")
	}
	aggregator := certification.NewAggregator(policy, encounterRepo)

	// Resume-draft cache
	var cache draftcache.Cache
	switch cfg.DraftCache.Backend {
	case "redis":
		redisCache := draftcache.NewRedisCache(cfg.DraftCache.RedisAddr, cfg.DraftCache.TTL)
		defer redisCache.Close()
		cache = redisCache
		logger.Info().Str("addr", cfg.DraftCache.RedisAddr).Msg("draft cache: redis")
	default:
		cache = draftcache.NewMemoryCache(cfg.DraftCache.TTL)
		logger.Info().Msg("draft cache: memory")
	}

	// Legacy practice-system importer
	if cfg.LegacyImport.Enabled {
		app.Importer = legacy.New(cfg.LegacyImport, encounterRepo, auditRepo)
		if err := app.Importer.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("legacy importer failed to start, continuing without it")
			app.Importer = nil
		} else {
			logger.Info().
				Str("host", cfg.LegacyImport.Host).
				Dur("poll_interval", cfg.LegacyImport.PollInterval).
				Msg("legacy importer started")
		}
	}

	rateLimiter := secmiddleware.NewIPRateLimiter(50, 100)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(logging.RequestLogger(logger))
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))
	r.Use(rateLimiter.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler())
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", infoHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		encounterHandler := encounterapi.NewHandler(svc)
		r.Mount("/treatments", encounterHandler.Routes())

		draftsHandler := encounterapi.NewDraftsHandler(cache)
		r.Mount("/drafts", draftsHandler.Routes())

		goalHandler := goal.NewHandler(tracker)
		r.Mount("/goals", goalHandler.Routes())

		certHandler := certification.NewHandler(aggregator)
		r.Mount("/certification", certHandler.Routes())

		auditHandler := audit.NewHandler(auditRepo)
		r.Mount("/audit", auditHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if app.Importer != nil {
			if err := app.Importer.Stop(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("importer shutdown error")
			}
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
		close(done)
	}()

	logger.Info().
		Int("port", cfg.Server.Port).
		Str("env", cfg.Server.Env).
		Str("audit_backend", cfg.Audit.Backend).
		Str("specialty", cfg.Certification.Specialty).
		Msg("botulinum treatment documentation service listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}

	<-done
	logger.Info().Msg("server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "bont-db",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if err := app.DB.Health(r.Context()); err != nil {
			checks["database"] = "not ready: " + err.Error()
		} else {
			checks["database"] = "ready"
		}

		if app.Events != nil {
			if err := app.Events.HealthCheck(r.Context()); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		}

		if app.Importer != nil {
			if err := app.Importer.Health(r.Context()); err != nil {
				checks["legacy_import"] = "not ready: " + err.Error()
			} else {
				checks["legacy_import"] = "ready"
			}
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
