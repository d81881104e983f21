// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/olegiv/ocms-publish/internal/cache"
	"github.com/olegiv/ocms-publish/internal/config"
	"github.com/olegiv/ocms-publish/internal/handler"
	"github.com/olegiv/ocms-publish/internal/handler/api"
	"github.com/olegiv/ocms-publish/internal/logging"
	"github.com/olegiv/ocms-publish/internal/metrics"
	"github.com/olegiv/ocms-publish/internal/middleware"
	"github.com/olegiv/ocms-publish/internal/notify"
	"github.com/olegiv/ocms-publish/internal/service"
	"github.com/olegiv/ocms-publish/internal/store"
	"github.com/olegiv/ocms-publish/internal/tracing"
	"github.com/olegiv/ocms-publish/internal/version"
)

// Version information - injected at build time via ldflags
var (
	appVersion   = "dev"
	appGitCommit = "unknown"
	appBuildTime = "unknown"
)

// poolStatsInterval is how often database pool gauges are refreshed.
const poolStatsInterval = 15 * time.Second

func main() {
	// Parse CLI flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.BoolVar(showHelp, "h", false, "Show help information (shorthand)")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "ocms-publish - page archive and publish service\n\n")
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_DB_DRIVER             sqlite|sqlite3|postgres|mysql (default: sqlite)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_DB_PATH               SQLite database path (default: ./data/ocms-publish.db)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_DB_DSN                PostgreSQL/MySQL connection string\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_SERVER_HOST           Listen host (default: localhost)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_SERVER_PORT           Server port (default: 8080)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_ENV                   Environment: development|production (default: development)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_LOG_LEVEL             debug|info|warn|error (default: info)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_REDIS_URL             Redis URL for distributed caching (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_CACHE_PUBLISHED_TTL   Published page cache TTL (default: 60s)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_CACHE_NEGATIVE_TTL    Not-published cache TTL (default: 10s)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_REQUEST_TIMEOUT       Per-request timeout (default: 30s)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_API_RATE_LIMIT        Archive requests per second per client (default: 10)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_NATS_URL              NATS URL for page events (optional)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_NATS_SUBJECT_PREFIX   Subject prefix for page events (default: ocms.pages)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_TRACING_EXPORTER      none|stdout|otlp (default: none)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_TRACING_ENDPOINT      OTLP/HTTP collector host:port\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_TRACING_SAMPLE_RATIO  Fraction of traces sampled (default: 1)\n")
		_, _ = fmt.Fprintf(os.Stderr, "  OCMS_DO_SEED               Create the demo page on startup (default: false)\n")
	}

	flag.Parse()

	versionInfo := version.Info{
		Version:   appVersion,
		GitCommit: appGitCommit,
		BuildTime: appBuildTime,
	}

	// Handle -h/-help flag
	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	// Handle -v/-version flag
	if *showVersion {
		_, _ = fmt.Println(versionInfo.String())
		os.Exit(0)
	}

	if err := run(versionInfo); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(versionInfo version.Info) error {
	// Load .env file if present (development)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(textHandler)
	slog.SetDefault(logger)

	db, dialect, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}(db)

	slog.Info("running database migrations", "dialect", dialect)
	if err := store.Migrate(db, dialect); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database ready")

	// Upgrade logger to also write WARN and ERROR logs to the event log table
	logger = slog.New(logging.NewEventLogHandler(textHandler, db, dialect))
	slog.SetDefault(logger)
	slog.Info("event log integration enabled", "min_level", "warn")

	ctx := context.Background()
	if cfg.DoSeed {
		if err := store.Seed(ctx, db, dialect); err != nil {
			return fmt.Errorf("seeding database: %w", err)
		}
	}

	backend, backendName := cache.NewCache(ctx, cache.Config{
		RedisURL:        cfg.RedisURL,
		Prefix:          cfg.CachePrefix,
		DefaultTTL:      cfg.CachePublishedTTL,
		MaxSize:         cfg.CacheMaxSize,
		CleanupInterval: time.Minute,
	}, logger)
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Error("error closing cache", "error", err)
		}
	}()
	pageCache := cache.NewPublishedPageCache(backend, cfg.CachePublishedTTL, cfg.CacheNegativeTTL, logger)
	slog.Info("cache initialized",
		"backend", backendName,
		"published_ttl", cfg.CachePublishedTTL,
		"negative_ttl", cfg.CacheNegativeTTL,
	)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Exporter:       cfg.TracingExporter,
		Endpoint:       cfg.TracingEndpoint,
		Insecure:       cfg.TracingInsecure,
		SampleRatio:    cfg.TracingSampleRatio,
		ServiceVersion: versionInfo.Version,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("error flushing traces", "error", err)
		}
	}()
	slog.Info("tracing initialized", "exporter", cfg.TracingExporter, "sample_ratio", cfg.TracingSampleRatio)

	notifier := openNotifier(cfg, logger)
	defer func() {
		if err := notifier.Close(); err != nil {
			slog.Error("error closing notifier", "error", err)
		}
	}()

	pageService := service.NewPageService(service.PageServiceDeps{
		Sessions: service.StoreSessions(db, dialect, store.Hooks{}),
		Reader:   store.NewPageRepository(db, dialect),
		Cache:    pageCache,
		Logger:   logger,
		Notifier: notifier,
		Tracer:   tracing.Tracer(),
	})

	poolStats := metrics.NewPoolStatsCollector(db)
	poolStats.Start(poolStatsInterval)
	defer poolStats.Stop()

	apiHandler := api.NewHandler(pageService, logger)
	healthHandler := handler.NewHealthHandler(db, backend, backendName, versionInfo)
	if nc, ok := notifier.(handler.ConnChecker); ok {
		healthHandler.WithEvents(nc)
	}
	writeLimiter := middleware.NewRateLimiter(cfg.APIRateLimit, cfg.APIRateBurst, logger)
	slog.Info("api rate limiter initialized", "rate", cfg.APIRateLimit, "burst", cfg.APIRateBurst)

	r := chi.NewRouter()

	// Middleware stack
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(middleware.Tracing(tracing.Tracer(), "/health", "/health/live", "/health/ready", "/metrics"))
	r.Use(chimw.GetHead) // Handle HEAD requests for uptime monitoring
	r.Use(chimw.StripSlashes)

	// Operational endpoints are not subject to the request timeout.
	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// REST API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		apiHandler.Routes(r, writeLimiter.Middleware())
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		api.WriteNotFound(w, "Not found")
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB max header size
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr(), "env", cfg.Env, "version", versionInfo.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// openDatabase opens the configured database, creating the data directory
// for SQLite files.
func openDatabase(cfg *config.Config) (*sql.DB, store.Dialect, error) {
	if cfg.IsSQLite() {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, "", fmt.Errorf("creating data directory: %w", err)
		}
		slog.Info("initializing database", "driver", cfg.DBDriver, "path", cfg.DBPath)
	} else {
		slog.Info("initializing database", "driver", cfg.DBDriver)
	}

	db, dialect, err := store.Open(cfg.DBDriver, cfg.DataSource(), store.DefaultDBConfig())
	if err != nil {
		return nil, "", fmt.Errorf("initializing database: %w", err)
	}
	return db, dialect, nil
}

// openNotifier connects to NATS when configured. A failed connection is logged
// and page events are dropped rather than failing startup.
func openNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if !cfg.UseNATS() {
		slog.Info("page events disabled", "reason", "OCMS_NATS_URL not set")
		return notify.Nop{}
	}
	n, err := notify.DialNATS(notify.NATSConfig{
		URL:           cfg.NATSURL,
		SubjectPrefix: cfg.NATSSubjectPrefix,
	}, logger)
	if err != nil {
		slog.Warn("nats unavailable, page events disabled", "error", err)
		return notify.Nop{}
	}
	slog.Info("page events enabled", "subject_prefix", cfg.NATSSubjectPrefix)
	return n
}
