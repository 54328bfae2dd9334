package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/platform/cache"
	"github.com/p-n-ai/pai-progress/internal/platform/config"
	"github.com/p-n-ai/pai-progress/internal/platform/database"
	"github.com/p-n-ai/pai-progress/internal/platform/metrics"
	"github.com/p-n-ai/pai-progress/internal/progress"
	"github.com/p-n-ai/pai-progress/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	courses, err := catalog.NewLoader(cfg.CatalogPath)
	if err != nil {
		slog.Error("failed to load catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}

	checks := map[string]server.Checker{}
	events := progress.EventLogger(progress.NopEventLogger{})

	var api progress.API
	switch cfg.Progress.Backend {
	case config.BackendPostgres:
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		backend, err := progress.NewPostgresBackend(db.Pool, courses)
		if err != nil {
			slog.Error("failed to create progress backend", "error", err)
			os.Exit(1)
		}
		api = backend
		events = progress.NewPostgresEventLogger(db.Pool)
		checks["database"] = db
	case config.BackendHTTP:
		api = progress.NewHTTPClient(cfg.Progress.APIURL,
			progress.WithTimeout(cfg.Progress.APITimeout),
			progress.WithBearerToken(cfg.Progress.APIToken),
		)
	default:
		api = progress.NewMemoryBackend(courses)
	}

	var snapshots progress.SnapshotCache = progress.NewMemoryCache(cfg.Cache.SnapshotTTL)
	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			slog.Warn("cache unavailable, using in-process snapshot cache", "error", err)
		} else {
			defer c.Close()
			snapshots = progress.NewRedisCache(c.Client, progress.WithTTL(cfg.Cache.SnapshotTTL))
			checks["cache"] = c
		}
	}

	registry := progress.NewRegistry(api, snapshots, progress.JoinHooks(
		metrics.Hooks(),
		progress.EventHooks(events),
	))

	go registry.RunEviction(ctx, cfg.Progress.EngineIdleTTL)

	mux := newMux(server.New(server.Config{
		Registry: registry,
		Courses:  courses,
		Checks:   checks,
	}))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "backend", cfg.Progress.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Reload the catalog on SIGHUP so content edits reach the engines.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := courses.Reload(); err != nil {
				slog.Error("catalog reload failed", "error", err)
			}
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// newMux creates the HTTP router with health checks, metrics and the progress API.
func newMux(s *server.Server) *http.ServeMux {
	mux := http.NewServeMux()
	s.Routes(mux)
	return mux
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
