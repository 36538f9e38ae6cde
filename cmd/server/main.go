package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"imghost/internal/server/api"
	"imghost/internal/server/config"
	"imghost/internal/server/database"
	"imghost/internal/server/ratelimit"
	"imghost/internal/server/service"
	"imghost/internal/server/storage"
	"imghost/internal/server/telemetry"
)

// maxTrackedClients bounds the in-memory rate limit table.
const maxTrackedClients = 100_000

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"app_url", cfg.AppURL,
		"storage_backend", cfg.StorageBackend,
		"max_file_size_mb", cfg.MaxFileSizeMB,
		"rate_limit_enabled", cfg.RateLimitEnabled,
		"rate_limit_backend", cfg.RateLimitBackend,
		"link_expiry_days", cfg.ImageLinkExpiryDays,
	)

	ctx := context.Background()

	// Tracing
	shutdownTracing, err := telemetry.Init(ctx, cfg.TracingEnabled, cfg.TracingServiceName)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize storage
	store, err := newStore(cfg)
	if err != nil {
		slog.Error("failed to create storage", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureReady(ctx); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("storage initialized", "backend", cfg.StorageBackend)

	// Rate limiting
	var (
		windows ratelimit.WindowStore
		pruner  storage.WindowPruner
	)
	switch cfg.RateLimitBackend {
	case config.RateLimitMemory:
		windows = ratelimit.NewMemoryStore(maxTrackedClients, cfg.RateLimitWindow)
	default:
		pg := database.NewRateLimitStore(db)
		windows, pruner = pg, pg
	}
	limiter := ratelimit.New(windows, ratelimit.Options{
		Enabled:     cfg.RateLimitEnabled,
		MaxRequests: cfg.RateLimitMaxRequests,
		Window:      cfg.RateLimitWindow,
	})

	// Initialize repository and service
	repo := database.NewRepository(db)
	svc := service.NewImageService(repo, store, limiter, cfg)

	// Start cleanup service
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanup := storage.NewCleanupService(repo, store, pruner, cfg.RateLimitWindow, cfg.CleanupInterval)
	cleanup.Start(cleanupCtx)

	// Setup HTTP router
	handler := api.NewHandler(svc, store, db, cfg)
	e := api.SetupRouter(handler, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "app_url", cfg.AppURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop cleanup service
	cleanupCancel()
	cleanup.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("server exited cleanly")
}

func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageMinIO:
		return storage.NewMinIOStore(cfg.MinIO)
	default:
		return storage.NewFileSystemStore(cfg.UploadDir), nil
	}
}
