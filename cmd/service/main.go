// cmd/service/main.go
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

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"gitfleet/internal/api"
	"gitfleet/internal/config"
	"gitfleet/internal/database"
	"gitfleet/internal/source"
	"gitfleet/internal/store"
	"gitfleet/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	db := database.New(dbpool)
	repoStore := store.New(cfg.ReposRoot)
	sources := source.NewResolver(source.Tokens{
		GitHub: cfg.GithubToken,
		GitLab: cfg.GitlabToken,
		Gitea:  cfg.GiteaToken,
	}, logger)
	engine := syncer.NewEngine(db, syncer.NewStoreBackend(repoStore), sources, logger, syncer.Options{
		MaxAttempts:      cfg.MaxAttempts,
		RetryBackoff:     cfg.RetryBackoff,
		OpTimeout:        cfg.OpTimeout,
		FailureThreshold: cfg.FailureThreshold,
	})

	// 6. Start the auto-sync scheduler in a separate goroutine
	scheduler := syncer.NewScheduler(db, engine, logger, cfg.SyncInterval, cfg.SyncConcurrency)
	go scheduler.Start(ctx)

	// 7. Start the HTTP API
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewRouter(db, engine, repoStore, logger),
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 8. Wait for shutdown signal or server failure
	select {
	case err := <-serverErr:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
	}
	logger.Info("Shutdown signal received. Exiting.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	return nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
