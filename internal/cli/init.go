// Package cli provides the initialization steps shared by cmd/jizhang and
// cmd/jizhang-worker.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"jizhang/internal/config"
	"jizhang/internal/log"
	"jizhang/internal/storage"
)

// SetupLogger initializes structured logging at the configured level.
// Returns the configured logger and sets it as the default logger.
func SetupLogger(level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	logger := log.New(log.Config{Level: lvl, Component: log.ComponentApp, Output: os.Stdout})
	log.SetDefault(logger)
	if err != nil {
		logger.WarnContext(context.Background(), "Unknown log level, using info", "level", level)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it with check.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(check func(*config.Config) error) *config.Config {
	cfg := config.Load()
	if err := check(cfg); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite initializes a SQLite repository with the given path.
// Returns the repository or exits the process on failure.
func InitSQLite(cfg *config.Config) *storage.SQLiteRepository {
	policy := storage.DefaultRetryPolicy()
	policy.Attempts = cfg.WriteRetryAttempts

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, storage.WithRetryPolicy(policy))
	if err != nil {
		slog.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	return repo
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
