// billing-run executes a single charge-generation cycle and exits. It is
// meant to be driven by cron in deployments that prefer that over the
// in-process ticker.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/reyhq/rentledger/internal/billing"
	"github.com/reyhq/rentledger/internal/config"
	"github.com/reyhq/rentledger/internal/db"
	"github.com/reyhq/rentledger/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)
	scheduler := billing.NewScheduler(repo, logger)

	result, err := scheduler.Run(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("billing cycle failed: %w", err)
	}

	logger.Info("billing cycle complete",
		zap.Int("processed", result.Processed),
		zap.Int("generated", result.Generated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
	)

	return nil
}
