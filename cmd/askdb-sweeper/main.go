package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/askdb/askdb/internal/config"
	conversationpostgres "github.com/askdb/askdb/internal/conversation/postgres"
	"github.com/askdb/askdb/internal/maintenance"
	"github.com/askdb/askdb/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("askdb-sweeper")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.ChatStore.DSN == "" {
		slog.Error("ASKDB_CHATSTORE_DSN or ASKDB_WAREHOUSE_DSN is required")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := conversationpostgres.Open(context.Background(), conversationpostgres.DBConfig{
		DSN:             cfg.ChatStore.DSN,
		MaxOpenConns:    cfg.ChatStore.MaxOpenConns,
		MaxIdleConns:    cfg.ChatStore.MaxIdleConns,
		ConnMaxIdleTime: cfg.ChatStore.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ChatStore.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open chat store db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	svc := &maintenance.Service{
		Store:  conversationpostgres.NewStore(db),
		Config: maintenance.Config{SweepInterval: cfg.Maintenance.SweepInterval},
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("sweeper worker started")
	if err := svc.Run(ctx); err != nil {
		logger.Error("sweeper worker failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("sweeper worker stopped")
}
