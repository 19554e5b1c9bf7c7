package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/config"
	conversationpostgres "github.com/askdb/askdb/internal/conversation/postgres"
	"github.com/askdb/askdb/internal/maintenance"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/pipeline"
	querypostgres "github.com/askdb/askdb/internal/query/postgres"
	"github.com/askdb/askdb/internal/schema"
)

func main() {
	// Local development convenience; a missing .env file is not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Warehouse.DSN == "" {
		slog.Error("ASKDB_WAREHOUSE_DSN is required")
		os.Exit(1)
	}
	if cfg.AI.APIKey == "" {
		slog.Error("ASKDB_AI_API_KEY is required")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	warehouseDB, err := querypostgres.Open(context.Background(), querypostgres.DBConfig{
		DSN:             cfg.Warehouse.DSN,
		MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
		MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
		ConnMaxIdleTime: cfg.Warehouse.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open warehouse db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = warehouseDB.Close() }()

	chatDB, err := conversationpostgres.Open(context.Background(), conversationpostgres.DBConfig{
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
	defer func() { _ = chatDB.Close() }()

	introspector := schema.NewIntrospector(warehouseDB)
	conversationStore := conversationpostgres.NewStore(chatDB)
	queryEngine := querypostgres.NewEngine(warehouseDB)

	translator, err := nl2sql.NewOpenAITranslator(nl2sql.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize translator", slog.Any("error", err))
		os.Exit(1)
	}

	askService := pipeline.NewService(introspector, translator, queryEngine, conversationStore, cfg.Query.RowLimit, logger)
	sweepService := &maintenance.Service{
		Store:  conversationStore,
		Config: maintenance.Config{SweepInterval: cfg.Maintenance.SweepInterval},
		Logger: logger,
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:        logger,
		Schema:        introspector,
		Pipeline:      askService,
		Conversations: conversationStore,
		Maintenance:   sweepService,
		Readiness: api.CombineReadinessChecks(
			introspector.HealthCheck,
			conversationStore.HealthCheck,
		),
		DependencyTimeout: time.Second,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := sweepService.Run(ctx); err != nil {
			logger.Error("sweep loop failed", slog.Any("error", err))
		}
	}()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
