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

	"github.com/querychat/querychat/internal/api"
	"github.com/querychat/querychat/internal/config"
	"github.com/querychat/querychat/internal/docs"
	"github.com/querychat/querychat/internal/examples"
	"github.com/querychat/querychat/internal/notify"
	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/schema"
	s3store "github.com/querychat/querychat/internal/storage/s3"
	"github.com/querychat/querychat/internal/synthesis"
	"github.com/querychat/querychat/internal/warehouse"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("querychat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	db, err := warehouse.Open(context.Background(), warehouse.DBConfig{
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
	defer func() { _ = db.Close() }()

	executor := warehouse.NewExecutor(db)

	var notifier notify.Notifier = &notify.LogNotifier{Logger: logger}
	if cfg.Notify.Enabled {
		smtpNotifier, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.Username,
			Password: cfg.Notify.Password,
			From:     cfg.Notify.From,
			To:       cfg.Notify.To,
		})
		if err != nil {
			logger.Error("failed to configure smtp notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = smtpNotifier
	}

	schemaCache := schema.NewCache(db, schema.Config{
		SnapshotPath:     cfg.Schema.SnapshotPath,
		TTL:              cfg.Schema.TTL,
		RevenueThreshold: cfg.Schema.RevenueThreshold,
	}, notifier, logger)

	// Warm the schema context before the first chat request arrives.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := schemaCache.Context(ctx); err != nil {
			logger.Warn("eager schema fetch failed", slog.Any("error", err))
		}
	}()

	exampleStore := examples.NewStore(cfg.Examples.Path)

	objectStore, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	completer, err := synthesis.NewGeminiCompleter(context.Background(), synthesis.GeminiConfig{
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize completion backend", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = completer.Close() }()

	engine := synthesis.NewEngine(completer, schemaCache, exampleStore, cfg.Examples.FewShot, logger)

	documentStore := docs.NewStore(db)
	resolver := docs.NewResolver(documentStore, logger)
	extractor := docs.NewExtractor(objectStore, logger)

	deps := api.Dependencies{
		Logger:            logger,
		Schema:            schemaCache,
		Examples:          exampleStore,
		Synthesizer:       engine,
		Executor:          executor,
		Resolver:          resolver,
		Extractor:         extractor,
		Documents:         documentStore,
		Objects:           objectStore,
		MaxUploadBytes:    cfg.Examples.UploadMaxMB << 20,
		DependencyTimeout: time.Second,
		Readiness: api.CombineReadinessChecks(
			executor.HealthCheck,
			api.CheckObjectStoreConfig(cfg),
		),
	}

	handler := api.NewHandler(cfg, deps)
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
