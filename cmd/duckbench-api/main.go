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

	"github.com/duckbench/duckbench/internal/adapter"
	"github.com/duckbench/duckbench/internal/api"
	"github.com/duckbench/duckbench/internal/config"
	duckdbengine "github.com/duckbench/duckbench/internal/engine/duckdb"
	"github.com/duckbench/duckbench/internal/metacache"
	"github.com/duckbench/duckbench/internal/notify"
	"github.com/duckbench/duckbench/internal/observability"
	"github.com/duckbench/duckbench/internal/pool"
	"github.com/duckbench/duckbench/internal/registry"
	s3store "github.com/duckbench/duckbench/internal/storage/s3"
	"github.com/duckbench/duckbench/internal/workbench"
)

func main() {
	cfg, err := config.LoadFromEnv("duckbench-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
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

	engine, err := duckdbengine.Open(context.Background(), duckdbengine.Config{
		Path:     cfg.Engine.DBPath,
		SpoolDir: cfg.Engine.SpoolDir,
	}, objectStore, logger)
	if err != nil {
		logger.Error("failed to open engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = engine.Close() }()

	connPool, err := pool.New(engine, pool.Config{
		MaxConnections:      cfg.Engine.MaxConnections,
		SessionRetries:      cfg.Engine.SessionRetries,
		SessionRetryBackoff: cfg.Engine.SessionRetryBackoff,
	}, logger)
	if err != nil {
		logger.Error("failed to create connection pool", slog.Any("error", err))
		os.Exit(1)
	}
	defer connPool.Close()

	cache := metacache.New()
	sources := registry.New(cache)
	service, err := workbench.New(workbench.Options{
		Engine:   engine,
		Store:    objectStore,
		Pool:     connPool,
		Cache:    cache,
		Registry: sources,
		Notifier: &notify.LogNotifier{Logger: logger},
		Logger:   logger,
		AdapterCfg: adapter.Config{
			PageSize:      cfg.Engine.DefaultPageSize,
			MaxResultRows: cfg.Engine.MaxResultRows,
			QueryTimeout:  cfg.Engine.QueryTimeout,
		},
	})
	if err != nil {
		logger.Error("failed to create workbench service", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:    logger,
		Workbench: service,
		Readiness: api.CombineReadinessChecks(
			func(ctx context.Context) error {
				session, err := engine.OpenSession(ctx)
				if err != nil {
					return err
				}
				defer func() { _ = session.Close() }()
				_, err = session.Query(ctx, "SELECT 1")
				return err
			},
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
	service.CloseAllTabs()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
