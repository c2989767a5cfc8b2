// Package main wires together the analysis service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marketpulse/review-analysis/internal/analysis"
	"github.com/marketpulse/review-analysis/internal/api"
	"github.com/marketpulse/review-analysis/internal/cache"
	"github.com/marketpulse/review-analysis/internal/clock/system"
	"github.com/marketpulse/review-analysis/internal/config"
	"github.com/marketpulse/review-analysis/internal/engine"
	"github.com/marketpulse/review-analysis/internal/logging"
	"github.com/marketpulse/review-analysis/internal/notifier"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newCacheStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("cache close failed", zap.Error(closeErr))
		}
	}()

	publisher, cleanup, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("notifier init failed", zap.Error(err))
	}
	defer cleanup()

	engineClient := engine.NewClient(engine.Config{
		BaseURL:        cfg.Engine.BaseURL,
		APIKey:         cfg.Engine.APIKey,
		Timeout:        cfg.EngineTimeout(),
		MaxRetries:     cfg.Engine.MaxRetries,
		BackoffInitial: time.Duration(cfg.Engine.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Engine.BackoffMaxMs) * time.Millisecond,
	}, logger)

	svc := analysis.NewService(analysis.Config{
		CallbackURL: cfg.Engine.CallbackBaseURL + "/v1/analyze/callback",
		ResultTTL:   cfg.ResultTTL(),
		StatusTTL:   cfg.StatusTTL(),
		TaskTTL:     cfg.TaskTTL(),
		TopicPrefix: cfg.Notifier.TopicPrefix,
	}, store, engineClient, publisher, system.New(), logger)

	server := api.NewServer(svc, store, cfg, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr := <-errCh:
		logger.Error("http server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
}

func newCacheStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "redis":
		logger.Info("using redis cache", zap.String("addr", cfg.Cache.RedisAddr))
		return cache.Dial(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	case "memory":
		logger.Info("using in-memory cache")
		return cache.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (notifier.Publisher, func(), error) {
	noop := func() {}
	switch cfg.Notifier.Backend {
	case "memory":
		logger.Info("using in-memory notifier; events are not delivered externally")
		return notifier.NewMemory(), noop, nil
	case "redis":
		logger.Info("using redis pub/sub notifier", zap.String("addr", cfg.Cache.RedisAddr))
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("notifier redis close failed", zap.Error(err))
			}
		}
		return notifier.NewRedis(client), cleanup, nil
	case "pubsub":
		logger.Info("using google pub/sub notifier", zap.String("project", cfg.Notifier.ProjectID))
		client, err := pubsub.NewClient(ctx, cfg.Notifier.ProjectID)
		if err != nil {
			return nil, noop, fmt.Errorf("pubsub client: %w", err)
		}
		publisher := client.Publisher(cfg.Notifier.TopicPrefix)
		cleanup := func() {
			publisher.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub client close failed", zap.Error(err))
			}
		}
		return notifier.NewPubSub(publisher), cleanup, nil
	default:
		return nil, noop, fmt.Errorf("unknown notifier backend: %s", cfg.Notifier.Backend)
	}
}
