package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shopfloor/api/internal/app"
	"shopfloor/api/internal/config"
	"shopfloor/api/internal/logging"
	"shopfloor/api/internal/realtime"
	"shopfloor/api/internal/search"
	"shopfloor/api/internal/store"
	"shopfloor/api/internal/tokenstore"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("shopfloord stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if _, err := store.ApplyMigrations(ctx, db, store.MigrationSource(cfg.MigrationsDir), logger.Named("migrate")); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	hub := realtime.NewHub(logger)
	defer hub.Close()

	g, gctx := errgroup.WithContext(ctx)

	// Change source: with Redis the service publishes its own writes and the
	// bridge fans them out between replicas; without it every replica
	// listens to the table triggers.
	var tokens tokenstore.Store
	publishWrites := false
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for refresh sessions and change fan-out")
		redisStore, err := tokenstore.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		tokens = redisStore
		publishWrites = true
		bridge := realtime.NewRedisBridge(redisStore.Client(), hub, logger)
		g.Go(func() error { return bridge.Run(gctx) })
	} else {
		logger.Info("using postgres for refresh sessions and LISTEN for changes")
		tokens = tokenstore.FromSQL(dataStore, store.ErrSessionGone)
		listener := realtime.NewPGListener(cfg.DatabaseURL, hub, logger)
		g.Go(func() error { return listener.Run(gctx) })
	}

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		engine = meiliClient
	}
	searchService := search.NewService(engine, dataStore, logger)
	if engine != nil {
		stopWatch, err := searchService.Watch(hub)
		if err != nil {
			return fmt.Errorf("search indexer: %w", err)
		}
		defer stopWatch()
		g.Go(func() error {
			// Meilisearch reports healthy a moment after start-up.
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
			if err := searchService.ReindexAll(gctx); err != nil {
				logger.Warn("initial reindex failed", zap.Error(err))
			}
			return nil
		})
	}

	service := app.New(cfg, app.Options{
		Users:         dataStore,
		Tokens:        tokens,
		Data:          dataStore,
		Search:        searchService,
		Hub:           hub,
		Pinger:        dataStore,
		PublishWrites: publishWrites,
		Logger:        logger,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Cancels long-lived realtime streams on shutdown.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		logger.Info("shopfloord listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
