package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"labelstock/backend/internal/cache"
	"labelstock/backend/internal/config"
	"labelstock/backend/internal/events"
	"labelstock/backend/internal/httpapi"
	"labelstock/backend/internal/service"
	"labelstock/backend/internal/store"
	"labelstock/backend/internal/store/memory"
	pgstore "labelstock/backend/internal/store/postgres"
)

var migrateDatabase = pgstore.Migrate

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			autoMigrate, _ := cmd.Flags().GetBool("migrate")
			return runServe(cmd.Context(), autoMigrate)
		},
	}
	cmd.Flags().Bool("migrate", true, "apply embedded migrations before serving when DATABASE_URL is set")
	return cmd
}

type closer struct {
	name string
	fn   func() error
}

func runServe(parent context.Context, autoMigrate bool) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	var repo store.Repository
	var ping func(context.Context) error
	closers := make([]closer, 0, 3)

	if cfg.DatabaseURL != "" {
		if autoMigrate {
			if err := migrateDatabase(cfg.DatabaseURL, log); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing to start with in-memory fallback: %w", err)
		}
		repo = pg
		ping = pg.Ping
		closers = append(closers, closer{name: "postgres", fn: pg.Close})
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	barcodeCache := cache.BarcodeCache(cache.NoopBarcodeCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisBarcodeCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			barcodeCache = redisCache
			closers = append(closers, closer{name: "redis", fn: redisCache.Close})
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: noop")
	}

	var publisher events.Publisher = events.NewLogPublisher(log)
	if cfg.KafkaEnabled() {
		kafka, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:          cfg.KafkaBrokers,
			ClientID:         cfg.KafkaClientID,
			TopicSettlements: cfg.KafkaTopicSettlements,
			TopicScans:       cfg.KafkaTopicScans,
		}, log)
		if err != nil {
			log.Warn("kafka unavailable, events go to the log", zap.Error(err))
		} else {
			publisher = kafka
			log.Info("events: kafka", zap.Strings("brokers", cfg.KafkaBrokers))
		}
	} else {
		log.Info("events: log")
	}
	closers = append(closers, closer{name: "publisher", fn: publisher.Close})

	svc := service.New(repo, service.Options{
		Cache:           barcodeCache,
		CacheTTL:        cfg.BarcodeCacheTTL(),
		Publisher:       publisher,
		Logger:          log,
		DefaultStoreID:  cfg.StoreID,
		FinalizeTimeout: cfg.FinalizeTimeout(),
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        log,
		Ping:          ping,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("labelstock listening", zap.String("addr", cfg.Address()), zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-sig:
	case err, ok := <-serveErr:
		if ok && err != nil {
			log.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, c := range closers {
		if err := c.fn(); err != nil {
			log.Warn("close error", zap.String("resource", c.name), zap.Error(err))
		}
	}

	log.Info("server stopped")
	return nil
}
