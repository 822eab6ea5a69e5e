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

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/queenbooks-stock/internal/api"
	"github.com/maltedev/queenbooks-stock/internal/browser"
	"github.com/maltedev/queenbooks-stock/internal/config"
	"github.com/maltedev/queenbooks-stock/internal/database"
	"github.com/maltedev/queenbooks-stock/internal/events"
	"github.com/maltedev/queenbooks-stock/internal/jobs"
	"github.com/maltedev/queenbooks-stock/internal/logger"
	"github.com/maltedev/queenbooks-stock/internal/queue"
	"github.com/maltedev/queenbooks-stock/internal/scheduler"
	"github.com/maltedev/queenbooks-stock/internal/sessionstore"
	"github.com/maltedev/queenbooks-stock/internal/stock"
	"github.com/maltedev/queenbooks-stock/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	if cfg.Database.Enabled || cfg.Session.Store == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
	}

	var sessionRedis sessionstore.RedisClient
	if redisClient != nil {
		sessionRedis = redisClient
	}
	store, err := sessionstore.New(sessionstore.Config{
		Kind:     cfg.Session.Store,
		File:     cfg.Session.File,
		RedisKey: cfg.Session.Key,
		TTL:      cfg.Session.TTL,
	}, sessionRedis)
	if err != nil {
		log.Error("failed to create session store", "error", err)
		os.Exit(1)
	}

	metrics := stock.NewMetrics()
	stockCfg := cfg.StockConfig()
	stockCfg.Store = store
	stockCfg.Metrics = metrics
	stockCfg.Logger = log

	browserOpts := cfg.BrowserOptions()
	checker := stock.NewChecker(func(ctx context.Context) (browser.Driver, error) {
		d, err := browser.Open(browserOpts)
		if err != nil {
			return nil, err
		}
		return d, nil
	}, stockCfg)
	defer checker.Close()

	snapshots, err := storage.NewSnapshotStorage(cfg.Snapshot.Dir)
	if err != nil {
		log.Error("failed to create snapshot storage", "error", err)
		os.Exit(1)
	}

	opts := api.Options{
		Snapshots: snapshots,
		CacheSize: cfg.Cache.Size,
		CacheTTL:  cfg.Cache.TTL,
	}

	// Optional persistence: stock_checks rows plus outbox events relayed to Redis.
	var recorder jobs.Recorder
	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			log.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		outbox := database.NewOutboxRepository(db)
		publisher := events.NewPublisher(db, log)
		recorder = publisher
		opts.Recorder = publisher
		opts.Outbox = outbox

		relay := database.NewRelay(outbox, redisClient, log, database.RelayConfig{
			PollInterval: cfg.Relay.PollInterval,
			BatchSize:    cfg.Relay.BatchSize,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()
	}

	jobQueue := queue.NewInMemoryQueue()
	defer jobQueue.Close()
	jobManager := jobs.NewManager(checker, jobQueue, recorder, snapshots, log)
	go jobManager.StartWorker(ctx)
	opts.Jobs = jobManager

	if len(cfg.Watch.IDs) > 0 {
		sched, err := scheduler.New(cfg.Watch.Timezone, 0, log)
		if err != nil {
			log.Error("failed to create scheduler", "error", err)
			os.Exit(1)
		}
		if err := sched.AddWatchList(cfg.Watch.Schedule, cfg.Watch.IDs, checker.MaxBatchSize(), jobManager); err != nil {
			log.Error("failed to schedule watch list", "error", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	handlers := api.NewHandlers(checker, opts, log)
	router := api.NewRouter(handlers, api.RouterConfig{
		RequestTimeout: cfg.Server.WriteTimeout,
		Gatherer:       metrics.Registry,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting",
		"port", cfg.Server.Port,
		"site", cfg.Site.BaseURL,
		"session_store", cfg.Session.Store,
		"database", cfg.Database.Enabled,
		"watch_ids", len(cfg.Watch.IDs))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
