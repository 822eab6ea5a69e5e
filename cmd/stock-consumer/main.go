package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/queenbooks-stock/internal/config"
	"github.com/maltedev/queenbooks-stock/internal/consumer"
	"github.com/maltedev/queenbooks-stock/internal/database"
	"github.com/maltedev/queenbooks-stock/internal/logger"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis", "addr", cfg.Redis.Addr)

	c := consumer.New(rdb, consumer.Config{
		Stream:   database.StockLevelStream,
		Group:    cfg.Consumer.Group,
		Consumer: cfg.Consumer.Name,
		Block:    cfg.Consumer.Block,
	}, func(t consumer.Transition) {
		if t.Kind == consumer.Restocked {
			log.Warn("product back in stock", "product_id", t.ProductID, "title", t.Title, "quantity", t.Current)
		}
	}, log)

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	log.Info("consumer shut down")
}
