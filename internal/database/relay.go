package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventSource is stamped into the metadata of every published event.
const EventSource = "queenbooks-stock"

// RedisClient is the part of the redis client the relay uses.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxRepo is the part of the outbox repository the relay uses.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Relay moves stock events from the outbox table to Redis streams. Delivery
// is at least once: an event published but not marked is sent again.
type Relay struct {
	outbox OutboxRepo
	redis  RedisClient
	cfg    RelayConfig
	logger *slog.Logger
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		outbox: outbox,
		redis:  redisClient,
		cfg:    cfg,
		logger: logger.With("component", "relay"),
	}
}

// Start drains the outbox once, then again on every poll tick until ctx is
// done.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.cfg.PollInterval, "batch_size", r.cfg.BatchSize)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to drain outbox", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch of due events and returns how many were
// delivered. Per-event failures are recorded on the event, not returned.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.outbox.GetPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}

	delivered := 0
	for _, event := range events {
		log := r.logger.With("event_id", event.ID, "product_id", event.AggregateID)
		if err := r.deliver(ctx, event); err != nil {
			log.Error("failed to deliver event", "error", err)
			continue
		}
		log.Debug("event published", "stream", event.TargetStream)
		delivered++
	}
	return delivered, nil
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	err := r.publishToRedis(ctx, event)
	if err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			err = errors.Join(err, markErr)
		}
		return err
	}
	return r.outbox.MarkProcessed(ctx, event.ID)
}

func (r *Relay) publishToRedis(ctx context.Context, event *OutboxEvent) error {
	args, err := streamEntry(event)
	if err != nil {
		return err
	}
	if err := r.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// streamEnvelope is the JSON document stored in the "data" field.
type streamEnvelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     string          `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      streamMetadata  `json:"metadata"`
}

type streamMetadata struct {
	Source       string `json:"source"`
	OutboxID     string `json:"outbox_id"`
	RetryCount   int    `json:"retry_count"`
	TargetStream string `json:"target_stream"`
}

// streamEntry builds the XADD arguments for an event. The flat fields let
// consumers filter without decoding data.
func streamEntry(event *OutboxEvent) (*redis.XAddArgs, error) {
	if !json.Valid(event.Payload) {
		return nil, fmt.Errorf("event %s has an invalid payload", event.ID)
	}

	stream := event.TargetStream
	if stream == "" {
		stream = StockLevelStream
	}

	data, err := json.Marshal(streamEnvelope{
		ID:            event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Timestamp:     event.CreatedAt.UTC().Format(time.RFC3339),
		Payload:       event.Payload,
		Metadata: streamMetadata{
			Source:       EventSource,
			OutboxID:     event.ID.String(),
			RetryCount:   event.RetryCount,
			TargetStream: stream,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream entry: %w", err)
	}

	return &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data":           string(data),
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"original_id":    event.ID.String(),
			"timestamp":      strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
		},
	}, nil
}
