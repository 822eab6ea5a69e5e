package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const stockLevelChecked = "STOCK_LEVEL_CHECKED"

// StreamClient is the part of the redis client the consumer uses.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Level is the stock level carried by one event.
type Level struct {
	ProductID         string    `json:"product_id"`
	Title             string    `json:"title,omitempty"`
	AvailableQuantity *int      `json:"available_quantity"`
	IsAvailable       bool      `json:"is_available"`
	Outcome           string    `json:"outcome"`
	CheckedAt         time.Time `json:"checked_at"`
}

// TransitionKind names a change in availability.
type TransitionKind string

const (
	Restocked TransitionKind = "restocked"
	SoldOut   TransitionKind = "sold_out"
	Changed   TransitionKind = "quantity_changed"
)

// Transition is emitted when a product's known quantity changes.
type Transition struct {
	Kind      TransitionKind `json:"kind"`
	ProductID string         `json:"product_id"`
	Title     string         `json:"title,omitempty"`
	Previous  int            `json:"previous"`
	Current   int            `json:"current"`
	CheckedAt time.Time      `json:"checked_at"`
}

// Tracker remembers the last known quantity of each product.
type Tracker struct {
	mu   sync.Mutex
	last map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{last: make(map[string]int)}
}

// Observe records a level and returns the transition it causes, if any.
// Levels without a known quantity are ignored and never reset the history.
func (t *Tracker) Observe(l Level) (Transition, bool) {
	if l.AvailableQuantity == nil {
		return Transition{}, false
	}
	current := *l.AvailableQuantity

	t.mu.Lock()
	previous, seen := t.last[l.ProductID]
	t.last[l.ProductID] = current
	t.mu.Unlock()

	if !seen || previous == current {
		return Transition{}, false
	}

	kind := Changed
	switch {
	case previous == 0 && current > 0:
		kind = Restocked
	case previous > 0 && current == 0:
		kind = SoldOut
	}

	return Transition{
		Kind:      kind,
		ProductID: l.ProductID,
		Title:     l.Title,
		Previous:  previous,
		Current:   current,
		CheckedAt: l.CheckedAt,
	}, true
}

type Config struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
}

// Consumer reads stock level events from a stream through a consumer group.
type Consumer struct {
	client  StreamClient
	tracker *Tracker
	notify  func(Transition)
	cfg     Config
	logger  *slog.Logger
}

// New creates a consumer. notify is called for every transition.
func New(client StreamClient, cfg Config, notify func(Transition), logger *slog.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = "stream:stock_levels"
	}
	if cfg.Group == "" {
		cfg.Group = "stock-consumer-group"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if notify == nil {
		notify = func(Transition) {}
	}

	return &Consumer{
		client:  client,
		tracker: NewTracker(),
		notify:  notify,
		cfg:     cfg,
		logger:  logger.With("component", "stock_consumer"),
	}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "stream", c.cfg.Stream, "group", c.cfg.Group)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// poll reads one block of messages and returns how many were acknowledged.
func (c *Consumer) poll(ctx context.Context) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    10,
		Block:    c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := c.processMessage(message); err != nil {
				c.logger.Error("failed to process message", "id", message.ID, "error", err)
				continue
			}
			if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, message.ID).Err(); err != nil {
				c.logger.Error("failed to acknowledge message", "id", message.ID, "error", err)
				continue
			}
			acked++
		}
	}
	return acked, nil
}

func (c *Consumer) processMessage(msg redis.XMessage) error {
	eventType, _ := msg.Values["event_type"].(string)
	if eventType != stockLevelChecked {
		return nil
	}

	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("missing data in event")
	}

	var envelope struct {
		Payload Level `json:"payload"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return fmt.Errorf("failed to parse event: %w", err)
	}
	if envelope.Payload.ProductID == "" {
		return fmt.Errorf("missing product id in event")
	}

	if t, ok := c.tracker.Observe(envelope.Payload); ok {
		c.logger.Info("stock transition",
			"kind", t.Kind,
			"product_id", t.ProductID,
			"previous", t.Previous,
			"current", t.Current)
		c.notify(t)
	}
	return nil
}
