package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/queenbooks-stock/internal/database"
	"github.com/maltedev/queenbooks-stock/internal/stock"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeStockLevelChecked is published for every probe that reached a
	// verdict about a product.
	EventTypeStockLevelChecked EventType = "STOCK_LEVEL_CHECKED"

	aggregateProduct = "product"
)

// StockLevelCheckedPayload is the body of a STOCK_LEVEL_CHECKED event.
type StockLevelCheckedPayload struct {
	EventID           string    `json:"event_id"`
	EventType         string    `json:"event_type"`
	Timestamp         time.Time `json:"timestamp"`
	BatchID           string    `json:"batch_id"`
	ProductID         string    `json:"product_id"`
	Title             string    `json:"title,omitempty"`
	Price             string    `json:"price,omitempty"`
	AvailableQuantity *int      `json:"available_quantity"`
	IsAvailable       bool      `json:"is_available"`
	Outcome           string    `json:"outcome"`
	Error             string    `json:"error,omitempty"`
	CheckedAt         time.Time `json:"checked_at"`
	Source            string    `json:"source"`
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type checkWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, c *database.StockCheck) error
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stores checks and their events using the transactional outbox.
type Publisher struct {
	db     TxRunner
	checks checkWriter
	outbox outboxWriter
	logger *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		checks: database.NewStockCheckRepository(db),
		outbox: database.NewOutboxRepository(db),
		logger: logger.With("component", "event_publisher"),
	}
}

// RecordBatch stores one stock_checks row per result and one outbox event per
// result that is not a failure, all in a single transaction. It returns the
// batch id the rows were stored under.
func (p *Publisher) RecordBatch(ctx context.Context, report *stock.BatchReport) (uuid.UUID, error) {
	batchID := uuid.New()
	if report == nil || report.Len() == 0 {
		return batchID, nil
	}

	published := 0
	err := p.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, r := range report.Results {
			if err := p.checks.InsertWithTx(ctx, tx, database.NewStockCheck(r, &batchID)); err != nil {
				return err
			}
			if r.Failed() {
				continue
			}

			event, err := newOutboxEvent(r, batchID)
			if err != nil {
				return err
			}
			if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
				return fmt.Errorf("failed to insert outbox event: %w", err)
			}
			published++
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to record batch: %w", err)
	}

	p.logger.Info("batch recorded",
		"batch_id", batchID,
		"checks", report.Len(),
		"events", published,
	)

	return batchID, nil
}

func newOutboxEvent(r stock.Result, batchID uuid.UUID) (*database.OutboxEvent, error) {
	payload := StockLevelCheckedPayload{
		EventID:           uuid.New().String(),
		EventType:         string(EventTypeStockLevelChecked),
		Timestamp:         time.Now().UTC(),
		BatchID:           batchID.String(),
		ProductID:         r.ProductID,
		Title:             r.Title,
		Price:             r.Price,
		AvailableQuantity: r.AvailableQuantity,
		IsAvailable:       r.IsAvailable,
		Outcome:           string(r.Outcome),
		Error:             string(r.Error),
		CheckedAt:         r.TimestampUTC,
		Source:            database.EventSource,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: aggregateProduct,
		AggregateID:   r.ProductID,
		EventType:     string(EventTypeStockLevelChecked),
		Payload:       data,
		TargetStream:  database.StockLevelStream,
	}, nil
}
