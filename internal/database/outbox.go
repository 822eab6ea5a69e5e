package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the number of failures after which an event is
	// parked as dead letter.
	MaxRetryCount = 5

	// StockLevelStream receives every stock level event.
	StockLevelStream = "stream:stock_levels"
)

// OutboxEvent is one row of the transactional outbox.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

func (e *OutboxEvent) validate() error {
	switch {
	case e.AggregateType == "":
		return errors.New("aggregate type is required")
	case e.AggregateID == "":
		return errors.New("aggregate id is required")
	case e.EventType == "":
		return errors.New("event type is required")
	case len(e.Payload) == 0:
		return errors.New("payload is required")
	}
	return nil
}

// OutboxStats counts events that still need attention.
type OutboxStats struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

// ErrEventNotFound is returned when an outbox id matches no row.
var ErrEventNotFound = errors.New("outbox event not found")

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx fills in defaults and writes event as part of tx.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if err := event.validate(); err != nil {
		return fmt.Errorf("invalid outbox event: %w", err)
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = StockLevelStream
	}
	event.CreatedAt = time.Now()
	if event.NextRetryAt == nil {
		due := event.CreatedAt
		event.NextRetryAt = &due
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type, payload,
			target_stream, status, retry_count, created_at, next_retry_at
		) VALUES (
			@id, @aggregate_type, @aggregate_id, @event_type, @payload,
			@target_stream, @status, @retry_count, @created_at, @next_retry_at
		)`,
		pgx.NamedArgs{
			"id":             event.ID,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"event_type":     event.EventType,
			"payload":        event.Payload,
			"target_stream":  event.TargetStream,
			"status":         event.Status,
			"retry_count":    event.RetryCount,
			"created_at":     event.CreatedAt,
			"next_retry_at":  event.NextRetryAt,
		})
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// GetPending returns up to limit events that are due for delivery, oldest
// first. Failed events count as due once their retry time has passed.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
			target_stream, status, retry_count, error_message,
			created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status IN (@pending, @failed) AND next_retry_at <= @now
		ORDER BY created_at
		LIMIT @limit`,
		pgx.NamedArgs{
			"pending": OutboxStatusPending,
			"failed":  OutboxStatusFailed,
			"now":     time.Now(),
			"limit":   limit,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[OutboxEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to read pending events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx,
		"UPDATE outbox_event SET status = @status, processed_at = @now WHERE id = @id",
		pgx.NamedArgs{"status": OutboxStatusProcessed, "now": time.Now(), "id": id})
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}

// MarkFailed records a failed delivery and schedules the next one. The row
// is locked while its retry count moves, and after MaxRetryCount failures
// the event is parked as dead letter.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var retries int
		err := tx.QueryRow(ctx,
			"SELECT retry_count FROM outbox_event WHERE id = $1 FOR UPDATE", id).Scan(&retries)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrEventNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock outbox event: %w", err)
		}

		retries++
		status := OutboxStatusFailed
		if retries >= MaxRetryCount {
			status = OutboxStatusDeadLetter
		}

		_, err = tx.Exec(ctx, `
			UPDATE outbox_event
			SET status = @status, retry_count = @retries,
				error_message = @message, next_retry_at = @next
			WHERE id = @id`,
			pgx.NamedArgs{
				"status":  status,
				"retries": retries,
				"message": cause.Error(),
				"next":    nextRetryAt(retries, time.Now()),
				"id":      id,
			})
		if err != nil {
			return fmt.Errorf("failed to mark event as failed: %w", err)
		}
		return nil
	})
}

// Stats counts events still waiting for delivery and dead letters.
func (r *OutboxRepository) Stats(ctx context.Context) (OutboxStats, error) {
	var stats OutboxStats
	err := r.db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN (@pending, @failed)),
			COUNT(*) FILTER (WHERE status = @dead)
		FROM outbox_event`,
		pgx.NamedArgs{
			"pending": OutboxStatusPending,
			"failed":  OutboxStatusFailed,
			"dead":    OutboxStatusDeadLetter,
		}).Scan(&stats.Pending, &stats.DeadLetter)
	if err != nil {
		return OutboxStats{}, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return stats, nil
}

// nextRetryAt backs off exponentially: 2s, 4s, 8s ... capped at five minutes.
func nextRetryAt(retryCount int, now time.Time) time.Time {
	backoff := 300 * time.Second
	if retryCount < 9 {
		if d := time.Duration(1<<retryCount) * time.Second; d < backoff {
			backoff = d
		}
	}
	return now.Add(backoff)
}
