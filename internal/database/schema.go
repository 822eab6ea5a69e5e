package database

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS stock_checks (
		id                 UUID PRIMARY KEY,
		product_id         TEXT NOT NULL,
		batch_id           UUID,
		title              TEXT,
		price              TEXT,
		available_quantity INTEGER,
		is_available       BOOLEAN NOT NULL DEFAULT FALSE,
		outcome            TEXT NOT NULL,
		raw_message        TEXT,
		error_kind         TEXT,
		error_detail       TEXT,
		checked_at         TIMESTAMPTZ NOT NULL,
		CONSTRAINT stock_checks_quantity_non_negative CHECK (available_quantity IS NULL OR available_quantity >= 0)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_checks_product_checked
		ON stock_checks (product_id, checked_at DESC)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		target_stream  TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending',
		retry_count    INTEGER NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending
		ON outbox_event (status, next_retry_at)`,
}

// Migrate creates the tables the service needs. It is safe to run on
// every start.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
