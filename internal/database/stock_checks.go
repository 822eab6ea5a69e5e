package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/queenbooks-stock/internal/stock"
)

// StockCheck is one stored probe result.
type StockCheck struct {
	ID                uuid.UUID  `json:"id"`
	ProductID         string     `json:"product_id"`
	BatchID           *uuid.UUID `json:"batch_id,omitempty"`
	Title             string     `json:"title,omitempty"`
	Price             string     `json:"price,omitempty"`
	AvailableQuantity *int       `json:"available_quantity"`
	IsAvailable       bool       `json:"is_available"`
	Outcome           string     `json:"outcome"`
	RawMessage        string     `json:"raw_message,omitempty"`
	ErrorKind         string     `json:"error_kind,omitempty"`
	ErrorDetail       string     `json:"error_detail,omitempty"`
	CheckedAt         time.Time  `json:"checked_at"`
}

// NewStockCheck converts a probe result into a row.
func NewStockCheck(r stock.Result, batchID *uuid.UUID) *StockCheck {
	return &StockCheck{
		ID:                uuid.New(),
		ProductID:         r.ProductID,
		BatchID:           batchID,
		Title:             r.Title,
		Price:             r.Price,
		AvailableQuantity: r.AvailableQuantity,
		IsAvailable:       r.IsAvailable,
		Outcome:           string(r.Outcome),
		RawMessage:        r.RawMessage,
		ErrorKind:         string(r.Error),
		ErrorDetail:       r.ErrorDetail,
		CheckedAt:         r.TimestampUTC,
	}
}

type StockCheckRepository struct {
	db *DB
}

func NewStockCheckRepository(db *DB) *StockCheckRepository {
	return &StockCheckRepository{db: db}
}

func (r *StockCheckRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, c *StockCheck) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	query := `
		INSERT INTO stock_checks (
			id, product_id, batch_id, title, price,
			available_quantity, is_available, outcome,
			raw_message, error_kind, error_detail, checked_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''),
			$6, $7, $8,
			NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12
		)`

	_, err := tx.Exec(ctx, query,
		c.ID, c.ProductID, c.BatchID, c.Title, c.Price,
		c.AvailableQuantity, c.IsAvailable, c.Outcome,
		c.RawMessage, c.ErrorKind, c.ErrorDetail, c.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert stock check for %s: %w", c.ProductID, err)
	}
	return nil
}

// History returns the latest checks of a product, newest first.
func (r *StockCheckRepository) History(ctx context.Context, productID string, limit int) ([]*StockCheck, error) {
	query := `
		SELECT
			id, product_id, batch_id, COALESCE(title, ''), COALESCE(price, ''),
			available_quantity, is_available, outcome,
			COALESCE(raw_message, ''), COALESCE(error_kind, ''), COALESCE(error_detail, ''),
			checked_at
		FROM stock_checks
		WHERE product_id = $1
		ORDER BY checked_at DESC
		LIMIT $2`

	rows, err := r.db.pool.Query(ctx, query, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock checks: %w", err)
	}
	defer rows.Close()

	var checks []*StockCheck
	for rows.Next() {
		c := &StockCheck{}
		if err := rows.Scan(
			&c.ID, &c.ProductID, &c.BatchID, &c.Title, &c.Price,
			&c.AvailableQuantity, &c.IsAvailable, &c.Outcome,
			&c.RawMessage, &c.ErrorKind, &c.ErrorDetail,
			&c.CheckedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stock check: %w", err)
		}
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return checks, nil
}

// Latest returns the most recent successful check of a product, or nil.
func (r *StockCheckRepository) Latest(ctx context.Context, productID string) (*StockCheck, error) {
	checks, err := r.History(ctx, productID, 1)
	if err != nil {
		return nil, err
	}
	if len(checks) == 0 {
		return nil, nil
	}
	return checks[0], nil
}
