package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/queenbooks-stock/internal/stock"
)

func TestNewStockCheck(t *testing.T) {
	qty := 13
	checked := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	batch := uuid.New()

	c := NewStockCheck(stock.Result{
		ProductID:         "A100",
		Title:             "Dom Casmurro",
		Price:             "R$ 49,90",
		AvailableQuantity: &qty,
		IsAvailable:       true,
		Outcome:           stock.OutcomeInStock,
		RawMessage:        "Apenas 13 disponíveis para compra",
		TimestampUTC:      checked,
	}, &batch)

	assert.NotEqual(t, uuid.Nil, c.ID)
	assert.Equal(t, "A100", c.ProductID)
	assert.Equal(t, &batch, c.BatchID)
	assert.Equal(t, 13, *c.AvailableQuantity)
	assert.Equal(t, "in_stock", c.Outcome)
	assert.Empty(t, c.ErrorKind)
	assert.Equal(t, checked, c.CheckedAt)
}

func TestNewStockCheck_Failed(t *testing.T) {
	c := NewStockCheck(stock.Result{
		ProductID:    "A300",
		Outcome:      stock.OutcomeFailed,
		Error:        stock.KindNavigationTimeout,
		ErrorDetail:  "product page did not load",
		TimestampUTC: time.Now().UTC(),
	}, nil)

	assert.Nil(t, c.AvailableQuantity)
	assert.Nil(t, c.BatchID)
	assert.False(t, c.IsAvailable)
	assert.Equal(t, "NavigationTimeout", c.ErrorKind)
}

func TestStockCheckRepository_History(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewStockCheckRepository(db)
	base := time.Now().UTC().Truncate(time.Second)

	for i, qty := range []int{5, 3, 0} {
		qty := qty
		c := NewStockCheck(stock.Result{
			ProductID:         "A100",
			AvailableQuantity: &qty,
			IsAvailable:       qty > 0,
			Outcome:           stock.OutcomeInStock,
			TimestampUTC:      base.Add(time.Duration(i) * time.Minute),
		}, nil)
		err := db.WithTx(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, c)
		})
		require.NoError(t, err)
	}

	history, err := repo.History(ctx, "A100", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 0, *history[0].AvailableQuantity)
	assert.Equal(t, 3, *history[1].AvailableQuantity)

	latest, err := repo.Latest(ctx, "A100")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.False(t, latest.IsAvailable)

	none, err := repo.Latest(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)
}
