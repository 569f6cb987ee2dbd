package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chainsyncstore/chainsync-golang/internal/conflict"
	"github.com/chainsyncstore/chainsync-golang/internal/models"
	"github.com/chainsyncstore/chainsync-golang/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saleOf(clientRef string, total float64) *validation.TransactionCreate {
	return &validation.TransactionCreate{
		ClientRef: clientRef,
		Total:     total,
		Payment:   "card",
		Items: []validation.TransactionLine{
			{ProductID: "prod-1", Quantity: 2, UnitPrice: total / 2},
		},
		OccurredAt: time.Now(),
	}
}

func TestTransactionCreateInsertsHeaderAndItems(t *testing.T) {
	db := newTestDB(t)
	s := NewTransactionSynchronizer(db)
	ctx := context.Background()

	payload := saleOf("local-1", 20)
	payload.Items = append(payload.Items, validation.TransactionLine{ProductID: "prod-2", Quantity: 1, UnitPrice: 5})

	outcome, err := s.Apply(ctx, queueItem(models.EntityTransaction, models.ActionCreate, 1, nil), payload)
	require.NoError(t, err)
	require.NotEmpty(t, outcome.EntityID)
	assert.Empty(t, outcome.ConflictType)

	var headers, lines int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&headers))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM transaction_items WHERE transaction_id = ?", outcome.EntityID).Scan(&lines))
	assert.Equal(t, 1, headers)
	assert.Equal(t, 2, lines)
}

func TestTransactionCreateDefaultsPaymentToCash(t *testing.T) {
	db := newTestDB(t)
	s := NewTransactionSynchronizer(db)
	ctx := context.Background()

	payload := saleOf("", 10)
	payload.Payment = ""

	outcome, err := s.Apply(ctx, queueItem(models.EntityTransaction, models.ActionCreate, 1, nil), payload)
	require.NoError(t, err)

	var payment string
	require.NoError(t, db.QueryRow("SELECT payment_method FROM transactions WHERE id = ?", outcome.EntityID).Scan(&payment))
	assert.Equal(t, "cash", payment)
}

func TestTransactionCreateDuplicateKeepsServerCopy(t *testing.T) {
	db := newTestDB(t)
	s := NewTransactionSynchronizer(db)
	ctx := context.Background()

	first, err := s.Apply(ctx, queueItem(models.EntityTransaction, models.ActionCreate, 1, nil), saleOf("local-9", 20))
	require.NoError(t, err)

	// Replaying the same sale with a drifted total must not insert twice or
	// overwrite canonical state.
	replay := saleOf("local-9", 25)
	replay.OccurredAt = time.Now().Add(time.Hour)

	outcome, err := s.Apply(ctx, queueItem(models.EntityTransaction, models.ActionCreate, 1, nil), replay)
	require.NoError(t, err)
	assert.Equal(t, conflict.Duplicate, outcome.ConflictType)
	assert.True(t, outcome.Resolution.Resolved)
	assert.Equal(t, conflict.AcceptServer, outcome.Resolution.Action)
	assert.Equal(t, first.EntityID, outcome.EntityID)

	var count int
	var total float64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&count))
	require.NoError(t, db.QueryRow("SELECT total FROM transactions WHERE id = ?", first.EntityID).Scan(&total))
	assert.Equal(t, 1, count)
	assert.Equal(t, 20.0, total)
}

func TestTransactionCreateNewerIdenticalCopyRefreshesHeader(t *testing.T) {
	db := newTestDB(t)
	s := NewTransactionSynchronizer(db)
	ctx := context.Background()

	original := saleOf("local-3", 20)
	original.Payment = "cash"
	first, err := s.Apply(ctx, queueItem(models.EntityTransaction, models.ActionCreate, 1, nil), original)
	require.NoError(t, err)

	// Same sale, same total, but the terminal corrected the payment method
	// before the replay landed.
	replay := saleOf("local-3", 20)
	replay.OccurredAt = time.Now().Add(time.Hour)

	outcome, err := s.Apply(ctx, queueItem(models.EntityTransaction, models.ActionCreate, 1, nil), replay)
	require.NoError(t, err)
	assert.Equal(t, conflict.AcceptLocal, outcome.Resolution.Action)
	assert.Equal(t, first.EntityID, outcome.EntityID)

	var count int
	var payment string
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&count))
	require.NoError(t, db.QueryRow("SELECT payment_method FROM transactions WHERE id = ?", first.EntityID).Scan(&payment))
	assert.Equal(t, 1, count)
	assert.Equal(t, "card", payment)
}

func TestTransactionCreateDistinctClientRefsCoexist(t *testing.T) {
	db := newTestDB(t)
	s := NewTransactionSynchronizer(db)
	ctx := context.Background()

	_, err := s.Apply(ctx, queueItem(models.EntityTransaction, models.ActionCreate, 1, nil), saleOf("local-1", 20))
	require.NoError(t, err)
	_, err = s.Apply(ctx, queueItem(models.EntityTransaction, models.ActionCreate, 1, nil), saleOf("local-2", 20))
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestTransactionUpdatePatchesFields(t *testing.T) {
	db := newTestDB(t)
	s := NewTransactionSynchronizer(db)
	ctx := context.Background()

	created, err := s.Apply(ctx, queueItem(models.EntityTransaction, models.ActionCreate, 1, nil), saleOf("local-1", 20))
	require.NoError(t, err)

	newTotal := 22.5
	outcome, err := s.Apply(ctx,
		queueItem(models.EntityTransaction, models.ActionUpdate, 1, &created.EntityID),
		&validation.TransactionUpdate{Total: &newTotal})
	require.NoError(t, err)
	assert.Equal(t, created.EntityID, outcome.EntityID)

	var total float64
	var payment string
	require.NoError(t, db.QueryRow("SELECT total, payment_method FROM transactions WHERE id = ?", created.EntityID).Scan(&total, &payment))
	assert.Equal(t, 22.5, total)
	assert.Equal(t, "card", payment, "unset fields keep their value")
}

func TestTransactionUpdateUnknownEntity(t *testing.T) {
	db := newTestDB(t)
	s := NewTransactionSynchronizer(db)
	ctx := context.Background()

	missing := "no-such-id"
	_, err := s.Apply(ctx,
		queueItem(models.EntityTransaction, models.ActionUpdate, 1, &missing),
		&validation.TransactionUpdate{})
	assert.True(t, errors.Is(err, ErrUnknownEntity))

	_, err = s.Apply(ctx,
		queueItem(models.EntityTransaction, models.ActionUpdate, 1, nil),
		&validation.TransactionUpdate{})
	assert.True(t, errors.Is(err, ErrUnknownEntity))
}

func TestTransactionDeleteRemovesHeaderAndItems(t *testing.T) {
	db := newTestDB(t)
	s := NewTransactionSynchronizer(db)
	ctx := context.Background()

	created, err := s.Apply(ctx, queueItem(models.EntityTransaction, models.ActionCreate, 1, nil), saleOf("local-1", 20))
	require.NoError(t, err)

	_, err = s.Apply(ctx,
		queueItem(models.EntityTransaction, models.ActionDelete, 1, &created.EntityID),
		&validation.TransactionDelete{})
	require.NoError(t, err)

	var headers, lines int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&headers))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM transaction_items").Scan(&lines))
	assert.Equal(t, 0, headers)
	assert.Equal(t, 0, lines)
}

func TestTransactionForceApplyOverwritesDuplicate(t *testing.T) {
	db := newTestDB(t)
	s := NewTransactionSynchronizer(db)
	ctx := context.Background()

	first, err := s.Apply(ctx, queueItem(models.EntityTransaction, models.ActionCreate, 1, nil), saleOf("local-7", 20))
	require.NoError(t, err)

	outcome, err := s.ForceApply(ctx,
		queueItem(models.EntityTransaction, models.ActionCreate, 1, nil), saleOf("local-7", 35))
	require.NoError(t, err)
	assert.Equal(t, first.EntityID, outcome.EntityID)

	var count int
	var total float64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&count))
	require.NoError(t, db.QueryRow("SELECT total FROM transactions WHERE id = ?", first.EntityID).Scan(&total))
	assert.Equal(t, 1, count)
	assert.Equal(t, 35.0, total)
}
