package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/chainsyncstore/chainsync-golang/internal/conflict"
	"github.com/chainsyncstore/chainsync-golang/internal/models"
	"github.com/chainsyncstore/chainsync-golang/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func levelOf(t *testing.T, s *InventorySynchronizer, productID string, storeID int64) int {
	t.Helper()
	var quantity int
	require.NoError(t, s.DB.QueryRow(
		"SELECT quantity FROM inventory_levels WHERE product_id = ? AND store_id = ?",
		productID, storeID).Scan(&quantity))
	return quantity
}

func seedLevel(t *testing.T, s *InventorySynchronizer, productID string, storeID int64, quantity int) {
	t.Helper()
	_, err := s.Apply(context.Background(),
		queueItem(models.EntityInventory, models.ActionCreate, storeID, nil),
		&validation.InventoryCreate{ProductID: productID, Quantity: quantity})
	require.NoError(t, err)
}

func TestInventoryUpdateCreatesMissingLevel(t *testing.T) {
	s := NewInventorySynchronizer(newTestDB(t))
	ctx := context.Background()

	outcome, err := s.Apply(ctx,
		queueItem(models.EntityInventory, models.ActionUpdate, 1, nil),
		&validation.InventoryUpdate{ProductID: "prod-1", Quantity: 12})
	require.NoError(t, err)
	assert.Equal(t, "prod-1", outcome.EntityID)
	assert.Empty(t, outcome.ConflictType)
	assert.Equal(t, 12, levelOf(t, s, "prod-1", 1))
}

func TestInventoryUpdateCleanBaselineApplies(t *testing.T) {
	s := NewInventorySynchronizer(newTestDB(t))
	ctx := context.Background()
	seedLevel(t, s, "prod-1", 1, 10)

	outcome, err := s.Apply(ctx,
		queueItem(models.EntityInventory, models.ActionUpdate, 1, nil),
		&validation.InventoryUpdate{ProductID: "prod-1", Quantity: 8, PreviousQuantity: intPtr(10)})
	require.NoError(t, err)
	assert.Empty(t, outcome.ConflictType)
	assert.Equal(t, 8, levelOf(t, s, "prod-1", 1))
}

func TestInventoryUpdateSameQuantityIsNoOp(t *testing.T) {
	s := NewInventorySynchronizer(newTestDB(t))
	ctx := context.Background()
	seedLevel(t, s, "prod-1", 1, 8)

	outcome, err := s.Apply(ctx,
		queueItem(models.EntityInventory, models.ActionUpdate, 1, nil),
		&validation.InventoryUpdate{ProductID: "prod-1", Quantity: 8, PreviousQuantity: intPtr(10)})
	require.NoError(t, err)
	assert.Empty(t, outcome.ConflictType)
	assert.Equal(t, 8, levelOf(t, s, "prod-1", 1))
}

func TestInventoryUpdateMergesConcurrentSales(t *testing.T) {
	s := NewInventorySynchronizer(newTestDB(t))
	ctx := context.Background()

	// Another terminal's sale already took the level from 10 to 7; this
	// update saw 10 and sold down to 8. Both decrements stick.
	seedLevel(t, s, "prod-1", 1, 7)

	outcome, err := s.Apply(ctx,
		queueItem(models.EntityInventory, models.ActionUpdate, 1, nil),
		&validation.InventoryUpdate{ProductID: "prod-1", Quantity: 8, PreviousQuantity: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, conflict.QuantityMismatch, outcome.ConflictType)
	assert.Equal(t, conflict.Merge, outcome.Resolution.Action)
	assert.Equal(t, 5, levelOf(t, s, "prod-1", 1))
}

func TestInventoryUpdateOppositeDirectionsStayConflicted(t *testing.T) {
	s := NewInventorySynchronizer(newTestDB(t))
	ctx := context.Background()

	// The server restocked past the client's baseline while the client sold.
	seedLevel(t, s, "prod-1", 1, 15)

	outcome, err := s.Apply(ctx,
		queueItem(models.EntityInventory, models.ActionUpdate, 1, nil),
		&validation.InventoryUpdate{ProductID: "prod-1", Quantity: 8, PreviousQuantity: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, conflict.QuantityMismatch, outcome.ConflictType)
	assert.False(t, outcome.Resolution.Resolved)
	assert.Equal(t, 15, levelOf(t, s, "prod-1", 1), "unresolved conflicts must not touch the level")
}

func TestInventoryUpdateWithoutBaselineStaysConflicted(t *testing.T) {
	s := NewInventorySynchronizer(newTestDB(t))
	ctx := context.Background()
	seedLevel(t, s, "prod-1", 1, 7)

	outcome, err := s.Apply(ctx,
		queueItem(models.EntityInventory, models.ActionUpdate, 1, nil),
		&validation.InventoryUpdate{ProductID: "prod-1", Quantity: 12})
	require.NoError(t, err)
	assert.False(t, outcome.Resolution.Resolved)
	assert.Equal(t, 7, levelOf(t, s, "prod-1", 1))
}

func TestInventoryLevelsArePerStore(t *testing.T) {
	s := NewInventorySynchronizer(newTestDB(t))
	seedLevel(t, s, "prod-1", 1, 10)
	seedLevel(t, s, "prod-1", 2, 3)

	assert.Equal(t, 10, levelOf(t, s, "prod-1", 1))
	assert.Equal(t, 3, levelOf(t, s, "prod-1", 2))
}

func TestInventoryForceApplyOverwrites(t *testing.T) {
	s := NewInventorySynchronizer(newTestDB(t))
	ctx := context.Background()
	seedLevel(t, s, "prod-1", 1, 15)

	// The same payload that stays conflicted under Apply wins outright here.
	outcome, err := s.ForceApply(ctx,
		queueItem(models.EntityInventory, models.ActionUpdate, 1, nil),
		&validation.InventoryUpdate{ProductID: "prod-1", Quantity: 8, PreviousQuantity: intPtr(10)})
	require.NoError(t, err)
	assert.Empty(t, outcome.ConflictType)
	assert.Equal(t, 8, levelOf(t, s, "prod-1", 1))
}

func TestInventoryDeleteRemovesLevel(t *testing.T) {
	s := NewInventorySynchronizer(newTestDB(t))
	ctx := context.Background()
	seedLevel(t, s, "prod-1", 1, 10)

	_, err := s.Apply(ctx,
		queueItem(models.EntityInventory, models.ActionDelete, 1, nil),
		&validation.InventoryDelete{ProductID: "prod-1"})
	require.NoError(t, err)

	var count int
	require.NoError(t, s.DB.QueryRow("SELECT COUNT(*) FROM inventory_levels").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestInventoryDeleteUnknownEntity(t *testing.T) {
	s := NewInventorySynchronizer(newTestDB(t))
	ctx := context.Background()

	_, err := s.Apply(ctx,
		queueItem(models.EntityInventory, models.ActionDelete, 1, nil),
		&validation.InventoryDelete{ProductID: "no-such-product"})
	assert.True(t, errors.Is(err, ErrUnknownEntity))
}
