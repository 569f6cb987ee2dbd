package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chainsyncstore/chainsync-golang/internal/conflict"
	"github.com/chainsyncstore/chainsync-golang/internal/models"
	"github.com/chainsyncstore/chainsync-golang/internal/validation"
)

// InventorySynchronizer applies stock level mutations. Concurrent stock
// movements are the most likely source of divergence, so an update never
// blindly overwrites: the incoming and canonical versions go through the
// quantity_mismatch policy first.
type InventorySynchronizer struct {
	DB *sql.DB
}

func NewInventorySynchronizer(db *sql.DB) *InventorySynchronizer {
	return &InventorySynchronizer{DB: db}
}

func (s *InventorySynchronizer) EntityType() models.EntityType {
	return models.EntityInventory
}

func (s *InventorySynchronizer) Apply(ctx context.Context, item *models.SyncQueueItem, payload interface{}) (Outcome, error) {
	switch item.Action {
	case models.ActionCreate:
		p, ok := payload.(*validation.InventoryCreate)
		if !ok {
			return Outcome{}, fmt.Errorf("unexpected payload type %T for inventory create", payload)
		}
		return s.create(ctx, item, p)
	case models.ActionUpdate:
		p, ok := payload.(*validation.InventoryUpdate)
		if !ok {
			return Outcome{}, fmt.Errorf("unexpected payload type %T for inventory update", payload)
		}
		return s.update(ctx, item, p)
	case models.ActionDelete:
		p, ok := payload.(*validation.InventoryDelete)
		if !ok {
			return Outcome{}, fmt.Errorf("unexpected payload type %T for inventory delete", payload)
		}
		return s.delete(ctx, item, p)
	default:
		return Outcome{}, fmt.Errorf("unsupported inventory action %q", item.Action)
	}
}

// ForceApply overwrites the canonical level with the incoming quantity,
// skipping the quantity_mismatch policy.
func (s *InventorySynchronizer) ForceApply(ctx context.Context, item *models.SyncQueueItem, payload interface{}) (Outcome, error) {
	p, ok := payload.(*validation.InventoryUpdate)
	if !ok || item.Action != models.ActionUpdate {
		return s.Apply(ctx, item, payload)
	}

	existing, err := s.load(ctx, p.ProductID, item.StoreID)
	if err != nil {
		return Outcome{}, err
	}
	if existing == nil {
		return s.create(ctx, item, &validation.InventoryCreate{ProductID: p.ProductID, Quantity: p.Quantity})
	}
	if err := s.setQuantity(ctx, p.ProductID, item.StoreID, p.Quantity); err != nil {
		return Outcome{}, err
	}
	return Outcome{EntityID: p.ProductID}, nil
}

func (s *InventorySynchronizer) create(ctx context.Context, item *models.SyncQueueItem, p *validation.InventoryCreate) (Outcome, error) {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO inventory_levels (product_id, store_id, quantity, updated_at)
		VALUES (?, ?, ?, ?)`,
		p.ProductID, item.StoreID, p.Quantity, time.Now())
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to insert inventory level: %w", err)
	}
	return Outcome{EntityID: p.ProductID}, nil
}

func (s *InventorySynchronizer) update(ctx context.Context, item *models.SyncQueueItem, p *validation.InventoryUpdate) (Outcome, error) {
	existing, err := s.load(ctx, p.ProductID, item.StoreID)
	if err != nil {
		return Outcome{}, err
	}

	if existing == nil {
		// Nothing to diverge from: the update becomes the first level.
		return s.create(ctx, item, &validation.InventoryCreate{ProductID: p.ProductID, Quantity: p.Quantity})
	}

	if existing.Quantity == p.Quantity {
		// Already at the requested level, nothing to do.
		return Outcome{EntityID: p.ProductID}, nil
	}

	if p.PreviousQuantity != nil && existing.Quantity == *p.PreviousQuantity {
		// The server never moved since the client's baseline: clean apply.
		if err := s.setQuantity(ctx, p.ProductID, item.StoreID, p.Quantity); err != nil {
			return Outcome{}, err
		}
		return Outcome{EntityID: p.ProductID}, nil
	}

	res := conflict.Resolve(conflict.QuantityMismatch, p, existing)
	if !res.Resolved {
		return Outcome{ConflictType: conflict.QuantityMismatch, Resolution: res}, nil
	}

	switch res.Action {
	case conflict.Merge:
		merged, ok := res.Data.(conflict.MergedQuantity)
		if !ok {
			return Outcome{}, fmt.Errorf("merge resolution carried no quantity")
		}
		if err := s.setQuantity(ctx, p.ProductID, item.StoreID, merged.Quantity); err != nil {
			return Outcome{}, err
		}
	case conflict.AcceptLocal:
		if err := s.setQuantity(ctx, p.ProductID, item.StoreID, p.Quantity); err != nil {
			return Outcome{}, err
		}
	case conflict.AcceptServer:
		// Canonical level stands.
	}

	return Outcome{EntityID: p.ProductID, ConflictType: conflict.QuantityMismatch, Resolution: res}, nil
}

func (s *InventorySynchronizer) delete(ctx context.Context, item *models.SyncQueueItem, p *validation.InventoryDelete) (Outcome, error) {
	result, err := s.DB.ExecContext(ctx,
		"DELETE FROM inventory_levels WHERE product_id = ? AND store_id = ?",
		p.ProductID, item.StoreID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to delete inventory level: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return Outcome{}, fmt.Errorf("inventory level for product %s: %w", p.ProductID, ErrUnknownEntity)
	}
	return Outcome{EntityID: p.ProductID}, nil
}

func (s *InventorySynchronizer) load(ctx context.Context, productID string, storeID int64) (*models.InventoryLevel, error) {
	var level models.InventoryLevel
	err := s.DB.QueryRowContext(ctx, `
		SELECT product_id, store_id, quantity, updated_at
		FROM inventory_levels WHERE product_id = ? AND store_id = ?`,
		productID, storeID).Scan(&level.ProductID, &level.StoreID, &level.Quantity, &level.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory level: %w", err)
	}
	return &level, nil
}

func (s *InventorySynchronizer) setQuantity(ctx context.Context, productID string, storeID int64, quantity int) error {
	_, err := s.DB.ExecContext(ctx,
		"UPDATE inventory_levels SET quantity = ?, updated_at = ? WHERE product_id = ? AND store_id = ?",
		quantity, time.Now(), productID, storeID)
	if err != nil {
		return fmt.Errorf("failed to update inventory level: %w", err)
	}
	return nil
}
