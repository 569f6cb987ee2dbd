package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chainsyncstore/chainsync-golang/internal/models"
	"github.com/chainsyncstore/chainsync-golang/internal/validation"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// ProductSynchronizer applies catalog edits. Product edits are rarely
// concurrent, so there is no conflict path; the data validator still gates
// every payload before it gets here.
type ProductSynchronizer struct {
	DB *sql.DB
}

func NewProductSynchronizer(db *sql.DB) *ProductSynchronizer {
	return &ProductSynchronizer{DB: db}
}

func (s *ProductSynchronizer) EntityType() models.EntityType {
	return models.EntityProduct
}

func (s *ProductSynchronizer) Apply(ctx context.Context, item *models.SyncQueueItem, payload interface{}) (Outcome, error) {
	switch item.Action {
	case models.ActionCreate:
		p, ok := payload.(*validation.ProductCreate)
		if !ok {
			return Outcome{}, fmt.Errorf("unexpected payload type %T for product create", payload)
		}
		return s.create(ctx, item, p)
	case models.ActionUpdate:
		p, ok := payload.(*validation.ProductUpdate)
		if !ok {
			return Outcome{}, fmt.Errorf("unexpected payload type %T for product update", payload)
		}
		return s.update(ctx, item, p)
	case models.ActionDelete:
		return s.delete(ctx, item)
	default:
		return Outcome{}, fmt.Errorf("unsupported product action %q", item.Action)
	}
}

// ForceApply is identical to Apply: product mutations have no conflict path
// to bypass.
func (s *ProductSynchronizer) ForceApply(ctx context.Context, item *models.SyncQueueItem, payload interface{}) (Outcome, error) {
	return s.Apply(ctx, item, payload)
}

func (s *ProductSynchronizer) create(ctx context.Context, item *models.SyncQueueItem, p *validation.ProductCreate) (Outcome, error) {
	sku := p.SKU
	if sku == "" {
		sku = slug.Make(p.Name)
	}

	now := time.Now()
	id := uuid.New().String()
	barcode := sql.NullString{String: p.Barcode, Valid: p.Barcode != ""}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO products (id, store_id, sku, name, barcode, price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, item.StoreID, sku, p.Name, barcode, p.Price, now, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to insert product: %w", err)
	}

	return Outcome{EntityID: id}, nil
}

func (s *ProductSynchronizer) update(ctx context.Context, item *models.SyncQueueItem, p *validation.ProductUpdate) (Outcome, error) {
	if item.EntityID == nil {
		return Outcome{}, fmt.Errorf("product update requires an entity id: %w", ErrUnknownEntity)
	}

	var existing models.Product
	var barcode sql.NullString
	err := s.DB.QueryRowContext(ctx,
		"SELECT id, name, barcode, price FROM products WHERE id = ?", *item.EntityID).
		Scan(&existing.ID, &existing.Name, &barcode, &existing.Price)
	if err == sql.ErrNoRows {
		return Outcome{}, fmt.Errorf("product %s: %w", *item.EntityID, ErrUnknownEntity)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load product: %w", err)
	}

	name := existing.Name
	if p.Name != nil {
		name = *p.Name
	}
	price := existing.Price
	if p.Price != nil {
		price = *p.Price
	}
	if p.Barcode != nil {
		barcode = sql.NullString{String: *p.Barcode, Valid: *p.Barcode != ""}
	}

	_, err = s.DB.ExecContext(ctx,
		"UPDATE products SET name = ?, barcode = ?, price = ?, updated_at = ? WHERE id = ?",
		name, barcode, price, time.Now(), existing.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to update product: %w", err)
	}

	return Outcome{EntityID: existing.ID}, nil
}

func (s *ProductSynchronizer) delete(ctx context.Context, item *models.SyncQueueItem) (Outcome, error) {
	if item.EntityID == nil {
		return Outcome{}, fmt.Errorf("product delete requires an entity id: %w", ErrUnknownEntity)
	}

	result, err := s.DB.ExecContext(ctx, "DELETE FROM products WHERE id = ?", *item.EntityID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to delete product: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return Outcome{}, fmt.Errorf("product %s: %w", *item.EntityID, ErrUnknownEntity)
	}

	return Outcome{EntityID: *item.EntityID}, nil
}
