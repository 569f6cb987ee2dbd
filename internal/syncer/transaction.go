package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chainsyncstore/chainsync-golang/internal/conflict"
	"github.com/chainsyncstore/chainsync-golang/internal/models"
	"github.com/chainsyncstore/chainsync-golang/internal/validation"
	"github.com/google/uuid"
)

// TransactionSynchronizer applies sale transactions against the canonical
// store. A create inserts the header and its line items as a single database
// transaction: a header without items is a fatal inconsistency and must never
// persist.
type TransactionSynchronizer struct {
	DB *sql.DB
}

func NewTransactionSynchronizer(db *sql.DB) *TransactionSynchronizer {
	return &TransactionSynchronizer{DB: db}
}

func (s *TransactionSynchronizer) EntityType() models.EntityType {
	return models.EntityTransaction
}

func (s *TransactionSynchronizer) Apply(ctx context.Context, item *models.SyncQueueItem, payload interface{}) (Outcome, error) {
	switch item.Action {
	case models.ActionCreate:
		p, ok := payload.(*validation.TransactionCreate)
		if !ok {
			return Outcome{}, fmt.Errorf("unexpected payload type %T for transaction create", payload)
		}
		return s.create(ctx, item, p)
	case models.ActionUpdate:
		p, ok := payload.(*validation.TransactionUpdate)
		if !ok {
			return Outcome{}, fmt.Errorf("unexpected payload type %T for transaction update", payload)
		}
		return s.update(ctx, item, p)
	case models.ActionDelete:
		return s.delete(ctx, item)
	default:
		return Outcome{}, fmt.Errorf("unsupported transaction action %q", item.Action)
	}
}

// ForceApply makes the incoming write win. For a duplicate create this means
// overwriting the canonical header from the incoming copy; everything else
// already applies unconditionally.
func (s *TransactionSynchronizer) ForceApply(ctx context.Context, item *models.SyncQueueItem, payload interface{}) (Outcome, error) {
	p, ok := payload.(*validation.TransactionCreate)
	if !ok || item.Action != models.ActionCreate {
		return s.Apply(ctx, item, payload)
	}

	if p.ClientRef != "" {
		existing, err := s.findByClientRef(ctx, item.StoreID, p.ClientRef)
		if err != nil {
			return Outcome{}, err
		}
		if existing != nil {
			_, err := s.DB.ExecContext(ctx,
				"UPDATE transactions SET total = ?, payment_method = ?, updated_at = ? WHERE id = ?",
				p.Total, paymentOrDefault(p.Payment), time.Now(), existing.ID)
			if err != nil {
				return Outcome{}, fmt.Errorf("failed to overwrite duplicate transaction: %w", err)
			}
			return Outcome{EntityID: existing.ID}, nil
		}
	}
	return s.create(ctx, item, p)
}

// create inserts a new transaction, guarding against duplicate submission of
// the same offline sale: if the payload carries a client-assigned local id and
// a canonical transaction already exists under it, the pair goes to the
// conflict resolver instead of being inserted twice.
func (s *TransactionSynchronizer) create(ctx context.Context, item *models.SyncQueueItem, p *validation.TransactionCreate) (Outcome, error) {
	if p.ClientRef != "" {
		existing, err := s.findByClientRef(ctx, item.StoreID, p.ClientRef)
		if err != nil {
			return Outcome{}, err
		}
		if existing != nil {
			res := conflict.Resolve(conflict.Duplicate, p, existing)
			if !res.Resolved {
				return Outcome{ConflictType: conflict.Duplicate, Resolution: res}, nil
			}
			if res.Action == conflict.AcceptLocal {
				// Same sale, newer copy: refresh the canonical header in place.
				_, err := s.DB.ExecContext(ctx,
					"UPDATE transactions SET total = ?, payment_method = ?, updated_at = ? WHERE id = ?",
					p.Total, paymentOrDefault(p.Payment), time.Now(), existing.ID)
				if err != nil {
					return Outcome{}, fmt.Errorf("failed to refresh duplicate transaction: %w", err)
				}
			}
			// accept_server: the existing canonical record is authoritative.
			return Outcome{EntityID: existing.ID, ConflictType: conflict.Duplicate, Resolution: res}, nil
		}
	}

	// Confirmed new: header + items as one atomic unit.
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() // Safety net

	now := time.Now()
	id := uuid.New().String()
	clientRef := sql.NullString{String: p.ClientRef, Valid: p.ClientRef != ""}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, store_id, user_id, client_ref, total, payment_method, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, item.StoreID, item.UserID, clientRef, p.Total, paymentOrDefault(p.Payment), now, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to insert transaction header: %w", err)
	}

	itemQuery := `
		INSERT INTO transaction_items (id, transaction_id, product_id, quantity, unit_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	for _, line := range p.Items {
		_, err := tx.ExecContext(ctx, itemQuery, uuid.New().String(), id, line.ProductID, line.Quantity, line.UnitPrice, now)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to insert transaction item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return Outcome{EntityID: id}, nil
}

func (s *TransactionSynchronizer) update(ctx context.Context, item *models.SyncQueueItem, p *validation.TransactionUpdate) (Outcome, error) {
	if item.EntityID == nil {
		return Outcome{}, fmt.Errorf("transaction update requires an entity id: %w", ErrUnknownEntity)
	}

	existing, err := s.findByID(ctx, *item.EntityID)
	if err != nil {
		return Outcome{}, err
	}
	if existing == nil {
		return Outcome{}, fmt.Errorf("transaction %s: %w", *item.EntityID, ErrUnknownEntity)
	}

	total := existing.Total
	if p.Total != nil {
		total = *p.Total
	}
	payment := existing.Payment
	if p.Payment != nil {
		payment = *p.Payment
	}

	_, err = s.DB.ExecContext(ctx,
		"UPDATE transactions SET total = ?, payment_method = ?, updated_at = ? WHERE id = ?",
		total, payment, time.Now(), existing.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to update transaction: %w", err)
	}

	return Outcome{EntityID: existing.ID}, nil
}

// delete removes the header and its items together; leaving orphaned line
// items would be the same partial-write inconsistency as a header without
// items.
func (s *TransactionSynchronizer) delete(ctx context.Context, item *models.SyncQueueItem) (Outcome, error) {
	if item.EntityID == nil {
		return Outcome{}, fmt.Errorf("transaction delete requires an entity id: %w", ErrUnknownEntity)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM transaction_items WHERE transaction_id = ?", *item.EntityID); err != nil {
		return Outcome{}, fmt.Errorf("failed to delete transaction items: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", *item.EntityID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to delete transaction: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return Outcome{}, fmt.Errorf("transaction %s: %w", *item.EntityID, ErrUnknownEntity)
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("failed to commit delete: %w", err)
	}

	return Outcome{EntityID: *item.EntityID}, nil
}

func (s *TransactionSynchronizer) findByClientRef(ctx context.Context, storeID int64, clientRef string) (*models.Transaction, error) {
	return s.scanOne(s.DB.QueryRowContext(ctx, `
		SELECT id, store_id, user_id, client_ref, total, payment_method, created_at, updated_at
		FROM transactions WHERE store_id = ? AND client_ref = ?`, storeID, clientRef))
}

func (s *TransactionSynchronizer) findByID(ctx context.Context, id string) (*models.Transaction, error) {
	return s.scanOne(s.DB.QueryRowContext(ctx, `
		SELECT id, store_id, user_id, client_ref, total, payment_method, created_at, updated_at
		FROM transactions WHERE id = ?`, id))
}

func (s *TransactionSynchronizer) scanOne(row *sql.Row) (*models.Transaction, error) {
	var t models.Transaction
	var clientRef sql.NullString
	err := row.Scan(&t.ID, &t.StoreID, &t.UserID, &clientRef, &t.Total, &t.Payment, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	if clientRef.Valid {
		t.ClientRef = &clientRef.String
	}
	return &t, nil
}

func paymentOrDefault(payment string) string {
	if payment == "" {
		return "cash"
	}
	return payment
}
