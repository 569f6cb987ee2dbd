// Package syncqueue owns the server-side durable queue of pending mutations
// and the processor that drains it. The queue is a table in the canonical
// store; every status transition is a conditional UPDATE so that two workers
// racing for the same item have exactly one winner.
package syncqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainsyncstore/chainsync-golang/internal/models"
	"github.com/google/uuid"
)

// Queue is the repository over the 'sync_queue' and 'sync_leases' tables.
type Queue struct {
	DB *sql.DB
}

func NewQueue(db *sql.DB) *Queue {
	return &Queue{DB: db}
}

// EnqueueRequest is the wire shape the surrounding API layer passes in.
type EnqueueRequest struct {
	StoreID        int64
	UserID         int64
	EntityType     models.EntityType
	EntityID       *string
	Action         models.SyncAction
	Data           json.RawMessage
	IdempotencyKey *string
}

// Enqueue admits a mutation into the queue. When the request carries an
// idempotency key the queue has seen before, the existing item is returned
// unchanged (created == false): replaying the same logical write must never
// produce two queue entries, let alone two canonical effects.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*models.SyncQueueItem, bool, error) {
	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		existing, err := q.findByIdempotencyKey(ctx, *req.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	now := time.Now()
	item := &models.SyncQueueItem{
		ID:             uuid.New().String(),
		StoreID:        req.StoreID,
		UserID:         req.UserID,
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		Action:         req.Action,
		Data:           req.Data,
		Status:         models.StatusPending,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := q.DB.ExecContext(ctx, `
		INSERT INTO sync_queue (id, store_id, user_id, entity_type, entity_id, action, data, status, retry_count, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		item.ID, item.StoreID, item.UserID, item.EntityType, nullString(item.EntityID),
		item.Action, string(item.Data), item.Status, nullString(item.IdempotencyKey),
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		// A concurrent enqueue with the same key can slip past the lookup;
		// the unique index catches it and the first entry wins.
		if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
			if existing, lookupErr := q.findByIdempotencyKey(ctx, *req.IdempotencyKey); lookupErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to enqueue sync item: %w", err)
	}

	return item, true, nil
}

// Get returns one queue item by id.
func (q *Queue) Get(ctx context.Context, id string) (*models.SyncQueueItem, error) {
	return q.scanOne(q.DB.QueryRowContext(ctx, selectItem+" WHERE id = ?", id))
}

// PendingForStore returns the store's pending items in FIFO order by creation
// time, so older writes are applied first and cannot starve.
func (q *Queue) PendingForStore(ctx context.Context, storeID int64) ([]*models.SyncQueueItem, error) {
	rows, err := q.DB.QueryContext(ctx,
		selectItem+" WHERE store_id = ? AND status = ? ORDER BY created_at ASC, id ASC",
		storeID, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	defer rows.Close()
	return q.scanAll(rows)
}

// StoresWithPending returns every store that currently has pending items.
func (q *Queue) StoresWithPending(ctx context.Context) ([]int64, error) {
	rows, err := q.DB.QueryContext(ctx,
		"SELECT DISTINCT store_id FROM sync_queue WHERE status = ? ORDER BY store_id", models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores with pending items: %w", err)
	}
	defer rows.Close()

	var stores []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan store id: %w", err)
		}
		stores = append(stores, id)
	}
	return stores, rows.Err()
}

// Claim atomically moves one item pending -> syncing. Exactly one of any
// number of racing workers sees true.
func (q *Queue) Claim(ctx context.Context, id string) (bool, error) {
	result, err := q.DB.ExecContext(ctx,
		"UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		models.StatusSyncing, time.Now(), id, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim item %s: %w", id, err)
	}
	affected, _ := result.RowsAffected()
	return affected == 1, nil
}

// MarkSynced finalizes a cleanly applied item, recording the canonical entity
// id assigned during a create.
func (q *Queue) MarkSynced(ctx context.Context, id, entityID string) error {
	now := time.Now()
	var err error
	if entityID != "" {
		_, err = q.DB.ExecContext(ctx,
			"UPDATE sync_queue SET status = ?, entity_id = ?, error_message = NULL, synced_at = ?, updated_at = ? WHERE id = ?",
			models.StatusSynced, entityID, now, now, id)
	} else {
		_, err = q.DB.ExecContext(ctx,
			"UPDATE sync_queue SET status = ?, error_message = NULL, synced_at = ?, updated_at = ? WHERE id = ?",
			models.StatusSynced, now, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to mark item %s synced: %w", id, err)
	}
	return nil
}

// MarkConflict routes an item to its conflict terminal state for operator
// review. Conflicts are never silently dropped or retried away.
func (q *Queue) MarkConflict(ctx context.Context, id, message string) error {
	_, err := q.DB.ExecContext(ctx,
		"UPDATE sync_queue SET status = ?, error_message = ?, updated_at = ? WHERE id = ?",
		models.StatusConflict, message, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark item %s conflict: %w", id, err)
	}
	return nil
}

// MarkFailed finalizes an item that must not be retried automatically, e.g.
// after a validation failure or an unknown-entity update.
func (q *Queue) MarkFailed(ctx context.Context, id, message string) error {
	_, err := q.DB.ExecContext(ctx,
		"UPDATE sync_queue SET status = ?, error_message = ?, updated_at = ? WHERE id = ?",
		models.StatusFailed, message, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark item %s failed: %w", id, err)
	}
	return nil
}

// ReturnForRetry routes a transiently failed item back to pending, or to
// failed once the retry budget is exhausted. Returns true when the item is
// now terminally failed.
func (q *Queue) ReturnForRetry(ctx context.Context, id string, attempt, maxRetries int, message string) (bool, error) {
	status := models.StatusPending
	if attempt >= maxRetries {
		status = models.StatusFailed
	}
	_, err := q.DB.ExecContext(ctx,
		"UPDATE sync_queue SET status = ?, retry_count = ?, error_message = ?, updated_at = ? WHERE id = ?",
		status, attempt, message, time.Now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to requeue item %s: %w", id, err)
	}
	return status == models.StatusFailed, nil
}

// Counts returns the per-status breakdown, optionally scoped to one store.
func (q *Queue) Counts(ctx context.Context, storeID *int64) (*models.SyncStatusCounts, error) {
	query := "SELECT status, COUNT(*) FROM sync_queue"
	args := []interface{}{}
	if storeID != nil {
		query += " WHERE store_id = ?"
		args = append(args, *storeID)
	}
	query += " GROUP BY status"

	rows, err := q.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}
	defer rows.Close()

	counts := &models.SyncStatusCounts{}
	for rows.Next() {
		var status models.SyncStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		switch status {
		case models.StatusPending:
			counts.Pending = n
		case models.StatusSyncing:
			counts.Syncing = n
		case models.StatusSynced:
			counts.Synced = n
		case models.StatusFailed:
			counts.Failed = n
		case models.StatusConflict:
			counts.Conflict = n
		}
	}
	return counts, rows.Err()
}

// RetryFailed is the explicit operator action that moves failed items back to
// pending with their retry budget reset.
func (q *Queue) RetryFailed(ctx context.Context, storeID *int64) (int64, error) {
	query := "UPDATE sync_queue SET status = ?, retry_count = 0, error_message = NULL, updated_at = ? WHERE status = ?"
	args := []interface{}{models.StatusPending, time.Now(), models.StatusFailed}
	if storeID != nil {
		query += " AND store_id = ?"
		args = append(args, *storeID)
	}

	result, err := q.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed items: %w", err)
	}
	return result.RowsAffected()
}

// ClearCompleted deletes synced items older than the given number of days.
func (q *Queue) ClearCompleted(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	result, err := q.DB.ExecContext(ctx,
		"DELETE FROM sync_queue WHERE status = ? AND synced_at < ?",
		models.StatusSynced, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clear completed items: %w", err)
	}
	return result.RowsAffected()
}

// --- Per-store lease ---
//
// A process-wide flag cannot coordinate horizontally scaled instances, so the
// sweep lock lives in the durable store: one conditional row per store with an
// expiry, and whoever wins the conditional write holds the lease.

// AcquireLease tries to take the store's processing lease for ttl. Re-acquiry
// by the current holder extends the lease.
func (q *Queue) AcquireLease(ctx context.Context, storeID int64, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl)

	result, err := q.DB.ExecContext(ctx,
		"UPDATE sync_leases SET holder = ?, expires_at = ? WHERE store_id = ? AND (expires_at < ? OR holder = ?)",
		holder, expires, storeID, now, holder)
	if err != nil {
		return false, fmt.Errorf("failed to update lease: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 1 {
		return true, nil
	}

	// Zero affected rows is ambiguous: the lease may be held elsewhere, the
	// row may not exist yet, or we already hold it and the driver counts
	// changed rows only (a re-acquiry within the same DATETIME second writes
	// identical values). Check who actually holds the row.
	var currentHolder string
	err = q.DB.QueryRowContext(ctx,
		"SELECT holder FROM sync_leases WHERE store_id = ?", storeID).Scan(&currentHolder)
	if err == sql.ErrNoRows {
		// First lease for this store. A concurrent insert loses on the
		// primary key; losing here just means the other instance processes
		// the store.
		if _, err := q.DB.ExecContext(ctx,
			"INSERT INTO sync_leases (store_id, holder, expires_at) VALUES (?, ?, ?)",
			storeID, holder, expires); err != nil {
			return false, nil
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect lease: %w", err)
	}
	return currentHolder == holder, nil
}

// ReleaseLease gives the lease up early. Only the current holder can release.
func (q *Queue) ReleaseLease(ctx context.Context, storeID int64, holder string) error {
	_, err := q.DB.ExecContext(ctx,
		"DELETE FROM sync_leases WHERE store_id = ? AND holder = ?", storeID, holder)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// --- Scan helpers ---

const selectItem = `
	SELECT id, store_id, user_id, entity_type, entity_id, action, data, status,
	       retry_count, error_message, idempotency_key, created_at, updated_at, synced_at
	FROM sync_queue`

func (q *Queue) findByIdempotencyKey(ctx context.Context, key string) (*models.SyncQueueItem, error) {
	return q.scanOne(q.DB.QueryRowContext(ctx, selectItem+" WHERE idempotency_key = ?", key))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (q *Queue) scanOne(row *sql.Row) (*models.SyncQueueItem, error) {
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

func (q *Queue) scanAll(rows *sql.Rows) ([]*models.SyncQueueItem, error) {
	var items []*models.SyncQueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(row rowScanner) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	var entityID, errorMessage, idempotencyKey sql.NullString
	var data string
	var syncedAt sql.NullTime

	err := row.Scan(&item.ID, &item.StoreID, &item.UserID, &item.EntityType, &entityID,
		&item.Action, &data, &item.Status, &item.RetryCount, &errorMessage,
		&idempotencyKey, &item.CreatedAt, &item.UpdatedAt, &syncedAt)
	if err != nil {
		return nil, err
	}

	item.Data = json.RawMessage(data)
	if entityID.Valid {
		item.EntityID = &entityID.String
	}
	if errorMessage.Valid {
		item.ErrorMessage = &errorMessage.String
	}
	if idempotencyKey.Valid {
		item.IdempotencyKey = &idempotencyKey.String
	}
	if syncedAt.Valid {
		item.SyncedAt = &syncedAt.Time
	}
	return &item, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
