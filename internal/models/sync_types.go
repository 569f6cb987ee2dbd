package models

import (
	"encoding/json"
	"time"
)

// --- Entity Types ---

// EntityType identifies which domain entity a queued mutation targets.
type EntityType string

const (
	EntityTransaction EntityType = "transaction"
	EntityInventory   EntityType = "inventory"
	EntityProduct     EntityType = "product"
)

// --- Actions ---

// SyncAction is the mutation verb carried by a queue item.
type SyncAction string

const (
	ActionCreate SyncAction = "create"
	ActionUpdate SyncAction = "update"
	ActionDelete SyncAction = "delete"
)

// --- Statuses ---

// SyncStatus is the queue item state machine:
//
//	pending -> syncing -> synced
//	                   -> pending (recoverable error, retries left)
//	                   -> failed  (retry budget exhausted)
//	                   -> conflict (duplicate or business conflict)
//
// synced, failed and conflict are terminal until an explicit operator action.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSyncing  SyncStatus = "syncing"
	StatusSynced   SyncStatus = "synced"
	StatusFailed   SyncStatus = "failed"
	StatusConflict SyncStatus = "conflict"
)

// SyncQueueItem is the model for the 'sync_queue' table: one durable record
// of a pending mutation submitted by a client device.
type SyncQueueItem struct {
	ID             string          `json:"id" db:"id"`
	StoreID        int64           `json:"storeId" db:"store_id"`
	UserID         int64           `json:"userId" db:"user_id"`
	EntityType     EntityType      `json:"entityType" db:"entity_type"`
	EntityID       *string         `json:"entityId,omitempty" db:"entity_id"` // present for update/delete
	Action         SyncAction      `json:"action" db:"action"`
	Data           json.RawMessage `json:"data" db:"data"`
	Status         SyncStatus      `json:"status" db:"status"`
	RetryCount     int             `json:"retryCount" db:"retry_count"`
	ErrorMessage   *string         `json:"errorMessage,omitempty" db:"error_message"`
	IdempotencyKey *string         `json:"idempotencyKey,omitempty" db:"idempotency_key"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
	SyncedAt       *time.Time      `json:"syncedAt,omitempty" db:"synced_at"`
}

// SyncResult aggregates the outcome of one processor sweep. The processor
// never throws: per-item failures land here instead.
type SyncResult struct {
	SyncedItems int      `json:"syncedItems"`
	FailedItems int      `json:"failedItems"`
	Conflicts   int      `json:"conflicts"`
	Errors      []string `json:"errors"`
}

// SyncStatusCounts is the per-status breakdown consumed by UI components.
type SyncStatusCounts struct {
	Pending  int `json:"pending"`
	Syncing  int `json:"syncing"`
	Synced   int `json:"synced"`
	Failed   int `json:"failed"`
	Conflict int `json:"conflicts"`
}
