package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chainsyncstore/chainsync-golang/internal/conflict"
	"github.com/chainsyncstore/chainsync-golang/internal/models"
	"github.com/chainsyncstore/chainsync-golang/internal/syncqueue"
	"github.com/gin-gonic/gin"
)

//
// --- Sync Queue Handlers ---
//

// EnqueueSyncInput is the wire shape clients submit queue items with.
type EnqueueSyncInput struct {
	EntityType     models.EntityType `json:"entityType" binding:"required,oneof=transaction inventory product"`
	EntityID       *string           `json:"entityId"`
	Action         models.SyncAction `json:"action" binding:"required,oneof=create update delete"`
	Data           json.RawMessage   `json:"data" binding:"required"`
	IdempotencyKey *string           `json:"idempotencyKey"`
}

// EnqueueSyncItem is the handler for POST /v1/sync/queue
func (h *Handlers) EnqueueSyncItem(c *gin.Context) {
	// 1. --- Get Store/User Context ---
	storeID := c.MustGet("storeID").(int64)
	userID := c.MustGet("userID").(int64)

	// 2. --- Bind & Validate Shape ---
	var input EnqueueSyncInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The replay path sends the idempotency key as a header; the body wins
	// when both are present.
	if input.IdempotencyKey == nil {
		if key := c.GetHeader("Idempotency-Key"); key != "" {
			input.IdempotencyKey = &key
		}
	}

	// 3. --- Validate Payload Before Admission ---
	vres := h.Processor.Validator.Validate(input.EntityType, input.Action, input.Data)
	if !vres.Valid {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": vres.Errors})
		return
	}

	// 4. --- Admit Into the Queue ---
	item, created, err := h.Queue.Enqueue(c, syncqueue.EnqueueRequest{
		StoreID:        storeID,
		UserID:         userID,
		EntityType:     input.EntityType,
		EntityID:       input.EntityID,
		Action:         input.Action,
		Data:           input.Data,
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue sync item"})
		return
	}

	// 5. --- Respond ---
	// A replayed idempotency key returns the original item instead of
	// creating a second queue entry.
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"id":     item.ID,
		"status": item.Status,
	})
}

// GetSyncStatus is the handler for GET /v1/sync/status
func (h *Handlers) GetSyncStatus(c *gin.Context) {
	storeID := c.MustGet("storeID").(int64)

	// ?all=true widens the counts across every store (back office view).
	var scope *int64
	if c.Query("all") != "true" {
		scope = &storeID
	}

	counts, err := h.Queue.Counts(c, scope)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch sync status"})
		return
	}

	c.JSON(http.StatusOK, counts)
}

// ProcessSyncQueue is the handler for POST /v1/sync/process ("sync now").
func (h *Handlers) ProcessSyncQueue(c *gin.Context) {
	storeID := c.MustGet("storeID").(int64)

	var result *models.SyncResult
	var err error
	if c.Query("all") == "true" {
		result, err = h.Processor.ProcessAll(c)
	} else {
		result, err = h.Processor.ProcessStore(c, storeID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sync processing failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// RetryFailedItems is the handler for POST /v1/sync/retry-failed
func (h *Handlers) RetryFailedItems(c *gin.Context) {
	storeID := c.MustGet("storeID").(int64)

	var scope *int64
	if c.Query("all") != "true" {
		scope = &storeID
	}

	count, err := h.Queue.RetryFailed(c, scope)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retry items"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"retried": count})
}

// ClearCompletedItems is the handler for DELETE /v1/sync/completed
func (h *Handlers) ClearCompletedItems(c *gin.Context) {
	olderThanDays := 7
	if raw := c.Query("olderThanDays"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "olderThanDays must be a non-negative integer"})
			return
		}
		olderThanDays = parsed
	}

	count, err := h.Queue.ClearCompleted(c, olderThanDays)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear completed items"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cleared": count})
}

// ResolveConflictInput names the operator's decision for one conflict item.
type ResolveConflictInput struct {
	Action conflict.Action `json:"action" binding:"required,oneof=accept_local accept_server"`
}

// ResolveConflict is the handler for POST /v1/sync/queue/:id/resolve
func (h *Handlers) ResolveConflict(c *gin.Context) {
	id := c.Param("id")

	var input ResolveConflictInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Processor.ResolveConflict(c, id, input.Action); err != nil {
		var verr *syncqueue.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": verr.Fields})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     id,
		"status": models.StatusSynced,
	})
}
