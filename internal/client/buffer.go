package client

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// QueueEntry is one deferred write in the offline buffer.
type QueueEntry struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	URL            string          `json:"url"`
	Payload        json.RawMessage `json:"payload"`
	RetryCount     int             `json:"retryCount"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// DrainResult summarizes one replay pass.
type DrainResult struct {
	Replayed  int `json:"replayed"`
	Remaining int `json:"remaining"`
}

// OfflineBuffer is a durable local queue of write operations that failed or
// were never attempted against the server. Enqueue returns immediately so the
// cashier's flow is never blocked; the buffered sale still completes locally
// (receipt printed from cached data) while server confirmation is pending.
type OfflineBuffer struct {
	DB    *sql.DB
	HTTP  *http.Client
	Token string // bearer token attached to replayed requests

	// OnReplayed, when set, surfaces the user-visible confirmation after a
	// buffered write lands on the server.
	OnReplayed func(entry QueueEntry)

	draining atomic.Bool
}

// NewOfflineBuffer wires a buffer over the terminal store.
func NewOfflineBuffer(db *sql.DB) *OfflineBuffer {
	return &OfflineBuffer{
		DB:   db,
		HTTP: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enqueue persists a deferred request under a fresh idempotency key. The key
// stays stable across every retry of this logical write, so the server can
// deduplicate no matter how often we replay.
func (b *OfflineBuffer) Enqueue(url string, payload interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal buffered payload: %w", err)
	}

	key := uuid.New().String()
	_, err = b.DB.Exec(`
		INSERT INTO offline_queue (idempotency_key, url, payload, retry_count, created_at)
		VALUES (?, ?, ?, 0, ?)`,
		key, url, string(body), time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to buffer offline write: %w", err)
	}

	log.Printf("Buffered offline write %s -> %s", key, url)
	return key, nil
}

// Count returns how many writes are waiting, for the "pending sync"
// indicator.
func (b *OfflineBuffer) Count() (int, error) {
	var n int
	if err := b.DB.QueryRow("SELECT COUNT(*) FROM offline_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count offline queue: %w", err)
	}
	return n, nil
}

// Drain replays buffered requests in creation order, removing each on success
// (HTTP 2xx) and leaving it in place with a bumped retry counter on failure.
// A drain already in progress makes a second call return immediately; the
// replay loop must never run twice concurrently.
func (b *OfflineBuffer) Drain(ctx context.Context) (*DrainResult, error) {
	if !b.draining.CompareAndSwap(false, true) {
		return &DrainResult{}, nil
	}
	defer b.draining.Store(false)

	entries, err := b.pending()
	if err != nil {
		return nil, err
	}

	result := &DrainResult{}
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			// Everything not replayed is still pending, including entries
			// that already failed this pass.
			result.Remaining = len(entries) - result.Replayed
			return result, ctx.Err()
		default:
		}

		if b.replay(ctx, entry) {
			if _, err := b.DB.Exec("DELETE FROM offline_queue WHERE idempotency_key = ?", entry.IdempotencyKey); err != nil {
				return result, fmt.Errorf("failed to remove replayed entry: %w", err)
			}
			result.Replayed++
			if b.OnReplayed != nil {
				b.OnReplayed(entry)
			}
			continue
		}

		if _, err := b.DB.Exec("UPDATE offline_queue SET retry_count = retry_count + 1 WHERE idempotency_key = ?", entry.IdempotencyKey); err != nil {
			return result, fmt.Errorf("failed to bump retry count: %w", err)
		}
		result.Remaining++
	}

	if result.Replayed > 0 || result.Remaining > 0 {
		log.Printf("Offline buffer drain complete: %d replayed, %d still pending", result.Replayed, result.Remaining)
	}
	return result, nil
}

// replay posts one buffered request. Any 2xx is success; everything else
// leaves the entry for the next drain.
func (b *OfflineBuffer) replay(ctx context.Context, entry QueueEntry) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, entry.URL, bytes.NewReader(entry.Payload))
	if err != nil {
		log.Printf("Failed to build replay request for %s: %v", entry.IdempotencyKey, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", entry.IdempotencyKey)
	if b.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.Token)
	}

	resp, err := b.HTTP.Do(req)
	if err != nil {
		log.Printf("Replay of %s failed: %v", entry.IdempotencyKey, err)
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Replay of %s rejected with status %d", entry.IdempotencyKey, resp.StatusCode)
		return false
	}
	return true
}

func (b *OfflineBuffer) pending() ([]QueueEntry, error) {
	rows, err := b.DB.Query(`
		SELECT idempotency_key, url, payload, retry_count, created_at
		FROM offline_queue ORDER BY created_at ASC, idempotency_key ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read offline queue: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var entry QueueEntry
		var payload string
		if err := rows.Scan(&entry.IdempotencyKey, &entry.URL, &payload, &entry.RetryCount, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan offline entry: %w", err)
		}
		entry.Payload = json.RawMessage(payload)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
