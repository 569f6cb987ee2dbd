package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/chainsyncstore/chainsync-golang/internal/models"
)

// DefaultRefreshInterval bounds catalog staleness while online.
const DefaultRefreshInterval = 5 * time.Minute

// CatalogCache is the terminal's local mirror of the product catalog, used to
// ring up sales with no network round trip. A refresh is always an atomic
// clear-then-bulk-insert inside one SQLite transaction: the cache never holds
// a mix of two sync generations.
type CatalogCache struct {
	DB       *sql.DB
	HTTP     *http.Client
	BaseURL  string
	Token    string
	Interval time.Duration

	mu sync.Mutex // serializes refreshes
}

// NewCatalogCache wires a cache over the terminal store, pulling from the
// given API base URL.
func NewCatalogCache(db *sql.DB, baseURL string) *CatalogCache {
	return &CatalogCache{
		DB:       db,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		BaseURL:  baseURL,
		Interval: DefaultRefreshInterval,
	}
}

// Refresh replaces the mirror with the server's current catalog. Unless
// forced, a refresh inside the staleness interval is a no-op.
func (c *CatalogCache) Refresh(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force {
		lastSync, _, err := c.lastSyncLocked()
		if err != nil {
			return err
		}
		if !lastSync.IsZero() && time.Since(lastSync) < c.Interval {
			return nil
		}
	}

	products, err := c.fetch(ctx)
	if err != nil {
		return err
	}

	tx, err := c.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to start catalog refresh: %w", err)
	}
	defer tx.Rollback()

	// Bulk replace, never a partial patch: stale rows from the previous
	// generation must not survive alongside fresh ones.
	if _, err := tx.Exec("DELETE FROM catalog_products"); err != nil {
		return fmt.Errorf("failed to clear catalog mirror: %w", err)
	}

	for _, p := range products {
		if _, err := tx.Exec(
			"INSERT INTO catalog_products (id, name, barcode, price) VALUES (?, ?, ?, ?)",
			p.ID, p.Name, p.Barcode, p.Price); err != nil {
			return fmt.Errorf("failed to insert catalog row: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO catalog_meta (id, last_sync_at, product_count) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET last_sync_at = excluded.last_sync_at, product_count = excluded.product_count`,
		time.Now(), len(products)); err != nil {
		return fmt.Errorf("failed to record catalog sync metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog refresh: %w", err)
	}

	log.Printf("Catalog mirror refreshed: %d products", len(products))
	return nil
}

// LookupByBarcode returns the cached product for a scanned barcode, or nil
// when the mirror has no match.
func (c *CatalogCache) LookupByBarcode(code string) (*models.CachedProduct, error) {
	var p models.CachedProduct
	var barcode sql.NullString
	err := c.DB.QueryRow(
		"SELECT id, name, barcode, price FROM catalog_products WHERE barcode = ?", code).
		Scan(&p.ID, &p.Name, &barcode, &p.Price)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up barcode: %w", err)
	}
	p.Barcode = barcode.String
	return &p, nil
}

// Search returns up to limit products whose name or barcode matches the
// query.
func (c *CatalogCache) Search(query string, limit int) ([]models.CachedProduct, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := c.DB.Query(`
		SELECT id, name, barcode, price FROM catalog_products
		WHERE name LIKE ? OR barcode = ?
		ORDER BY name LIMIT ?`,
		"%"+query+"%", query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search catalog: %w", err)
	}
	defer rows.Close()

	var products []models.CachedProduct
	for rows.Next() {
		var p models.CachedProduct
		var barcode sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &barcode, &p.Price); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		p.Barcode = barcode.String
		products = append(products, p)
	}
	return products, rows.Err()
}

// LastSyncAt exposes staleness to the UI: when the mirror was last refreshed
// and how many products it holds.
func (c *CatalogCache) LastSyncAt() (time.Time, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSyncLocked()
}

func (c *CatalogCache) lastSyncLocked() (time.Time, int, error) {
	var lastSync sql.NullTime
	var count int
	err := c.DB.QueryRow("SELECT last_sync_at, product_count FROM catalog_meta WHERE id = 1").
		Scan(&lastSync, &count)
	if err == sql.ErrNoRows {
		return time.Time{}, 0, nil
	}
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("failed to read catalog sync metadata: %w", err)
	}
	return lastSync.Time, count, nil
}

// fetch pulls the catalog feed from the server.
func (c *CatalogCache) fetch(ctx context.Context) ([]models.CachedProduct, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/catalog/products", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog feed returned status %d", resp.StatusCode)
	}

	var out struct {
		Products []models.CachedProduct `json:"products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode catalog feed: %w", err)
	}
	return out.Products, nil
}
