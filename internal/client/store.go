// Package client is the POS terminal side of the sync subsystem: a durable
// offline write buffer, a local catalog mirror, and the background agent that
// drains and refreshes them. Both stores live in one SQLite database on the
// terminal; they stage requests and never mutate canonical state directly.
package client

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// OpenStore opens the terminal's local SQLite database, creating the data
// directory and schema when missing.
func OpenStore(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "terminal.db")

	// Pure-Go sqlite, no CGO: works on any terminal hardware we ship to.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open terminal database: %w", err)
	}

	// SQLite has a single writer; serialize access through one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := ensureClientSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenMemoryStore opens a throwaway in-memory store.
func OpenMemoryStore() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureClientSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureClientSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS offline_queue (
			idempotency_key TEXT PRIMARY KEY,
			url             TEXT     NOT NULL,
			payload         TEXT     NOT NULL,
			retry_count     INTEGER  NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS catalog_products (
			id      TEXT PRIMARY KEY,
			name    TEXT NOT NULL,
			barcode TEXT,
			price   REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS catalog_meta (
			id            INTEGER PRIMARY KEY,
			last_sync_at  DATETIME,
			product_count INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to ensure client schema: %w", err)
		}
	}
	return nil
}
