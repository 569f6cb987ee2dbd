package database

import (
	"database/sql"
	"fmt"
)

// The sync subsystem owns its tables, so it creates them on startup. The DDL
// is kept dialect-portable: the same statements run against MySQL in
// production and SQLite in tests.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id              VARCHAR(36)  PRIMARY KEY,
		store_id        BIGINT       NOT NULL,
		user_id         BIGINT       NOT NULL,
		entity_type     VARCHAR(32)  NOT NULL,
		entity_id       VARCHAR(36),
		action          VARCHAR(16)  NOT NULL,
		data            TEXT         NOT NULL,
		status          VARCHAR(16)  NOT NULL,
		retry_count     INT          NOT NULL,
		error_message   TEXT,
		idempotency_key VARCHAR(64),
		created_at      DATETIME     NOT NULL,
		updated_at      DATETIME     NOT NULL,
		synced_at       DATETIME,
		UNIQUE (idempotency_key)
	)`,

	`CREATE TABLE IF NOT EXISTS sync_leases (
		store_id   BIGINT      PRIMARY KEY,
		holder     VARCHAR(64) NOT NULL,
		expires_at DATETIME    NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS products (
		id         VARCHAR(36)  PRIMARY KEY,
		store_id   BIGINT       NOT NULL,
		sku        VARCHAR(64)  NOT NULL,
		name       VARCHAR(255) NOT NULL,
		barcode    VARCHAR(64),
		price      DOUBLE       NOT NULL,
		created_at DATETIME     NOT NULL,
		updated_at DATETIME     NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS inventory_levels (
		product_id VARCHAR(36) NOT NULL,
		store_id   BIGINT      NOT NULL,
		quantity   INT         NOT NULL,
		updated_at DATETIME    NOT NULL,
		PRIMARY KEY (product_id, store_id)
	)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id             VARCHAR(36) PRIMARY KEY,
		store_id       BIGINT      NOT NULL,
		user_id        BIGINT      NOT NULL,
		client_ref     VARCHAR(64),
		total          DOUBLE      NOT NULL,
		payment_method VARCHAR(16) NOT NULL,
		created_at     DATETIME    NOT NULL,
		updated_at     DATETIME    NOT NULL,
		UNIQUE (store_id, client_ref)
	)`,

	`CREATE TABLE IF NOT EXISTS transaction_items (
		id             VARCHAR(36) PRIMARY KEY,
		transaction_id VARCHAR(36) NOT NULL,
		product_id     VARCHAR(36) NOT NULL,
		quantity       INT         NOT NULL,
		unit_price     DOUBLE      NOT NULL,
		created_at     DATETIME    NOT NULL
	)`,
}

// EnsureSchema creates the sync subsystem's tables if they do not exist yet.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
