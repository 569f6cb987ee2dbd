package handlers

import (
	"database/sql"

	"github.com/chainsyncstore/chainsync-golang/internal/syncqueue"
)

// Handlers struct holds all dependencies for our handlers.
type Handlers struct {
	DB        *sql.DB              // Primary Read/Write connection
	Queue     *syncqueue.Queue     // Sync queue repository
	Processor *syncqueue.Processor // Queue processor (validator + synchronizers + resolver)
}
