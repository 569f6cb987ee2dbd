package models

import (
	"time"
)

// Transaction is the model for the 'transactions' table (a completed sale).
// ClientRef carries the terminal-assigned local id so that a replayed offline
// sale can be matched against an already-inserted canonical row.
type Transaction struct {
	ID        string    `json:"id" db:"id"`
	StoreID   int64     `json:"storeId" db:"store_id"`
	UserID    int64     `json:"userId" db:"user_id"` // the cashier
	ClientRef *string   `json:"clientRef,omitempty" db:"client_ref"`
	Total     float64   `json:"total" db:"total"`
	Payment   string    `json:"paymentMethod" db:"payment_method"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	// Joins (not in the DB table, populated manually)
	Items []TransactionItem `json:"items,omitempty" db:"-"`
}

// TransactionItem is the model for the 'transaction_items' table.
type TransactionItem struct {
	ID            string    `json:"id" db:"id"`
	TransactionID string    `json:"transactionId" db:"transaction_id"`
	ProductID     string    `json:"productId" db:"product_id"`
	Quantity      int       `json:"quantity" db:"quantity"`
	UnitPrice     float64   `json:"unitPrice" db:"unit_price"` // price at the time of sale
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}
