package models

import (
	"time"
)

// Product is the model for the 'products' table (the canonical catalog).
type Product struct {
	ID        string    `json:"id" db:"id"`
	StoreID   int64     `json:"storeId" db:"store_id"`
	SKU       string    `json:"sku" db:"sku"`
	Name      string    `json:"name" db:"name"`
	Barcode   *string   `json:"barcode,omitempty" db:"barcode"`
	Price     float64   `json:"price" db:"price"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// CachedProduct is the client-side catalog mirror row (Local Write Cache).
// It carries just enough to ring up a sale with no network round trip.
type CachedProduct struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Barcode string  `json:"barcode"`
	Price   float64 `json:"price"`
}
