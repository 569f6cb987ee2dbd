package models

import (
	"time"
)

// InventoryLevel is the model for the 'inventory_levels' table: the canonical
// stock quantity of one product in one store.
type InventoryLevel struct {
	ProductID string    `json:"productId" db:"product_id"`
	StoreID   int64     `json:"storeId" db:"store_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
