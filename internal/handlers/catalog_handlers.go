package handlers

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/chainsyncstore/chainsync-golang/internal/models"
	"github.com/gin-gonic/gin"
)

//
// --- Catalog Feed (consumed by the terminal's Local Write Cache) ---
//

// GetCatalogProducts is the handler for GET /v1/catalog/products
// It serves the full catalog for the authenticated store; the terminal
// bulk-replaces its local mirror with this feed on every refresh.
func (h *Handlers) GetCatalogProducts(c *gin.Context) {
	storeID := c.MustGet("storeID").(int64)

	rows, err := h.DB.Query(
		"SELECT id, name, barcode, price FROM products WHERE store_id = ? ORDER BY name", storeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch catalog"})
		return
	}
	defer rows.Close()

	var products []models.CachedProduct
	for rows.Next() {
		var p models.CachedProduct
		var barcode sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &barcode, &p.Price); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan product"})
			return
		}
		p.Barcode = barcode.String
		products = append(products, p)
	}

	if products == nil {
		products = []models.CachedProduct{}
	}

	c.JSON(http.StatusOK, gin.H{
		"products":    products,
		"count":       len(products),
		"generatedAt": time.Now(),
	})
}
