package routes

import (
	"net/http"

	"github.com/chainsyncstore/chainsync-golang/internal/handlers"
	"github.com/chainsyncstore/chainsync-golang/internal/middleware"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware tells the browser that the back-office frontend is allowed
// to talk to us.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Idempotency-Key, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		// Preflight OPTIONS requests get an empty 204.
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func SetupRouter(h *handlers.Handlers) *gin.Engine {
	router := gin.Default()

	// CORS must be the very first thing the router uses.
	router.Use(CORSMiddleware())

	v1 := router.Group("/v1")
	{
		// --- Ping Route (Public) ---
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "pong!"})
		})

		// --- Protected Routes (Login Required) ---
		auth := v1.Group("/")
		auth.Use(middleware.AuthMiddleware())
		{
			// --- Catalog Feed (terminal cache refresh) ---
			auth.GET("/catalog/products", h.GetCatalogProducts)

			// --- Sync Queue ---
			sync := auth.Group("/sync")
			{
				sync.POST("/queue", h.EnqueueSyncItem)
				sync.GET("/status", h.GetSyncStatus)
				sync.POST("/process", h.ProcessSyncQueue)
				sync.POST("/retry-failed", h.RetryFailedItems)
				sync.DELETE("/completed", h.ClearCompletedItems)
				sync.POST("/queue/:id/resolve", h.ResolveConflict)
			}
		}
	}

	return router
}
