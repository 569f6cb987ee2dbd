package main

import (
	"context"
	"log"
	"time"

	"github.com/chainsyncstore/chainsync-golang/internal/database"
	"github.com/chainsyncstore/chainsync-golang/internal/handlers"
	"github.com/chainsyncstore/chainsync-golang/internal/routes"
	"github.com/chainsyncstore/chainsync-golang/internal/syncer"
	"github.com/chainsyncstore/chainsync-golang/internal/syncqueue"
	"github.com/chainsyncstore/chainsync-golang/internal/validation"
	"github.com/joho/godotenv"
)

func main() {
	// 0. --- Load Environment Variables (.env) ---
	if err := godotenv.Load(); err != nil {
		log.Println("WARNING: Could not find or load .env file. Relying on system environment variables.")
	}

	// 1. --- Main Database Connection (Read/Write) ---
	db, err := database.OpenDB()
	if err != nil {
		log.Fatalf("Failed to connect to primary database: %v", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}

	// 2. --- Sync Subsystem Wiring ---
	// One synchronizer per entity type, selected through the registry.
	registry := syncer.NewRegistry(
		syncer.NewTransactionSynchronizer(db),
		syncer.NewInventorySynchronizer(db),
		syncer.NewProductSynchronizer(db),
	)
	queue := syncqueue.NewQueue(db)
	processor := syncqueue.NewProcessor(queue, validation.New(), registry)

	app := &handlers.Handlers{
		DB:        db,
		Queue:     queue,
		Processor: processor,
	}

	// 3. --- Background Worker (Queue Sweep) ---
	// Drains the sync queue on a schedule; the per-store lease in the
	// database keeps horizontally scaled instances from double-processing.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		log.Println("Background worker started: sweeping the sync queue")

		for range ticker.C {
			result, err := processor.ProcessAll(context.Background())
			if err != nil {
				log.Printf("Sync sweep failed: %v", err)
				continue
			}
			if result.SyncedItems > 0 || result.FailedItems > 0 || result.Conflicts > 0 {
				log.Printf("Sync sweep: %d synced, %d failed, %d conflicts",
					result.SyncedItems, result.FailedItems, result.Conflicts)
			}
		}
	}()

	// --- Router Setup ---
	router := routes.SetupRouter(app)

	// --- Start Server ---
	log.Println("Starting ChainSync sync API server on port 8080...")
	if err := router.Run(":8080"); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
