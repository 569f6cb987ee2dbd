package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainsyncstore/chainsync-golang/internal/client"
	"github.com/joho/godotenv"
)

// The terminal binary runs the client side of the sync subsystem: the durable
// offline write buffer and the local catalog mirror, kept fresh by the
// background agent. The POS UI in front of this process enqueues sales
// through the buffer whenever the direct write path fails.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("WARNING: Could not find or load .env file. Relying on system environment variables.")
	}

	baseURL := os.Getenv("CHAINSYNC_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	dataDir := os.Getenv("CHAINSYNC_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	db, err := client.OpenStore(dataDir)
	if err != nil {
		log.Fatalf("Failed to open terminal store: %v", err)
	}
	defer db.Close()

	buffer := client.NewOfflineBuffer(db)
	buffer.Token = os.Getenv("CHAINSYNC_API_TOKEN")
	buffer.OnReplayed = func(entry client.QueueEntry) {
		log.Printf("Offline sale %s confirmed by server", entry.IdempotencyKey)
	}

	catalog := client.NewCatalogCache(db, baseURL)
	catalog.Token = buffer.Token

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent := client.NewAgent(buffer, catalog, nil)
	agent.PingURL = baseURL + "/v1/ping"
	agent.Start(ctx)
	defer agent.Stop()

	// Prime the mirror so the terminal can sell before the first tick.
	if err := catalog.Refresh(ctx, true); err != nil {
		log.Printf("Initial catalog refresh failed (selling from stale mirror): %v", err)
	}

	if pending, err := buffer.Count(); err == nil && pending > 0 {
		log.Printf("%d offline writes pending sync", pending)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Terminal shutting down")
}
