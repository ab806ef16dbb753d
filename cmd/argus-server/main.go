package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haverlock/argus/internal/config"
	"github.com/haverlock/argus/internal/embedding"
	"github.com/haverlock/argus/internal/reprocess"
	"github.com/haverlock/argus/internal/resolver"
	"github.com/haverlock/argus/internal/server"
	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/internal/storage/postgres"
	"github.com/haverlock/argus/internal/storage/sqlite"
	"github.com/haverlock/argus/pkg/types"
	"github.com/haverlock/argus/web/handlers"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize storage
	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Embedding gateway client with circuit breaker
	gateway := embedding.NewClient(embedding.ClientConfig{
		BaseURL: cfg.Embedding.GatewayURL,
		Model:   cfg.Embedding.Model,
		Timeout: cfg.Embedding.Timeout,
		Breaker: embedding.CircuitBreakerConfig{
			MaxFailures: uint32(cfg.Embedding.BreakerMaxFail),
			Timeout:     cfg.Embedding.BreakerCooloff,
		},
	})

	res := resolver.New(store, cfg.Reprocess.MatchThreshold, cfg.Reprocess.CandidateLimit)

	// WebSocket hub carries progress snapshots to subscribers.
	wsHub := handlers.NewWebSocketHub([]string{
		fmt.Sprintf("localhost:%d", cfg.Server.Port),
		fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
	})

	broadcaster := reprocess.NewBroadcaster(func(snap types.ProgressSnapshot) {
		wsHub.Broadcast(snap)
	}, cfg.Reprocess.ProgressInterval, cfg.Reprocess.ProgressEvery)

	coordinator := reprocess.NewCoordinator(store, gateway, res, broadcaster,
		cfg.Reprocess.BatchSize)

	// Surface any run that was interrupted by the previous shutdown.
	if err := coordinator.RecoverInterrupted(ctx); err != nil {
		log.Fatalf("Failed to recover checkpoint: %v", err)
	}

	// Start server
	addr, err := server.Start(ctx, cfg, store, coordinator, wsHub)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Argus API running at http://%s", addr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	// Stop any in-flight bulk run before closing the store.
	if coordinator.Cancel() {
		coordinator.Wait()
	}

	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// openStore selects the storage backend from configuration.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, err
		}
		return sqlite.NewStore(cfg.Storage.DataPath + "/argus.db")
	}
}
