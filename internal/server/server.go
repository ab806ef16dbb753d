// Package server provides HTTP server initialization and lifecycle
// management for the Argus API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/haverlock/argus/internal/config"
	"github.com/haverlock/argus/internal/ledger"
	"github.com/haverlock/argus/internal/reprocess"
	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/web/handlers"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server. Returns the actual
// address being listened on (useful for testing with port 0). A nil
// wsHub gets a default hub; the caller normally creates it up front so
// the progress broadcaster can be wired into it. The server shuts down
// when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, store storage.Store, coordinator *reprocess.Coordinator, wsHub *handlers.WebSocketHub) (string, error) {
	mux := http.NewServeMux()

	if wsHub == nil {
		wsHub = handlers.NewWebSocketHub([]string{
			fmt.Sprintf("localhost:%d", cfg.Server.Port),
			fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		})
	}
	go wsHub.Run()

	// Rate limiter (10 req/sec, burst of 20).
	rateLimiter := handlers.NewRateLimiter(10.0, 20)

	adjustmentService := ledger.NewService(store)

	reprocessHandlers := handlers.NewReprocessHandlers(coordinator)
	adjustmentHandlers := handlers.NewAdjustmentHandlers(adjustmentService)
	eventHandlers := handlers.NewEventHandlers(store)
	entityHandlers := handlers.NewEntityHandlers(store, adjustmentService)
	statsHandlers := handlers.NewStatsHandlers(store)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/reprocess", reprocessHandlers.StartReprocess)
	apiMux.HandleFunc("GET /api/reprocess/status", reprocessHandlers.GetStatus)
	apiMux.HandleFunc("POST /api/reprocess/cancel", reprocessHandlers.CancelReprocess)

	apiMux.HandleFunc("GET /api/events", eventHandlers.ListEvents)
	apiMux.HandleFunc("GET /api/events/{id}", eventHandlers.GetEvent)
	apiMux.HandleFunc("/api/events/{id}/entity", adjustmentHandlers.HandleEventEntity)
	apiMux.HandleFunc("GET /api/events/{id}/adjustments", adjustmentHandlers.GetHistory)

	apiMux.HandleFunc("GET /api/entities", entityHandlers.ListEntities)
	apiMux.HandleFunc("GET /api/entities/{id}", entityHandlers.GetEntity)
	apiMux.HandleFunc("GET /api/entities/{id}/adjustments", entityHandlers.GetEntityHistory)

	apiMux.HandleFunc("GET /api/stats", statsHandlers.GetStats)

	// Health endpoint stays outside auth so probes work in production.
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","version":"1.0.0"}`))
	})

	// Wrap API routes with auth middleware.
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// WebSocket endpoint (no auth required - origin validation handles security).
	mux.Handle("/ws", wsHub)

	// Wrap entire server with rate limiting, then security headers.
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr, nil
}
