package http

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-scope/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string

	// Services
	poolService      driving.PoolService
	retrievalService driving.RetrievalService
	turnService      driving.TurnService
	memoryService    driving.MemoryService

	// Infrastructure
	checks         map[string]Pinger // Readiness checks by name, e.g. "lock"
	rebuildLimiter *rate.Limiter
	maxUploadBytes int64
	defaultTopK    int
}

// Config holds server configuration
type Config struct {
	Host        string
	Port        int
	Version     string
	CORSOrigins []string

	// RebuildInterval is the minimum spacing of accepted rebuild requests.
	// RebuildBurst requests may arrive back to back before it applies.
	RebuildInterval time.Duration
	RebuildBurst    int

	MaxUploadBytes int64

	// DefaultTopK is used by searches that omit top_k.
	DefaultTopK int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		RebuildInterval: 30 * time.Second,
		RebuildBurst:    1,
		MaxUploadBytes:  10 << 20,
		DefaultTopK:     5,
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	poolService driving.PoolService,
	retrievalService driving.RetrievalService,
	turnService driving.TurnService,
	memoryService driving.MemoryService,
	checks map[string]Pinger, // can be nil
) *Server {
	limit := rate.Inf
	if cfg.RebuildInterval > 0 {
		limit = rate.Every(cfg.RebuildInterval)
	}
	burst := cfg.RebuildBurst
	if burst <= 0 {
		burst = 1
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultConfig().MaxUploadBytes
	}
	topK := cfg.DefaultTopK
	if topK <= 0 {
		topK = DefaultConfig().DefaultTopK
	}

	s := &Server{
		router:           http.NewServeMux(),
		version:          cfg.Version,
		poolService:      poolService,
		retrievalService: retrievalService,
		turnService:      turnService,
		memoryService:    memoryService,
		checks:           checks,
		rebuildLimiter:   rate.NewLimiter(limit, burst),
		maxUploadBytes:   maxUpload,
		defaultTopK:      topK,
	}

	s.setupRoutes()

	var handler http.Handler = s.router
	if len(cfg.CORSOrigins) > 0 {
		handler = NewCORSMiddleware(cfg.CORSOrigins).Handler(handler)
	}
	handler = NewLoggingMiddleware().Handler(handler)
	handler = NewRecoveryMiddleware().Handler(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Rebuilds embed the whole pool
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's root handler, middleware included
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.Handle("GET /metrics", promhttp.Handler())

	// Pool endpoints
	s.router.HandleFunc("GET /api/v1/pool", s.handleListPool)
	s.router.HandleFunc("POST /api/v1/pool/expand", s.handleExpandPool)
	s.router.HandleFunc("POST /api/v1/pool/documents", s.handleUploadDocument)

	// Search endpoints
	s.router.HandleFunc("POST /api/v1/search", s.handleSearch)

	// Whole-pool index endpoints
	s.router.HandleFunc("POST /api/v1/index/rebuild", s.handleRebuildIndex)
	s.router.HandleFunc("GET /api/v1/index/status", s.handleIndexStatus)

	// Conversation memory endpoints
	s.router.HandleFunc("GET /api/v1/memory/recent", s.handleRecentTurns)
	s.router.HandleFunc("POST /api/v1/memory/turns", s.handleRecordExchange)

	// Trace endpoints
	s.router.HandleFunc("POST /api/v1/traces/tools", s.handleExtractTools)
}

// Start starts the HTTP server with graceful shutdown
func (s *Server) Start() error {
	// Channel to listen for OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
