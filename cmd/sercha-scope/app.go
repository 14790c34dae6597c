package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"path/filepath"

	"github.com/custodia-labs/sercha-scope/internal/adapters/driven/ai"
	"github.com/custodia-labs/sercha-scope/internal/adapters/driven/filesystem"
	"github.com/custodia-labs/sercha-scope/internal/adapters/driven/jsonl"
	"github.com/custodia-labs/sercha-scope/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-scope/internal/adapters/driven/pdf"
	"github.com/custodia-labs/sercha-scope/internal/adapters/driven/postgres"
	redisadapter "github.com/custodia-labs/sercha-scope/internal/adapters/driven/redis"
	"github.com/custodia-labs/sercha-scope/internal/adapters/driven/sqlite"
	"github.com/custodia-labs/sercha-scope/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-scope/internal/config"
	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-scope/internal/core/services"
	"github.com/custodia-labs/sercha-scope/internal/normalisers"
	"github.com/custodia-labs/sercha-scope/internal/postprocessors"
	"github.com/custodia-labs/sercha-scope/internal/runtime"
)

// pingFunc adapts a function to http.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// app holds the wired services and the resources they own.
type app struct {
	cfg *config.Config

	runtime   *runtime.Services
	pool      driving.PoolService
	retrieval driving.RetrievalService
	turns     driving.TurnService
	memory    driving.MemoryService

	checks  map[string]http.Pinger
	closers []io.Closer
}

// newApp connects every backend named by cfg and wires the core services.
// On error, everything opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, checks: make(map[string]http.Pinger)}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	logger := slog.Default()

	// ===== Runtime config & ambient embedding =====
	runtimeConfig := domain.NewRuntimeConfig(cfg.Index.Backend, cfg.Lock.Backend)
	a.runtime = runtime.NewServices(runtime.ServicesConfig{
		Config:      runtimeConfig,
		Factory:     ai.NewFactory(),
		Embedding:   cfg.EmbeddingSettings(),
		AmbientKeys: cfg.APIKeys,
		Logger:      logger,
	})
	a.closers = append(a.closers, a.runtime)
	if err := a.runtime.InitAmbient(ctx); err != nil {
		// Retrieval still works lexically without an embedding service.
		log.Printf("Warning: embedding service unavailable: %v", err)
	}

	// ===== Document pool =====
	registry := normalisers.DefaultRegistry()
	if cfg.PDFExtractorURL != "" {
		registry.Register(pdf.NewServiceNormaliser(cfg.PDFExtractorURL))
		log.Printf("PDF extraction via %s", cfg.PDFExtractorURL)
	}
	documentPool, err := filesystem.NewPool(filesystem.Config{
		Root:              cfg.DocsDir,
		AllowedExtensions: cfg.RAG.AllowedExtensions,
		MaxFileBytes:      cfg.RAG.MaxFileBytes,
		LoadConcurrency:   cfg.RAG.LoadConcurrency,
		Normalisers:       registry,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open document pool: %w", err)
	}

	pipeline, err := postprocessors.DefaultPipeline(postprocessors.ChunkConfig{
		MaxChunkSize: cfg.RAG.ChunkSize,
		Overlap:      cfg.RAG.ChunkOverlap,
	})
	if err != nil {
		return nil, fmt.Errorf("build chunking pipeline: %w", err)
	}

	// ===== Index store & rebuild lock =====
	var db *postgres.DB
	if cfg.Index.Backend == "postgres" || cfg.Lock.Backend == "postgres" {
		log.Println("Connecting to PostgreSQL...")
		db, err = postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, db)
		if err := db.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		a.checks["database"] = pingFunc(db.PingContext)
		log.Println("PostgreSQL connected and schema initialized")
	}

	store, err := openIndexStore(cfg, db)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store)

	lock, err := a.openLock(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	a.checks["lock"] = lock

	// ===== Conversation log =====
	conversationLog, err := jsonl.NewConversationLog(jsonl.Config{Dir: cfg.MemoryDir, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open conversation log: %w", err)
	}
	a.closers = append(a.closers, conversationLog)

	// ===== Core services =====
	a.retrieval, err = services.NewRetrievalService(services.RetrievalConfig{
		Pool:               documentPool,
		Pipeline:           pipeline,
		Services:           a.runtime,
		Store:              store,
		Lock:               lock,
		NaiveChunkMaxChars: cfg.RAG.NaiveChunkMaxChars,
		DefaultTopK:        cfg.RAG.TopK,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create retrieval service: %w", err)
	}
	a.pool = services.NewPoolService(documentPool, a.retrieval, logger)
	a.turns = services.NewTurnService(a.pool, a.retrieval, logger)
	a.memory = services.NewMemoryService(conversationLog, cfg.Memory.RecentTurns, logger)

	return a, nil
}

func openIndexStore(cfg *config.Config, db *postgres.DB) (driven.IndexStore, error) {
	switch cfg.Index.Backend {
	case "postgres":
		log.Println("Using PostgreSQL index store")
		return postgres.NewIndexStore(db), nil
	default:
		store, err := sqlite.NewIndexStore(cfg.IndexDir)
		if err != nil {
			return nil, fmt.Errorf("open index store: %w", err)
		}
		log.Printf("Using SQLite index store at %s", filepath.Clean(store.Path()))
		return store, nil
	}
}

// lockWithPing is a DistributedLock that can also serve readiness checks.
type lockWithPing interface {
	driven.DistributedLock
	http.Pinger
}

func (a *app) openLock(ctx context.Context, cfg *config.Config, db *postgres.DB) (lockWithPing, error) {
	switch cfg.Lock.Backend {
	case "redis":
		log.Println("Connecting to Redis...")
		client, err := redisadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, client)
		log.Println("Using Redis rebuild lock")
		return redisadapter.NewLock(client), nil
	case "postgres":
		log.Println("Using PostgreSQL advisory rebuild lock")
		return postgres.NewAdvisoryLock(db), nil
	default:
		return memory.NewLock(), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
