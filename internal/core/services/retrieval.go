package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-scope/internal/index"
	"github.com/custodia-labs/sercha-scope/internal/runtime"
)

// Ensure retrievalService implements RetrievalService
var _ driving.RetrievalService = (*retrievalService)(nil)

const (
	// RebuildLockName is the distributed lock serialising whole-pool rebuilds.
	RebuildLockName = "index-rebuild"

	defaultRebuildLockTTL = 10 * time.Minute
	defaultTopK           = 5
)

// RetrievalConfig holds the dependencies of the retrieval service.
type RetrievalConfig struct {
	Pool     driven.DocumentPool
	Pipeline driven.PostProcessorPipeline
	Services *runtime.Services
	Store    driven.IndexStore      // Optional; nil keeps the whole-pool index in memory only
	Lock     driven.DistributedLock // Optional; nil serialises rebuilds in-process

	// NaiveChunkMaxChars is the window size of lexical chunks on the scoped path.
	NaiveChunkMaxChars int
	DefaultTopK        int
	RebuildLockTTL     time.Duration
	Logger             *slog.Logger
}

// poolIndex is one immutable generation of the whole-pool index.
type poolIndex struct {
	vector    *index.VectorIndex // nil when built without embeddings
	lexical   *index.LexicalIndex
	model     string
	documents int
	builtAt   time.Time
}

// retrievalService implements the RetrievalService interface
type retrievalService struct {
	pool      driven.DocumentPool
	pipeline  driven.PostProcessorPipeline
	services  *runtime.Services
	store     driven.IndexStore
	lock      driven.DistributedLock
	naiveSize int
	topK      int
	lockTTL   time.Duration
	logger    *slog.Logger

	active    atomic.Pointer[poolIndex]
	loads     singleflight.Group
	rebuildMu sync.Mutex
	swapMu    sync.Mutex // orders snapshot saves with activation
}

// NewRetrievalService creates a new RetrievalService
func NewRetrievalService(cfg RetrievalConfig) (driving.RetrievalService, error) {
	if cfg.Pool == nil || cfg.Pipeline == nil || cfg.Services == nil {
		return nil, fmt.Errorf("retrieval service: pool, pipeline and services are required: %w", domain.ErrInvalidConfig)
	}
	if cfg.NaiveChunkMaxChars <= 0 {
		return nil, fmt.Errorf("retrieval service: naive chunk size must be positive: %w", domain.ErrInvalidConfig)
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = defaultTopK
	}
	if cfg.RebuildLockTTL <= 0 {
		cfg.RebuildLockTTL = defaultRebuildLockTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &retrievalService{
		pool:      cfg.Pool,
		pipeline:  cfg.Pipeline,
		services:  cfg.Services,
		store:     cfg.Store,
		lock:      cfg.Lock,
		naiveSize: cfg.NaiveChunkMaxChars,
		topK:      cfg.DefaultTopK,
		lockTTL:   cfg.RebuildLockTTL,
		logger:    cfg.Logger,
	}, nil
}

// BuildScoped returns a search function over exactly the given files.
// The index it builds is owned by the returned closure and never persisted.
func (s *retrievalService) BuildScoped(ctx context.Context, files []string) domain.SearchFunc {
	if len(files) == 0 {
		return domain.EmptySearch
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "services.retrievalService.BuildScoped",
		trace.WithAttributes(attribute.Int("scope.files", len(files))),
	)
	defer span.End()

	docs, err := s.pool.Load(ctx, files)
	if err != nil {
		failSpan(span, err)
		s.logger.Warn("scoped load failed", "files", len(files), "error", err)
		return domain.EmptySearch
	}
	if len(docs) == 0 {
		s.logger.Info("scope loaded no documents", "files", len(files))
		return domain.EmptySearch
	}

	chunks := s.chunk(docs)
	if len(chunks) == 0 {
		s.logger.Info("scope produced no chunks", "documents", len(docs))
		return domain.EmptySearch
	}

	naive := index.NewLexicalIndex(naiveChunks(docs, s.naiveSize))
	strategies := make([]strategy, 0, 3)

	semantic := s.scopedSemantic(ctx, chunks)
	if semantic != nil {
		strategies = append(strategies, semantic)
	}
	strategies = append(strategies,
		&lexicalStrategy{index: naive},
		&firstKStrategy{index: naive},
	)

	span.SetAttributes(
		attribute.Int("scope.documents", len(docs)),
		attribute.Int("scope.chunks", len(chunks)),
		attribute.Bool("scope.semantic", semantic != nil),
	)
	recordScopedBuild(start, semantic != nil)
	s.logger.Debug("scoped index built",
		"documents", len(docs),
		"chunks", len(chunks),
		"semantic", semantic != nil,
		"took", time.Since(start),
	)

	return chain("scoped", strategies, s.logger)
}

// scopedSemantic embeds chunks with the request's embedding service.
// Returns nil when no service resolves or embedding fails. A request-scoped
// service is closed when the turn's request context is cleared.
func (s *retrievalService) scopedSemantic(ctx context.Context, chunks []*domain.Chunk) *semanticStrategy {
	embedder, release, err := s.services.EmbeddingFor(ctx)
	if err != nil {
		reason := "error"
		if errors.Is(err, domain.ErrServiceUnavailable) {
			reason = "unavailable"
		}
		recordFallback(domain.StrategySemantic, reason)
		s.logger.Info("semantic retrieval unavailable for scope", "error", err)
		return nil
	}

	keep := false
	defer func() {
		if !keep {
			release()
		}
	}()

	vectors, err := embedder.Embed(ctx, chunkTexts(chunks))
	if err != nil {
		recordFallback(domain.StrategySemantic, "error")
		s.logger.Warn("embedding scoped chunks failed, using lexical retrieval", "chunks", len(chunks), "error", err)
		return nil
	}
	vi, err := index.NewVectorIndex(chunks, vectors)
	if err != nil {
		recordFallback(domain.StrategySemantic, "error")
		s.logger.Warn("building scoped vector index failed", "error", err)
		return nil
	}

	if rc, ok := domain.RequestContextFrom(ctx); ok {
		rc.OnClear(release)
		keep = true
	}
	return &semanticStrategy{index: vi, embedder: embedder}
}

// Search queries the whole-pool index, loading or building it on first use.
func (s *retrievalService) Search(ctx context.Context, query string, topK int) (*domain.SearchResult, error) {
	start := time.Now()
	if topK <= 0 {
		topK = s.topK
	}

	ctx, span := tracer.Start(ctx, "services.retrievalService.Search",
		trace.WithAttributes(attribute.Int("search.top_k", topK)),
	)
	defer span.End()

	idx, err := s.ensureLoaded(ctx)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("load pool index: %w", err)
	}

	strategies := make([]strategy, 0, 2)
	sem, release := s.poolSemantic(ctx, idx)
	defer release()
	if sem != nil {
		strategies = append(strategies, sem)
	}
	strategies = append(strategies, &lexicalStrategy{index: idx.lexical})

	results, used := runChain(ctx, "pool", strategies, s.logger, query, topK)
	span.SetAttributes(
		attribute.String("search.strategy", string(used)),
		attribute.Int("search.results", len(results)),
	)

	return &domain.SearchResult{
		Query:    query,
		Scope:    domain.ScopeAbsent,
		Strategy: used,
		Chunks:   results,
		Took:     time.Since(start),
	}, nil
}

// poolSemantic pairs the whole-pool vectors with the embedding service the
// request resolves to, provided it uses the model the index was built with.
// Credentials supplied with the request are authoritative: a set lacking the
// provider yields lexical retrieval, never the ambient service. release is
// always non-nil.
func (s *retrievalService) poolSemantic(ctx context.Context, idx *poolIndex) (*semanticStrategy, func()) {
	noop := func() {}
	if idx.vector == nil {
		return nil, noop
	}
	embedder, release, err := s.services.EmbeddingFor(ctx)
	if err != nil {
		reason := "error"
		if errors.Is(err, domain.ErrServiceUnavailable) || errors.Is(err, domain.ErrCredentialMissing) {
			reason = "unavailable"
		}
		recordFallback(domain.StrategySemantic, reason)
		s.logger.Info("semantic retrieval unavailable for pool search", "error", err)
		return nil, noop
	}
	if idx.model != "" && embedder.Model() != idx.model {
		release()
		s.logger.Warn("pool index model differs from embedding service, using lexical retrieval",
			"index_model", idx.model, "service_model", embedder.Model())
		recordFallback(domain.StrategySemantic, "unavailable")
		return nil, noop
	}
	return &semanticStrategy{index: idx.vector, embedder: embedder}, release
}

// ensureLoaded returns the active pool index, loading the saved snapshot or
// building a new one when none is active. Concurrent callers share one load.
func (s *retrievalService) ensureLoaded(ctx context.Context) (*poolIndex, error) {
	if idx := s.active.Load(); idx != nil {
		return idx, nil
	}

	v, err, _ := s.loads.Do("pool", func() (any, error) {
		if idx := s.active.Load(); idx != nil {
			return idx, nil
		}
		idx, err := s.loadSaved(ctx)
		if err != nil {
			return nil, err
		}
		if idx == nil {
			return s.buildAndSave(ctx, "lazy")
		}
		return s.install(ctx, idx, nil, true)
	})
	if err != nil {
		return nil, err
	}
	return v.(*poolIndex), nil
}

// loadSaved returns the stored snapshot as a pool index, or nil if the store
// holds none.
func (s *retrievalService) loadSaved(ctx context.Context) (*poolIndex, error) {
	if s.store == nil {
		return nil, nil
	}
	exists, err := s.store.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check index store: %w", err)
	}
	if !exists {
		return nil, nil
	}
	snap, err := s.store.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load index snapshot: %w", err)
	}
	idx, err := newPoolIndex(snap)
	if err != nil {
		return nil, err
	}
	s.logger.Info("pool index loaded",
		"chunks", idx.lexical.Len(),
		"documents", idx.documents,
		"semantic", idx.vector != nil,
	)
	return idx, nil
}

// buildAndSave builds a pool index from every pool document, replaces the
// stored snapshot and activates it. A lazy build returns the active index
// instead if a rebuild finished first.
func (s *retrievalService) buildAndSave(ctx context.Context, trigger string) (*poolIndex, error) {
	ctx, span := tracer.Start(ctx, "services.retrievalService.buildPoolIndex",
		trace.WithAttributes(attribute.String("build.trigger", trigger)),
	)
	defer span.End()

	start := time.Now()
	snap, err := s.snapshot(ctx)
	if err != nil {
		failSpan(span, err)
		recordPoolBuild(trigger, "failure")
		return nil, err
	}
	idx, err := newPoolIndex(snap)
	if err != nil {
		failSpan(span, err)
		recordPoolBuild(trigger, "failure")
		return nil, err
	}
	installed, err := s.install(ctx, idx, snap, trigger == "lazy")
	if err != nil {
		failSpan(span, err)
		recordPoolBuild(trigger, "failure")
		return nil, err
	}
	if installed != idx {
		s.logger.Info("newer pool index activated during lazy build, discarding", "took", time.Since(start))
		return installed, nil
	}

	recordPoolBuild(trigger, "success")
	span.SetAttributes(
		attribute.Int("build.documents", snap.Documents),
		attribute.Int("build.chunks", len(snap.Chunks)),
		attribute.Bool("build.semantic", idx.vector != nil),
	)
	s.logger.Info("pool index built",
		"trigger", trigger,
		"documents", snap.Documents,
		"chunks", len(snap.Chunks),
		"semantic", idx.vector != nil,
		"took", time.Since(start),
	)
	return idx, nil
}

// snapshot loads and chunks the whole pool and embeds it when the ambient
// embedding service is available. An empty pool yields a single placeholder
// chunk so the stored index is never structurally empty.
func (s *retrievalService) snapshot(ctx context.Context) (*domain.IndexSnapshot, error) {
	docs, err := s.pool.Load(ctx, []string{domain.WholePoolPath})
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}

	chunks := s.chunk(docs)
	if len(chunks) == 0 {
		chunks = []*domain.Chunk{{Text: index.PlaceholderText}}
	}

	snap := &domain.IndexSnapshot{
		BuiltAt:   time.Now().UTC(),
		Documents: len(docs),
		Chunks:    chunks,
	}

	embedder := s.services.EmbeddingService()
	if embedder == nil {
		return snap, nil
	}
	vectors, err := embedder.Embed(ctx, chunkTexts(chunks))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		recordFallback(domain.StrategySemantic, "error")
		s.logger.Warn("embedding pool failed, index will be lexical only", "chunks", len(chunks), "error", err)
		return snap, nil
	}
	snap.Model = embedder.Model()
	snap.Embeddings = vectors
	if len(vectors) > 0 {
		snap.Dimensions = len(vectors[0])
	}
	return snap, nil
}

func newPoolIndex(snap *domain.IndexSnapshot) (*poolIndex, error) {
	idx := &poolIndex{
		lexical:   index.NewLexicalIndex(snap.Chunks),
		model:     snap.Model,
		documents: snap.Documents,
		builtAt:   snap.BuiltAt,
	}
	if len(snap.Embeddings) > 0 {
		vi, err := index.NewVectorIndex(snap.Chunks, snap.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("build pool vector index: %w", err)
		}
		idx.vector = vi
	}
	return idx, nil
}

// install saves snap when non-nil and makes idx the active generation. A
// lazy install leaves an already active generation in place and returns it,
// so a slow first load never replaces a finished rebuild.
func (s *retrievalService) install(ctx context.Context, idx *poolIndex, snap *domain.IndexSnapshot, lazy bool) (*poolIndex, error) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	if lazy {
		if current := s.active.Load(); current != nil {
			return current, nil
		}
	}
	if snap != nil && s.store != nil {
		if err := s.store.Save(ctx, snap); err != nil {
			return nil, fmt.Errorf("save index snapshot: %w", err)
		}
	}
	s.active.Store(idx)
	poolIndexChunks.Set(float64(idx.lexical.Len()))
	return idx, nil
}

// Rebuild discards the whole-pool index and builds it again from the pool.
func (s *retrievalService) Rebuild(ctx context.Context) (*domain.RebuildStatus, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "services.retrievalService.Rebuild")
	defer span.End()

	unlock, err := s.acquireRebuild(ctx)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	defer unlock()

	idx, err := s.buildAndSave(ctx, "rebuild")
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("rebuild pool index: %w", err)
	}
	s.services.Config().SetIndexStale(false)

	files, err := s.pool.Expand(ctx, []string{domain.WholePoolPath})
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("count pool documents: %w", err)
	}

	strategy := domain.StrategyLexical
	if idx.vector != nil {
		strategy = domain.StrategySemantic
	}
	return &domain.RebuildStatus{
		Documents: len(files),
		Chunks:    idx.lexical.Len(),
		Strategy:  strategy,
		Took:      time.Since(start),
		Message:   fmt.Sprintf("RAG index rebuilt from %s. Documents found: %d.", s.pool.Root(), len(files)),
	}, nil
}

// acquireRebuild takes the rebuild lock and returns its release.
func (s *retrievalService) acquireRebuild(ctx context.Context) (func(), error) {
	if s.lock == nil {
		if !s.rebuildMu.TryLock() {
			recordPoolBuild("rebuild", "busy")
			return nil, domain.ErrRebuildInProgress
		}
		return s.rebuildMu.Unlock, nil
	}

	acquired, err := s.lock.Acquire(ctx, RebuildLockName, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire rebuild lock: %w", err)
	}
	if !acquired {
		recordPoolBuild("rebuild", "busy")
		return nil, domain.ErrRebuildInProgress
	}
	return func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), RebuildLockName); err != nil {
			s.logger.Warn("release rebuild lock failed", "error", err)
		}
	}, nil
}

// Status describes the in-memory whole-pool index
func (s *retrievalService) Status() domain.IndexStatus {
	status := domain.IndexStatus{Stale: s.services.Config().IndexStale()}
	idx := s.active.Load()
	if idx == nil {
		return status
	}
	status.Loaded = true
	status.Chunks = idx.lexical.Len()
	status.Documents = idx.documents
	status.Model = idx.model
	status.BuiltAt = idx.builtAt
	return status
}

// MarkStale records that the pool changed since the index was built
func (s *retrievalService) MarkStale() {
	s.services.Config().SetIndexStale(true)
}

func (s *retrievalService) chunk(docs []*domain.Document) []*domain.Chunk {
	var out []*domain.Chunk
	for _, doc := range docs {
		out = append(out, chunkPointers(s.pipeline.Process(doc))...)
	}
	return out
}
