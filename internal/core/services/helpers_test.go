package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-scope/internal/adapters/driven/filesystem"
	"github.com/custodia-labs/sercha-scope/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-scope/internal/postprocessors"
	"github.com/custodia-labs/sercha-scope/internal/runtime"
)

// writePool creates files (relative path -> content) under a fresh root.
func writePool(t testing.TB, files map[string]string) *filesystem.Pool {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	pool, err := filesystem.NewPool(filesystem.Config{Root: root})
	require.NoError(t, err)
	return pool
}

// embeddingFactory hands out mock embedding services and remembers them.
type embeddingFactory struct {
	created []*mocks.MockEmbeddingService
}

func (f *embeddingFactory) CreateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if !settings.IsConfigured() {
		return nil, nil
	}
	svc := mocks.NewMockEmbeddingService()
	f.created = append(f.created, svc)
	return svc, nil
}

type testEnv struct {
	pool      *filesystem.Pool
	services  *runtime.Services
	embedding *mocks.MockEmbeddingService
	factory   *embeddingFactory
	store     *mocks.MockIndexStore
	lock      *memory.Lock
	retrieval *retrievalService
}

// newTestEnv wires a retrieval service over files. A nil embedding leaves
// the ambient service unset.
func newTestEnv(t testing.TB, files map[string]string, embedding *mocks.MockEmbeddingService) *testEnv {
	t.Helper()
	env := &testEnv{
		pool:      writePool(t, files),
		embedding: embedding,
		factory:   &embeddingFactory{},
		store:     mocks.NewMockIndexStore(),
		lock:      memory.NewLock(),
	}
	env.services = runtime.NewServices(runtime.ServicesConfig{
		Config:      domain.NewRuntimeConfig("sqlite", "memory"),
		Factory:     env.factory,
		Embedding:   domain.EmbeddingSettings{Provider: domain.AIProviderOpenAI, Model: "text-embedding-3-small"},
		AmbientKeys: map[string]string{"openai": "sk-ambient"},
	})
	if embedding != nil {
		env.services.SetEmbeddingService(embedding)
	}

	pipeline, err := postprocessors.DefaultPipeline(postprocessors.ChunkConfig{MaxChunkSize: 200, Overlap: 20})
	require.NoError(t, err)

	svc, err := NewRetrievalService(RetrievalConfig{
		Pool:               env.pool,
		Pipeline:           pipeline,
		Services:           env.services,
		Store:              env.store,
		Lock:               env.lock,
		NaiveChunkMaxChars: 400,
	})
	require.NoError(t, err)
	env.retrieval = svc.(*retrievalService)
	return env
}

func (e *testEnv) turns() *turnService {
	pool := NewPoolService(e.pool, e.retrieval, nil)
	return NewTurnService(pool, e.retrieval, nil).(*turnService)
}
