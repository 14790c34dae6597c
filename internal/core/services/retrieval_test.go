package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-scope/internal/index"
	"github.com/custodia-labs/sercha-scope/internal/postprocessors"
	"github.com/custodia-labs/sercha-scope/internal/runtime"
)

const helioText = "Helio is a supervisor. It plans tasks."

var threeDocs = map[string]string{
	"alpha.txt":         "Alpha covers the quarterly budget and hiring plan.",
	"beta.md":           "# Beta\n\nBeta describes the deployment pipeline.",
	"reports/gamma.txt": "Gamma lists incidents from the last release.",
}

func containsText(chunks []string, substr string) bool {
	for _, c := range chunks {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

func TestNewRetrievalService_Validation(t *testing.T) {
	pipeline, err := postprocessors.DefaultPipeline(postprocessors.DefaultChunkConfig())
	require.NoError(t, err)
	services := runtime.NewServices(runtime.ServicesConfig{})
	pool := writePool(t, nil)

	_, err = NewRetrievalService(RetrievalConfig{Pipeline: pipeline, Services: services, NaiveChunkMaxChars: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewRetrievalService(RetrievalConfig{Pool: pool, Pipeline: pipeline, Services: services})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	svc, err := NewRetrievalService(RetrievalConfig{Pool: pool, Pipeline: pipeline, Services: services, NaiveChunkMaxChars: 10})
	require.NoError(t, err)
	rs := svc.(*retrievalService)
	assert.Equal(t, defaultTopK, rs.topK)
	assert.Equal(t, defaultRebuildLockTTL, rs.lockTTL)
}

func TestBuildScoped_EmptyFiles(t *testing.T) {
	env := newTestEnv(t, threeDocs, mocks.NewMockEmbeddingService())

	fn := env.retrieval.BuildScoped(context.Background(), nil)

	assert.Empty(t, fn(context.Background(), "budget", 3))
	assert.Equal(t, 0, env.embedding.EmbedCalls())
}

func TestBuildScoped_NothingLoads(t *testing.T) {
	env := newTestEnv(t, map[string]string{"blank.txt": "   \n\t  "}, mocks.NewMockEmbeddingService())

	fn := env.retrieval.BuildScoped(context.Background(), []string{"blank.txt", "missing.txt"})

	assert.Empty(t, fn(context.Background(), "anything", 3))
	assert.Equal(t, 0, env.embedding.EmbedCalls())
}

func TestBuildScoped_HelioSemantic(t *testing.T) {
	env := newTestEnv(t, map[string]string{"notes.txt": helioText}, mocks.NewMockEmbeddingService())
	ctx := context.Background()

	fn := env.retrieval.BuildScoped(ctx, []string{"notes.txt"})
	got := fn(ctx, "What does Helio do?", 2)

	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 2)
	assert.True(t, containsText(got, helioText), "expected the Helio sentence, got %v", got)
	assert.Equal(t, 1, env.embedding.EmbedCalls())
	assert.Equal(t, 1, env.embedding.QueryCalls())
}

func TestBuildScoped_HelioEmbeddingUnavailable(t *testing.T) {
	embedding := mocks.NewMockEmbeddingService()
	embedding.SetUnavailable(true)
	env := newTestEnv(t, map[string]string{"notes.txt": helioText}, embedding)
	ctx := context.Background()

	fn := env.retrieval.BuildScoped(ctx, []string{"notes.txt"})
	got := fn(ctx, "What does Helio do?", 2)

	require.NotEmpty(t, got)
	assert.True(t, containsText(got, helioText), "expected the Helio sentence, got %v", got)
	assert.Equal(t, 0, embedding.QueryCalls())
}

func TestBuildScoped_QueryEmbeddingFailsAfterBuild(t *testing.T) {
	env := newTestEnv(t, map[string]string{"notes.txt": helioText}, mocks.NewMockEmbeddingService())
	ctx := context.Background()

	fn := env.retrieval.BuildScoped(ctx, []string{"notes.txt"})
	env.embedding.SetFailNext(true)

	got := fn(ctx, "helio", 2)
	assert.True(t, containsText(got, helioText), "expected lexical fallback, got %v", got)
}

func TestBuildScoped_FirstKCoverage(t *testing.T) {
	for _, semantic := range []bool{true, false} {
		t.Run(fmt.Sprintf("semantic=%v", semantic), func(t *testing.T) {
			var embedding *mocks.MockEmbeddingService
			if semantic {
				embedding = mocks.NewMockEmbeddingService()
			}
			env := newTestEnv(t, threeDocs, embedding)
			ctx := context.Background()

			fn := env.retrieval.BuildScoped(ctx, []string{"alpha.txt", "beta.md", "reports/gamma.txt"})

			for _, k := range []int{1, 2, 10} {
				got := fn(ctx, "zzzz qqqq", k)
				assert.NotEmpty(t, got, "k=%d", k)
				assert.LessOrEqual(t, len(got), k, "k=%d", k)
			}
			assert.Nil(t, fn(ctx, "zzzz", 0))
		})
	}
}

func TestBuildScoped_OnlyScopedFiles(t *testing.T) {
	env := newTestEnv(t, threeDocs, nil)
	ctx := context.Background()

	fn := env.retrieval.BuildScoped(ctx, []string{"reports/gamma.txt"})
	got := fn(ctx, "budget deployment incidents", 5)

	require.Len(t, got, 1)
	assert.Contains(t, got[0], "Gamma")
}

func TestBuildScoped_RequestCredentials(t *testing.T) {
	env := newTestEnv(t, map[string]string{"notes.txt": helioText}, nil)
	ctx, rc := domain.WithRequestContext(context.Background(), "turn-creds")
	require.NoError(t, rc.SetCredentials(domain.NewCredentialSet(map[string]string{"openai": "sk-request"})))

	fn := env.retrieval.BuildScoped(ctx, []string{"notes.txt"})
	got := fn(ctx, "helio", 1)

	require.Len(t, env.factory.created, 1)
	requestScoped := env.factory.created[0]
	assert.True(t, containsText(got, helioText))
	assert.Equal(t, 1, requestScoped.QueryCalls())
	assert.False(t, requestScoped.Closed())

	rc.Clear()
	assert.True(t, requestScoped.Closed(), "expected the request-scoped service to close with the turn")
}

func TestBuildScoped_RequestCredentialsLackProvider(t *testing.T) {
	env := newTestEnv(t, map[string]string{"notes.txt": helioText}, mocks.NewMockEmbeddingService())
	ctx, rc := domain.WithRequestContext(context.Background(), "turn-no-openai")
	require.NoError(t, rc.SetCredentials(domain.NewCredentialSet(map[string]string{"google": "g-request"})))

	fn := env.retrieval.BuildScoped(ctx, []string{"notes.txt"})
	got := fn(ctx, "helio", 1)

	assert.True(t, containsText(got, helioText), "expected lexical result, got %v", got)
	assert.Empty(t, env.factory.created)
	assert.Equal(t, 0, env.embedding.EmbedCalls(), "ambient service must not be used")
}

func TestBuildScoped_LexicalUsesNaiveWindows(t *testing.T) {
	content := "helio " + strings.Repeat("filler ", 80)
	env := newTestEnv(t, map[string]string{"long.txt": content}, nil)
	ctx := context.Background()

	fn := env.retrieval.BuildScoped(ctx, []string{"long.txt"})
	got := fn(ctx, "helio", 1)

	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0], "helio"))
	n := len([]rune(got[0]))
	assert.Greater(t, n, 200, "lexical chunks are naive windows, not policy chunks")
	assert.LessOrEqual(t, n, 400)
}

func TestSearch_LazyBuildSavesOnce(t *testing.T) {
	env := newTestEnv(t, threeDocs, mocks.NewMockEmbeddingService())
	ctx := context.Background()

	assert.False(t, env.retrieval.Status().Loaded)

	result, err := env.retrieval.Search(ctx, "deployment pipeline", 2)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategySemantic, result.Strategy)
	assert.Equal(t, domain.ScopeAbsent, result.Scope)
	assert.NotEmpty(t, result.Chunks)

	_, err = env.retrieval.Search(ctx, "budget", 2)
	require.NoError(t, err)

	assert.Equal(t, 1, env.store.Saves())
	status := env.retrieval.Status()
	assert.True(t, status.Loaded)
	assert.Equal(t, 3, status.Documents)
	assert.Equal(t, "mock-embedding-model", status.Model)
}

func TestSearch_ConcurrentFirstCallersShareOneBuild(t *testing.T) {
	env := newTestEnv(t, threeDocs, mocks.NewMockEmbeddingService())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.retrieval.Search(context.Background(), "budget", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.store.Saves())
}

func TestSearch_LoadsSavedSnapshot(t *testing.T) {
	env := newTestEnv(t, threeDocs, nil)
	ctx := context.Background()
	require.NoError(t, env.store.Save(ctx, &domain.IndexSnapshot{
		Documents: 1,
		Chunks:    []*domain.Chunk{{Text: "persisted chunk about zebras", SourcePath: "z.txt"}},
	}))

	result, err := env.retrieval.Search(ctx, "zebras", 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"persisted chunk about zebras"}, result.Chunks)
	assert.Equal(t, domain.StrategyLexical, result.Strategy)
	assert.Equal(t, 1, env.store.Loads())
	assert.Equal(t, 1, env.store.Saves(), "loading must not save again")
}

func TestSearch_ModelMismatchUsesLexical(t *testing.T) {
	env := newTestEnv(t, threeDocs, mocks.NewMockEmbeddingService())
	ctx := context.Background()
	require.NoError(t, env.store.Save(ctx, &domain.IndexSnapshot{
		Model:      "some-other-model",
		Dimensions: 2,
		Documents:  1,
		Chunks:     []*domain.Chunk{{Text: "zebras graze"}},
		Embeddings: [][]float32{{1, 0}},
	}))

	result, err := env.retrieval.Search(ctx, "zebras", 3)
	require.NoError(t, err)

	assert.Equal(t, domain.StrategyLexical, result.Strategy)
	assert.Equal(t, 0, env.embedding.QueryCalls())
}

func TestSearch_WithoutEmbeddingIsLexical(t *testing.T) {
	env := newTestEnv(t, threeDocs, nil)

	result, err := env.retrieval.Search(context.Background(), "incidents release", 0)
	require.NoError(t, err)

	assert.Equal(t, domain.StrategyLexical, result.Strategy)
	require.NotEmpty(t, result.Chunks)
	assert.Contains(t, result.Chunks[0], "Gamma")
}

func TestSearch_EmptyPoolSavesPlaceholder(t *testing.T) {
	env := newTestEnv(t, nil, mocks.NewMockEmbeddingService())

	result, err := env.retrieval.Search(context.Background(), "anything", 3)
	require.NoError(t, err)

	assert.Empty(t, result.Chunks)
	assert.Equal(t, domain.StrategyNone, result.Strategy)
	snap := env.store.Snapshot()
	require.NotNil(t, snap)
	require.Len(t, snap.Chunks, 1)
	assert.Equal(t, index.PlaceholderText, snap.Chunks[0].Text)
}

func TestSearch_EmptyRequestCredentialsNeverUseAmbient(t *testing.T) {
	env := newTestEnv(t, map[string]string{"notes.txt": helioText}, mocks.NewMockEmbeddingService())

	_, err := env.retrieval.Search(context.Background(), "helio", 1)
	require.NoError(t, err)
	require.Equal(t, 1, env.embedding.QueryCalls())

	ctx, rc := domain.WithRequestContext(context.Background(), "no-providers")
	require.NoError(t, rc.SetCredentials(domain.NewCredentialSet(map[string]string{})))

	result, err := env.retrieval.Search(ctx, "helio", 1)
	require.NoError(t, err)

	assert.Equal(t, domain.StrategyLexical, result.Strategy)
	assert.True(t, containsText(result.Chunks, helioText))
	assert.Equal(t, 1, env.embedding.QueryCalls(), "ambient service must not embed the query")
	assert.Empty(t, env.factory.created)
}

func TestSearch_RequestCredentialsEmbedQuery(t *testing.T) {
	env := newTestEnv(t, map[string]string{"notes.txt": helioText}, mocks.NewMockEmbeddingService())

	_, err := env.retrieval.Search(context.Background(), "helio", 1)
	require.NoError(t, err)

	ctx, rc := domain.WithRequestContext(context.Background(), "request-key")
	require.NoError(t, rc.SetCredentials(domain.NewCredentialSet(map[string]string{"openai": "sk-request"})))

	result, err := env.retrieval.Search(ctx, "What does Helio do?", 1)
	require.NoError(t, err)

	assert.Equal(t, domain.StrategySemantic, result.Strategy)
	require.Len(t, env.factory.created, 1)
	requestScoped := env.factory.created[0]
	assert.Equal(t, 1, requestScoped.QueryCalls())
	assert.True(t, requestScoped.Closed(), "expected the request-scoped service to close after the search")
	assert.Equal(t, 1, env.embedding.QueryCalls())
}

func TestInstall_LazyYieldsToActiveGeneration(t *testing.T) {
	env := newTestEnv(t, threeDocs, nil)
	ctx := context.Background()

	newer := &poolIndex{lexical: index.NewLexicalIndex([]*domain.Chunk{{Text: "newer"}})}
	got, err := env.retrieval.install(ctx, newer, &domain.IndexSnapshot{Chunks: []*domain.Chunk{{Text: "newer"}}}, false)
	require.NoError(t, err)
	require.Same(t, newer, got)
	require.Equal(t, 1, env.store.Saves())

	older := &poolIndex{lexical: index.NewLexicalIndex([]*domain.Chunk{{Text: "older"}})}
	got, err = env.retrieval.install(ctx, older, &domain.IndexSnapshot{Chunks: []*domain.Chunk{{Text: "older"}}}, true)
	require.NoError(t, err)

	assert.Same(t, newer, got)
	assert.Same(t, newer, env.retrieval.active.Load())
	assert.Equal(t, 1, env.store.Saves(), "a lazy build must not overwrite a newer snapshot")
}

func TestSearch_StoreFailure(t *testing.T) {
	env := newTestEnv(t, threeDocs, nil)
	env.store.SaveErr = fmt.Errorf("disk full")

	_, err := env.retrieval.Search(context.Background(), "budget", 1)
	assert.Error(t, err)
	assert.False(t, env.retrieval.Status().Loaded)
}

func TestRebuild(t *testing.T) {
	env := newTestEnv(t, threeDocs, mocks.NewMockEmbeddingService())
	ctx := context.Background()

	_, err := env.retrieval.Search(ctx, "budget", 1)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(env.pool.Root(), "delta.txt"), []byte("Delta mentions zebras."), 0o644))
	env.retrieval.MarkStale()
	assert.True(t, env.retrieval.Status().Stale)

	status, err := env.retrieval.Rebuild(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, status.Documents)
	assert.Equal(t, domain.StrategySemantic, status.Strategy)
	assert.Equal(t, fmt.Sprintf("RAG index rebuilt from %s. Documents found: 4.", env.pool.Root()), status.Message)
	assert.False(t, env.retrieval.Status().Stale)
	assert.False(t, env.lock.IsHeld(RebuildLockName))
	assert.Equal(t, 2, env.store.Saves())

	result, err := env.retrieval.Search(ctx, "zebras", 1)
	require.NoError(t, err)
	assert.True(t, containsText(result.Chunks, "zebras"))
	assert.Contains(t, spanNames(), "services.retrievalService.Rebuild")
}

func TestRebuild_InProgress(t *testing.T) {
	env := newTestEnv(t, threeDocs, nil)
	ctx := context.Background()

	acquired, err := env.lock.Acquire(ctx, RebuildLockName, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = env.retrieval.Rebuild(ctx)
	assert.ErrorIs(t, err, domain.ErrRebuildInProgress)
	assert.Equal(t, 0, env.store.Saves())
}

func TestRebuild_InProcessSerialisation(t *testing.T) {
	env := newTestEnv(t, threeDocs, nil)
	env.retrieval.lock = nil

	env.retrieval.rebuildMu.Lock()
	_, err := env.retrieval.Rebuild(context.Background())
	env.retrieval.rebuildMu.Unlock()
	assert.ErrorIs(t, err, domain.ErrRebuildInProgress)

	status, err := env.retrieval.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyLexical, status.Strategy)
	assert.Equal(t, 3, status.Documents)
}
