package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

// connectTestDB connects to TEST_DATABASE_URL or skips.
func connectTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := Connect(context.Background(), DefaultConfig(url))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHashLockName(t *testing.T) {
	assert.Equal(t, hashLockName("index-rebuild"), hashLockName("index-rebuild"))
	assert.NotEqual(t, hashLockName("index-rebuild"), hashLockName("other"))
}

func TestSchemaEmbedded(t *testing.T) {
	assert.Contains(t, schema, "pool_index_chunks")
	assert.Contains(t, schema, "pool_index_meta")
}

func TestIndexStore_RoundTrip(t *testing.T) {
	db := connectTestDB(t)
	store := NewIndexStore(db)
	ctx := context.Background()
	require.NoError(t, store.Delete(ctx))

	exists, err := store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snap := &domain.IndexSnapshot{
		Model:      "mock",
		Dimensions: 2,
		Documents:  1,
		BuiltAt:    time.Now().UTC().Truncate(time.Second),
		Chunks: []*domain.Chunk{
			{Text: "alpha", SourcePath: "a.md", Position: 0, EndOffset: 5},
			{Text: "beta", SourcePath: "a.md", Position: 1, StartOffset: 5, EndOffset: 9},
		},
		Embeddings: [][]float32{{1, 0}, {0, 1}},
	}
	require.NoError(t, store.Save(ctx, snap))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Chunks, got.Chunks)
	assert.Equal(t, snap.Embeddings, got.Embeddings)
	assert.True(t, snap.BuiltAt.Equal(got.BuiltAt))

	// Saving without embeddings replaces everything.
	require.NoError(t, store.Save(ctx, &domain.IndexSnapshot{Chunks: snap.Chunks[:1]}))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Chunks, 1)
	assert.Nil(t, got.Embeddings)
}

func TestAdvisoryLock(t *testing.T) {
	db := connectTestDB(t)
	ctx := context.Background()
	a, b := NewAdvisoryLock(db), NewAdvisoryLock(db)

	ok, err := a.Acquire(ctx, "test-lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx, "test-lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	require.NoError(t, a.Extend(ctx, "test-lock", time.Minute))
	require.NoError(t, a.Release(ctx, "test-lock"))

	ok, err = b.Acquire(ctx, "test-lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx, "test-lock"))
	assert.Error(t, b.Extend(ctx, "test-lock", time.Minute))
}
