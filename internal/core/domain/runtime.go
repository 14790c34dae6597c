package domain

import "sync"

// RuntimeConfig tracks which services are available at runtime.
// Backends are fixed at startup; the capability flags change as the
// embedding service and the whole-pool index change.
// Thread-safe for concurrent access.
type RuntimeConfig struct {
	mu sync.RWMutex

	// Static (set at startup, read-only)
	IndexBackend string // "sqlite" or "postgres"
	LockBackend  string // "memory", "redis" or "postgres"

	embeddingAvailable bool
	indexStale         bool
}

// NewRuntimeConfig creates a new RuntimeConfig with initial values
func NewRuntimeConfig(indexBackend, lockBackend string) *RuntimeConfig {
	return &RuntimeConfig{
		IndexBackend: indexBackend,
		LockBackend:  lockBackend,
	}
}

// EmbeddingAvailable returns whether the ambient embedding service is available
func (c *RuntimeConfig) EmbeddingAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.embeddingAvailable
}

// SetEmbeddingAvailable updates the embedding availability flag
func (c *RuntimeConfig) SetEmbeddingAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeddingAvailable = available
}

// IndexStale returns whether the pool changed since the whole-pool index was built
func (c *RuntimeConfig) IndexStale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexStale
}

// SetIndexStale updates the staleness flag
func (c *RuntimeConfig) SetIndexStale(stale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexStale = stale
}

// CanDoSemanticSearch returns true if semantic search is possible
func (c *RuntimeConfig) CanDoSemanticSearch() bool {
	return c.EmbeddingAvailable()
}

// EffectiveStrategy returns the first strategy the whole-pool search will try
func (c *RuntimeConfig) EffectiveStrategy() RetrievalStrategy {
	if c.EmbeddingAvailable() {
		return StrategySemantic
	}
	return StrategyLexical
}
