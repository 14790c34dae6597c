package domain

import (
	"context"
	"time"
)

// RetrievalStrategy names one step of the retrieval fallback chain
type RetrievalStrategy string

const (
	StrategySemantic RetrievalStrategy = "semantic" // Embedding similarity
	StrategyLexical  RetrievalStrategy = "lexical"  // Keyword term frequency
	StrategyFirstK   RetrievalStrategy = "first_k"  // First k chunks in pool order
	StrategyNone     RetrievalStrategy = "none"     // Nothing to search
)

// SearchFunc searches one scope's chunks and returns up to topK chunk texts.
// It never fails: retrieval problems degrade to a weaker strategy or an
// empty result. A SearchFunc is bound to a single turn.
type SearchFunc func(ctx context.Context, query string, topK int) []string

// EmptySearch is the SearchFunc of a turn with retrieval disabled.
func EmptySearch(ctx context.Context, query string, topK int) []string {
	return nil
}

// RankedChunk represents a search result with relevance score
type RankedChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}

// SearchResult represents the result of a whole-pool or scoped search
type SearchResult struct {
	Query    string            `json:"query"`
	Scope    ScopeState        `json:"scope"`
	Strategy RetrievalStrategy `json:"strategy,omitempty"`
	Chunks   []string          `json:"chunks"`
	Took     time.Duration     `json:"took"`
}

// IndexSnapshot is the durable form of the whole-pool similarity index.
// Embeddings[i] belongs to Chunks[i].
type IndexSnapshot struct {
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	BuiltAt    time.Time   `json:"built_at"`
	Documents  int         `json:"documents"`
	Chunks     []*Chunk    `json:"chunks"`
	Embeddings [][]float32 `json:"-"`
}

// RebuildStatus reports the outcome of an explicit whole-pool rebuild
type RebuildStatus struct {
	Documents int               `json:"documents"`
	Chunks    int               `json:"chunks"`
	Strategy  RetrievalStrategy `json:"strategy"`
	Took      time.Duration     `json:"took"`
	Message   string            `json:"message"`
}

// IndexStatus describes the in-memory whole-pool index
type IndexStatus struct {
	Loaded    bool      `json:"loaded"`
	Stale     bool      `json:"stale"`
	Chunks    int       `json:"chunks"`
	Documents int       `json:"documents"`
	Model     string    `json:"model,omitempty"`
	BuiltAt   time.Time `json:"built_at,omitempty"`
}
