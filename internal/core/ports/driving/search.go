package driving

import (
	"context"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

// RetrievalService builds scoped search functions and serves the whole-pool index
type RetrievalService interface {
	// BuildScoped returns a search function over exactly the given files.
	// An empty file list, or files that load nothing, yield domain.EmptySearch.
	BuildScoped(ctx context.Context, files []string) domain.SearchFunc

	// Search queries the whole-pool index, loading or building it on first use.
	Search(ctx context.Context, query string, topK int) (*domain.SearchResult, error)

	// Rebuild discards the whole-pool index and builds it again from the pool.
	Rebuild(ctx context.Context) (*domain.RebuildStatus, error)

	// Status describes the in-memory whole-pool index
	Status() domain.IndexStatus

	// MarkStale records that the pool changed since the index was built
	MarkStale()
}
