package driving

import (
	"context"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

// PoolService provides access to the document pool
type PoolService interface {
	// List returns the pool's files and folders
	List(ctx context.Context) (*domain.PoolListing, error)

	// Expand resolves files and folders into a sorted set of file paths
	Expand(ctx context.Context, paths []string) ([]string, error)

	// Upload stores an uploaded file and returns its relative path
	Upload(ctx context.Context, data []byte, name string) (string, error)
}
