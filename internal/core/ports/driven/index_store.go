package driven

import (
	"context"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

// IndexStore persists the whole-pool similarity index.
type IndexStore interface {
	// Exists reports whether a saved snapshot is present
	Exists(ctx context.Context) (bool, error)

	// Load reads the saved snapshot. Returns domain.ErrNotFound if none exists.
	Load(ctx context.Context) (*domain.IndexSnapshot, error)

	// Save replaces any saved snapshot. Readers of the store never see a
	// partially written snapshot.
	Save(ctx context.Context, snapshot *domain.IndexSnapshot) error

	// Delete removes the saved snapshot
	Delete(ctx context.Context) error

	// Close releases resources held by the store
	Close() error
}
