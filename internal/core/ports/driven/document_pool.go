package driven

import (
	"context"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

// DocumentPool reads and writes the document tree under a content root.
// All paths are relative to the root and use forward slashes.
type DocumentPool interface {
	// Root returns the pool's root directory
	Root() string

	// List enumerates allowed files and all folders. Folders start with
	// the synthetic whole-pool entry.
	List(ctx context.Context) (*domain.PoolListing, error)

	// Load reads the documents at the given files and folders. Unreadable,
	// oversized, unsupported and empty files are skipped, never fatal.
	Load(ctx context.Context, paths []string) ([]*domain.Document, error)

	// Expand resolves files, folders and the whole-pool entry into a
	// sorted, deduplicated list of allowed file paths.
	Expand(ctx context.Context, paths []string) ([]string, error)

	// Save writes an uploaded file under a sanitised name and returns its
	// relative path. Existing files are overwritten.
	Save(ctx context.Context, data []byte, name string) (string, error)

	// AllowedExtensions returns the lowercase extensions (with dot) the pool accepts
	AllowedExtensions() []string
}
