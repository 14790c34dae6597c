package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driving"
)

// Ensure poolService implements PoolService
var _ driving.PoolService = (*poolService)(nil)

// poolService implements the PoolService interface
type poolService struct {
	pool      driven.DocumentPool
	retrieval driving.RetrievalService
	logger    *slog.Logger
}

// NewPoolService creates a new PoolService. Uploads mark the whole-pool
// index stale when retrieval is non-nil.
func NewPoolService(pool driven.DocumentPool, retrieval driving.RetrievalService, logger *slog.Logger) driving.PoolService {
	if logger == nil {
		logger = slog.Default()
	}
	return &poolService{
		pool:      pool,
		retrieval: retrieval,
		logger:    logger,
	}
}

// List returns the pool's files and folders
func (s *poolService) List(ctx context.Context) (*domain.PoolListing, error) {
	return s.pool.List(ctx)
}

// Expand resolves files and folders into a sorted set of file paths
func (s *poolService) Expand(ctx context.Context, paths []string) ([]string, error) {
	return s.pool.Expand(ctx, paths)
}

// Upload stores an uploaded file and returns its relative path
func (s *poolService) Upload(ctx context.Context, data []byte, name string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("upload %q is empty: %w", name, domain.ErrInvalidInput)
	}
	rel, err := s.pool.Save(ctx, data, name)
	if err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	if s.retrieval != nil {
		s.retrieval.MarkStale()
	}
	s.logger.Info("document uploaded", "path", rel, "bytes", len(data))
	return rel, nil
}
