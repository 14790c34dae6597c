package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driving"
)

// NoDocumentsMessage is what search_documents returns when a turn has no
// active scope.
const NoDocumentsMessage = "No documents were selected for this run."

// Ensure turnService implements TurnService
var _ driving.TurnService = (*turnService)(nil)

// turnService implements the TurnService interface
type turnService struct {
	pool      driving.PoolService
	retrieval driving.RetrievalService
	logger    *slog.Logger
}

// NewTurnService creates a new TurnService
func NewTurnService(pool driving.PoolService, retrieval driving.RetrievalService, logger *slog.Logger) driving.TurnService {
	if logger == nil {
		logger = slog.Default()
	}
	return &turnService{
		pool:      pool,
		retrieval: retrieval,
		logger:    logger,
	}
}

// Begin starts a turn: installs credentials, expands the requested scope and
// builds its search function. The caller must End the returned session.
func (s *turnService) Begin(ctx context.Context, opts driving.TurnOptions) (*domain.TurnSession, error) {
	turn := domain.NewTurnSession(ctx, uuid.NewString(), opts.DocumentsOnly, turnsActive.Dec)
	turnsActive.Inc()

	if err := s.setup(turn, opts); err != nil {
		_ = turn.End()
		return nil, err
	}

	scope := turn.Scope()
	turnsTotal.WithLabelValues(string(scope.State())).Inc()
	s.logger.Info("turn started",
		"turn_id", turn.ID,
		"scope", scope.State(),
		"requested", len(scope.Requested),
		"files", len(scope.Files),
		"documents_only", opts.DocumentsOnly,
	)
	return turn, nil
}

func (s *turnService) setup(turn *domain.TurnSession, opts driving.TurnOptions) error {
	rc := turn.RequestContext()
	ctx := turn.Context()

	if err := rc.SetCredentials(opts.Credentials); err != nil {
		return err
	}

	requested := domain.NewScope(opts.Scope, nil).Requested
	var files []string
	if len(requested) > 0 {
		expanded, err := s.pool.Expand(ctx, requested)
		if err != nil {
			return fmt.Errorf("expand scope: %w", err)
		}
		files = expanded
	}

	scope := domain.NewScope(requested, files)
	fn := domain.EmptySearch
	if scope.Enabled() {
		fn = s.retrieval.BuildScoped(ctx, scope.Files)
	}
	return rc.SetScope(scope, fn)
}

// Run starts a turn, calls fn with it and always ends it. A panic in fn is
// re-raised after the turn has ended.
func (s *turnService) Run(ctx context.Context, opts driving.TurnOptions, fn func(turn *domain.TurnSession) error) (err error) {
	turn, err := s.Begin(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		r := recover()
		if endErr := turn.End(); endErr != nil {
			err = errors.Join(err, fmt.Errorf("end turn %s: %w", turn.ID, endErr))
		}
		s.logger.Debug("turn ended", "turn_id", turn.ID, "error", err)
		if r != nil {
			panic(r)
		}
	}()

	return fn(turn)
}

// SearchDocuments is the search_documents capability for the turn in ctx.
func (s *turnService) SearchDocuments(ctx context.Context, query string, topK int) []string {
	rc, ok := domain.RequestContextFrom(ctx)
	if !ok {
		return []string{NoDocumentsMessage}
	}
	fn, _, ok := rc.Search()
	if !ok {
		return []string{NoDocumentsMessage}
	}
	return fn(ctx, query, topK)
}
