package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driving"
)

// DefaultRecentTurns is the history window used when none is configured.
const DefaultRecentTurns = 6

// Ensure memoryService implements MemoryService
var _ driving.MemoryService = (*memoryService)(nil)

// memoryService implements the MemoryService interface
type memoryService struct {
	log    driven.ConversationLog
	recent int
	logger *slog.Logger

	mu     sync.Mutex
	buffer []*domain.Turn
}

// NewMemoryService creates a new MemoryService. recent <= 0 uses DefaultRecentTurns.
func NewMemoryService(log driven.ConversationLog, recent int, logger *slog.Logger) driving.MemoryService {
	if recent <= 0 {
		recent = DefaultRecentTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &memoryService{
		log:    log,
		recent: recent,
		logger: logger,
	}
}

// Append records one turn. The buffer and the log are written under one lock
// so their order always agrees.
func (s *memoryService) Append(ctx context.Context, role domain.Role, content string) (*domain.Turn, error) {
	turn, err := domain.NewTurn(role, content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.log.Append(ctx, turn); err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}
	s.buffer = append(s.buffer, turn)
	return turn, nil
}

// LoadRecent returns the last n turns from the durable log
func (s *memoryService) LoadRecent(ctx context.Context, n int) ([]*domain.Turn, error) {
	if n <= 0 {
		n = s.recent
	}
	turns, err := s.log.ReadRecent(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("read recent turns: %w", err)
	}
	return turns, nil
}

// RecordExchange appends a turn's input and output, then the critique if any.
func (s *memoryService) RecordExchange(ctx context.Context, input, output, critique string) error {
	if _, err := s.Append(ctx, domain.RoleUser, input); err != nil {
		return err
	}
	if _, err := s.Append(ctx, domain.RoleAssistant, output); err != nil {
		return err
	}
	if critique == "" {
		return nil
	}
	if _, err := s.Append(ctx, domain.RoleAssistant, domain.SelfCritiquePrefix+critique); err != nil {
		return err
	}
	s.logger.Debug("exchange recorded with critique", "critique_len", len(critique))
	return nil
}

// Buffered returns the turns appended through this service since startup.
func (s *memoryService) Buffered() []*domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Turn(nil), s.buffer...)
}
