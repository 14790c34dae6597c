package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
)

// MockConversationLog keeps turns in memory for testing
type MockConversationLog struct {
	mu    sync.Mutex
	turns []*domain.Turn

	AppendErr error
}

var _ driven.ConversationLog = (*MockConversationLog)(nil)

func NewMockConversationLog() *MockConversationLog {
	return &MockConversationLog{}
}

func (m *MockConversationLog) Append(ctx context.Context, turn *domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.turns = append(m.turns, turn)
	return nil
}

func (m *MockConversationLog) ReadRecent(ctx context.Context, n int) ([]*domain.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.turns) {
		n = len(m.turns)
	}
	out := make([]*domain.Turn, n)
	copy(out, m.turns[len(m.turns)-n:])
	return out, nil
}

func (m *MockConversationLog) Close() error {
	return nil
}

// Turns returns every appended turn.
func (m *MockConversationLog) Turns() []*domain.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Turn(nil), m.turns...)
}
