package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
)

// MockIndexStore is an in-memory implementation of IndexStore for testing
type MockIndexStore struct {
	mu       sync.Mutex
	snapshot *domain.IndexSnapshot
	saves    int
	loads    int

	SaveErr error
	LoadErr error
}

var _ driven.IndexStore = (*MockIndexStore)(nil)

func NewMockIndexStore() *MockIndexStore {
	return &MockIndexStore{}
}

func (m *MockIndexStore) Exists(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot != nil, nil
}

func (m *MockIndexStore) Load(ctx context.Context) (*domain.IndexSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.snapshot == nil {
		return nil, domain.ErrNotFound
	}
	return m.snapshot, nil
}

func (m *MockIndexStore) Save(ctx context.Context, snapshot *domain.IndexSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.saves++
	m.snapshot = snapshot
	return nil
}

func (m *MockIndexStore) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = nil
	return nil
}

func (m *MockIndexStore) Close() error {
	return nil
}

// Helper methods for testing

func (m *MockIndexStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MockIndexStore) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

func (m *MockIndexStore) Snapshot() *domain.IndexSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}
