package mocks

import (
	"context"

	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
)

// MockNormaliser is a mock implementation of Normaliser for testing
type MockNormaliser struct {
	ExtensionsFn func() []string
	PriorityFn   func() int
	NormaliseFn  func(raw []byte, ext string) (string, error)
}

var _ driven.Normaliser = (*MockNormaliser)(nil)

func NewMockNormaliser() *MockNormaliser {
	return &MockNormaliser{}
}

func (m *MockNormaliser) Normalise(ctx context.Context, raw []byte, ext string) (string, error) {
	if m.NormaliseFn != nil {
		return m.NormaliseFn(raw, ext)
	}
	return string(raw), nil
}

func (m *MockNormaliser) SupportedExtensions() []string {
	if m.ExtensionsFn != nil {
		return m.ExtensionsFn()
	}
	return []string{".txt", ".md"}
}

func (m *MockNormaliser) Priority() int {
	if m.PriorityFn != nil {
		return m.PriorityFn()
	}
	return 100
}
