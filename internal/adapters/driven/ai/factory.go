package ai

import (
	"context"
	"fmt"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
)

var _ driven.AIServiceFactory = (*Factory)(nil)

// Factory creates embedding services from settings.
type Factory struct{}

// NewFactory creates a new AI service factory
func NewFactory() *Factory {
	return &Factory{}
}

// CreateEmbeddingService returns nil, nil when settings are not configured.
func (f *Factory) CreateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOpenAI:
		svc, err := NewOpenAIEmbedding(settings.APIKey, settings.Model, settings.BaseURL)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case domain.AIProviderOllama:
		return NewOllamaEmbedding(settings.BaseURL, settings.Model), nil
	case domain.AIProviderGoogle:
		svc, err := NewGoogleEmbedding(context.Background(), settings.APIKey, settings.Model)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, settings.Provider)
	}
}
