package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
)

// Services holds the ambient embedding service and resolves per-request
// credentials. Thread-safe for concurrent access.
type Services struct {
	mu sync.RWMutex

	config   *domain.RuntimeConfig
	factory  driven.AIServiceFactory
	settings domain.EmbeddingSettings // ambient settings, key included
	ambient  *domain.CredentialSet
	logger   *slog.Logger

	embeddingService driven.EmbeddingService
}

// ServicesConfig holds the startup inputs for Services.
type ServicesConfig struct {
	Config    *domain.RuntimeConfig
	Factory   driven.AIServiceFactory
	Embedding domain.EmbeddingSettings
	// AmbientKeys are process-level secrets, used only when a request
	// supplies no credential set.
	AmbientKeys map[string]string
	Logger      *slog.Logger
}

// NewServices creates a new Services registry
func NewServices(cfg ServicesConfig) *Services {
	s := &Services{
		config:   cfg.Config,
		factory:  cfg.Factory,
		settings: cfg.Embedding,
		ambient:  domain.NewCredentialSet(cfg.AmbientKeys),
		logger:   cfg.Logger,
	}
	if s.config == nil {
		s.config = domain.NewRuntimeConfig("", "")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Config returns the runtime configuration
func (s *Services) Config() *domain.RuntimeConfig {
	return s.config
}

// EmbeddingService returns the ambient embedding service (may be nil)
func (s *Services) EmbeddingService() driven.EmbeddingService {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embeddingService
}

// SetEmbeddingService replaces the ambient embedding service, closing the old one.
func (s *Services) SetEmbeddingService(svc driven.EmbeddingService) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embeddingService != nil && s.embeddingService != svc {
		_ = s.embeddingService.Close()
	}
	s.embeddingService = svc
	s.config.SetEmbeddingAvailable(svc != nil)
}

// ValidateAndSetEmbedding checks connectivity before installing svc.
func (s *Services) ValidateAndSetEmbedding(ctx context.Context, svc driven.EmbeddingService) error {
	if svc == nil {
		s.SetEmbeddingService(nil)
		return nil
	}
	if err := svc.HealthCheck(ctx); err != nil {
		_ = svc.Close()
		return err
	}
	s.SetEmbeddingService(svc)
	return nil
}

// InitAmbient builds the ambient embedding service from startup settings
// and ambient keys. An unconfigured provider leaves embeddings unavailable.
func (s *Services) InitAmbient(ctx context.Context) error {
	settings := s.settings
	if settings.APIKey == "" {
		settings.APIKey, _ = s.ambient.Lookup(settings.Provider)
	}
	if s.factory == nil {
		return nil
	}
	svc, err := s.factory.CreateEmbeddingService(&settings)
	if err != nil {
		return fmt.Errorf("create embedding service: %w", err)
	}
	if svc == nil {
		s.logger.Info("embedding provider not configured, retrieval will use lexical search", "provider", settings.Provider)
		return nil
	}
	return s.ValidateAndSetEmbedding(ctx, svc)
}

// ResolveKey returns the secret for provider on the current request.
// When the request supplied a credential set, only that set is consulted.
func (s *Services) ResolveKey(ctx context.Context, provider domain.AIProvider) (string, error) {
	if creds, supplied := requestCredentials(ctx); supplied {
		key, ok := creds.Lookup(provider)
		if !ok {
			return "", fmt.Errorf("%w: %s", domain.ErrCredentialMissing, provider)
		}
		return key, nil
	}

	if key, ok := s.ambient.Lookup(provider); ok {
		return key, nil
	}
	if provider == s.settings.Provider && s.settings.APIKey != "" {
		return s.settings.APIKey, nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrCredentialMissing, provider)
}

// EmbeddingFor returns the embedding service to use for the request in ctx.
// Without request credentials this is the ambient service. With them, a
// request-scoped service is built from the supplied key and release closes
// it. release is always non-nil.
func (s *Services) EmbeddingFor(ctx context.Context) (driven.EmbeddingService, func(), error) {
	noop := func() {}

	if _, supplied := requestCredentials(ctx); !supplied {
		svc := s.EmbeddingService()
		if svc == nil {
			return nil, noop, domain.ErrServiceUnavailable
		}
		return svc, noop, nil
	}

	provider := s.settings.Provider
	if !provider.SupportsEmbedding() {
		return nil, noop, domain.ErrServiceUnavailable
	}

	settings := s.settings
	settings.APIKey = ""
	if provider.RequiresAPIKey() {
		key, err := s.ResolveKey(ctx, provider)
		if err != nil {
			return nil, noop, err
		}
		settings.APIKey = key
	}

	if s.factory == nil {
		return nil, noop, domain.ErrServiceUnavailable
	}
	svc, err := s.factory.CreateEmbeddingService(&settings)
	if err != nil {
		return nil, noop, err
	}
	if svc == nil {
		return nil, noop, domain.ErrServiceUnavailable
	}
	return svc, func() { _ = svc.Close() }, nil
}

// Close shuts down the ambient service.
func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embeddingService != nil {
		_ = s.embeddingService.Close()
		s.embeddingService = nil
	}
	s.config.SetEmbeddingAvailable(false)
	return nil
}

func requestCredentials(ctx context.Context) (*domain.CredentialSet, bool) {
	rc, ok := domain.RequestContextFrom(ctx)
	if !ok {
		return nil, false
	}
	return rc.Credentials()
}
