package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven/mocks"
)

// recordingFactory builds mock services and remembers the settings it saw.
type recordingFactory struct {
	seen []domain.EmbeddingSettings
	err  error
}

func (f *recordingFactory) CreateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	f.seen = append(f.seen, *settings)
	if f.err != nil {
		return nil, f.err
	}
	if !settings.IsConfigured() {
		return nil, nil
	}
	return mocks.NewMockEmbeddingService(), nil
}

func withCreds(secrets map[string]string) context.Context {
	ctx, rc := domain.WithRequestContext(context.Background(), "turn-1")
	_ = rc.SetCredentials(domain.NewCredentialSet(secrets))
	return ctx
}

func newTestServices(factory driven.AIServiceFactory) *Services {
	return NewServices(ServicesConfig{
		Config:      domain.NewRuntimeConfig("sqlite", "memory"),
		Factory:     factory,
		Embedding:   domain.EmbeddingSettings{Provider: domain.AIProviderOpenAI, Model: "text-embedding-3-small"},
		AmbientKeys: map[string]string{"openai": "sk-ambient", "google": "g-ambient"},
	})
}

func TestNewServices_Defaults(t *testing.T) {
	s := NewServices(ServicesConfig{})
	if s.Config() == nil {
		t.Fatal("expected default runtime config")
	}
	if s.EmbeddingService() != nil {
		t.Error("expected no embedding service")
	}
}

func TestServices_ResolveKey_Ambient(t *testing.T) {
	s := newTestServices(&recordingFactory{})

	key, err := s.ResolveKey(context.Background(), domain.AIProviderOpenAI)
	if err != nil || key != "sk-ambient" {
		t.Errorf("expected ambient key, got %q, %v", key, err)
	}

	_, err = s.ResolveKey(context.Background(), domain.AIProviderPerplexity)
	if !errors.Is(err, domain.ErrCredentialMissing) {
		t.Errorf("expected ErrCredentialMissing, got %v", err)
	}
}

func TestServices_ResolveKey_SuppliedSetIsAuthoritative(t *testing.T) {
	s := newTestServices(&recordingFactory{})
	ctx := withCreds(map[string]string{"google": "g-request"})

	key, err := s.ResolveKey(ctx, domain.AIProviderGoogle)
	if err != nil || key != "g-request" {
		t.Errorf("expected request key, got %q, %v", key, err)
	}

	// openai has an ambient key but the supplied set lacks it.
	key, err = s.ResolveKey(ctx, domain.AIProviderOpenAI)
	if !errors.Is(err, domain.ErrCredentialMissing) {
		t.Errorf("expected ErrCredentialMissing, got %v", err)
	}
	if key != "" {
		t.Errorf("ambient key leaked: %q", key)
	}
}

func TestServices_ResolveKey_EmptySetDisablesAll(t *testing.T) {
	s := newTestServices(&recordingFactory{})
	ctx := withCreds(map[string]string{"openai": "   "})

	if _, err := s.ResolveKey(ctx, domain.AIProviderOpenAI); !errors.Is(err, domain.ErrCredentialMissing) {
		t.Errorf("expected ErrCredentialMissing, got %v", err)
	}
}

func TestServices_ResolveKey_AfterClearUsesAmbient(t *testing.T) {
	s := newTestServices(&recordingFactory{})
	ctx, rc := domain.WithRequestContext(context.Background(), "turn-2")
	_ = rc.SetCredentials(domain.NewCredentialSet(nil))
	rc.Clear()

	key, err := s.ResolveKey(ctx, domain.AIProviderOpenAI)
	if err != nil || key != "sk-ambient" {
		t.Errorf("expected ambient key after clear, got %q, %v", key, err)
	}
}

func TestServices_InitAmbient(t *testing.T) {
	factory := &recordingFactory{}
	s := newTestServices(factory)

	if err := s.InitAmbient(context.Background()); err != nil {
		t.Fatalf("InitAmbient: %v", err)
	}
	if s.EmbeddingService() == nil {
		t.Fatal("expected ambient embedding service")
	}
	if !s.Config().EmbeddingAvailable() {
		t.Error("expected embedding available")
	}
	if factory.seen[0].APIKey != "sk-ambient" {
		t.Errorf("expected ambient key passed to factory, got %q", factory.seen[0].APIKey)
	}
}

func TestServices_InitAmbient_Unconfigured(t *testing.T) {
	s := NewServices(ServicesConfig{
		Factory:   &recordingFactory{},
		Embedding: domain.EmbeddingSettings{Provider: domain.AIProviderNone},
	})

	if err := s.InitAmbient(context.Background()); err != nil {
		t.Fatalf("InitAmbient: %v", err)
	}
	if s.Config().EmbeddingAvailable() {
		t.Error("expected embedding unavailable")
	}
}

func TestServices_InitAmbient_HealthCheckFails(t *testing.T) {
	s := newTestServices(&recordingFactory{})
	svc := mocks.NewMockEmbeddingService()
	svc.SetUnavailable(true)

	if err := s.ValidateAndSetEmbedding(context.Background(), svc); !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable, got %v", err)
	}
	if !svc.Closed() {
		t.Error("rejected service should be closed")
	}
	if s.EmbeddingService() != nil {
		t.Error("rejected service must not be installed")
	}
}

func TestServices_EmbeddingFor_Ambient(t *testing.T) {
	s := newTestServices(&recordingFactory{})

	if _, _, err := s.EmbeddingFor(context.Background()); !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable before init, got %v", err)
	}

	ambient := mocks.NewMockEmbeddingService()
	s.SetEmbeddingService(ambient)

	svc, release, err := s.EmbeddingFor(context.Background())
	if err != nil {
		t.Fatalf("EmbeddingFor: %v", err)
	}
	release()
	if svc != ambient {
		t.Error("expected ambient service")
	}
	if ambient.Closed() {
		t.Error("release must not close the ambient service")
	}
}

func TestServices_EmbeddingFor_RequestScoped(t *testing.T) {
	factory := &recordingFactory{}
	s := newTestServices(factory)
	s.SetEmbeddingService(mocks.NewMockEmbeddingService())

	svc, release, err := s.EmbeddingFor(withCreds(map[string]string{"openai": "sk-request"}))
	if err != nil {
		t.Fatalf("EmbeddingFor: %v", err)
	}
	if svc == s.EmbeddingService() {
		t.Error("expected a request-scoped service")
	}
	if got := factory.seen[len(factory.seen)-1].APIKey; got != "sk-request" {
		t.Errorf("expected request key, got %q", got)
	}
	release()
	if !svc.(*mocks.MockEmbeddingService).Closed() {
		t.Error("release should close the request-scoped service")
	}
}

func TestServices_EmbeddingFor_MissingRequestKey(t *testing.T) {
	s := newTestServices(&recordingFactory{})
	s.SetEmbeddingService(mocks.NewMockEmbeddingService())

	_, release, err := s.EmbeddingFor(withCreds(map[string]string{"google": "g-request"}))
	release()
	if !errors.Is(err, domain.ErrCredentialMissing) {
		t.Errorf("expected ErrCredentialMissing, got %v", err)
	}
}

func TestServices_ReplaceService_ClosesOld(t *testing.T) {
	s := newTestServices(nil)
	first := mocks.NewMockEmbeddingService()
	second := mocks.NewMockEmbeddingService()

	s.SetEmbeddingService(first)
	s.SetEmbeddingService(second)
	if !first.Closed() {
		t.Error("expected old service closed")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !second.Closed() || s.Config().EmbeddingAvailable() {
		t.Error("expected service closed and availability cleared")
	}
}
