package domain

// AIProvider identifies the AI/embedding provider
type AIProvider string

const (
	AIProviderOpenAI     AIProvider = "openai"
	AIProviderGoogle     AIProvider = "google"
	AIProviderPerplexity AIProvider = "perplexity"
	AIProviderOllama     AIProvider = "ollama"
	AIProviderNone       AIProvider = "none"
)

// KnownProviders lists providers that may appear in a credential set.
var KnownProviders = []AIProvider{
	AIProviderOpenAI,
	AIProviderGoogle,
	AIProviderPerplexity,
	AIProviderOllama,
}

// EmbeddingSettings configures the embedding service
type EmbeddingSettings struct {
	Provider AIProvider `json:"provider"`
	Model    string     `json:"model"`
	APIKey   string     `json:"-"` // Never serialize to JSON
	BaseURL  string     `json:"base_url,omitempty"`
}

// IsConfigured returns true if embedding settings are properly configured
func (e *EmbeddingSettings) IsConfigured() bool {
	if e.Provider == "" || e.Provider == AIProviderNone {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// RequiresAPIKey returns true if this provider requires an API key
func (p AIProvider) RequiresAPIKey() bool {
	switch p {
	case AIProviderOllama, AIProviderNone:
		return false // Self-hosted, no API key needed
	default:
		return true
	}
}

// IsValid returns true if this is a known provider
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOpenAI, AIProviderGoogle, AIProviderPerplexity, AIProviderOllama, AIProviderNone:
		return true
	default:
		return false
	}
}

// SupportsEmbedding returns true if an embedding adapter exists for the provider
func (p AIProvider) SupportsEmbedding() bool {
	switch p {
	case AIProviderOpenAI, AIProviderGoogle, AIProviderOllama:
		return true
	default:
		return false
	}
}
