package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
)

var _ driven.EmbeddingService = (*OllamaEmbedding)(nil)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "nomic-embed-text"
)

// OllamaEmbedding embeds text with a local Ollama server.
// Ollama embeds one prompt per request; Embed issues them sequentially.
type OllamaEmbedding struct {
	baseURL string
	model   string
	client  *http.Client

	mu         sync.RWMutex
	dimensions int
}

// NewOllamaEmbedding creates an Ollama embedding client.
func NewOllamaEmbedding(baseURL, model string) *OllamaEmbedding {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaEmbedding{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed returns one vector per text, in input order.
func (o *OllamaEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := o.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// EmbedQuery embeds a single search query.
func (o *OllamaEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return o.embedOne(ctx, query)
}

func (o *OllamaEmbedding) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w: %v", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("ollama: decode response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("ollama: %s", parsed.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: status %d", resp.StatusCode)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding")
	}

	o.mu.Lock()
	o.dimensions = len(parsed.Embedding)
	o.mu.Unlock()
	return parsed.Embedding, nil
}

// Dimensions returns the width of the last embedding seen, 0 before the first call.
func (o *OllamaEmbedding) Dimensions() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dimensions
}

// Model returns the model name.
func (o *OllamaEmbedding) Model() string {
	return o.model
}

// HealthCheck checks that the server answers on /api/tags.
func (o *OllamaEmbedding) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: %w: %v", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: health status %d: %w", resp.StatusCode, domain.ErrServiceUnavailable)
	}
	return nil
}

// Close releases idle connections.
func (o *OllamaEmbedding) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
