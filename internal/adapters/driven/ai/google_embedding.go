package ai

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
)

var _ driven.EmbeddingService = (*GoogleEmbedding)(nil)

const (
	defaultGoogleModel = "gemini-embedding-001"

	googleMaxBatch = 100

	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// embedContentFunc matches genai's Models.EmbedContent.
type embedContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)

// GoogleEmbedding embeds text with the Gemini API.
type GoogleEmbedding struct {
	model string
	embed embedContentFunc

	mu         sync.RWMutex
	dimensions int
}

// NewGoogleEmbedding creates a Gemini embedding client.
func NewGoogleEmbedding(ctx context.Context, apiKey, model string) (*GoogleEmbedding, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google: %w", domain.ErrCredentialMissing)
	}
	if model == "" {
		model = defaultGoogleModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GoogleEmbedding{
		model:      model,
		embed:      client.Models.EmbedContent,
		dimensions: 768,
	}, nil
}

// Embed returns one vector per text, in input order.
func (g *GoogleEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += googleMaxBatch {
		end := min(start+googleMaxBatch, len(texts))
		batch, err := g.embedBatch(ctx, texts[start:end], taskRetrievalDocument)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// EmbedQuery embeds a single search query with the retrieval-query task type.
func (g *GoogleEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := g.embedBatch(ctx, []string{query}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *GoogleEmbedding) embedBatch(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := g.embed(ctx, g.model, contents, &genai.EmbedContentConfig{TaskType: task})
	if err != nil {
		return nil, fmt.Errorf("google: %w: %v", domain.ErrServiceUnavailable, err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("google: expected %d embeddings", len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("google: missing embedding for input %d", i)
		}
		vectors[i] = e.Values
	}

	g.mu.Lock()
	g.dimensions = len(vectors[0])
	g.mu.Unlock()
	return vectors, nil
}

// Dimensions returns the embedding width.
func (g *GoogleEmbedding) Dimensions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dimensions
}

// Model returns the model name.
func (g *GoogleEmbedding) Model() string {
	return g.model
}

// HealthCheck embeds a short probe string.
func (g *GoogleEmbedding) HealthCheck(ctx context.Context) error {
	_, err := g.EmbedQuery(ctx, "health check")
	return err
}

// Close is a no-op; the genai client holds no resources needing release.
func (g *GoogleEmbedding) Close() error {
	return nil
}
