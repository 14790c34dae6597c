package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-scope/internal/index"
)

// strategy is one step of the retrieval fallback chain.
type strategy interface {
	Name() domain.RetrievalStrategy
	Search(ctx context.Context, query string, topK int) ([]string, error)
}

// semanticStrategy ranks chunks by embedding similarity.
type semanticStrategy struct {
	index    *index.VectorIndex
	embedder driven.EmbeddingService
}

func (s *semanticStrategy) Name() domain.RetrievalStrategy { return domain.StrategySemantic }

func (s *semanticStrategy) Search(ctx context.Context, query string, topK int) ([]string, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.index.Search(vec, topK)
	if err != nil {
		return nil, err
	}
	return index.Texts(hits), nil
}

// lexicalStrategy ranks chunks by query-token overlap.
type lexicalStrategy struct {
	index *index.LexicalIndex
}

func (s *lexicalStrategy) Name() domain.RetrievalStrategy { return domain.StrategyLexical }

func (s *lexicalStrategy) Search(_ context.Context, query string, topK int) ([]string, error) {
	return index.Texts(s.index.Search(query, topK)), nil
}

// firstKStrategy returns the first chunks in pool order.
type firstKStrategy struct {
	index *index.LexicalIndex
}

func (s *firstKStrategy) Name() domain.RetrievalStrategy { return domain.StrategyFirstK }

func (s *firstKStrategy) Search(_ context.Context, _ string, topK int) ([]string, error) {
	return index.Texts(s.index.First(topK)), nil
}

// chain is a SearchFunc trying each strategy in order until one returns
// something. Failures are logged and counted, never returned.
func chain(path string, strategies []strategy, logger *slog.Logger) domain.SearchFunc {
	return func(ctx context.Context, query string, topK int) []string {
		results, _ := runChain(ctx, path, strategies, logger, query, topK)
		return results
	}
}

// runChain returns the first non-empty result and the strategy that produced it.
func runChain(ctx context.Context, path string, strategies []strategy, logger *slog.Logger, query string, topK int) ([]string, domain.RetrievalStrategy) {
	if topK <= 0 {
		return nil, domain.StrategyNone
	}
	for _, s := range strategies {
		results, err := s.Search(ctx, query, topK)
		switch {
		case err != nil:
			reason := "error"
			if errors.Is(err, domain.ErrServiceUnavailable) {
				reason = "unavailable"
			}
			logger.Warn("retrieval strategy failed, falling back",
				"path", path, "strategy", s.Name(), "error", err)
			recordFallback(s.Name(), reason)
			continue
		case len(results) == 0:
			recordFallback(s.Name(), "empty")
			continue
		}
		recordSearch(path, s.Name())
		return results, s.Name()
	}
	recordSearch(path, domain.StrategyNone)
	return nil, domain.StrategyNone
}

// naiveChunks cuts documents into fixed windows of maxChars runes, trimmed,
// dropping blank windows. Used by the lexical and first-k strategies.
func naiveChunks(docs []*domain.Document, maxChars int) []*domain.Chunk {
	var out []*domain.Chunk
	for _, doc := range docs {
		runes := []rune(doc.Content)
		pos := 0
		for start := 0; start < len(runes); start += maxChars {
			end := min(start+maxChars, len(runes))
			text := strings.TrimSpace(string(runes[start:end]))
			if text == "" {
				continue
			}
			out = append(out, &domain.Chunk{
				Text:        text,
				SourcePath:  doc.SourcePath,
				Position:    pos,
				StartOffset: start,
				EndOffset:   end,
			})
			pos++
		}
	}
	return out
}

func chunkTexts(chunks []*domain.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func chunkPointers(chunks []domain.Chunk) []*domain.Chunk {
	out := make([]*domain.Chunk, len(chunks))
	for i := range chunks {
		out[i] = &chunks[i]
	}
	return out
}
