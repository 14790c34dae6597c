package index

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

// LexicalIndex ranks chunks by how many query tokens they contain.
type LexicalIndex struct {
	chunks  []*domain.Chunk
	lowered []string
}

// NewLexicalIndex builds a lexical index over chunks in pool order.
func NewLexicalIndex(chunks []*domain.Chunk) *LexicalIndex {
	idx := &LexicalIndex{
		chunks:  make([]*domain.Chunk, 0, len(chunks)),
		lowered: make([]string, 0, len(chunks)),
	}
	for _, c := range chunks {
		if c == nil || c.Text == PlaceholderText {
			continue
		}
		idx.chunks = append(idx.chunks, c)
		idx.lowered = append(idx.lowered, strings.ToLower(c.Text))
	}
	return idx
}

// Len returns the number of searchable chunks.
func (l *LexicalIndex) Len() int {
	if l == nil {
		return 0
	}
	return len(l.chunks)
}

// Tokenize lowercases and splits the query on whitespace, keeping tokens
// longer than one rune. Repeated tokens are kept.
func Tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Search returns up to k chunks with a positive score, highest first.
// A chunk scores one point per query token it contains as a substring.
func (l *LexicalIndex) Search(query string, k int) []Hit {
	if l == nil || k <= 0 {
		return nil
	}
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	var hits []Hit
	for i, text := range l.lowered {
		score := 0
		for _, t := range tokens {
			if strings.Contains(text, t) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, Hit{Position: i, Chunk: l.chunks[i], Score: float64(score)})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Score > hits[b].Score
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// First returns the first k chunks in pool order.
func (l *LexicalIndex) First(k int) []Hit {
	if l == nil || k <= 0 {
		return nil
	}
	if k > len(l.chunks) {
		k = len(l.chunks)
	}
	hits := make([]Hit, k)
	for i := 0; i < k; i++ {
		hits[i] = Hit{Position: i, Chunk: l.chunks[i]}
	}
	return hits
}

// SearchOrFirst is Search, falling back to First when nothing scores.
func (l *LexicalIndex) SearchOrFirst(query string, k int) []Hit {
	if hits := l.Search(query, k); len(hits) > 0 {
		return hits
	}
	return l.First(k)
}
