// Package index holds the in-memory rankers used for retrieval: a cosine
// similarity index over chunk embeddings and a keyword fallback over chunk
// texts. Both are immutable once built and safe for concurrent readers.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

// PlaceholderText marks a sentinel chunk that keeps a persisted index
// structurally non-empty. It is never returned from a search.
const PlaceholderText = "__placeholder__"

// ErrDimensionMismatch is returned when embeddings do not line up with chunks.
var ErrDimensionMismatch = errors.New("embedding dimensions mismatch")

// Hit is one ranked result.
type Hit struct {
	Position int // insertion position in the index
	Chunk    *domain.Chunk
	Score    float64
}

// VectorIndex ranks chunks by cosine similarity to a query vector.
type VectorIndex struct {
	chunks  []*domain.Chunk
	vectors [][]float32
	norms   []float64
	dims    int
}

// NewVectorIndex builds an index. vectors[i] belongs to chunks[i] and all
// vectors share one dimension.
func NewVectorIndex(chunks []*domain.Chunk, vectors [][]float32) (*VectorIndex, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%d chunks, %d embeddings: %w", len(chunks), len(vectors), ErrDimensionMismatch)
	}

	idx := &VectorIndex{
		chunks:  chunks,
		vectors: vectors,
		norms:   make([]float64, len(vectors)),
	}
	for i, v := range vectors {
		if i == 0 {
			idx.dims = len(v)
		} else if len(v) != idx.dims {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d: %w", i, len(v), idx.dims, ErrDimensionMismatch)
		}
		idx.norms[i] = norm(v)
	}
	return idx, nil
}

// Len returns the number of indexed chunks, placeholders included.
func (v *VectorIndex) Len() int {
	if v == nil {
		return 0
	}
	return len(v.chunks)
}

// Dimensions returns the embedding width, 0 for an empty index.
func (v *VectorIndex) Dimensions() int {
	if v == nil {
		return 0
	}
	return v.dims
}

// Chunks returns the indexed chunks in insertion order.
func (v *VectorIndex) Chunks() []*domain.Chunk {
	if v == nil {
		return nil
	}
	return v.chunks
}

// Vectors returns the embeddings in insertion order.
func (v *VectorIndex) Vectors() [][]float32 {
	if v == nil {
		return nil
	}
	return v.vectors
}

// Search returns up to k hits by descending cosine similarity. Equal scores
// keep insertion order. Placeholder chunks are skipped.
func (v *VectorIndex) Search(query []float32, k int) ([]Hit, error) {
	if v == nil || k <= 0 || len(v.chunks) == 0 {
		return nil, nil
	}
	if len(query) != v.dims {
		return nil, fmt.Errorf("query has %d dimensions, index %d: %w", len(query), v.dims, ErrDimensionMismatch)
	}

	qn := norm(query)
	hits := make([]Hit, 0, len(v.chunks))
	for i, c := range v.chunks {
		if c == nil || c.Text == PlaceholderText {
			continue
		}
		hits = append(hits, Hit{Position: i, Chunk: c, Score: cosine(query, qn, v.vectors[i], v.norms[i])})
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Score > hits[b].Score
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine is 0 when either vector has zero length.
func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}

// Texts returns the chunk texts of hits in order.
func Texts(hits []Hit) []string {
	if len(hits) == 0 {
		return nil
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk.Text
	}
	return out
}
