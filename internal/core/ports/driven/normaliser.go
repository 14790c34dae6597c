package driven

import (
	"context"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

// Normaliser turns the raw bytes of a pool file into plain text.
type Normaliser interface {
	// Normalise extracts text from raw file content.
	// ext is the lowercase file extension including the dot.
	Normalise(ctx context.Context, raw []byte, ext string) (string, error)

	// SupportedExtensions returns extensions this normaliser handles.
	// "*" matches any extension.
	SupportedExtensions() []string

	// Priority returns the normaliser priority (higher = more specific).
	// Priority ranges:
	//   50-89:  Format-specific (PDF, Markdown, HTML)
	//   1-9:    Fallback (raw text decoding)
	Priority() int
}

// NormaliserRegistry manages content normalisers.
// When multiple normalisers match an extension, the highest priority one is used.
type NormaliserRegistry interface {
	// Get retrieves the best-matching normaliser for an extension.
	// Returns nil if no normaliser is registered for it.
	Get(ext string) Normaliser

	// GetAll retrieves all normalisers that match an extension, sorted by priority (highest first).
	GetAll(ext string) []Normaliser

	// Register registers a normaliser.
	Register(normaliser Normaliser)

	// List returns all registered extensions.
	List() []string
}

// PostProcessor transforms document chunks.
// Processors form a pipeline: WhitespaceNormalizer -> Chunker.
type PostProcessor interface {
	// Process applies post-processing to content chunks.
	// The first processor receives a single chunk with the full content.
	Process(chunks []domain.Chunk) []domain.Chunk

	// Name returns the processor name for logging/debugging.
	Name() string

	// Order returns the processor order in the pipeline (lower = earlier).
	Order() int
}

// PostProcessorPipeline chains multiple post-processors in order.
type PostProcessorPipeline interface {
	// Process splits a document into chunks ready for embedding/indexing.
	Process(doc *domain.Document) []domain.Chunk

	// Add adds a processor to the pipeline.
	// Processors are sorted by Order() before processing.
	Add(processor PostProcessor)

	// List returns processor names in order.
	List() []string
}
