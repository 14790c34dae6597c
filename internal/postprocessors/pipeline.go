package postprocessors

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.PostProcessorPipeline = (*Pipeline)(nil)

// Pipeline implements PostProcessorPipeline.
// It chains multiple post-processors in order; the Chunker is normally last.
type Pipeline struct {
	mu         sync.RWMutex
	processors []driven.PostProcessor
	sorted     bool
}

// NewPipeline creates a new post-processor pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		processors: make([]driven.PostProcessor, 0),
	}
}

// Add adds a processor to the pipeline.
// Processors are sorted by Order() before processing.
func (p *Pipeline) Add(processor driven.PostProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processors = append(p.processors, processor)
	p.sorted = false
}

// Process splits a document into chunks tagged with its source path.
func (p *Pipeline) Process(doc *domain.Document) []domain.Chunk {
	if doc == nil {
		return nil
	}

	p.mu.Lock()
	if !p.sorted {
		sort.SliceStable(p.processors, func(i, j int) bool {
			return p.processors[i].Order() < p.processors[j].Order()
		})
		p.sorted = true
	}
	processors := make([]driven.PostProcessor, len(p.processors))
	copy(processors, p.processors)
	p.mu.Unlock()

	chunks := []domain.Chunk{
		{
			Text:       doc.Content,
			SourcePath: doc.SourcePath,
			EndOffset:  utf8.RuneCountInString(doc.Content),
		},
	}

	for _, proc := range processors {
		chunks = proc.Process(chunks)
	}

	return chunks
}

// ProcessAll chunks documents in order.
func (p *Pipeline) ProcessAll(docs []*domain.Document) []domain.Chunk {
	var out []domain.Chunk
	for _, doc := range docs {
		out = append(out, p.Process(doc)...)
	}
	return out
}

// List returns processor names in order.
func (p *Pipeline) List() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, len(p.processors))
	for i, proc := range p.processors {
		names[i] = proc.Name()
	}
	return names
}

// DefaultPipeline creates a pipeline that normalises whitespace and then chunks.
func DefaultPipeline(config ChunkConfig) (*Pipeline, error) {
	chunker, err := NewChunker(config)
	if err != nil {
		return nil, err
	}
	p := NewPipeline()
	p.Add(NewWhitespaceNormalizer())
	p.Add(chunker)
	return p, nil
}

// ChunkConfig configures the chunker behavior.
type ChunkConfig struct {
	// MaxChunkSize is the maximum runes per chunk
	MaxChunkSize int

	// Overlap is the rune overlap between consecutive chunks
	Overlap int
}

// DefaultChunkConfig returns sensible defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChunkSize: 1000,
		Overlap:      200,
	}
}

// Validate requires 0 <= Overlap < MaxChunkSize.
func (c ChunkConfig) Validate() error {
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("chunk size %d must be positive: %w", c.MaxChunkSize, domain.ErrInvalidConfig)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChunkSize {
		return fmt.Errorf("chunk overlap %d must be in [0, %d): %w", c.Overlap, c.MaxChunkSize, domain.ErrInvalidConfig)
	}
	return nil
}

// Chunker splits content into overlapping, size-bounded chunks.
type Chunker struct {
	config ChunkConfig
}

// Verify interface compliance
var _ driven.PostProcessor = (*Chunker)(nil)

// NewChunker creates a new chunker with the given config.
func NewChunker(config ChunkConfig) (*Chunker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: config}, nil
}

// Process splits every input chunk and renumbers positions per source.
func (c *Chunker) Process(chunks []domain.Chunk) []domain.Chunk {
	var result []domain.Chunk
	positions := make(map[string]int)

	for _, chunk := range chunks {
		for _, piece := range c.split(chunk) {
			piece.Position = positions[piece.SourcePath]
			positions[piece.SourcePath]++
			result = append(result, piece)
		}
	}

	return result
}

// Name returns the processor name.
func (c *Chunker) Name() string {
	return "chunker"
}

// Order returns 0 - chunker runs after content normalisation.
func (c *Chunker) Order() int {
	return 0
}

// split cuts one chunk into windows of at most MaxChunkSize runes.
// Consecutive windows overlap by Overlap runes before whitespace trimming.
func (c *Chunker) split(chunk domain.Chunk) []domain.Chunk {
	runes := []rune(chunk.Text)
	size := c.config.MaxChunkSize

	var out []domain.Chunk
	emit := func(start, end int) {
		s, e := trimSpace(runes, start, end)
		if s >= e {
			return
		}
		out = append(out, domain.Chunk{
			Text:        string(runes[s:e]),
			SourcePath:  chunk.SourcePath,
			StartOffset: chunk.StartOffset + s,
			EndOffset:   chunk.StartOffset + e,
		})
	}

	if len(runes) <= size {
		emit(0, len(runes))
		return out
	}

	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			emit(start, len(runes))
			break
		}

		end = c.findBreakPoint(runes, start, end)
		emit(start, end)

		next := end - c.config.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return out
}

// breakSeparators are tried in priority order: paragraph, line, sentence, word.
var breakSeparators = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{" "},
}

// findBreakPoint returns the cut position for the window [start, maxEnd).
// Only the tail of the window is searched, and never so early that the
// overlap would swallow the whole chunk. Falls back to a hard cut at maxEnd.
func (c *Chunker) findBreakPoint(runes []rune, start, maxEnd int) int {
	minEnd := start + c.config.MaxChunkSize/2
	if floor := start + c.config.Overlap + 1; minEnd < floor {
		minEnd = floor
	}
	if minEnd >= maxEnd {
		return maxEnd
	}

	window := string(runes[minEnd:maxEnd])
	for _, seps := range breakSeparators {
		best := -1
		for _, sep := range seps {
			if idx := strings.LastIndex(window, sep); idx != -1 && idx+len(sep) > best {
				best = idx + len(sep)
			}
		}
		if best > 0 {
			return minEnd + utf8.RuneCountInString(window[:best])
		}
	}

	return maxEnd
}

func trimSpace(runes []rune, start, end int) (int, int) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	return start, end
}

// WhitespaceNormalizer normalizes whitespace in document content before chunking.
type WhitespaceNormalizer struct{}

// Verify interface compliance
var _ driven.PostProcessor = (*WhitespaceNormalizer)(nil)

// NewWhitespaceNormalizer creates a new whitespace normalizer.
func NewWhitespaceNormalizer() *WhitespaceNormalizer {
	return &WhitespaceNormalizer{}
}

// Process normalizes line endings, collapses runs of spaces within lines
// and limits blank lines to one. Offsets refer to the normalized text.
func (w *WhitespaceNormalizer) Process(chunks []domain.Chunk) []domain.Chunk {
	result := make([]domain.Chunk, 0, len(chunks))

	for _, chunk := range chunks {
		content := strings.ReplaceAll(chunk.Text, "\r\n", "\n")
		content = strings.ReplaceAll(content, "\r", "\n")

		lines := strings.Split(content, "\n")
		for i, line := range lines {
			lines[i] = strings.Join(strings.FieldsFunc(line, isHorizontalSpace), " ")
		}
		content = strings.Join(lines, "\n")

		for strings.Contains(content, "\n\n\n") {
			content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
		}

		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}

		newChunk := chunk
		newChunk.Text = content
		newChunk.EndOffset = chunk.StartOffset + utf8.RuneCountInString(content)
		result = append(result, newChunk)
	}

	return result
}

// Name returns the processor name.
func (w *WhitespaceNormalizer) Name() string {
	return "whitespace-normalizer"
}

// Order returns -10 - runs before the chunker.
func (w *WhitespaceNormalizer) Order() int {
	return -10
}

func isHorizontalSpace(r rune) bool {
	return r != '\n' && unicode.IsSpace(r)
}
