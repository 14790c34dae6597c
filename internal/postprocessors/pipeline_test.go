package postprocessors

import (
	"errors"
	"strings"
	"testing"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

func mustChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(ChunkConfig{MaxChunkSize: size, Overlap: overlap})
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}
	return c
}

func chunkText(c *Chunker, text string) []domain.Chunk {
	return c.Process([]domain.Chunk{{Text: text, SourcePath: "doc.txt", EndOffset: len([]rune(text))}})
}

func TestChunkConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ChunkConfig
		wantErr bool
	}{
		{"defaults", DefaultChunkConfig(), false},
		{"zero overlap", ChunkConfig{MaxChunkSize: 10, Overlap: 0}, false},
		{"zero size", ChunkConfig{MaxChunkSize: 0, Overlap: 0}, true},
		{"negative overlap", ChunkConfig{MaxChunkSize: 10, Overlap: -1}, true},
		{"overlap equals size", ChunkConfig{MaxChunkSize: 10, Overlap: 10}, true},
		{"overlap exceeds size", ChunkConfig{MaxChunkSize: 10, Overlap: 50}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestNewChunker_RejectsInvalidConfig(t *testing.T) {
	if _, err := NewChunker(ChunkConfig{MaxChunkSize: 5, Overlap: 5}); err == nil {
		t.Error("expected error for overlap == size")
	}
	if _, err := DefaultPipeline(ChunkConfig{MaxChunkSize: -1}); err == nil {
		t.Error("expected DefaultPipeline to reject invalid config")
	}
}

func TestChunker_EmptyText(t *testing.T) {
	c := mustChunker(t, 100, 10)
	for _, text := range []string{"", "   ", "\n\n\t"} {
		if chunks := chunkText(c, text); len(chunks) != 0 {
			t.Errorf("%q: expected no chunks, got %d", text, len(chunks))
		}
	}
}

func TestChunker_ShortText(t *testing.T) {
	c := mustChunker(t, 100, 10)
	text := "Helio is a supervisor. It plans tasks."

	chunks := chunkText(c, text)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("expected %q, got %q", text, chunks[0].Text)
	}
	if chunks[0].SourcePath != "doc.txt" || chunks[0].Position != 0 {
		t.Errorf("unexpected metadata %+v", chunks[0])
	}
}

func TestChunker_HardCutOverlapIsExact(t *testing.T) {
	size, overlap := 50, 10
	c := mustChunker(t, size, overlap)
	text := strings.Repeat("abcdefghij", 23) // no break characters

	chunks := chunkText(c, text)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if n := len([]rune(ch.Text)); n > size {
			t.Errorf("chunk %d has %d runes, max %d", i, n, size)
		}
		if i == 0 {
			continue
		}
		prev := chunks[i-1]
		if got := prev.EndOffset - ch.StartOffset; got != overlap {
			t.Errorf("chunk %d overlaps previous by %d, want %d", i, got, overlap)
		}
	}
	if last := chunks[len(chunks)-1]; last.EndOffset != len(text) {
		t.Errorf("expected chunks to cover the text, last ends at %d", last.EndOffset)
	}
}

func TestChunker_BoundAndOverlapProperty(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 30) +
		"\n\nSecond paragraph line one.\nLine two is here! And a question? " +
		strings.Repeat("word ", 80)
	runes := []rune(text)

	for _, cfg := range []ChunkConfig{{100, 0}, {100, 20}, {64, 63}, {200, 50}, {7, 3}} {
		c := mustChunker(t, cfg.MaxChunkSize, cfg.Overlap)
		chunks := chunkText(c, text)

		for i, ch := range chunks {
			if n := len([]rune(ch.Text)); n > cfg.MaxChunkSize {
				t.Errorf("%+v: chunk %d has %d runes", cfg, i, n)
			}
			if got := string(runes[ch.StartOffset:ch.EndOffset]); got != ch.Text {
				t.Errorf("%+v: chunk %d offsets do not match text", cfg, i)
			}
			if ch.Position != i {
				t.Errorf("%+v: chunk %d has position %d", cfg, i, ch.Position)
			}
			if i > 0 {
				if ov := chunks[i-1].EndOffset - ch.StartOffset; ov > cfg.Overlap {
					t.Errorf("%+v: chunk %d overlaps by %d", cfg, i, ov)
				}
				if ch.StartOffset < chunks[i-1].StartOffset {
					t.Errorf("%+v: chunk %d goes backwards", cfg, i)
				}
			}
		}
	}
}

func TestChunker_BreakPriority(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantLast string // expected ending of the first chunk
	}{
		{
			name:     "paragraph beats line and sentence",
			text:     "Alpha beta gamma. Delta\n\nEpsilon zeta.\nEta theta iota kappa lambda mu nu xi omicron",
			wantLast: "Delta",
		},
		{
			name:     "line beats sentence",
			text:     "Alpha beta gamma. Delta epsilon\nzeta eta. Theta iota kappa lambda mu nu xi omicron",
			wantLast: "epsilon",
		},
		{
			name:     "sentence beats word",
			text:     "Alpha beta gamma delta. Epsilon zeta eta theta iota kappa lambda mu nu xi omicron",
			wantLast: "delta.",
		},
		{
			name:     "word when nothing else",
			text:     "Alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu nu xi omicron",
			wantLast: "",
		},
	}

	c := mustChunker(t, 40, 5)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := chunkText(c, tt.text)
			if len(chunks) < 2 {
				t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
			}
			first := chunks[0].Text
			if tt.wantLast != "" && !strings.HasSuffix(first, tt.wantLast) {
				t.Errorf("expected first chunk to end with %q, got %q", tt.wantLast, first)
			}
			// Never splits inside a word when spaces exist
			next := []rune(tt.text)[chunks[0].EndOffset]
			if next != ' ' && next != '\n' {
				t.Errorf("first chunk cut mid-word before %q", next)
			}
		})
	}
}

func TestChunker_MultibyteText(t *testing.T) {
	c := mustChunker(t, 10, 2)
	text := strings.Repeat("日本語のテキスト", 5)

	chunks := chunkText(c, text)
	for i, ch := range chunks {
		if n := len([]rune(ch.Text)); n > 10 {
			t.Errorf("chunk %d has %d runes", i, n)
		}
	}
}

func TestChunker_PositionsPerSource(t *testing.T) {
	c := mustChunker(t, 20, 0)
	chunks := c.Process([]domain.Chunk{
		{Text: strings.Repeat("one two three ", 4), SourcePath: "a.md"},
		{Text: strings.Repeat("four five six ", 4), SourcePath: "b.md"},
	})

	seen := map[string]int{}
	for _, ch := range chunks {
		if ch.Position != seen[ch.SourcePath] {
			t.Errorf("%s: expected position %d, got %d", ch.SourcePath, seen[ch.SourcePath], ch.Position)
		}
		seen[ch.SourcePath]++
	}
	if seen["a.md"] == 0 || seen["b.md"] == 0 {
		t.Errorf("expected chunks from both sources, got %v", seen)
	}
}

func TestWhitespaceNormalizer(t *testing.T) {
	w := NewWhitespaceNormalizer()
	chunks := w.Process([]domain.Chunk{
		{Text: "  Hello   world \r\n\r\n\r\n\r\nNext\tline  "},
		{Text: " \n\t "},
	})

	if len(chunks) != 1 {
		t.Fatalf("expected blank chunk to be dropped, got %d chunks", len(chunks))
	}
	if want := "Hello world\n\nNext line"; chunks[0].Text != want {
		t.Errorf("expected %q, got %q", want, chunks[0].Text)
	}
}

func TestPipeline_OrderAndProcess(t *testing.T) {
	p, err := DefaultPipeline(ChunkConfig{MaxChunkSize: 30, Overlap: 5})
	if err != nil {
		t.Fatalf("DefaultPipeline: %v", err)
	}

	names := p.List()
	if len(names) != 2 {
		t.Fatalf("expected 2 processors, got %v", names)
	}

	doc := &domain.Document{
		Content:    "Helio   is a supervisor.\r\n\r\n\r\nIt plans tasks and delegates them to workers.",
		SourcePath: "notes.txt",
	}
	chunks := p.Process(doc)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Text, "Helio is a supervisor.") {
		t.Errorf("expected whitespace normalised before chunking, got %q", chunks[0].Text)
	}
	for _, ch := range chunks {
		if ch.SourcePath != "notes.txt" {
			t.Errorf("expected source notes.txt, got %s", ch.SourcePath)
		}
	}

	if got := p.List(); got[0] != "whitespace-normalizer" || got[1] != "chunker" {
		t.Errorf("expected normalizer before chunker, got %v", got)
	}
	if p.Process(nil) != nil {
		t.Error("expected nil document to yield no chunks")
	}
}

func TestPipeline_ProcessAll(t *testing.T) {
	p, _ := DefaultPipeline(DefaultChunkConfig())
	chunks := p.ProcessAll([]*domain.Document{
		{Content: "first", SourcePath: "a.txt"},
		{Content: "   ", SourcePath: "blank.txt"},
		{Content: "second", SourcePath: "b.txt"},
	})

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].SourcePath != "a.txt" || chunks[1].SourcePath != "b.txt" {
		t.Errorf("expected document order preserved, got %+v", chunks)
	}
}
