package normalisers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.NormaliserRegistry = (*Registry)(nil)

// Registry implements NormaliserRegistry with priority-based selection.
// When multiple normalisers match an extension, the highest priority one is used.
type Registry struct {
	mu          sync.RWMutex
	normalisers []driven.Normaliser
}

// NewRegistry creates a new normaliser registry.
func NewRegistry() *Registry {
	return &Registry{
		normalisers: make([]driven.Normaliser, 0),
	}
}

// Register registers a normaliser.
// Normalisers are stored and later selected by priority.
func (r *Registry) Register(normaliser driven.Normaliser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.normalisers = append(r.normalisers, normaliser)
}

// Get retrieves the best-matching normaliser for an extension.
// Returns nil if no normaliser is registered for it.
func (r *Registry) Get(ext string) driven.Normaliser {
	matches := r.GetAll(ext)
	if len(matches) == 0 {
		return nil
	}
	return matches[0] // Already sorted by priority (highest first)
}

// GetAll retrieves all normalisers that match an extension, sorted by priority (highest first).
// Registration order breaks ties.
func (r *Registry) GetAll(ext string) []driven.Normaliser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []driven.Normaliser
	for _, n := range r.normalisers {
		if matchesExtension(n.SupportedExtensions(), ext) {
			matches = append(matches, n)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Priority() > matches[j].Priority()
	})

	return matches
}

// List returns all registered extensions.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	extSet := make(map[string]struct{})
	for _, n := range r.normalisers {
		for _, e := range n.SupportedExtensions() {
			extSet[e] = struct{}{}
		}
	}

	exts := make([]string, 0, len(extSet))
	for e := range extSet {
		exts = append(exts, e)
	}
	sort.Strings(exts)
	return exts
}

// NormaliseExtension lowercases an extension and ensures a leading dot.
func NormaliseExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// matchesExtension checks if any of the supported extensions match.
// "*" matches every extension.
func matchesExtension(supported []string, ext string) bool {
	ext = NormaliseExtension(ext)
	for _, s := range supported {
		if s == "*" || NormaliseExtension(s) == ext {
			return true
		}
	}
	return false
}

// DefaultRegistry creates a registry with the in-process normalisers.
// Binary formats such as PDF are registered by the caller.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(&PlaintextNormaliser{})
	r.Register(&MarkdownNormaliser{})
	r.Register(&HTMLNormaliser{})

	return r
}

// PlaintextNormaliser decodes raw bytes as UTF-8 text.
type PlaintextNormaliser struct{}

func (n *PlaintextNormaliser) Normalise(ctx context.Context, raw []byte, ext string) (string, error) {
	return cleanText(decodeText(raw)), nil
}

func (n *PlaintextNormaliser) SupportedExtensions() []string {
	return []string{".txt", "*"} // Fallback for any extension
}

func (n *PlaintextNormaliser) Priority() int {
	return 1 // Lowest priority - fallback
}

// MarkdownNormaliser handles Markdown content.
type MarkdownNormaliser struct{}

func (n *MarkdownNormaliser) Normalise(ctx context.Context, raw []byte, ext string) (string, error) {
	content := cleanText(decodeText(raw))

	// Remove excessive blank lines (more than 2 consecutive)
	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}

	return content, nil
}

func (n *MarkdownNormaliser) SupportedExtensions() []string {
	return []string{".md", ".markdown"}
}

func (n *MarkdownNormaliser) Priority() int {
	return 50 // Medium priority - format-specific
}

// HTMLNormaliser extracts visible text from HTML.
type HTMLNormaliser struct{}

func (n *HTMLNormaliser) Normalise(ctx context.Context, raw []byte, ext string) (string, error) {
	content := decodeText(raw)

	content = removeHTMLBlocks(content, "script")
	content = removeHTMLBlocks(content, "style")
	content = stripHTMLTags(content)
	content = decodeHTMLEntities(content)
	content = cleanText(content)

	for strings.Contains(content, "  ") {
		content = strings.ReplaceAll(content, "  ", " ")
	}
	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(content), nil
}

func (n *HTMLNormaliser) SupportedExtensions() []string {
	return []string{".html", ".htm"}
}

func (n *HTMLNormaliser) Priority() int {
	return 50 // Medium priority - format-specific
}

// decodeText converts bytes to a string, replacing invalid UTF-8 and a leading BOM.
func decodeText(raw []byte) string {
	s := string(raw)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return strings.TrimPrefix(s, "\uFEFF")
}

func cleanText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	return strings.TrimSpace(content)
}

func removeHTMLBlocks(content, tagName string) string {
	result := content
	startTag := "<" + strings.ToLower(tagName)
	endTag := "</" + strings.ToLower(tagName) + ">"

	for {
		lower := strings.ToLower(result)
		startIdx := strings.Index(lower, startTag)
		if startIdx == -1 {
			break
		}

		endIdx := strings.Index(lower[startIdx:], endTag)
		if endIdx == -1 {
			break
		}

		result = result[:startIdx] + result[startIdx+endIdx+len(endTag):]
	}

	return result
}

func stripHTMLTags(content string) string {
	var result strings.Builder
	inTag := false

	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			result.WriteRune(' ')
		case !inTag:
			result.WriteRune(r)
		}
	}

	return result.String()
}

var htmlEntities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&apos;", "'",
	"&#39;", "'",
	"&hellip;", "...",
)

func decodeHTMLEntities(content string) string {
	return htmlEntities.Replace(content)
}
