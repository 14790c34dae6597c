package domain

import (
	"path"
	"strings"
)

// WholePoolPath is the scope entry that selects every document in the pool.
const WholePoolPath = "."

// WholePoolName is the display name of the synthetic whole-pool folder entry.
const WholePoolName = "(Root — all docs)"

// Document is the text of one file in the document pool.
// Immutable once loaded.
type Document struct {
	Content    string `json:"content"`
	SourcePath string `json:"source_path"` // Relative to the pool root, forward slashes
}

// Chunk is a bounded slice of a document's text, the unit of retrieval.
type Chunk struct {
	Text        string `json:"text"`
	SourcePath  string `json:"source_path"`
	Position    int    `json:"position"`     // Chunk index within the document
	StartOffset int    `json:"start_offset"` // Rune offset from document start
	EndOffset   int    `json:"end_offset"`
}

// PoolEntry is one file or folder in a pool listing.
type PoolEntry struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// PoolListing is the result of listing the document pool.
type PoolListing struct {
	Files   []PoolEntry `json:"files"`
	Folders []PoolEntry `json:"folders"`
}

// NormalizePoolPath converts a user supplied path into the canonical
// forward-slash relative form. Empty and "." both map to WholePoolPath.
// Returns false if the path escapes the pool root.
func NormalizePoolPath(p string) (string, bool) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" || p == WholePoolPath {
		return WholePoolPath, true
	}
	p = path.Clean(strings.TrimLeft(p, "/"))
	if p == "" || p == WholePoolPath {
		return WholePoolPath, true
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}
