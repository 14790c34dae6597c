package services

import (
	"context"
	"strings"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driving"
)

// RAGHint prefixes the user input of a turn with an active scope.
const RAGHint = "[RAG is enabled for this run. Use the search_documents tool to search the attached/selected documents when answering.]\n\n"

const (
	instructionsBase = "- Use search_documents only when the user has attached a document or selected documents/folders for this run; " +
		"the tool will tell you if no documents were selected. When available, use it for questions about those docs, " +
		"then reason over the returned chunks."
	instructionsGrounded = "- When answering from search_documents results: base your answer ONLY on the provided chunks; " +
		"do not add information that is not in the chunks; if the answer is not in the chunks, say so " +
		"(e.g. \"Not stated in the document(s)\"). Do not hallucinate or invent content."
	instructionsDocumentsOnly = "- This run is documents-only (offline): do NOT use web_fetch or any external sources. " +
		"Use only search_documents and the returned chunks. Answer strictly from the selected documents."
)

// SearchDocumentsTool exposes search_documents to an in-process reasoning loop.
type SearchDocumentsTool struct {
	turns driving.TurnService
	topK  int
}

// NewSearchDocumentsTool creates the tool. topK is used when a call omits it.
func NewSearchDocumentsTool(turns driving.TurnService, topK int) *SearchDocumentsTool {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &SearchDocumentsTool{turns: turns, topK: topK}
}

// Name returns the capability name.
func (t *SearchDocumentsTool) Name() string {
	return domain.ToolSearchDocuments
}

// Description is shown to the language model.
func (t *SearchDocumentsTool) Description() string {
	return "Search the documents selected for this run and return the most relevant text chunks."
}

// Call searches the scope of the turn carried by ctx.
func (t *SearchDocumentsTool) Call(ctx context.Context, query string, topK int) []string {
	if topK <= 0 {
		topK = t.topK
	}
	return t.turns.SearchDocuments(ctx, query, topK)
}

// RetrievalInstructions returns the retrieval guidance for the reasoning loop.
func RetrievalInstructions(scope domain.Scope, documentsOnly bool) string {
	lines := []string{instructionsBase}
	if scope.Enabled() {
		lines = append(lines, instructionsGrounded)
		if documentsOnly {
			lines = append(lines, instructionsDocumentsOnly)
		}
	}
	return strings.Join(lines, "\n")
}

// PrepareInput prefixes input with RAGHint when the scope is active.
func PrepareInput(scope domain.Scope, input string) string {
	if !scope.Enabled() {
		return input
	}
	return RAGHint + input
}
