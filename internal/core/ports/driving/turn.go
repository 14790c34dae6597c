package driving

import (
	"context"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

// TurnOptions configures one conversational turn
type TurnOptions struct {
	// Scope lists files and folders the turn may retrieve from. Empty disables retrieval.
	Scope []string

	// Credentials, when non-nil, replace ambient credentials for the whole turn.
	Credentials *domain.CredentialSet

	// DocumentsOnly forbids tools that reach outside the pool when Scope is active.
	DocumentsOnly bool
}

// TurnService manages request-local state for conversational turns
type TurnService interface {
	// Begin starts a turn. The caller must End the returned session.
	Begin(ctx context.Context, opts TurnOptions) (*domain.TurnSession, error)

	// Run starts a turn, calls fn with it and always ends it, even when fn
	// fails or panics.
	Run(ctx context.Context, opts TurnOptions, fn func(turn *domain.TurnSession) error) error

	// SearchDocuments is the search_documents capability for the turn in ctx.
	SearchDocuments(ctx context.Context, query string, topK int) []string
}

// MemoryService records conversation turns
type MemoryService interface {
	// Append records one turn durably
	Append(ctx context.Context, role domain.Role, content string) (*domain.Turn, error)

	// LoadRecent returns the last n turns from durable storage.
	// n <= 0 uses the configured default.
	LoadRecent(ctx context.Context, n int) ([]*domain.Turn, error)

	// RecordExchange appends the user input and assistant output of a turn,
	// followed by the self-critique when one is given.
	RecordExchange(ctx context.Context, input, output, critique string) error
}
