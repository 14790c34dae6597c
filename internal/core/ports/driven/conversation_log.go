package driven

import (
	"context"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

// ConversationLog is the durable, append-only record of conversation turns.
type ConversationLog interface {
	// Append durably writes one turn after all previously appended turns
	Append(ctx context.Context, turn *domain.Turn) error

	// ReadRecent returns the last n turns in log order
	ReadRecent(ctx context.Context, n int) ([]*domain.Turn, error)

	// Close releases resources held by the log
	Close() error
}
