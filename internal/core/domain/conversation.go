package domain

import (
	"fmt"
	"time"
)

// Role identifies who produced a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid returns true if this is a known role
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one record of the conversation log
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn stamped with the current UTC time.
func NewTurn(role Role, content string) (*Turn, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("role %q: %w", role, ErrInvalidInput)
	}
	return &Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}, nil
}

// SelfCritiquePrefix marks an assistant turn holding a self-critique
const SelfCritiquePrefix = "[SELF_CRITIQUE]\n"
