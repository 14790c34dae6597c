package domain

import "strings"

// ScopeState distinguishes why retrieval is or is not enabled for a turn
type ScopeState string

const (
	ScopeAbsent ScopeState = "absent" // Nothing requested
	ScopeEmpty  ScopeState = "empty"  // Requested paths expanded to no files
	ScopeActive ScopeState = "active" // At least one file selected
)

// Scope is the set of documents a turn may retrieve from.
type Scope struct {
	Requested []string `json:"requested"`
	Files     []string `json:"files"` // Expanded, sorted, deduplicated
}

// NewScope records the requested paths and their expansion.
// Blank requested entries are dropped.
func NewScope(requested, files []string) Scope {
	s := Scope{}
	for _, r := range requested {
		if strings.TrimSpace(r) != "" {
			s.Requested = append(s.Requested, r)
		}
	}
	if len(files) > 0 {
		s.Files = append([]string(nil), files...)
	}
	return s
}

// State reports the scope state.
func (s Scope) State() ScopeState {
	switch {
	case len(s.Requested) == 0:
		return ScopeAbsent
	case len(s.Files) == 0:
		return ScopeEmpty
	default:
		return ScopeActive
	}
}

// Enabled returns true if retrieval is enabled for the scope.
func (s Scope) Enabled() bool {
	return s.State() == ScopeActive
}
