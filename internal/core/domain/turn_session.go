package domain

import (
	"context"
	"sync"
	"time"
)

// Capability names known to the retrieval layer
const (
	ToolSearchDocuments = "search_documents"
	ToolWebFetch        = "web_fetch"
)

// TurnSession is one in-flight conversational turn. It owns the turn's
// RequestContext and must be ended exactly once.
type TurnSession struct {
	ID            string
	DocumentsOnly bool
	StartedAt     time.Time

	ctx     context.Context
	rc      *RequestContext
	once    sync.Once
	release func()
}

// NewTurnSession derives a context carrying a fresh RequestContext.
// release, if non-nil, runs after the request context is cleared.
func NewTurnSession(ctx context.Context, id string, documentsOnly bool, release func()) *TurnSession {
	turnCtx, rc := WithRequestContext(ctx, id)
	return &TurnSession{
		ID:            id,
		DocumentsOnly: documentsOnly,
		StartedAt:     time.Now(),
		ctx:           turnCtx,
		rc:            rc,
		release:       release,
	}
}

// Context returns the context every call made on behalf of the turn must use.
func (t *TurnSession) Context() context.Context {
	return t.ctx
}

// RequestContext returns the turn's request-local state.
func (t *TurnSession) RequestContext() *RequestContext {
	return t.rc
}

// Scope returns the turn's retrieval scope.
func (t *TurnSession) Scope() Scope {
	return t.rc.Scope()
}

// DisallowedTools lists capabilities the reasoning loop must not offer.
// A documents-only turn with an active scope may not reach outside the pool.
func (t *TurnSession) DisallowedTools() []string {
	if t.DocumentsOnly && t.rc.Scope().Enabled() {
		return []string{ToolWebFetch}
	}
	return nil
}

// End clears scope and credentials. A second call returns ErrTurnClosed.
func (t *TurnSession) End() error {
	ended := false
	t.once.Do(func() {
		ended = true
		t.rc.Clear()
		if t.release != nil {
			t.release()
		}
	})
	if !ended {
		return ErrTurnClosed
	}
	return nil
}
