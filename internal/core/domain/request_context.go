package domain

import (
	"context"
	"sync"
)

// RequestContext holds the retrieval scope and credentials of one
// conversational turn. It travels inside a context.Context; there is no
// process-wide instance, so concurrent turns never observe each other.
type RequestContext struct {
	mu sync.RWMutex

	id       string
	scope    Scope
	search   SearchFunc
	creds    *CredentialSet
	hasCreds bool
	closed   bool
	cleanup  []func()
}

type requestContextKey struct{}

// WithRequestContext returns a child context carrying a fresh RequestContext.
// A RequestContext already present in ctx is shadowed, not modified.
func WithRequestContext(ctx context.Context, id string) (context.Context, *RequestContext) {
	rc := &RequestContext{id: id}
	return context.WithValue(ctx, requestContextKey{}, rc), rc
}

// RequestContextFrom extracts the RequestContext from context.
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok
}

// ID returns the turn identifier.
func (r *RequestContext) ID() string {
	return r.id
}

// SetScope installs the search function for the turn. A nil fn or an inactive
// scope disables retrieval.
func (r *RequestContext) SetScope(scope Scope, fn SearchFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrTurnClosed
	}
	r.scope = scope
	if !scope.Enabled() {
		fn = nil
	}
	r.search = fn
	return nil
}

// Search returns the turn's search function. ok is false when retrieval is
// disabled or the turn has ended.
func (r *RequestContext) Search() (fn SearchFunc, scope Scope, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || r.search == nil {
		return nil, r.scope, false
	}
	return r.search, r.scope, true
}

// Scope returns the scope recorded for the turn.
func (r *RequestContext) Scope() Scope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scope
}

// SetCredentials installs the turn's credential set. nil restores ambient
// credentials; any non-nil set, even an empty one, is authoritative.
func (r *RequestContext) SetCredentials(creds *CredentialSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrTurnClosed
	}
	r.creds = creds
	r.hasCreds = creds != nil
	return nil
}

// Credentials returns the explicit credential set. ok is false when the turn
// uses ambient credentials.
func (r *RequestContext) Credentials() (*CredentialSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || !r.hasCreds {
		return nil, false
	}
	return r.creds, true
}

// OnClear registers fn to run when the request context is cleared, in
// reverse registration order. On a cleared context fn runs immediately.
func (r *RequestContext) OnClear(fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		fn()
		return
	}
	r.cleanup = append(r.cleanup, fn)
	r.mu.Unlock()
}

// Clear drops scope, search function and credentials, then runs the
// registered cleanups. Safe to call more than once.
func (r *RequestContext) Clear() {
	r.mu.Lock()
	r.search = nil
	r.scope = Scope{}
	r.creds = nil
	r.hasCreds = false
	r.closed = true
	cleanup := r.cleanup
	r.cleanup = nil
	r.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
}

// Closed reports whether Clear has run.
func (r *RequestContext) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
