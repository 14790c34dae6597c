// Package memory provides the single-process rebuild lock.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*Lock)(nil)

// Lock is a DistributedLock for a single process. Locks expire after their
// TTL; a zero TTL never expires.
type Lock struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewLock creates an empty lock table.
func NewLock() *Lock {
	return &Lock{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (l *Lock) held(name string) bool {
	expiry, ok := l.locks[name]
	return ok && (expiry.IsZero() || l.now().Before(expiry))
}

// Acquire takes the named lock unless it is held and unexpired.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held(name) {
		return false, nil
	}
	var expiry time.Time
	if ttl > 0 {
		expiry = l.now().Add(ttl)
	}
	l.locks[name] = expiry
	return true, nil
}

// Release drops the named lock.
func (l *Lock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, name)
	return nil
}

// Extend resets the TTL of a held lock.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held(name) {
		return fmt.Errorf("lock %s not held", name)
	}
	var expiry time.Time
	if ttl > 0 {
		expiry = l.now().Add(ttl)
	}
	l.locks[name] = expiry
	return nil
}

// Ping always succeeds.
func (l *Lock) Ping(ctx context.Context) error {
	return nil
}

// IsHeld reports whether name is currently locked.
func (l *Lock) IsHeld(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held(name)
}
