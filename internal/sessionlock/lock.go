// Package sessionlock guards the lead agent's shared engine session.
//
// Lock is deliberately non-reentrant and does not track an owner: a flow
// that calls Acquire twice without Release deadlocks. Every flow that
// drives the lead session (directive processing, lead chat turns and
// tier-2 classification) acquires exactly once and releases in a defer.
package sessionlock

import (
	"context"
	"sync"
)

// Lock is a FIFO mutual-exclusion lock with context-aware waiting.
type Lock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// New returns an unheld lock.
func New() *Lock { return &Lock{} }

// Acquire blocks until the caller holds the lock or ctx is done.
// Waiters are granted in arrival order. If ctx ends after the lock was
// already handed to this caller, the grant is passed on so no hand-off
// is lost, and ctx.Err() is returned.
func (l *Lock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	for i, w := range l.waiters {
		if w == ch {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			l.mu.Unlock()
			return ctx.Err()
		}
	}
	l.mu.Unlock()

	// Not in the list: Release already granted us the lock.
	l.Release()
	return ctx.Err()
}

// Release hands the lock to the oldest waiter, or marks it free.
// Releasing an unheld lock panics.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		panic("sessionlock: release of unheld lock")
	}
	if len(l.waiters) == 0 {
		l.held = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}

// Held reports whether some flow currently holds the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Waiting returns the number of flows blocked in Acquire.
func (l *Lock) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
