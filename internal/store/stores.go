// Package store defines the persistence collaborators of the gateway:
// the cost ledger, the lead session registry, department chat bindings
// and the directive journal. Business records live elsewhere.
package store

import (
	"errors"
	"time"
)

// ErrNoActiveSession is returned by operations that require a running
// lead session when none is registered.
var ErrNoActiveSession = errors.New("no active session")

// StoreConfig configures the storage backend.
type StoreConfig struct {
	// Mode is "standalone" (SQLite file) or "managed" (Postgres).
	Mode        string
	SQLitePath  string
	PostgresDSN string
	// Now overrides the clock used for day and month boundaries.
	Now func() time.Time
}

// Stores is the top-level container for all storage backends.
// A single backend implements every interface; the fields are kept
// separate so callers depend only on what they use.
type Stores struct {
	Costs    CostLedger
	Reports  CostReporter
	Sessions SessionStore
	Bindings BindingStore
	Journal  Journal

	closeFn func() error
}

// NewStores bundles a backend that implements every store interface.
func NewStores(b Backend, closeFn func() error) *Stores {
	return &Stores{
		Costs:    b,
		Reports:  b,
		Sessions: b,
		Bindings: b,
		Journal:  b,
		closeFn:  closeFn,
	}
}

// Close releases the backend.
func (s *Stores) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// Backend is implemented by sqlite.Store and pg.Store.
type Backend interface {
	CostLedger
	CostReporter
	SessionStore
	BindingStore
	Journal
}
