package sqlite

import (
	"fmt"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
)

// NewSQLiteStores opens the standalone database and returns the store
// container.
func NewSQLiteStores(cfg store.StoreConfig) (*store.Stores, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "aicib.db"
	}
	s, err := Open(path, cfg.Now)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return store.NewStores(s, s.Close), nil
}
