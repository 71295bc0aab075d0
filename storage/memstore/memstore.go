// Package memstore is an in-memory Store, suitable for tests and for a
// node that has opted out of durable persistence.
package memstore

import (
	"sync"

	"github.com/rabia-go/rabia/model"
)

// Store is a mutex-guarded, in-memory implementation of storage.Store.
type Store struct {
	mu    sync.RWMutex
	saved model.SavedState
	has   bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Save stores saved, replacing whatever was stored before.
func (s *Store) Save(saved model.SavedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = saved
	s.has = true
	return nil
}

// Load returns the last saved state, if any.
func (s *Store) Load() (model.SavedState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saved, s.has, nil
}
