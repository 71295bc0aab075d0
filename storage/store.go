// Package storage defines the persistence contract the core depends on
// and ships three implementations: an in-memory one for tests, and two
// pluggable durable backends over embedded key-value stores.
package storage

import "github.com/rabia-go/rabia/model"

// Store persists and recovers a single SavedState. The core never writes a
// per-vote log; only snapshots plus pending batches are durable.
type Store interface {
	Save(saved model.SavedState) error
	Load() (model.SavedState, bool, error)
}
