// (c) 2019 Dapper Labs - ALL RIGHTS RESERVED

// Package badgerstore persists a single SavedState in an embedded
// github.com/dgraph-io/badger/v2 database.
package badgerstore

import (
	"errors"

	"github.com/dgraph-io/badger/v2"
	"github.com/vmihailenco/msgpack/v4"

	"github.com/rabia-go/rabia/model"
)

var savedStateKey = []byte("rabia/saved-state")

// Store persists SavedState values in a Badger database at a fixed key;
// each Save overwrites the previous snapshot. There is no per-vote log,
// only the latest snapshot plus pending batches.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) a Badger database at dir.
func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// New wraps an already-open Badger database.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save encodes saved with msgpack and writes it at the fixed key.
func (s *Store) Save(saved model.SavedState) error {
	payload, err := msgpack.Marshal(wireSavedState{
		Snapshot:           saved.Snapshot,
		LastCommittedPhase: uint64(saved.LastCommittedPhase),
		PendingBatches:     toWireBatches(saved.PendingBatches),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(savedStateKey, payload)
	})
}

// Load reads and decodes the persisted SavedState, if any.
func (s *Store) Load() (model.SavedState, bool, error) {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(savedStateKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			payload = append([]byte(nil), val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.SavedState{}, false, nil
	}
	if err != nil {
		return model.SavedState{}, false, err
	}

	var w wireSavedState
	if err := msgpack.Unmarshal(payload, &w); err != nil {
		return model.SavedState{}, false, err
	}
	return w.toModel(), true, nil
}
