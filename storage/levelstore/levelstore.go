// Package levelstore persists a single SavedState in an embedded
// github.com/syndtr/goleveldb database, a pluggable alternative to
// badgerstore.
package levelstore

import (
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/vmihailenco/msgpack/v4"

	"github.com/rabia-go/rabia/model"
)

var savedStateKey = []byte("rabia/saved-state")

// Store persists SavedState values in a LevelDB database at a fixed key.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) a LevelDB database at dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying LevelDB database.
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
	return s.db.Put(savedStateKey, payload, nil)
}

// Load reads and decodes the persisted SavedState, if any.
func (s *Store) Load() (model.SavedState, bool, error) {
	payload, err := s.db.Get(savedStateKey, nil)
	if err == leveldb.ErrNotFound {
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

type wireSavedState struct {
	Snapshot           []byte
	LastCommittedPhase uint64
	PendingBatches     []wireBatch
}

type wireBatch struct {
	ID            string
	CorrelationID string
	Commands      [][]byte
	TimestampUnix int64
}

func toWireBatches(batches []model.Batch) []wireBatch {
	out := make([]wireBatch, 0, len(batches))
	for _, b := range batches {
		cmds := make([][]byte, 0, len(b.Commands))
		for _, c := range b.Commands {
			cmds = append(cmds, []byte(c))
		}
		out = append(out, wireBatch{
			ID:            string(b.ID),
			CorrelationID: string(b.CorrelationID),
			Commands:      cmds,
			TimestampUnix: b.Timestamp.UnixNano(),
		})
	}
	return out
}

func (w wireSavedState) toModel() model.SavedState {
	batches := make([]model.Batch, 0, len(w.PendingBatches))
	for _, wb := range w.PendingBatches {
		cmds := make([]model.Command, 0, len(wb.Commands))
		for _, c := range wb.Commands {
			cmds = append(cmds, model.Command(c))
		}
		batches = append(batches, model.Batch{
			ID:            model.BatchID(wb.ID),
			CorrelationID: model.CorrelationID(wb.CorrelationID),
			Commands:      cmds,
			Timestamp:     time.Unix(0, wb.TimestampUnix).UTC(),
		})
	}
	return model.SavedState{
		Snapshot:           w.Snapshot,
		LastCommittedPhase: model.Phase(w.LastCommittedPhase),
		PendingBatches:     batches,
	}
}
