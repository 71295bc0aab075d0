package model

import "bytes"

// SavedState is the unit of recovery: a state-machine snapshot, the last
// phase whose decision was applied to it, and the batches that were still
// pending when the snapshot was taken.
type SavedState struct {
	Snapshot           []byte
	LastCommittedPhase Phase
	PendingBatches     []Batch
}

// Equal compares two saved states structurally, using byte-for-byte
// comparison of the snapshot payload.
func (s SavedState) Equal(other SavedState) bool {
	if s.LastCommittedPhase != other.LastCommittedPhase {
		return false
	}
	if !bytes.Equal(s.Snapshot, other.Snapshot) {
		return false
	}
	if len(s.PendingBatches) != len(other.PendingBatches) {
		return false
	}
	for i := range s.PendingBatches {
		if s.PendingBatches[i].ID != other.PendingBatches[i].ID {
			return false
		}
	}
	return true
}
