package model

import "github.com/google/uuid"

// NodeID identifies a cluster replica. It is a distinct type from plain
// string so a batch ID can never be passed where a node ID is expected.
type NodeID string

// Phase is a monotonically increasing, non-negative round number of the
// Rabia protocol. Phase zero is the initial phase.
type Phase uint64

// Successor returns the next phase.
func (p Phase) Successor() Phase {
	return p + 1
}

// Less reports whether p is ordered strictly before other.
func (p Phase) Less(other Phase) bool {
	return p < other
}

// BatchID uniquely identifies a batch for ordering and equality purposes.
type BatchID string

// CorrelationID correlates a batch with the client response that should be
// delivered once the batch's phase commits.
type CorrelationID string

// NewBatchID generates a fresh, globally unique batch identifier.
func NewBatchID() BatchID {
	return BatchID(uuid.New().String())
}

// NewCorrelationID generates a fresh, globally unique correlation identifier.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.New().String())
}
