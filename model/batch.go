// (c) 2019 Dapper Labs - ALL RIGHTS RESERVED

package model

import "time"

// Command is a single application-level operation bundled into a batch. The
// core does not interpret commands; it hands them to the state machine in
// order and returns whatever the state machine returns.
type Command []byte

// Batch is a replica's proposal value: an ordered list of commands plus the
// identifiers used for ordering/equality (BatchID) and for correlating the
// eventual result back to the submitting client (CorrelationID).
type Batch struct {
	ID            BatchID
	CorrelationID CorrelationID
	Commands      []Command
	Timestamp     time.Time
}

// emptyBatchID and emptyCorrelationID are fixed so every replica constructs
// a bit-for-bit identical empty batch without coordination.
const (
	emptyBatchID       BatchID       = "00000000-0000-0000-0000-000000000000"
	emptyCorrelationID CorrelationID = "00000000-0000-0000-0000-000000000000"
)

var emptyBatchTimestamp = time.Unix(0, 0).UTC()

// EmptyBatch returns the canonical no-op batch. Every call returns a value
// equal to every other call's: fixed ID, fixed correlation ID, fixed
// timestamp, no commands.
func EmptyBatch() Batch {
	return Batch{
		ID:            emptyBatchID,
		CorrelationID: emptyCorrelationID,
		Commands:      nil,
		Timestamp:     emptyBatchTimestamp,
	}
}

// IsEmpty reports whether b is the canonical empty batch.
func (b Batch) IsEmpty() bool {
	return b.ID == emptyBatchID
}

// Less orders batches by (timestamp, id, correlationID), the order used to
// pick a batch from the pending pool when starting a phase.
func (b Batch) Less(other Batch) bool {
	if !b.Timestamp.Equal(other.Timestamp) {
		return b.Timestamp.Before(other.Timestamp)
	}
	if b.ID != other.ID {
		return b.ID < other.ID
	}
	return b.CorrelationID < other.CorrelationID
}

// MakeBatch builds a fresh batch from client-submitted commands, stamped
// with a new identity and the current time.
func MakeBatch(commands []Command) Batch {
	return Batch{
		ID:            NewBatchID(),
		CorrelationID: NewCorrelationID(),
		Commands:      commands,
		Timestamp:     time.Now().UTC(),
	}
}
