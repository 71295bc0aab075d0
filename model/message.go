package model

// Message is the closed set of routing keys the core hands to the network
// layer. The core never defines a wire format for these: it is the
// network collaborator's job to serialize and deserialize them.
type Message interface {
	isMessage()
}

// NewBatch gossips a freshly submitted batch to every replica. Async class.
type NewBatch struct {
	Sender NodeID
	Batch  Batch
}

// Propose announces which batch a replica suggests committing in a phase.
// Sync class.
type Propose struct {
	Sender NodeID
	Phase  Phase
	Batch  Batch
}

// VoteRound1 carries a replica's first-round vote. Sync class. Value is
// always V0 or V1.
type VoteRound1 struct {
	Sender NodeID
	Phase  Phase
	Value  StateValue
}

// VoteRound2 carries a replica's second-round vote. Sync class. Value may
// be V0, V1, or VQuestion.
type VoteRound2 struct {
	Sender NodeID
	Phase  Phase
	Value  StateValue
}

// Decision announces that a replica has committed a phase. Sync class.
type Decision struct {
	Sender NodeID
	Phase  Phase
	Value  StateValue
	Batch  Batch
}

// SyncRequest asks peers for their latest saved state. Async class.
type SyncRequest struct {
	Sender NodeID
}

// SyncResponse answers a SyncRequest with a saved state. Sync class.
type SyncResponse struct {
	Sender     NodeID
	SavedState SavedState
}

func (NewBatch) isMessage()     {}
func (Propose) isMessage()      {}
func (VoteRound1) isMessage()   {}
func (VoteRound2) isMessage()   {}
func (Decision) isMessage()     {}
func (SyncRequest) isMessage()  {}
func (SyncResponse) isMessage() {}
