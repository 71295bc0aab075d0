// Package statemachine defines the application state-machine contract
// the core applies committed batches to. The core never interprets
// commands itself.
package statemachine

import "github.com/rabia-go/rabia/model"

// Result is a single command's application-defined outcome.
type Result struct {
	Output []byte
	Err    error
}

// StateMachine is the external collaborator the core commits decided
// batches to.
type StateMachine interface {
	// Process applies commands in list order and returns one Result per
	// command.
	Process(commands []model.Command) ([]Result, error)
	// MakeSnapshot serializes the current state.
	MakeSnapshot() ([]byte, error)
	// RestoreSnapshot replaces the current state with the one encoded in
	// snapshot.
	RestoreSnapshot(snapshot []byte) error
	// Reset returns the state machine to its empty state.
	Reset()
}
