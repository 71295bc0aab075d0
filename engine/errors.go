package engine

import "errors"

// Sentinel errors returned by Engine.Apply and the lifecycle methods,
// tested with errors.Is.
var (
	// ErrCommandBatchIsEmpty is returned when Apply is called with no
	// commands.
	ErrCommandBatchIsEmpty = errors.New("command batch is empty")
	// ErrNodeInactive is returned when Apply is called while the node
	// is dormant (not yet synchronized and activated).
	ErrNodeInactive = errors.New("node is not active")
)
