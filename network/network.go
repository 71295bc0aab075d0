// Package network defines the cluster transport contract: best-effort
// asynchronous broadcast/unicast of protocol messages. The core never
// implements a production transport; network/stub ships an in-process
// reference implementation for tests and the example binary.
package network

import "github.com/rabia-go/rabia/model"

// Network is the transport collaborator the engine depends on. Delivery is
// at-least-once; duplicates are harmless because every protocol state
// transition is idempotent with respect to (sender, phase).
type Network interface {
	// Broadcast delivers msg to every cluster member, asynchronously and
	// best-effort. The engine does not rely on self-loopback: it applies
	// its own observations directly instead of waiting for its own
	// broadcast to arrive.
	Broadcast(msg model.Message) error
	// Send delivers msg to a single target, asynchronously and
	// best-effort.
	Send(target model.NodeID, msg model.Message) error
}

// Handler receives inbound messages from the Network. The engine
// implements this.
type Handler interface {
	HandleMessage(from model.NodeID, msg model.Message)
}
