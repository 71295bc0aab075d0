// (c) 2019 Dapper Labs - ALL RIGHTS RESERVED

// Package stub is an in-process network switchboard: every plugged-in
// Network can reach every other one directly, without sockets, which
// makes it suitable both for deterministic unit tests and for the
// example binary in cmd/rabia-node.
package stub

import (
	"sync"

	"github.com/rabia-go/rabia/model"
	"github.com/rabia-go/rabia/network"
)

// Hub plugs together a fixed set of in-process Networks and routes
// messages between them directly.
type Hub struct {
	mu           sync.RWMutex
	networks     map[model.NodeID]*Network
	disconnected map[model.NodeID]bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		networks:     make(map[model.NodeID]*Network),
		disconnected: make(map[model.NodeID]bool),
	}
}

// Plug registers net under its own node ID so other plugged networks can
// reach it.
func (h *Hub) Plug(net *Network) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.networks[net.id] = net
}

// Disconnect simulates a partition: messages to or from id are dropped
// until Reconnect is called. Tests use it to drive straggler and
// resynchronization scenarios.
func (h *Hub) Disconnect(id model.NodeID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected[id] = true
}

// Reconnect undoes a prior Disconnect.
func (h *Hub) Reconnect(id model.NodeID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.disconnected, id)
}

func (h *Hub) isUp(id model.NodeID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.disconnected[id]
}

func (h *Hub) deliver(from, to model.NodeID, msg model.Message) {
	if !h.isUp(from) || !h.isUp(to) {
		return
	}
	h.mu.RLock()
	target, ok := h.networks[to]
	h.mu.RUnlock()
	if !ok {
		return
	}
	target.receive(from, msg)
}

func (h *Hub) members() []model.NodeID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]model.NodeID, 0, len(h.networks))
	for id := range h.networks {
		ids = append(ids, id)
	}
	return ids
}

// Network is one cluster member's handle onto the Hub; it implements
// network.Network.
type Network struct {
	id      model.NodeID
	hub     *Hub
	handler network.Handler
}

// NewNetwork creates a Network for id, plugs it into hub, and registers
// handler as the recipient of inbound messages. Delivery runs on its own
// goroutine per message, so sends never block the caller.
func NewNetwork(hub *Hub, id model.NodeID, handler network.Handler) *Network {
	n := &Network{id: id, hub: hub, handler: handler}
	hub.Plug(n)
	return n
}

func (n *Network) receive(from model.NodeID, msg model.Message) {
	go n.handler.HandleMessage(from, msg)
}

// Broadcast delivers msg to every member plugged into the hub, including
// self.
func (n *Network) Broadcast(msg model.Message) error {
	for _, id := range n.hub.members() {
		n.hub.deliver(n.id, id, msg)
	}
	return nil
}

// Send delivers msg to a single target.
func (n *Network) Send(target model.NodeID, msg model.Message) error {
	n.hub.deliver(n.id, target, msg)
	return nil
}
