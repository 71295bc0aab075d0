// (c) 2019 Dapper Labs - ALL RIGHTS RESERVED

// Command rabia-node wires a small in-process cluster end to end: n
// replicas sharing a stub network hub, each with its own state machine
// and storage backend, submitting a handful of client commands and
// printing the committed results. Collaborators are constructed
// bottom-up and driven through the Start/Stop lifecycle; there is no
// RPC or HTTP surface here.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/rabia-go/rabia/engine"
	"github.com/rabia-go/rabia/model"
	"github.com/rabia-go/rabia/network"
	"github.com/rabia-go/rabia/network/stub"
	"github.com/rabia-go/rabia/statemachine"
	"github.com/rabia-go/rabia/storage/memstore"
	"github.com/rabia-go/rabia/topology"
)

func main() {
	nodes := flag.Int("nodes", 3, "number of cluster replicas")
	commands := flag.Int("commands", 5, "number of client commands to submit")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	members := make([]model.NodeID, *nodes)
	for i := range members {
		members[i] = model.NodeID(fmt.Sprintf("node-%d", i))
	}

	hub := stub.NewHub()
	cfg := engine.DefaultConfig()
	cfg.SyncRetryInterval = 200 * time.Millisecond

	engines := make([]*engine.Engine, len(members))
	for i, id := range members {
		topo := topology.NewStatic(id, members)
		sm := statemachine.NewMemory()
		store := memstore.New()

		holder := &handlerHolder{}
		net := stub.NewNetwork(hub, id, holder)

		eng := engine.New(net, topo, sm, store, cfg, log)
		holder.handler = eng
		engines[i] = eng
	}

	log.Info().Msg("waiting for the cluster to activate")
	for _, eng := range engines {
		<-eng.Start()
	}

	for i := 0; i < *commands; i++ {
		replica := engines[i%len(engines)]
		promise, err := replica.Apply([]model.Command{[]byte(fmt.Sprintf("command-%d", i))})
		if err != nil {
			log.Error().Err(err).Int("command", i).Msg("apply failed")
			continue
		}
		results, err := promise.Wait()
		if err != nil {
			log.Error().Err(err).Int("command", i).Msg("command failed")
			continue
		}
		log.Info().Int("command", i).Str("output", string(results[0].Output)).Msg("committed")
	}

	for _, eng := range engines {
		<-eng.Stop()
	}
}

// handlerHolder breaks the construction cycle between stub.Network (which
// needs a handler at creation time) and engine.Engine (which needs a
// network at creation time): the holder is handed to the network first,
// then patched to point at the engine once it exists.
type handlerHolder struct {
	handler network.Handler
}

func (h *handlerHolder) HandleMessage(from model.NodeID, msg model.Message) {
	h.handler.HandleMessage(from, msg)
}
