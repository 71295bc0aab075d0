package engine_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rabia-go/rabia/engine"
	"github.com/rabia-go/rabia/model"
	"github.com/rabia-go/rabia/network/stub"
	"github.com/rabia-go/rabia/statemachine"
	"github.com/rabia-go/rabia/storage/memstore"
	"github.com/rabia-go/rabia/topology"
)

// newWiredCluster builds n engines sharing one in-process stub.Hub.
// Because engine.New takes the network at construction time but the
// network needs the engine as its handler, each engine is constructed
// behind a thin adapter whose target is filled in right after.
func newWiredCluster(t *testing.T, n int) []*engine.Engine {
	t.Helper()
	members := make([]model.NodeID, n)
	for i := range members {
		members[i] = model.NodeID(string(rune('A' + i)))
	}
	hub := stub.NewHub()
	cfg := engine.DefaultConfig()
	cfg.CleanupInterval = 50 * time.Millisecond
	cfg.SyncRetryInterval = 20 * time.Millisecond
	log := zerolog.Nop()

	engines := make([]*engine.Engine, n)
	for i, id := range members {
		topo := topology.NewStatic(id, members)
		sm := statemachine.NewMemory()
		store := memstore.New()
		adapter := &handlerAdapter{}
		net := stub.NewNetwork(hub, id, adapter)
		eng := engine.New(net, topo, sm, store, cfg, log)
		adapter.target = eng
		engines[i] = eng
	}
	// Start returns the activation promise: once every channel has
	// closed, the whole cluster has synchronized and activated.
	for _, eng := range engines {
		<-eng.Start()
	}
	return engines
}

type handlerAdapter struct {
	target *engine.Engine
}

func (h *handlerAdapter) HandleMessage(from model.NodeID, msg model.Message) {
	h.target.HandleMessage(from, msg)
}

func TestEngineCommitsAppliedCommandAcrossCluster(t *testing.T) {
	engines := newWiredCluster(t, 3)
	for _, eng := range engines {
		require.True(t, eng.Active())
	}

	promise, err := engines[0].Apply([]model.Command{[]byte("hello")})
	require.NoError(t, err)
	results, err := promise.Wait()
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, []byte("hello"), results[0].Output)

	// Every replica converges on the same committed phase.
	require.Eventually(t, func() bool {
		for _, eng := range engines {
			if eng.LastCommittedPhase() != engines[0].LastCommittedPhase() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApplyRejectsEmptyBatch(t *testing.T) {
	engines := newWiredCluster(t, 3)
	_, err := engines[0].Apply(nil)
	require.ErrorIs(t, err, engine.ErrCommandBatchIsEmpty)
}

func TestApplyRejectsWhenInactive(t *testing.T) {
	cfg := engine.DefaultConfig()
	log := zerolog.Nop()
	topo := topology.NewStatic("A", []model.NodeID{"A", "B", "C"})
	sm := statemachine.NewMemory()
	store := memstore.New()
	eng := engine.New(nil, topo, sm, store, cfg, log)
	_, err := eng.Apply([]model.Command{[]byte("x")})
	require.ErrorIs(t, err, engine.ErrNodeInactive)
}
