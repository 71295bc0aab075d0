// (c) 2019 Dapper Labs - ALL RIGHTS RESERVED

// Package engine is the top-level orchestrator: a single Engine type
// that owns the consensus manager, state manager, pending-batch pool,
// and client-promise map, dispatches inbound network messages to them,
// and drives the critical-worker/parallel-pool split through
// executor.Unit.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/rabia-go/rabia/consensus"
	"github.com/rabia-go/rabia/executor"
	"github.com/rabia-go/rabia/mempool"
	"github.com/rabia-go/rabia/metrics"
	"github.com/rabia-go/rabia/model"
	"github.com/rabia-go/rabia/network"
	"github.com/rabia-go/rabia/statemachine"
	"github.com/rabia-go/rabia/statemanager"
	"github.com/rabia-go/rabia/storage"
	"github.com/rabia-go/rabia/topology"
	"github.com/rabia-go/rabia/tracing"
)

// Engine is the replica's consensus orchestrator.
type Engine struct {
	unit *executor.Unit
	log  zerolog.Logger
	cfg  Config

	net     network.Network
	topo    topology.Topology
	metrics metrics.Collector
	tracer  tracing.Tracer

	consensusMgr *consensus.Manager
	stateMgr     *statemanager.Manager
	pending      *mempool.Batches
	promises     *mempool.Promises

	phaseTimesMu sync.Mutex
	phaseTimes   map[model.Phase]time.Time

	resyncMu     sync.Mutex
	resyncCancel chan struct{}

	stopErrMu sync.Mutex
	stopErr   error
}

// New wires an Engine from its collaborators. sm and store are the
// application state machine and persistence backend; net and topo are
// the transport and membership collaborators.
func New(net network.Network, topo topology.Topology, sm statemachine.StateMachine, store storage.Store, cfg Config, log zerolog.Logger) *Engine {
	log = log.With().Str("component", "engine").Str("node_id", string(topo.Self())).Logger()
	return &Engine{
		unit:         executor.New(),
		log:          log,
		cfg:          cfg,
		net:          net,
		topo:         topo,
		metrics:      metrics.NoOp{},
		consensusMgr: consensus.NewManager(cfg.MaxPhasesCache, log),
		stateMgr:     statemanager.New(sm, store, log),
		pending:      mempool.New(cfg.MaxPendingBatches),
		promises:     mempool.NewPromises(cfg.MaxCorrelationMap),
		phaseTimes:   make(map[model.Phase]time.Time),
	}
}

// WithMetrics installs a metrics collector, replacing the no-op default.
func (e *Engine) WithMetrics(m metrics.Collector) *Engine {
	e.metrics = m
	return e
}

// WithTracer installs a distributed tracer; nil is equivalent to not
// calling this at all (every use site tolerates a nil Tracer).
func (e *Engine) WithTracer(t tracing.Tracer) *Engine {
	e.tracer = t
	return e
}

func (e *Engine) self() model.NodeID { return e.topo.Self() }
func (e *Engine) quorum() int        { return e.topo.QuorumSize() }
func (e *Engine) fPlusOne() int      { return e.topo.FPlusOne() }

// CurrentPhase reports the phase this node is about to, or currently
// does, participate in.
func (e *Engine) CurrentPhase() model.Phase { return e.stateMgr.CurrentPhase() }

// LastCommittedPhase reports the highest phase whose decision was
// applied to the state machine.
func (e *Engine) LastCommittedPhase() model.Phase { return e.stateMgr.LastCommittedPhase() }

// Active reports whether this node is currently participating in
// phases (as opposed to dormant/resynchronizing).
func (e *Engine) Active() bool { return e.stateMgr.Active() }

// Start launches the engine's background loops (quorum tracking,
// periodic cleanup) and returns the start promise: a channel that closes
// the first time this node activates, which is when it can accept Apply
// calls.
func (e *Engine) Start() <-chan struct{} {
	e.unit.Launch(e.runQuorumLoop)
	e.unit.Launch(e.runCleanupLoop)
	<-e.unit.Ready()
	return e.stateMgr.StartPromise()
}

// Stop deactivates the engine, drains the critical worker and parallel
// pool (bounded by cfg.ShutdownTimeout), fails every outstanding client
// promise, and returns a channel that closes once shutdown completes.
// Any error encountered persisting a final snapshot is recorded and
// available from StopErr once the returned channel closes.
func (e *Engine) Stop() <-chan struct{} {
	done := e.unit.Done(e.cfg.ShutdownTimeout)
	result := make(chan struct{})
	go func() {
		<-done
		var errs *multierror.Error
		if err := e.stateMgr.Deactivate(e.pending.Snapshot()); err != nil {
			errs = multierror.Append(errs, err)
		}
		e.promises.FailAll(ErrNodeInactive)

		e.stopErrMu.Lock()
		e.stopErr = errs.ErrorOrNil()
		e.stopErrMu.Unlock()

		e.log.Info().Msg("engine stopped")
		close(result)
	}()
	return result
}

// StopErr returns the error (if any) encountered while persisting a
// final snapshot during the most recent Stop call. It should only be
// read after the channel returned by Stop has closed.
func (e *Engine) StopErr() error {
	e.stopErrMu.Lock()
	defer e.stopErrMu.Unlock()
	return e.stopErr
}

// Apply submits a batch of client commands for consensus. The returned
// promise resolves with the per-command results once the batch commits.
func (e *Engine) Apply(commands []model.Command) (*mempool.Promise, error) {
	if len(commands) == 0 {
		return nil, ErrCommandBatchIsEmpty
	}
	if !e.stateMgr.Active() {
		return nil, ErrNodeInactive
	}

	batch := model.MakeBatch(commands)
	e.pending.Add(batch)
	e.metrics.PendingBatches(e.pending.Len())
	promise := e.promises.Register(batch.CorrelationID)

	if err := e.net.Broadcast(model.NewBatch{Sender: e.self(), Batch: batch}); err != nil {
		e.log.Warn().Err(err).Msg("broadcasting new batch failed")
	}

	if !e.stateMgr.IsInPhase() {
		_ = e.unit.Do(func() error {
			e.doStartPhase()
			return nil
		})
	}
	return promise, nil
}

// doStartPhase begins the current phase if it has not begun and a
// pending batch exists; callers must already be serialized on the
// critical worker (either directly inside a unit.Do call, or via a
// cascade originating from one). The best pending batch is only peeked,
// not removed: it leaves the pool when a phase actually commits it, so
// a phase that decides V0 re-proposes it.
func (e *Engine) doStartPhase() {
	if e.stateMgr.IsInPhase() {
		return
	}
	batch, ok := e.pending.Best()
	if !ok {
		return
	}
	e.proposeInPhase(e.stateMgr.CurrentPhase(), batch)
}

// proposeInPhase registers self's proposal for phase, flips isInPhase,
// and broadcasts the proposal. Callers are serialized on the critical
// worker.
func (e *Engine) proposeInPhase(phase model.Phase, batch model.Batch) {
	span, _ := tracing.StartSpan(e.tracer, context.Background(), tracing.ConsensusPhase)
	defer tracing.FinishSpan(span)

	// Register self's own proposal without evaluating a vote yet (pass
	// isInPhase=false explicitly): the proposal must land before
	// isInPhase flips true.
	e.consensusMgr.ProcessProposal(e.self(), phase, batch, e.self(), phase, false, e.quorum())
	e.stateMgr.SetInPhase()

	e.phaseTimesMu.Lock()
	e.phaseTimes[phase] = timeNow()
	e.phaseTimesMu.Unlock()

	e.metrics.PhaseStarted(uint64(phase))
	e.log.Debug().Uint64("phase", uint64(phase)).Str("batch_id", string(batch.ID)).Msg("starting phase")

	if err := e.net.Broadcast(model.Propose{Sender: e.self(), Phase: phase, Batch: batch}); err != nil {
		e.log.Warn().Err(err).Msg("broadcasting proposal failed")
	}
}

// HandleMessage implements network.Handler, routing each inbound
// message to its handler by type.
func (e *Engine) HandleMessage(from model.NodeID, msg model.Message) {
	switch m := msg.(type) {
	case model.NewBatch:
		e.handleNewBatch(from, m.Batch)
	case model.Propose:
		e.handlePropose(from, m.Phase, m.Batch)
	case model.VoteRound1:
		e.handleVoteRound1(from, m.Phase, m.Value)
	case model.VoteRound2:
		e.handleVoteRound2(from, m.Phase, m.Value)
	case model.Decision:
		e.handleDecision(from, m.Phase, m.Value, m.Batch)
	case model.SyncRequest:
		e.handleSyncRequest(from)
	case model.SyncResponse:
		e.handleSyncResponse(from, m.SavedState)
	default:
		e.log.Warn().Str("sender", string(from)).Msg("received message of unknown type")
	}
}

// handleNewBatch runs on the fast path: the pending pool has its own
// lock, so no critical-worker serialization is needed.
func (e *Engine) handleNewBatch(_ model.NodeID, batch model.Batch) {
	e.pending.Add(batch)
	e.metrics.PendingBatches(e.pending.Len())
}

// handlePropose runs on the fast path. It may produce a
// round-1 vote; producing that vote only ever touches PhaseData's own
// lock and the isInPhase atomic, but the resulting cascade can reach
// all the way to a commit, so the cascade itself is handed off to run
// on the critical worker.
func (e *Engine) handlePropose(sender model.NodeID, phase model.Phase, batch model.Batch) {
	if !e.stateMgr.Active() {
		return
	}
	// Pool the proposed batch as well: pools converging on the same
	// contents is what makes every replica re-propose the same batch
	// after a phase decides V0.
	if !batch.IsEmpty() {
		e.pending.Add(batch)
	}
	current := e.stateMgr.CurrentPhase()
	if phase == current && !e.stateMgr.IsInPhase() {
		e.stateMgr.SetInPhase()
	}

	vote, ok := e.consensusMgr.ProcessProposal(sender, phase, batch, e.self(), current, e.stateMgr.IsInPhase(), e.quorum())
	if !ok {
		return
	}
	if err := e.net.Broadcast(model.VoteRound1{Sender: e.self(), Phase: phase, Value: vote}); err != nil {
		e.log.Warn().Err(err).Msg("broadcasting round-1 vote failed")
	}
	_ = e.unit.Do(func() error {
		e.onRound1Vote(e.self(), phase, vote)
		return nil
	})
}

// handleVoteRound1 runs on the critical worker.
func (e *Engine) handleVoteRound1(sender model.NodeID, phase model.Phase, value model.StateValue) {
	_ = e.unit.Do(func() error {
		e.onRound1Vote(sender, phase, value)
		return nil
	})
}

// handleVoteRound2 runs on the critical worker.
func (e *Engine) handleVoteRound2(sender model.NodeID, phase model.Phase, value model.StateValue) {
	_ = e.unit.Do(func() error {
		e.onRound2Vote(sender, phase, value)
		return nil
	})
}

// handleDecision runs on the critical worker.
func (e *Engine) handleDecision(sender model.NodeID, phase model.Phase, value model.StateValue, batch model.Batch) {
	_ = e.unit.Do(func() error {
		e.onDecision(sender, phase, value, batch)
		return nil
	})
}

// onRound1Vote, onRound2Vote, and onDecision assume the caller already
// holds the critical worker (via unit.Do), and cascade into one another
// by direct call rather than by re-entering Do, which is not reentrant.

func (e *Engine) onRound1Vote(sender model.NodeID, phase model.Phase, value model.StateValue) {
	current := e.stateMgr.CurrentPhase()
	vote, ok := e.consensusMgr.ProcessRound1Vote(sender, phase, value, current, e.stateMgr.IsInPhase(), e.quorum())
	if !ok {
		return
	}
	if err := e.net.Broadcast(model.VoteRound2{Sender: e.self(), Phase: phase, Value: vote}); err != nil {
		e.log.Warn().Err(err).Msg("broadcasting round-2 vote failed")
	}
	e.onRound2Vote(e.self(), phase, vote)
}

func (e *Engine) onRound2Vote(sender model.NodeID, phase model.Phase, value model.StateValue) {
	current := e.stateMgr.CurrentPhase()
	outcome, ok := e.consensusMgr.ProcessRound2Vote(sender, phase, value, current, e.stateMgr.IsInPhase(), e.quorum(), e.fPlusOne())
	if !ok {
		return
	}
	if !outcome.Decided {
		if outcome.Locked {
			e.carryForward(phase, outcome)
		}
		return
	}
	if outcome.ViaCoin {
		e.metrics.CoinFlipped(uint64(phase))
	}
	if err := e.net.Broadcast(model.Decision{Sender: e.self(), Phase: phase, Value: outcome.Value, Batch: outcome.Batch}); err != nil {
		e.log.Warn().Err(err).Msg("broadcasting decision failed")
	}
	e.onDecision(e.self(), phase, outcome.Value, outcome.Batch)
}

// carryForward ends a phase without a decision: the node advances, and
// the next phase re-proposes the locked value (the agreed batch for V1,
// the empty batch for V0) so round 1 of the successor phase cannot
// contradict it.
func (e *Engine) carryForward(phase model.Phase, outcome consensus.Outcome) {
	current := e.stateMgr.CurrentPhase()
	if phase != current {
		return
	}

	e.phaseTimesMu.Lock()
	delete(e.phaseTimes, phase)
	e.phaseTimesMu.Unlock()

	e.metrics.PhaseCarriedForward(uint64(phase))
	e.log.Debug().
		Uint64("phase", uint64(phase)).
		Str("locked", outcome.CarryForward.String()).
		Msg("phase carried forward without decision")

	e.stateMgr.MoveToNextPhase(current)
	e.proposeInPhase(current.Successor(), outcome.Batch)
}

func (e *Engine) onDecision(_ model.NodeID, phase model.Phase, value model.StateValue, batch model.Batch) {
	current := e.stateMgr.CurrentPhase()
	if phase != current {
		// Stale decisions are dropped like any other stale message; a
		// decision for a phase this node has not reached yet is not
		// applied either: committing it would break the
		// lastCommittedPhase <= currentPhase invariant, and lagging
		// replicas catch up through resynchronization instead.
		return
	}
	if !e.consensusMgr.ShouldCommitDecision(phase, current) {
		return
	}

	if value == model.V1 && len(batch.Commands) > 0 {
		span, _ := tracing.StartSpan(e.tracer, context.Background(), tracing.StateMachineApply)
		results, err := e.stateMgr.CommitChanges(batch, phase)
		tracing.FinishSpan(span)
		if err != nil {
			// A state machine that fails to process a committed batch is
			// unrecoverable: replicas would diverge if this node kept
			// advancing past a batch it never applied.
			e.log.Error().Err(err).Uint64("phase", uint64(phase)).Msg("state machine failed applying committed batch, stopping engine")
			go e.Stop()
			return
		}
		e.pending.Remove(batch.CorrelationID)
		e.promises.Resolve(batch.CorrelationID, results, nil)
		e.metrics.BatchCommitted(len(batch.Commands))
	}

	e.phaseTimesMu.Lock()
	started, hadStart := e.phaseTimes[phase]
	delete(e.phaseTimes, phase)
	e.phaseTimesMu.Unlock()
	if hadStart {
		e.metrics.PhaseDecided(uint64(phase), timeNow().Sub(started))
	} else {
		e.metrics.PhaseDecided(uint64(phase), 0)
	}

	e.log.Debug().Uint64("phase", uint64(phase)).Str("value", value.String()).Msg("phase decided")
	e.stateMgr.MoveToNextPhase(current)

	if e.pending.Len() > 0 {
		e.doStartPhase()
	}
}

func (e *Engine) handleSyncRequest(sender model.NodeID) {
	e.unit.Launch(func() {
		saved, err := e.stateMgr.CreateSyncResponse(e.pending.Snapshot())
		if err != nil {
			e.log.Error().Err(err).Msg("could not build sync response")
			return
		}
		if err := e.net.Send(sender, model.SyncResponse{Sender: e.self(), SavedState: saved}); err != nil {
			e.log.Warn().Err(err).Msg("sending sync response failed")
		}
	})
}

// handleSyncResponse collects responses on the parallel pool, but the
// actual restore runs on the critical worker: restoring rewrites
// currentPhase, which only the critical worker may do, and the Active
// re-check under Do makes two responses racing past quorum restore only
// once.
func (e *Engine) handleSyncResponse(sender model.NodeID, saved model.SavedState) {
	e.unit.Launch(func() {
		if e.stateMgr.Active() {
			return
		}
		count := e.stateMgr.RecordSyncResponse(sender, saved)
		if count < e.quorum() {
			return
		}
		_ = e.unit.Do(func() error {
			if e.stateMgr.Active() {
				return nil
			}
			best, ok := e.stateMgr.SelectBestSyncResponse()
			if !ok {
				return nil
			}
			if err := e.stateMgr.RestoreState(best, e.pending.Add); err != nil {
				e.log.Error().Err(err).Msg("restoring state from sync failed")
				return nil
			}
			e.metrics.SyncCompleted(count)
			e.stateMgr.Activate()
			e.log.Info().Uint64("last_committed_phase", uint64(best.LastCommittedPhase)).Msg("resynchronized and activated")
			// Work restored into the pending pool resumes without waiting
			// for a fresh client submission.
			e.doStartPhase()
			return nil
		})
	})
}

// runQuorumLoop reacts to the topology's ESTABLISHED/DISAPPEARED
// notifications for the lifetime of the engine.
func (e *Engine) runQuorumLoop() {
	notifications := e.topo.QuorumStateNotifications()
	for {
		select {
		case <-e.unit.Quit():
			e.stopResyncLoop()
			return
		case notif, ok := <-notifications:
			if !ok {
				return
			}
			switch notif.Kind {
			case topology.Established:
				e.startResyncLoop()
			case topology.Disappeared:
				e.stopResyncLoop()
				if err := e.stateMgr.Deactivate(e.pending.Snapshot()); err != nil {
					e.log.Error().Err(err).Msg("deactivation failed")
				}
				// Cached vote state refers to phases this node no longer
				// recognizes once currentPhase resets to zero.
				e.consensusMgr.Clear()
			}
		}
	}
}

// startResyncLoop begins broadcasting SyncRequest on a jittered
// interval until the node activates, quorum is lost, or the engine
// stops. It is idempotent: a second ESTABLISHED notification while
// already resyncing is a no-op.
func (e *Engine) startResyncLoop() {
	e.resyncMu.Lock()
	if e.resyncCancel != nil {
		e.resyncMu.Unlock()
		return
	}
	cancel := make(chan struct{})
	e.resyncCancel = cancel
	e.resyncMu.Unlock()

	e.unit.Launch(func() {
		for {
			if e.stateMgr.Active() {
				return
			}
			if err := e.net.Broadcast(model.SyncRequest{Sender: e.self()}); err != nil {
				e.log.Warn().Err(err).Msg("broadcasting sync request failed")
			}
			e.metrics.SyncRequested()

			select {
			case <-e.unit.Quit():
				return
			case <-cancel:
				return
			case <-time.After(jittered(e.cfg.SyncRetryInterval)):
			}
		}
	})
}

func (e *Engine) stopResyncLoop() {
	e.resyncMu.Lock()
	defer e.resyncMu.Unlock()
	if e.resyncCancel != nil {
		close(e.resyncCancel)
		e.resyncCancel = nil
	}
}

// runCleanupLoop periodically evicts phase data older than
// cfg.RemoveOlderThanPhases behind currentPhase.
func (e *Engine) runCleanupLoop() {
	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.unit.Quit():
			return
		case <-ticker.C:
			current := e.stateMgr.CurrentPhase()
			var cutoff model.Phase
			if uint64(current) > e.cfg.RemoveOlderThanPhases {
				cutoff = model.Phase(uint64(current) - e.cfg.RemoveOlderThanPhases)
			}
			e.consensusMgr.RemoveOlderThan(cutoff)
			e.metrics.PhaseCacheSize(e.consensusMgr.Len())
		}
	}
}

// jittered returns d scaled by a random factor in [0.5, 1.5), so
// dormant replicas do not retry synchronization in lockstep.
func jittered(d time.Duration) time.Duration {
	factor := 0.5 + rand.Float64()
	return time.Duration(float64(d) * factor)
}

// timeNow is a seam so tests could substitute a fake clock; production
// code always uses the real time.
var timeNow = time.Now
