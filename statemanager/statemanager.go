// (c) 2019 Dapper Labs - ALL RIGHTS RESERVED

// Package statemanager tracks a replica's lifecycle (active/dormant,
// currentPhase, lastCommittedPhase) and bridges phase decisions to the
// application state machine and the persistence layer.
package statemanager

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/rabia-go/rabia/model"
	"github.com/rabia-go/rabia/statemachine"
	"github.com/rabia-go/rabia/storage"
)

// Sentinel errors for the two state-machine boundary failures callers
// distinguish with errors.Is.
var (
	// ErrSnapshotFailed wraps a state machine MakeSnapshot failure.
	ErrSnapshotFailed = stderrors.New("state machine snapshot failed")
	// ErrRestoreFailed wraps a state machine RestoreSnapshot failure; the
	// node stays dormant and keeps retrying synchronization.
	ErrRestoreFailed = stderrors.New("state machine restore failed")
)

// CommandResult is the state machine's per-command reply.
type CommandResult = statemachine.Result

// Manager owns the engine's lifecycle state and the boundary with the
// application state machine. The phase counters and lifecycle flags are
// atomics: any worker may read them, only the critical worker writes.
type Manager struct {
	log zerolog.Logger

	currentPhase       atomic.Uint64
	lastCommittedPhase atomic.Uint64
	active             atomic.Bool
	isInPhase          atomic.Bool

	startMu        sync.Mutex
	startCh        chan struct{}
	startFulfilled bool

	sm    statemachine.StateMachine
	store storage.Store

	syncMu        sync.Mutex
	syncResponses map[model.NodeID]model.SavedState
}

// New creates a Manager bound to the given state machine and persistence
// store. Both currentPhase and lastCommittedPhase start at zero.
func New(sm statemachine.StateMachine, store storage.Store, log zerolog.Logger) *Manager {
	m := &Manager{
		log:           log.With().Str("component", "state_manager").Logger(),
		sm:            sm,
		store:         store,
		syncResponses: make(map[model.NodeID]model.SavedState),
	}
	m.startCh = make(chan struct{})
	return m
}

// CurrentPhase returns the phase this node is about to, or currently does,
// participate in.
func (m *Manager) CurrentPhase() model.Phase {
	return model.Phase(m.currentPhase.Load())
}

// LastCommittedPhase returns the highest phase whose decision was applied.
func (m *Manager) LastCommittedPhase() model.Phase {
	return model.Phase(m.lastCommittedPhase.Load())
}

// Active reports whether this node is participating in phases.
func (m *Manager) Active() bool {
	return m.active.Load()
}

// IsInPhase reports whether this node has already broadcast its proposal
// for CurrentPhase() and not yet committed it.
func (m *Manager) IsInPhase() bool {
	return m.isInPhase.Load()
}

// SetInPhase marks that this node has entered the current phase. The
// engine calls it on the critical worker when it proposes, and from the
// fast-path Propose handler when a peer's proposal for the current phase
// arrives first.
func (m *Manager) SetInPhase() {
	m.isInPhase.Store(true)
}

// MoveToNextPhase advances currentPhase to its successor and clears
// isInPhase, provided expected still matches the live currentPhase (guards
// against a stale caller racing a concurrent reset).
func (m *Manager) MoveToNextPhase(expected model.Phase) {
	if model.Phase(m.currentPhase.Load()) != expected {
		return
	}
	m.currentPhase.Store(uint64(expected.Successor()))
	m.isInPhase.Store(false)
}

// StartPromise returns a channel that closes exactly once, the first time
// this node activates. Consumers await it to know the engine is ready.
func (m *Manager) StartPromise() <-chan struct{} {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	return m.startCh
}

// Activate marks the node active, fulfills the start promise exactly once,
// and clears any in-flight sync responses.
func (m *Manager) Activate() {
	m.active.Store(true)
	m.startMu.Lock()
	if !m.startFulfilled {
		close(m.startCh)
		m.startFulfilled = true
	}
	m.startMu.Unlock()
	m.syncMu.Lock()
	m.syncResponses = make(map[model.NodeID]model.SavedState)
	m.syncMu.Unlock()
	m.log.Info().Msg("node activated")
}

// rearmStart resets the start promise so a future Activate call can
// fulfill it again, used after a full deactivation.
func (m *Manager) rearmStart() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.startCh = make(chan struct{})
	m.startFulfilled = false
}

// Deactivate transitions the node to dormant. It is idempotent: calling it
// on an already-dormant node persists nothing and returns nil. Otherwise it
// persists a snapshot with the given pending batches, then resets
// currentPhase to zero, clears isInPhase, resets the state machine, and
// re-arms the start promise. If the snapshot fails, nothing is persisted
// and the returned error wraps ErrSnapshotFailed; otherwise a persistence
// failure is returned, wrapped. Either way the node still resets.
func (m *Manager) Deactivate(pendingBatches []model.Batch) error {
	if !m.active.CompareAndSwap(true, false) {
		return nil
	}

	var result *multierror.Error
	snapshot, err := m.sm.MakeSnapshot()
	if err != nil {
		m.log.Error().Err(err).Msg("snapshot failed during deactivate, nothing persisted")
		result = multierror.Append(result, fmt.Errorf("%w: %s", ErrSnapshotFailed, err))
	} else {
		saved := model.SavedState{
			Snapshot:           snapshot,
			LastCommittedPhase: m.LastCommittedPhase(),
			PendingBatches:     pendingBatches,
		}
		if err := m.store.Save(saved); err != nil {
			m.log.Error().Err(err).Msg("persisting snapshot failed during deactivate")
			result = multierror.Append(result, errors.Wrap(err, "persist snapshot"))
		}
	}

	m.currentPhase.Store(0)
	m.isInPhase.Store(false)
	m.sm.Reset()
	m.rearmStart()
	m.log.Info().Msg("node deactivated")
	return result.ErrorOrNil()
}

// CommitChanges applies the batch's commands to the state machine in list
// order, records lastCommittedPhase, and returns the per-command results.
func (m *Manager) CommitChanges(batch model.Batch, phase model.Phase) ([]CommandResult, error) {
	results, err := m.sm.Process(batch.Commands)
	if err != nil {
		return nil, fmt.Errorf("state machine failed to process committed batch: %w", err)
	}
	m.lastCommittedPhase.Store(uint64(phase))
	return results, nil
}

// CreateSyncResponse produces a saved state to answer a SyncRequest: a
// fresh snapshot if active (falling back to the last persisted snapshot on
// snapshot failure), or the persisted snapshot directly if dormant.
func (m *Manager) CreateSyncResponse(pendingBatches []model.Batch) (model.SavedState, error) {
	if m.active.Load() {
		snapshot, err := m.sm.MakeSnapshot()
		if err != nil {
			m.log.Error().Err(err).Msg("snapshot failed while answering sync request, falling back to persisted snapshot")
			return m.loadPersisted()
		}
		return model.SavedState{
			Snapshot:           snapshot,
			LastCommittedPhase: m.LastCommittedPhase(),
			PendingBatches:     pendingBatches,
		}, nil
	}
	return m.loadPersisted()
}

func (m *Manager) loadPersisted() (model.SavedState, error) {
	saved, ok, err := m.store.Load()
	if err != nil {
		return model.SavedState{}, errors.Wrap(err, "could not load persisted snapshot")
	}
	if !ok {
		return model.SavedState{}, nil
	}
	return saved, nil
}

// RecordSyncResponse adds a peer's saved state to the in-flight
// resynchronization round. It returns the number of responses collected
// so far.
func (m *Manager) RecordSyncResponse(from model.NodeID, saved model.SavedState) int {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	m.syncResponses[from] = saved
	return len(m.syncResponses)
}

// SelectBestSyncResponse picks the collected response with the highest
// LastCommittedPhase, breaking ties arbitrarily (map iteration order).
func (m *Manager) SelectBestSyncResponse() (model.SavedState, bool) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	if len(m.syncResponses) == 0 {
		return model.SavedState{}, false
	}
	responses := make([]model.SavedState, 0, len(m.syncResponses))
	for _, saved := range m.syncResponses {
		responses = append(responses, saved)
	}
	sort.Slice(responses, func(i, j int) bool {
		return responses[i].LastCommittedPhase > responses[j].LastCommittedPhase
	})
	return responses[0], true
}

// RestoreState restores the state machine from saved.Snapshot, sets both
// currentPhase and lastCommittedPhase to saved.LastCommittedPhase, merges
// saved.PendingBatches into the caller-supplied pending pool via addBatch,
// and re-persists the restored state.
func (m *Manager) RestoreState(saved model.SavedState, addBatch func(model.Batch)) error {
	if err := m.sm.RestoreSnapshot(saved.Snapshot); err != nil {
		m.log.Error().Err(err).Msg("restore failed, remaining dormant")
		return fmt.Errorf("%w: %s", ErrRestoreFailed, err)
	}
	m.currentPhase.Store(uint64(saved.LastCommittedPhase))
	m.lastCommittedPhase.Store(uint64(saved.LastCommittedPhase))
	for _, b := range saved.PendingBatches {
		addBatch(b)
	}
	if err := m.store.Save(saved); err != nil {
		m.log.Error().Err(err).Msg("re-persisting restored state failed")
	}
	return nil
}
