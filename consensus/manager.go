// (c) 2019 Dapper Labs - ALL RIGHTS RESERVED

package consensus

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/rabia-go/rabia/model"
)

// DefaultMaxPhasesCache is the default capacity of the bounded phase map.
const DefaultMaxPhasesCache = 1000

// Manager owns the process-wide map of phase -> PhaseData as a bounded
// LRU: a lagging replica can receive messages for many phases it has not
// reached yet, and the cache must evict the least recently touched of
// them rather than grow without bound.
type Manager struct {
	mu    sync.RWMutex
	cache *lru.Cache[model.Phase, *PhaseData]
	log   zerolog.Logger
}

// NewManager creates a Manager with the given bounded capacity.
func NewManager(capacity int, log zerolog.Logger) *Manager {
	if capacity <= 0 {
		capacity = DefaultMaxPhasesCache
	}
	cache, err := lru.New[model.Phase, *PhaseData](capacity)
	if err != nil {
		// Only size <= 0 causes an error, already guarded above.
		panic(err)
	}
	return &Manager{
		cache: cache,
		log:   log.With().Str("component", "consensus_manager").Logger(),
	}
}

// phaseData lazily creates the PhaseData for phase if absent.
func (m *Manager) phaseData(phase model.Phase) *PhaseData {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pd, ok := m.cache.Get(phase); ok {
		return pd
	}
	pd := newPhaseData(phase)
	m.cache.Add(phase, pd)
	return pd
}

// Peek returns the PhaseData for phase without creating it, for read-only
// inspection (e.g. metrics, cleanup).
func (m *Manager) Peek(phase model.Phase) (*PhaseData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.Peek(phase)
}

// ProcessProposal records an inbound Propose message and, if it advances
// this node's own round-1 vote, returns that vote.
func (m *Manager) ProcessProposal(sender model.NodeID, phase model.Phase, batch model.Batch, self model.NodeID, currentPhase model.Phase, isInPhase bool, quorum int) (model.StateValue, bool) {
	if phase.Less(currentPhase) {
		return 0, false
	}
	pd := m.phaseData(phase)
	pd.RegisterProposal(sender, batch)

	if phase != currentPhase || !isInPhase {
		return 0, false
	}
	return pd.EvaluateInitialVote(self, quorum), true
}

// ProcessRound1Vote records an inbound VoteRound1 and, if applicable,
// returns this node's round-2 vote.
func (m *Manager) ProcessRound1Vote(sender model.NodeID, phase model.Phase, value model.StateValue, currentPhase model.Phase, isInPhase bool, quorum int) (model.StateValue, bool) {
	if phase.Less(currentPhase) {
		return 0, false
	}
	pd := m.phaseData(phase)
	pd.RegisterRound1Vote(sender, value)

	if phase != currentPhase || !isInPhase {
		return 0, false
	}
	return pd.EvaluateRound2Vote(quorum), true
}

// ProcessRound2Vote records an inbound VoteRound2 and, if applicable,
// returns the outcome of this node's round-2 completion check. The check
// only runs once at least quorum round-2 votes have been observed:
// evaluating earlier would let a single VQuestion vote look like "all
// votes received are VQuestion" and trigger the coin while definite
// votes were still in flight.
func (m *Manager) ProcessRound2Vote(sender model.NodeID, phase model.Phase, value model.StateValue, currentPhase model.Phase, isInPhase bool, quorum, fPlusOne int) (Outcome, bool) {
	if phase.Less(currentPhase) {
		return Outcome{}, false
	}
	pd := m.phaseData(phase)
	pd.RegisterRound2Vote(sender, value)

	if phase != currentPhase || !isInPhase {
		return Outcome{}, false
	}
	if pd.Round2VoteCount() < quorum {
		return Outcome{}, false
	}
	return pd.ProcessRound2Completion(fPlusOne, quorum), true
}

// ShouldCommitDecision performs the atomic test-and-set on the per-phase
// decided flag, lazily creating the PhaseData if this is the very first
// observation of the phase (a decision can arrive before any vote this
// node itself processed, e.g. via gossip from a fast peer). Decisions for
// phases strictly older than currentPhase are stale and dropped like any
// other message, so a long-evicted phase never gets spuriously re-created
// and re-committed.
func (m *Manager) ShouldCommitDecision(phase, currentPhase model.Phase) bool {
	if phase.Less(currentPhase) {
		return false
	}
	return m.phaseData(phase).MarkDecided()
}

// RemoveOlderThan evicts every phase strictly older than the cutoff,
// backing the engine's periodic cleanup of long-passed phases.
func (m *Manager) RemoveOlderThan(cutoff model.Phase) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, phase := range m.cache.Keys() {
		if phase.Less(cutoff) {
			m.cache.Remove(phase)
			removed++
		}
	}
	if removed > 0 {
		m.log.Debug().Int("removed", removed).Msg("evicted stale phase data")
	}
	return removed
}

// Clear drops every cached phase. Used on full deactivation, when a node
// resets currentPhase to zero and cannot trust any previously cached vote
// state for phases it no longer recognizes.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Purge()
}

// Len reports how many phases are currently cached.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.Len()
}
