package consensus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rabia-go/rabia/model"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(4, zerolog.Nop())
}

func TestManagerDropsStaleMessages(t *testing.T) {
	m := testManager(t)
	_, ok := m.ProcessProposal("n1", 0, model.EmptyBatch(), "self", 5, true, 1)
	require.False(t, ok)
	_, exists := m.Peek(0)
	require.False(t, exists, "stale proposal must not create phase data")
}

func TestManagerBuffersFuturePhaseWithoutEmitting(t *testing.T) {
	m := testManager(t)
	_, ok := m.ProcessProposal("n1", 3, model.MakeBatch(nil), "self", 1, true, 1)
	require.False(t, ok, "future phase observations are buffered, not acted on")
	_, exists := m.Peek(3)
	require.True(t, exists, "but the phase data itself is created")
}

func TestManagerEvaluatesVoteOnlyWhenCurrentAndInPhase(t *testing.T) {
	m := testManager(t)
	vote, ok := m.ProcessProposal("n1", 0, model.EmptyBatch(), "self", 0, false, 1)
	require.False(t, ok)

	vote, ok = m.ProcessProposal("n1", 0, model.EmptyBatch(), "self", 0, true, 1)
	require.True(t, ok)
	require.Equal(t, model.V0, vote)
}

func TestManagerShouldCommitDecisionOnce(t *testing.T) {
	m := testManager(t)
	require.True(t, m.ShouldCommitDecision(2, 0))
	require.False(t, m.ShouldCommitDecision(2, 0))
}

func TestManagerShouldCommitDecisionDropsStale(t *testing.T) {
	m := testManager(t)
	require.False(t, m.ShouldCommitDecision(0, 5))
}

func TestManagerRound2CompletionWaitsForQuorumOfVotes(t *testing.T) {
	m := testManager(t)

	// Two VQuestion votes alone must not look like "all votes received
	// are VQuestion" and trigger the coin: definite votes may still be
	// in flight until quorum-many round-2 votes have arrived.
	_, ok := m.ProcessRound2Vote("n1", 0, model.VQuestion, 0, true, 3, 3)
	require.False(t, ok)
	_, ok = m.ProcessRound2Vote("n2", 0, model.VQuestion, 0, true, 3, 3)
	require.False(t, ok)

	out, ok := m.ProcessRound2Vote("n3", 0, model.VQuestion, 0, true, 3, 3)
	require.True(t, ok)
	require.True(t, out.Decided)
	require.True(t, out.ViaCoin)
	require.Equal(t, model.V0, out.Value)
}

func TestManagerEvictsOldestBeyondCapacity(t *testing.T) {
	m := NewManager(2, zerolog.Nop())
	m.phaseData(0)
	m.phaseData(1)
	m.phaseData(2) // evicts phase 0 (least recently used)

	_, exists := m.Peek(0)
	require.False(t, exists)
	require.Equal(t, 2, m.Len())
}

func TestManagerRemoveOlderThan(t *testing.T) {
	m := testManager(t)
	m.phaseData(0)
	m.phaseData(1)
	m.phaseData(5)

	removed := m.RemoveOlderThan(5)
	require.Equal(t, 2, removed)
	_, exists := m.Peek(5)
	require.True(t, exists)
}
