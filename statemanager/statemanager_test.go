package statemanager

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rabia-go/rabia/model"
	"github.com/rabia-go/rabia/statemachine"
	"github.com/rabia-go/rabia/storage/memstore"
)

func testManager(t *testing.T) (*Manager, *statemachine.Memory, *memstore.Store) {
	t.Helper()
	sm := statemachine.NewMemory()
	store := memstore.New()
	return New(sm, store, zerolog.Nop()), sm, store
}

func TestActivateFulfillsStartPromiseOnce(t *testing.T) {
	m, _, _ := testManager(t)
	promise := m.StartPromise()

	select {
	case <-promise:
		t.Fatal("start promise must not be fulfilled before activation")
	default:
	}

	m.Activate()
	m.Activate() // idempotent
	require.True(t, m.Active())

	select {
	case <-promise:
	default:
		t.Fatal("start promise should be fulfilled after activation")
	}
}

func TestMoveToNextPhaseAdvancesAndClearsInPhase(t *testing.T) {
	m, _, _ := testManager(t)
	m.SetInPhase()

	m.MoveToNextPhase(0)
	require.Equal(t, model.Phase(1), m.CurrentPhase())
	require.False(t, m.IsInPhase())

	// A stale caller (expected phase no longer current) is a no-op.
	m.MoveToNextPhase(0)
	require.Equal(t, model.Phase(1), m.CurrentPhase())
}

func TestCommitChangesAppliesInOrderAndRecordsPhase(t *testing.T) {
	m, sm, _ := testManager(t)
	batch := model.Batch{
		ID:            "b",
		CorrelationID: "c",
		Commands:      []model.Command{[]byte("one"), []byte("two")},
	}

	results, err := m.CommitChanges(batch, 3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []byte("one"), results[0].Output)
	require.Equal(t, model.Phase(3), m.LastCommittedPhase())
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, sm.Log())
}

func TestDeactivatePersistsAndResets(t *testing.T) {
	m, sm, store := testManager(t)
	m.Activate()
	m.MoveToNextPhase(0)
	m.MoveToNextPhase(1)
	_, err := m.CommitChanges(model.Batch{Commands: []model.Command{[]byte("x")}}, 2)
	require.NoError(t, err)
	firstPromise := m.StartPromise()

	pending := []model.Batch{{ID: "p1", CorrelationID: "c1"}}
	require.NoError(t, m.Deactivate(pending))

	require.False(t, m.Active())
	require.Equal(t, model.Phase(0), m.CurrentPhase())
	require.False(t, m.IsInPhase())
	require.Empty(t, sm.Log(), "deactivate resets the state machine")

	saved, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.Phase(2), saved.LastCommittedPhase)
	require.Len(t, saved.PendingBatches, 1)

	// The start promise is re-armed: the pre-deactivation channel stays
	// closed, a fresh activation closes the new one.
	require.NotEqual(t, firstPromise, m.StartPromise())

	// A second Deactivate on a dormant node is a no-op.
	require.NoError(t, m.Deactivate(nil))
}

func TestCreateSyncResponseActiveTakesFreshSnapshot(t *testing.T) {
	m, _, _ := testManager(t)
	m.Activate()
	_, err := m.CommitChanges(model.Batch{Commands: []model.Command{[]byte("x")}}, 1)
	require.NoError(t, err)

	saved, err := m.CreateSyncResponse([]model.Batch{{ID: "p", CorrelationID: "c"}})
	require.NoError(t, err)
	require.Equal(t, model.Phase(1), saved.LastCommittedPhase)
	require.NotEmpty(t, saved.Snapshot)
	require.Len(t, saved.PendingBatches, 1)
}

func TestCreateSyncResponseDormantUsesPersisted(t *testing.T) {
	m, _, store := testManager(t)
	persisted := model.SavedState{Snapshot: []byte("snap"), LastCommittedPhase: 4}
	require.NoError(t, store.Save(persisted))

	saved, err := m.CreateSyncResponse(nil)
	require.NoError(t, err)
	require.True(t, persisted.Equal(saved))
}

func TestSelectBestSyncResponsePicksHighestCommittedPhase(t *testing.T) {
	m, _, _ := testManager(t)

	_, ok := m.SelectBestSyncResponse()
	require.False(t, ok)

	m.RecordSyncResponse("n1", model.SavedState{LastCommittedPhase: 2})
	count := m.RecordSyncResponse("n2", model.SavedState{LastCommittedPhase: 7})
	require.Equal(t, 2, count)

	best, ok := m.SelectBestSyncResponse()
	require.True(t, ok)
	require.Equal(t, model.Phase(7), best.LastCommittedPhase)
}

func TestRestoreStateSetsPhasesAndMergesPending(t *testing.T) {
	m, _, store := testManager(t)

	snapshot, err := statemachine.NewMemory().MakeSnapshot()
	require.NoError(t, err)
	saved := model.SavedState{
		Snapshot:           snapshot,
		LastCommittedPhase: 5,
		PendingBatches:     []model.Batch{{ID: "p1", CorrelationID: "c1"}, {ID: "p2", CorrelationID: "c2"}},
	}

	var merged []model.Batch
	require.NoError(t, m.RestoreState(saved, func(b model.Batch) {
		merged = append(merged, b)
	}))

	require.Equal(t, model.Phase(5), m.CurrentPhase())
	require.Equal(t, model.Phase(5), m.LastCommittedPhase())
	require.Len(t, merged, 2)

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok, "restored state is re-persisted")
}

type failingRestoreStateMachine struct {
	*statemachine.Memory
}

func (failingRestoreStateMachine) RestoreSnapshot([]byte) error {
	return errors.New("corrupt snapshot")
}

func TestRestoreStateFailureIsRestoreFailed(t *testing.T) {
	sm := failingRestoreStateMachine{Memory: statemachine.NewMemory()}
	m := New(sm, memstore.New(), zerolog.Nop())

	err := m.RestoreState(model.SavedState{Snapshot: []byte("bad")}, func(model.Batch) {})
	require.ErrorIs(t, err, ErrRestoreFailed)
	require.Equal(t, model.Phase(0), m.CurrentPhase(), "failed restore must not touch the phase counters")
}
