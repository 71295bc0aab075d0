package mempool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rabia-go/rabia/model"
)

func TestBatchesBestOrdersByTimestampThenID(t *testing.T) {
	b := New(0)
	now := time.Now().UTC()

	later := model.Batch{ID: "b", CorrelationID: "c2", Timestamp: now.Add(time.Second)}
	earlier := model.Batch{ID: "a", CorrelationID: "c1", Timestamp: now}

	b.Add(later)
	b.Add(earlier)

	got, ok := b.Best()
	require.True(t, ok)
	require.Equal(t, earlier.ID, got.ID)

	// Best is a peek: the batch stays pooled until its phase commits.
	got, ok = b.Best()
	require.True(t, ok)
	require.Equal(t, earlier.ID, got.ID)

	b.Remove(earlier.CorrelationID)
	got, ok = b.Best()
	require.True(t, ok)
	require.Equal(t, later.ID, got.ID)

	b.Remove(later.CorrelationID)
	_, ok = b.Best()
	require.False(t, ok)
}

func TestBatchesAddIgnoresDuplicateCorrelationID(t *testing.T) {
	b := New(0)
	batch := model.MakeBatch([]model.Command{[]byte("x")})
	b.Add(batch)
	b.Add(batch)
	require.Equal(t, 1, b.Len())
}

func TestBatchesRemove(t *testing.T) {
	b := New(0)
	batch := model.MakeBatch([]model.Command{[]byte("x")})
	b.Add(batch)
	b.Remove(batch.CorrelationID)
	require.Equal(t, 0, b.Len())
	_, ok := b.Best()
	require.False(t, ok)
}

func TestBatchesEvictsWorstAtCapacity(t *testing.T) {
	b := New(2)
	now := time.Now().UTC()
	first := model.Batch{ID: "a", CorrelationID: "c1", Timestamp: now}
	second := model.Batch{ID: "b", CorrelationID: "c2", Timestamp: now.Add(time.Second)}
	third := model.Batch{ID: "c", CorrelationID: "c3", Timestamp: now.Add(2 * time.Second)}

	b.Add(first)
	b.Add(second)
	b.Add(third) // pool full, should evict the highest-timestamp batch (second)

	require.Equal(t, 2, b.Len())
	got, ok := b.Best()
	require.True(t, ok)
	require.Equal(t, first.ID, got.ID)
}
