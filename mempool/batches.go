// (c) 2019 Dapper Labs - ALL RIGHTS RESERVED

// Package mempool holds the engine's bounded pending-batch pool and the
// correlation-ID-to-client-promise map. The pool pairs a mutex-guarded
// lookup map with a container/heap priority queue so picking the next
// batch to propose is cheap.
package mempool

import (
	"container/heap"
	"sync"

	"github.com/rabia-go/rabia/model"
)

// DefaultMaxPendingBatches is the default pool capacity.
const DefaultMaxPendingBatches = 10000

// Batches is the bounded pending-batch pool plus its priority queue,
// kept consistent under one lock: a batch enters both on insertion and
// leaves both when it commits.
type Batches struct {
	mu       sync.Mutex
	byCorr   map[model.CorrelationID]model.Batch
	queue    batchHeap
	capacity int
}

// New creates a Batches pool with the given capacity (DefaultMaxPendingBatches
// if capacity <= 0).
func New(capacity int) *Batches {
	if capacity <= 0 {
		capacity = DefaultMaxPendingBatches
	}
	return &Batches{
		byCorr:   make(map[model.CorrelationID]model.Batch),
		capacity: capacity,
	}
}

// Add inserts batch into both the lookup map and the priority queue. If
// the pool is at capacity, the pooled batch the queue would serve last
// (the maximum under Less) is evicted to make room; batch itself is always
// inserted, even when it orders after the evicted one. Duplicate
// correlation IDs are ignored (idempotent gossip).
func (b *Batches) Add(batch model.Batch) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.byCorr[batch.CorrelationID]; exists {
		return
	}
	if len(b.byCorr) >= b.capacity {
		// Evict the batch the queue would serve last, i.e. the maximum
		// under Less, to make room for new submissions.
		worst := b.queue.maxIndex()
		if worst >= 0 {
			evicted := heap.Remove(&b.queue, worst).(model.Batch)
			delete(b.byCorr, evicted.CorrelationID)
		}
	}
	b.byCorr[batch.CorrelationID] = batch
	heap.Push(&b.queue, batch)
}

// Best returns the batch ordered first by (timestamp, BatchID,
// CorrelationID) without removing it, or false if the pool is empty. A
// batch stays pooled until its phase commits (Remove): a phase that
// decides V0 leaves the batch in place to be re-proposed, and because
// every pool converges on the same contents via gossip, re-proposals
// converge on the same batch cluster-wide.
func (b *Batches) Best() (model.Batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue.Len() == 0 {
		return model.Batch{}, false
	}
	return b.queue[0], true
}

// Remove drops the batch with the given correlation ID from both the map
// and the queue, e.g. once its phase commits.
func (b *Batches) Remove(corr model.CorrelationID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.byCorr[corr]; !exists {
		return
	}
	delete(b.byCorr, corr)
	for i, batch := range b.queue {
		if batch.CorrelationID == corr {
			heap.Remove(&b.queue, i)
			break
		}
	}
}

// Len reports the number of pending batches.
func (b *Batches) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byCorr)
}

// Snapshot returns a copy of every batch currently pending, for
// persistence (SavedState.PendingBatches) and sync responses.
func (b *Batches) Snapshot() []model.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Batch, 0, len(b.byCorr))
	for _, batch := range b.byCorr {
		out = append(out, batch)
	}
	return out
}

// batchHeap is a min-heap ordered by model.Batch.Less.
type batchHeap []model.Batch

func (h batchHeap) Len() int            { return len(h) }
func (h batchHeap) Less(i, j int) bool  { return h[i].Less(h[j]) }
func (h batchHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *batchHeap) Push(x interface{}) { *h = append(*h, x.(model.Batch)) }
func (h *batchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxIndex returns the index of the element the heap would serve last, or
// -1 if the heap is empty. It is a linear scan; pool eviction at capacity
// is expected to be rare relative to normal Add/Best/Remove traffic.
func (h batchHeap) maxIndex() int {
	if len(h) == 0 {
		return -1
	}
	worst := 0
	for i := 1; i < len(h); i++ {
		if h[worst].Less(h[i]) {
			worst = i
		}
	}
	return worst
}
