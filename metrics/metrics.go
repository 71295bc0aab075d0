// Package metrics instruments the consensus core: a narrow interface the
// engine depends on, a no-op implementation for tests, and a
// prometheus/client_golang implementation for production wiring.
package metrics

import "time"

// Collector is the metrics surface the engine and its collaborators
// report through.
type Collector interface {
	// PhaseStarted records that the critical worker began a new phase.
	PhaseStarted(phase uint64)
	// PhaseDecided records that a phase reached a decision, along with
	// the wall-clock time the phase took from start to decision.
	PhaseDecided(phase uint64, duration time.Duration)
	// CoinFlipped records a deterministic coin-flip fallback, the event
	// that most distinguishes Rabia's liveness path from a leader-based
	// protocol.
	CoinFlipped(phase uint64)
	// PhaseCarriedForward records a phase that ended without a decision,
	// its locked value carried into the successor phase.
	PhaseCarriedForward(phase uint64)
	// BatchCommitted records a committed batch's command count.
	BatchCommitted(commands int)
	// PendingBatches reports the current size of the pending-batch pool.
	PendingBatches(n int)
	// PhaseCacheSize reports the current size of the bounded phase
	// cache.
	PhaseCacheSize(n int)
	// SyncRequested records an outbound resynchronization attempt made
	// while dormant.
	SyncRequested()
	// SyncCompleted records a successful resynchronization, along with
	// how many candidate SyncResponses were considered.
	SyncCompleted(responses int)
}
