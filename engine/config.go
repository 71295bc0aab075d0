package engine

import "time"

// Config holds the engine's tunable parameters.
type Config struct {
	// CleanupInterval is how often stale phase data is purged.
	CleanupInterval time.Duration
	// SyncRetryInterval is the base interval between SyncRequest
	// broadcasts while dormant; actual delay is jittered by up to 50%.
	SyncRetryInterval time.Duration
	// RemoveOlderThanPhases bounds how far behind currentPhase a cached
	// phase may lag before the cleanup loop evicts it.
	RemoveOlderThanPhases uint64
	// MaxPhasesCache bounds the Consensus Manager's bounded LRU.
	MaxPhasesCache int
	// MaxPendingBatches bounds the pending-batch pool.
	MaxPendingBatches int
	// MaxCorrelationMap bounds the client-promise map.
	MaxCorrelationMap int
	// ShutdownTimeout bounds how long Stop waits for the critical
	// worker to drain in-flight work.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns production-oriented defaults; tests shrink the
// intervals.
func DefaultConfig() Config {
	return Config{
		CleanupInterval:       60 * time.Second,
		SyncRetryInterval:     5 * time.Second,
		RemoveOlderThanPhases: 100,
		MaxPhasesCache:        1000,
		MaxPendingBatches:     10000,
		MaxCorrelationMap:     10000,
		ShutdownTimeout:       5 * time.Second,
	}
}
