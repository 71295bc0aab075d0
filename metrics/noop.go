package metrics

import "time"

// NoOp is a Collector that discards everything; it is the default when
// no metrics backend is configured, so observability wiring is never
// load-bearing.
type NoOp struct{}

func (NoOp) PhaseStarted(uint64)                {}
func (NoOp) PhaseDecided(uint64, time.Duration) {}
func (NoOp) CoinFlipped(uint64)                 {}
func (NoOp) PhaseCarriedForward(uint64)         {}
func (NoOp) BatchCommitted(int)                 {}
func (NoOp) PendingBatches(int)                 {}
func (NoOp) PhaseCacheSize(int)                 {}
func (NoOp) SyncRequested()                     {}
func (NoOp) SyncCompleted(int)                  {}
