// Package executor provides the engine's scheduling model: a single
// serialized worker for ordering-critical protocol state transitions,
// plus a shared parallel pool for fast-path and deferred work.
package executor

import (
	"sync"
	"time"
)

// Unit serializes ordering-critical work behind a mutex (Do) while
// letting fast-path work run concurrently on a shared pool (Launch). It
// has no internal goroutine of its own; Do's caller's goroutine performs
// the critical work directly, one caller at a time. There is no queue:
// callers blocked in Do at the same time are admitted in no defined
// order.
type Unit struct {
	criticalMu sync.Mutex
	wg         sync.WaitGroup

	readyOnce sync.Once
	readyCh   chan struct{}

	doneOnce sync.Once
	doneCh   chan struct{}

	quitOnce sync.Once
	quitCh   chan struct{}
}

// New creates a Unit in the not-yet-ready state.
func New() *Unit {
	return &Unit{
		readyCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		quitCh:  make(chan struct{}),
	}
}

// Do runs f serialized with every other Do call on this Unit, and
// returns f's error. Serialization is a plain sync.Mutex, which keeps
// fine-grained locking out of the protocol hot path; it does not order
// concurrent callers by arrival (no FIFO guarantee).
func (u *Unit) Do(f func() error) error {
	u.criticalMu.Lock()
	defer u.criticalMu.Unlock()
	return f()
}

// Launch fires f on the shared parallel pool, tracked so Done() can wait
// for it to finish draining. Launch never blocks the caller.
func (u *Unit) Launch(f func()) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		f()
	}()
}

// Ready marks the Unit ready the first time it is called and returns a
// channel that is already closed on every subsequent call.
func (u *Unit) Ready() <-chan struct{} {
	u.readyOnce.Do(func() {
		close(u.readyCh)
	})
	return u.readyCh
}

// Quit returns a channel that is closed when shutdown begins, for use in
// periodic-task select loops.
func (u *Unit) Quit() <-chan struct{} {
	return u.quitCh
}

// Done signals shutdown (closing Quit), waits up to timeout for
// in-flight Launch'd work and any running Do call to drain, and then
// marks the Unit done regardless of whether the drain completed. Callers
// choose the bound; Done itself has no opinion on the duration.
func (u *Unit) Done(timeout time.Duration) <-chan struct{} {
	u.quitOnce.Do(func() {
		close(u.quitCh)
	})
	u.doneOnce.Do(func() {
		go func() {
			drained := make(chan struct{})
			go func() {
				u.wg.Wait()
				u.criticalMu.Lock()
				u.criticalMu.Unlock()
				close(drained)
			}()
			select {
			case <-drained:
			case <-time.After(timeout):
			}
			close(u.doneCh)
		}()
	})
	return u.doneCh
}
