package mempool

import (
	"sync"

	"github.com/rabia-go/rabia/model"
	"github.com/rabia-go/rabia/statemachine"
)

// DefaultMaxCorrelationMap is the default client-promise map capacity.
const DefaultMaxCorrelationMap = 10000

// Promise is the completion handle a client submission resolves through:
// a oneshot channel carrying the per-command results or an error.
type Promise struct {
	ch chan promiseResult
}

type promiseResult struct {
	results []statemachine.Result
	err     error
}

func newPromise() *Promise {
	return &Promise{ch: make(chan promiseResult, 1)}
}

// Wait blocks until the promise resolves and returns its outcome. It is a
// plain channel receive, so callers that want a timeout select on Done()
// alongside their own timer and call Wait once Done has closed.
func (p *Promise) Wait() ([]statemachine.Result, error) {
	r := <-p.ch
	p.ch <- r
	return r.results, r.err
}

// Done returns a channel, for use in a select statement, that closes once
// the promise resolves. The outcome stays available to Wait.
func (p *Promise) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		r := <-p.ch
		p.ch <- r
		close(done)
	}()
	return done
}

func (p *Promise) resolve(results []statemachine.Result, err error) {
	select {
	case p.ch <- promiseResult{results: results, err: err}:
	default:
		// Already resolved; resolution is a one-shot event.
	}
}

// Promises is a bounded map from CorrelationID to the Promise the
// submitting client is waiting on.
type Promises struct {
	mu       sync.Mutex
	byCorr   map[model.CorrelationID]*Promise
	capacity int
}

// NewPromises creates a Promises map with the given capacity
// (DefaultMaxCorrelationMap if capacity <= 0).
func NewPromises(capacity int) *Promises {
	if capacity <= 0 {
		capacity = DefaultMaxCorrelationMap
	}
	return &Promises{
		byCorr:   make(map[model.CorrelationID]*Promise),
		capacity: capacity,
	}
}

// Register creates and stores a new Promise for corr, unless the map is
// at capacity, in which case the caller gets a promise that is never
// tracked (and therefore will not be resolved by Resolve); callers
// should treat a full map as "cannot guarantee a local response" and log
// accordingly. Duplicate registration for an in-flight correlation ID
// returns the existing promise.
func (p *Promises) Register(corr model.CorrelationID) *Promise {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.byCorr[corr]; ok {
		return existing
	}
	pr := newPromise()
	if len(p.byCorr) < p.capacity {
		p.byCorr[corr] = pr
	}
	return pr
}

// Resolve delivers results/err to the promise registered under corr, if
// any, and removes it from the map. Cancellation (a client that stopped
// waiting) is implicit: resolving an untracked or already-removed
// correlation ID is a harmless no-op.
func (p *Promises) Resolve(corr model.CorrelationID, results []statemachine.Result, err error) {
	p.mu.Lock()
	pr, ok := p.byCorr[corr]
	if ok {
		delete(p.byCorr, corr)
	}
	p.mu.Unlock()
	if ok {
		pr.resolve(results, err)
	}
}

// FailAll resolves every outstanding promise with err, used when the
// engine stops with commands still in flight.
func (p *Promises) FailAll(err error) {
	p.mu.Lock()
	pending := p.byCorr
	p.byCorr = make(map[model.CorrelationID]*Promise)
	p.mu.Unlock()
	for _, pr := range pending {
		pr.resolve(nil, err)
	}
}
