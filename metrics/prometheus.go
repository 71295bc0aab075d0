package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rabia"

// Prometheus is a Collector backed by github.com/prometheus/client_golang.
type Prometheus struct {
	phasesStarted   prometheus.Counter
	phasesDecided   prometheus.Counter
	phaseDuration   prometheus.Histogram
	coinFlips       prometheus.Counter
	carriedForward  prometheus.Counter
	commandsApplied prometheus.Counter
	pendingBatches  prometheus.Gauge
	phaseCacheSize  prometheus.Gauge
	syncRequests    prometheus.Counter
	syncCompletions prometheus.Counter
	syncResponses   prometheus.Histogram
}

// NewPrometheus registers the collector's metrics against the given
// registerer (use prometheus.DefaultRegisterer for the global registry).
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		phasesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "phases_started_total",
			Help:      "number of phases the critical worker has started",
		}),
		phasesDecided: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "phases_decided_total",
			Help:      "number of phases that reached a decision",
		}),
		phaseDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "phase_duration_seconds",
			Help:      "time from phase start to decision",
			Buckets:   prometheus.DefBuckets,
		}),
		coinFlips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "coin_flips_total",
			Help:      "number of phases resolved via the deterministic coin flip",
		}),
		carriedForward: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "phases_carried_forward_total",
			Help:      "number of phases that ended without a decision and carried a locked value forward",
		}),
		commandsApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "statemachine",
			Name:      "commands_applied_total",
			Help:      "number of commands applied to the state machine",
		}),
		pendingBatches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "pending_batches",
			Help:      "current size of the pending-batch pool",
		}),
		phaseCacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "phase_cache_size",
			Help:      "current number of entries in the bounded phase cache",
		}),
		syncRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "requests_total",
			Help:      "number of resynchronization requests sent while dormant",
		}),
		syncCompletions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "completions_total",
			Help:      "number of successful resynchronizations",
		}),
		syncResponses: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "responses_considered",
			Help:      "number of SyncResponse candidates considered per completed resync",
			Buckets:   []float64{1, 2, 3, 5, 10},
		}),
	}
}

func (p *Prometheus) PhaseStarted(uint64) {
	p.phasesStarted.Inc()
}

func (p *Prometheus) PhaseDecided(_ uint64, d time.Duration) {
	p.phasesDecided.Inc()
	p.phaseDuration.Observe(d.Seconds())
}

func (p *Prometheus) CoinFlipped(uint64) {
	p.coinFlips.Inc()
}

func (p *Prometheus) PhaseCarriedForward(uint64) {
	p.carriedForward.Inc()
}

func (p *Prometheus) BatchCommitted(commands int) {
	p.commandsApplied.Add(float64(commands))
}

func (p *Prometheus) PendingBatches(n int) {
	p.pendingBatches.Set(float64(n))
}

func (p *Prometheus) PhaseCacheSize(n int) {
	p.phaseCacheSize.Set(float64(n))
}

func (p *Prometheus) SyncRequested() {
	p.syncRequests.Inc()
}

func (p *Prometheus) SyncCompleted(responses int) {
	p.syncCompletions.Inc()
	p.syncResponses.Observe(float64(responses))
}
