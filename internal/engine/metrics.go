package engine

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// atomicBool is a tiny wrapper matching the teacher's preference for
// atomic flags over mutex-guarded booleans on the hot path.
type atomicBool struct {
	v atomic.Bool
}

func (b *atomicBool) Load() bool    { return b.v.Load() }
func (b *atomicBool) Store(v bool)  { b.v.Store(v) }

// metricsSet mirrors processor/task-dispatcher's atomic.Int64 counters,
// additionally exposing Prometheus collectors so an operator can register
// them against their own registry; the engine never registers itself
// against a global registry.
type metricsSet struct {
	spawned atomic.Int64
	errored atomic.Int64
	running atomic.Int64

	spawnedCounter prometheus.Counter
	erroredCounter prometheus.Counter
	runningGauge   prometheus.Gauge
}

func newMetricsSet() *metricsSet {
	return &metricsSet{
		spawnedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gorilla_troop_engine_spawned_total",
			Help: "Total agent invocations spawned.",
		}),
		erroredCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gorilla_troop_engine_errored_total",
			Help: "Total agent invocations that ended in status error.",
		}),
		runningGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gorilla_troop_engine_running",
			Help: "Agent invocations currently in status running.",
		}),
	}
}

func (m *metricsSet) incSpawned() {
	m.spawned.Add(1)
	m.spawnedCounter.Inc()
}

func (m *metricsSet) incErrored() {
	m.errored.Add(1)
	m.erroredCounter.Inc()
}

func (m *metricsSet) addRunning(delta int64) {
	m.running.Add(delta)
	m.runningGauge.Add(float64(delta))
}

// Collectors returns the engine's Prometheus collectors for registration
// against an operator-owned registry.
func (e *Engine) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		e.metrics.spawnedCounter,
		e.metrics.erroredCounter,
		e.metrics.runningGauge,
	}
}

// Counts returns a plain snapshot of the engine's internal counters,
// independent of whether Prometheus collectors are registered anywhere.
type Counts struct {
	Spawned int64
	Errored int64
	Running int64
}

func (e *Engine) Counts() Counts {
	return Counts{
		Spawned: e.metrics.spawned.Load(),
		Errored: e.metrics.errored.Load(),
		Running: e.metrics.running.Load(),
	}
}
