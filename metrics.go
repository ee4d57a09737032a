package apmz

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "apmz"

// metrics holds the tracer's diagnostic counters.
// The counters work unregistered; WithRegisterer exposes them.
type metrics struct {
	started        *prometheus.CounterVec
	ended          *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	handlerPanics  prometheus.Counter
	pool           []prometheus.Collector

	// Resolved series for the hot path, indexed by kind then outcome.
	startedBy [2]prometheus.Counter
	endedBy   [2][3]prometheus.Counter
}

func newMetrics(t *Tracer) *metrics {
	m := &metrics{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "spans",
			Name:      "started_total",
			Help:      "The number of spans and transactions created",
		}, []string{"kind"}),
		ended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "spans",
			Name:      "ended_total",
			Help:      "The number of spans and transactions ended, by outcome",
		}, []string{"kind", "outcome"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "spans",
			Name:      "protocol_errors_total",
			Help:      "The number of activation protocol violations tolerated",
		}, []string{"kind"}),
		handlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reporter",
			Name:      "handler_panics_total",
			Help:      "The number of span handlers that panicked",
		}),
	}

	poolCounter := func(name, help string, read func(PoolStats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(read(t.spans.Stats()))
		})
	}
	m.pool = []prometheus.Collector{
		poolCounter("acquired_total", "Spans taken from the pool",
			func(s PoolStats) uint64 { return s.Acquired }),
		poolCounter("released_total", "Spans returned to the pool",
			func(s PoolStats) uint64 { return s.Released }),
		poolCounter("allocated_total", "Spans allocated because the pool was empty",
			func(s PoolStats) uint64 { return s.Allocated }),
		poolCounter("discarded_total", "Spans left to the GC because the pool was full",
			func(s PoolStats) uint64 { return s.Discarded }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reporter",
			Name:      "dropped_total",
			Help:      "Span records dropped because the worker queue was full",
		}, func() float64 {
			return float64(t.droppedSpans.Load())
		}),
	}

	for k, kind := range kindNames {
		m.startedBy[k] = m.started.WithLabelValues(kind)
		for o := OutcomeUnknown; o <= OutcomeFailure; o++ {
			m.endedBy[k][o] = m.ended.WithLabelValues(kind, o.String())
		}
	}

	// Pre-create the well-known series so they export as zero.
	for _, kind := range []string{"no_stack", "already_active", "not_on_stack", "not_top", "still_active", "already_ended", "not_ended", "hook_panic", "invalid_outcome"} {
		m.protocolErrors.WithLabelValues(kind).Add(0)
	}
	return m
}

var kindNames = [2]string{"span", "transaction"}

func kindIndex(transaction bool) int {
	if transaction {
		return 1
	}
	return 0
}

func (m *metrics) spanStarted(transaction bool) {
	m.startedBy[kindIndex(transaction)].Inc()
}

func (m *metrics) spanEnded(transaction bool, outcome Outcome) {
	if outcome > OutcomeFailure {
		outcome = OutcomeUnknown
	}
	m.endedBy[kindIndex(transaction)][outcome].Inc()
}

func (m *metrics) collectors() []prometheus.Collector {
	return append([]prometheus.Collector{m.started, m.ended, m.protocolErrors, m.handlerPanics}, m.pool...)
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
