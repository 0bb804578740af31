package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/metrics"
)

// Update outcomes recorded in graymon_cache_updates_total.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeUnchanged = "unchanged"
)

// Metrics holds the collectors shared by every store of a process.
// Stores label their series with their family name.
type Metrics struct {
	updates         *prometheus.CounterVec
	entries         *prometheus.GaugeVec
	listenerDropped *prometheus.CounterVec
	listenerPanics  *prometheus.CounterVec
	batchSize       *prometheus.HistogramVec
}

// NewMetrics registers the cache collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		updates: metrics.MustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "cache", Name: "updates_total",
			Help: "Cache writes by family and outcome",
		}, []string{"family", "outcome"})),
		entries: metrics.MustRegister(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: "cache", Name: "entries",
			Help: "Number of cached entities by family",
		}, []string{"family"})),
		listenerDropped: metrics.MustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "cache", Name: "listener_dropped_total",
			Help: "Events dropped by buffered listeners with a full queue",
		}, []string{"family", "listener"})),
		listenerPanics: metrics.MustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "cache", Name: "listener_panics_total",
			Help: "Listener callbacks that panicked",
		}, []string{"family"})),
		batchSize: metrics.MustRegister(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metrics.Namespace, Subsystem: "cache", Name: "listener_batch_size",
			Help:    "Events per buffered listener batch after coalescing",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"family", "listener"})),
	}
}

// storeMetrics are the family-bound series of one store. Every method is a
// no-op on a nil receiver so stores built without metrics need no checks.
type storeMetrics struct {
	m      *Metrics
	family string
}

func (s *storeMetrics) update(outcome string) {
	if s == nil {
		return
	}
	s.m.updates.WithLabelValues(s.family, outcome).Inc()
}

func (s *storeMetrics) size(n int) {
	if s == nil {
		return
	}
	s.m.entries.WithLabelValues(s.family).Set(float64(n))
}

func (s *storeMetrics) dropped(listener string) {
	if s == nil {
		return
	}
	s.m.listenerDropped.WithLabelValues(s.family, listener).Inc()
}

func (s *storeMetrics) panicked() {
	if s == nil {
		return
	}
	s.m.listenerPanics.WithLabelValues(s.family).Inc()
}

func (s *storeMetrics) batch(listener string, n int) {
	if s == nil {
		return
	}
	s.m.batchSize.WithLabelValues(s.family, listener).Observe(float64(n))
}
