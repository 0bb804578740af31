package persistence

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/metrics"
)

const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

type logMetrics struct {
	writes   *prometheus.CounterVec
	records  prometheus.Counter
	duration prometheus.Histogram
	spilled  prometheus.Counter
	replayed prometheus.Counter
	lost     prometheus.Counter
	pending  prometheus.Gauge
	purged   prometheus.Counter
}

func newLogMetrics(reg prometheus.Registerer) *logMetrics {
	counter := func(name, help string) prometheus.Counter {
		return metrics.MustRegister(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "update_log", Name: name, Help: help,
		}))
	}
	return &logMetrics{
		writes: metrics.MustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "update_log", Name: "writes_total",
			Help: "Update log batch writes by outcome",
		}, []string{"outcome"})),
		records: counter("records_total", "Tag updates written to the update log"),
		duration: metrics.MustRegister(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace, Subsystem: "update_log", Name: "write_duration_seconds",
			Help:    "Time spent writing one batch",
			Buckets: prometheus.DefBuckets,
		})),
		spilled:  counter("fallback_spilled_total", "Records moved to the fallback store after a failed write"),
		replayed: counter("fallback_replayed_total", "Records replayed from the fallback store"),
		lost:     counter("records_lost_total", "Records that could not be written or kept"),
		pending: metrics.MustRegister(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: "update_log", Name: "fallback_pending",
			Help: "Records waiting in the fallback store",
		})),
		purged: counter("purged_total", "Rows removed by the retention purge"),
	}
}
