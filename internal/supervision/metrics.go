package supervision

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/metrics"
)

type managerMetrics struct {
	transitions    *prometheus.CounterVec
	aliveRejected  *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	sweepsSkipped  prometheus.Counter
	signalsDropped prometheus.Counter
}

func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	return &managerMetrics{
		transitions: metrics.MustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "supervision", Name: "transitions_total",
			Help: "Status transitions by family and target status",
		}, []string{"family", "status"})),
		aliveRejected: metrics.MustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "supervision", Name: "alive_rejected_total",
			Help: "Alive signals ignored for being older than the rejection window",
		}, []string{"family"})),
		sweepDuration: metrics.MustRegister(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace, Subsystem: "supervision", Name: "sweep_duration_seconds",
			Help:    "Duration of one alive timer sweep",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		})),
		sweepsSkipped: metrics.MustRegister(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "supervision", Name: "sweeps_skipped_total",
			Help: "Sweep ticks skipped because the previous sweep was still running",
		})),
		signalsDropped: metrics.MustRegister(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "supervision", Name: "signals_dropped_total",
			Help: "Tag ownership signals dropped because the manager queue was full",
		})),
	}
}
