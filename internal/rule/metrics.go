package rule

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/metrics"
)

// Evaluation outcomes recorded in graymon_rule_evaluations_total.
const (
	outcomeOK            = "ok"
	outcomeUninitialised = "uninitialised"
	outcomeInvalidInput  = "invalid_input"
	outcomeFailed        = "failed"
	outcomeTimeout       = "timeout"
)

type engineMetrics struct {
	evaluations   *prometheus.CounterVec
	duration      prometheus.Histogram
	collapsed     prometheus.Counter
	depthExceeded prometheus.Counter
	dropped       prometheus.Counter
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	return &engineMetrics{
		evaluations: metrics.MustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "rule", Name: "evaluations_total",
			Help: "Rule evaluations by outcome",
		}, []string{"outcome"})),
		duration: metrics.MustRegister(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace, Subsystem: "rule", Name: "evaluation_duration_seconds",
			Help:    "Time spent evaluating one rule",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		})),
		collapsed: metrics.MustRegister(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "rule", Name: "debounce_collapsed_total",
			Help: "Evaluation requests merged into an already pending request",
		})),
		depthExceeded: metrics.MustRegister(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "rule", Name: "depth_exceeded_total",
			Help: "Evaluation requests dropped for exceeding the chain depth limit",
		})),
		dropped: metrics.MustRegister(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "rule", Name: "requests_dropped_total",
			Help: "Evaluation requests dropped because the worker queue was full",
		})),
	}
}
