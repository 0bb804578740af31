// Package metrics owns the Prometheus registry of Gray Logic Monitor.
//
// One Registry is created in main and handed to every component that
// exports metrics. The default global registry is never used, so tests can
// build isolated registries and assert on them with prometheus/testutil.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric exported by the monitor.
const Namespace = "graymon"

// Registry wraps a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry
}

// New creates a registry with Go runtime and process collectors attached.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{reg: reg}
}

// Registerer returns the registerer components register their collectors with.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// Gatherer returns the gatherer backing the exposition handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns the /metrics exposition handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Register registers c with reg and returns the collector to use.
//
// When an identical collector is already registered the existing one is
// returned, so two components asking for the same metric share it.
// A nil reg leaves c unregistered and returns it unchanged.
func Register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if reg == nil {
		return c, nil
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// MustRegister is Register that panics on conflict. It is meant for
// constructors wiring fixed metric sets.
func MustRegister[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	out, err := Register(reg, c)
	if err != nil {
		panic(err)
	}
	return out
}
