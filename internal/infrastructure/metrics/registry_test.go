package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_ReturnsExistingCollector(t *testing.T) {
	r := New()

	opts := prometheus.CounterOpts{Namespace: Namespace, Name: "test_total", Help: "test"}
	first := MustRegister(r.Registerer(), prometheus.NewCounter(opts))
	second := MustRegister(r.Registerer(), prometheus.NewCounter(opts))

	first.Inc()
	second.Inc()

	if got := testutil.ToFloat64(first); got != 2 {
		t.Errorf("shared counter = %v, want 2", got)
	}
}

func TestRegister_NilRegisterer(t *testing.T) {
	c, err := Register(nil, prometheus.NewCounter(prometheus.CounterOpts{Name: "x", Help: "x"}))
	if err != nil {
		t.Fatalf("Register(nil) error = %v", err)
	}
	c.Inc()
	if got := testutil.ToFloat64(c); got != 1 {
		t.Errorf("counter = %v, want 1", got)
	}
}

func TestHandler_ExposesRuntimeMetrics(t *testing.T) {
	r := New()
	MustRegister(r.Registerer(), prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Name: "test_gauge", Help: "test",
	})).Set(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"go_goroutines", "graymon_test_gauge 3"} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
