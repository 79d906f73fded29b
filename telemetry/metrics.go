// Package telemetry holds the Prometheus metrics and the OpenTelemetry
// tracer setup of the auth service.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	signIn        *prometheus.CounterVec
	refresh       *prometheus.CounterVec
	signOut       prometheus.Counter
	swept         prometheus.Counter
	sweepFailures prometheus.Counter
	sweepDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_signin_total",
			Help: "Sign-in attempts by result.",
		}, []string{"result"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh attempts by result.",
		}, []string{"result"}),
		signOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_signout_total",
			Help: "Sign-out requests.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_sessions_swept_total",
			Help: "Expired session records removed by the sweeper.",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_sweep_failures_total",
			Help: "Per-user sweep failures.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auth_sweep_duration_seconds",
			Help:    "Duration of one sweep run.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.signIn, m.refresh, m.signOut, m.swept, m.sweepFailures, m.sweepDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SignIn(result string) {
	if m != nil {
		m.signIn.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Refresh(result string) {
	if m != nil {
		m.refresh.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SignOut() {
	if m != nil {
		m.signOut.Inc()
	}
}

func (m *Metrics) Sweep(removed, failed int, took time.Duration) {
	if m == nil {
		return
	}
	m.swept.Add(float64(removed))
	m.sweepFailures.Add(float64(failed))
	m.sweepDuration.Observe(took.Seconds())
}
