// Package metrics wires together the Prometheus registry shared across
// pi-parallel's subsystems, under the pi_parallel namespace.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkaninda/pi-parallel/internal/orchestrator"
)

// Registry bundles the process-wide Prometheus registry with the
// per-subsystem metric sets that register against it.
type Registry struct {
	Prometheus *prometheus.Registry
	Dispatch   *DispatchMetrics
	Team       *orchestrator.Metrics
}

// DispatchMetrics holds Prometheus metrics for the mode dispatcher,
// under the pi_parallel_dispatch namespace.
type DispatchMetrics struct {
	RunsTotal       *prometheus.CounterVec
	DurationSeconds *prometheus.HistogramVec
}

// NewDispatchMetrics creates and registers dispatch metrics on reg.
// Returns nil if reg is nil.
func NewDispatchMetrics(reg *prometheus.Registry) *DispatchMetrics {
	if reg == nil {
		return nil
	}

	m := &DispatchMetrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pi_parallel",
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Total dispatcher invocations by mode and outcome.",
		}, []string{"mode", "outcome"}),

		DurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pi_parallel",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Dispatcher call duration in seconds, by mode.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
	}

	reg.MustRegister(m.RunsTotal, m.DurationSeconds)
	return m
}

// New creates a fresh Prometheus registry with the Go and process
// collectors plus every subsystem's metrics registered on it.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Registry{
		Prometheus: reg,
		Dispatch:   NewDispatchMetrics(reg),
		Team:       orchestrator.NewMetrics(reg),
	}
}

// Handler returns the HTTP handler serving the registry's metrics in
// the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Prometheus, promhttp.HandlerOpts{})
}
