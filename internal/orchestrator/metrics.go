package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for team-mode DAG execution, under
// the pi_parallel_team namespace.
type Metrics struct {
	NodesTotal       *prometheus.CounterVec
	NodeDuration     *prometheus.HistogramVec
	ReviewIterations prometheus.Histogram
	ActiveNodes      prometheus.Gauge
}

// NewMetrics creates and registers team metrics on reg. Returns nil if
// reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		NodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pi_parallel",
			Subsystem: "team",
			Name:      "nodes_total",
			Help:      "Total team-mode task nodes by final status.",
		}, []string{"status"}),

		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pi_parallel",
			Subsystem: "team",
			Name:      "node_duration_seconds",
			Help:      "Team-mode task node duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),

		ReviewIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pi_parallel",
			Subsystem: "team",
			Name:      "review_iterations",
			Help:      "Number of reviewer iterations consumed per reviewed node.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),

		ActiveNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pi_parallel",
			Subsystem: "team",
			Name:      "active_nodes",
			Help:      "Number of team-mode task nodes currently running.",
		}),
	}

	reg.MustRegister(m.NodesTotal, m.NodeDuration, m.ReviewIterations, m.ActiveNodes)
	return m
}
