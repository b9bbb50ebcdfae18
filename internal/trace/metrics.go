package trace

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus metrics exported for analysis runs.
type Metrics struct {
	// Phase lifecycle
	PhasesTotal   *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec

	// Run lifecycle
	RunsTotal      *prometheus.CounterVec
	ActiveSessions prometheus.Gauge

	// Output volume
	InsightsTotal prometheus.Counter
}

// NewMetrics creates and registers the run metrics.
//
// Registration happens once per process; repeated calls return the same
// set, which avoids duplicate-collector panics when several components
// construct a tracer.
//
// Metrics:
//   - insightd_phases_total{phase,status} - phase completions by outcome
//   - insightd_phase_duration_seconds{phase} - phase wall time
//   - insightd_runs_total{status} - finished runs by outcome
//   - insightd_sessions_active - runs currently in flight
//   - insightd_insights_total - insights committed across all runs
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			PhasesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "insightd_phases_total",
					Help: "Total number of completed analysis phases",
				},
				[]string{"phase", "status"}, // status: "ok" or "error"
			),

			PhaseDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "insightd_phase_duration_seconds",
					Help:    "Wall time spent in each analysis phase",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
				},
				[]string{"phase"},
			),

			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "insightd_runs_total",
					Help: "Total number of finished analysis runs",
				},
				[]string{"status"}, // "committed" or "failed"
			),

			ActiveSessions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "insightd_sessions_active",
					Help: "Number of analysis runs currently in flight",
				},
			),

			InsightsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "insightd_insights_total",
					Help: "Total number of insights produced by committed runs",
				},
			),
		}
	})

	return globalMetrics
}

// RecordPhase records one finished phase with its outcome and duration.
func (m *Metrics) RecordPhase(phase, status string, seconds float64) {
	m.PhasesTotal.WithLabelValues(phase, status).Inc()
	m.PhaseDuration.WithLabelValues(phase).Observe(seconds)
}

// RunStarted marks a run entering flight.
func (m *Metrics) RunStarted() {
	m.ActiveSessions.Inc()
}

// RunFinished marks a run leaving flight with its final status.
func (m *Metrics) RunFinished(status string, insights int) {
	m.ActiveSessions.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
	if insights > 0 {
		m.InsightsTotal.Add(float64(insights))
	}
}
