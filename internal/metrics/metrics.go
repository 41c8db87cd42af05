// Package metrics holds the Prometheus collectors for the trust engine.
package metrics

import (
	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomtrust"

// Metrics groups the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Changes      *prometheus.CounterVec
	Conflicts    prometheus.Counter
	Failures     prometheus.Counter
	SweepBonuses prometheus.Counter
	Scores       prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_changes_total",
			Help:      "Committed trust score changes by action.",
		}, []string{"action"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_tx_conflicts_total",
			Help:      "Optimistic transaction conflicts that were retried.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_tx_failures_total",
			Help:      "Trust transactions that failed terminally.",
		}),
		SweepBonuses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_sweep_bonuses_total",
			Help:      "Consistency bonuses applied by the weekly sweep.",
		}),
		Scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trust_score_applied",
			Help:      "Scores written by committed changes.",
			Buckets:   []float64{0, 30, 70, 100, 125, 150},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Changes, m.Conflicts, m.Failures, m.SweepBonuses, m.Scores)
	}
	return m
}

// ObserveChange records a committed change.
func (m *Metrics) ObserveChange(action trust.ActionType, score int) {
	if m == nil {
		return
	}
	m.Changes.WithLabelValues(string(action)).Inc()
	m.Scores.Observe(float64(score))
}

// IncConflict records a retried conflict.
func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

// IncFailure records a terminal transaction failure.
func (m *Metrics) IncFailure() {
	if m == nil {
		return
	}
	m.Failures.Inc()
}

// AddSweepBonuses records n sweep bonuses.
func (m *Metrics) AddSweepBonuses(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SweepBonuses.Add(float64(n))
}
