// Package telemetry exposes Prometheus collectors for backtest runs.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backtest outcomes.
const (
	OutcomeScored              = "scored"
	OutcomeEmptyCandidates     = "empty_candidates"
	OutcomeInsufficientHistory = "insufficient_history"
	OutcomeFailed              = "failed"
	OutcomeCancelled           = "cancelled"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	backtests     *prometheus.CounterVec
	closeFailures *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	users         *prometheus.CounterVec
	meanAPK       *prometheus.GaugeVec
}

// New creates collectors registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		backtests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recbench_backtests_total",
			Help: "Per-user, per-horizon backtests by outcome.",
		}, []string{"model", "outcome"}),
		closeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recbench_strategy_close_failures_total",
			Help: "Strategies that failed to release their resources.",
		}, []string{"model"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recbench_backtest_duration_seconds",
			Help:    "Wall time of a single backtest.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"model"}),
		users: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recbench_users_evaluated_total",
			Help: "Users evaluated by the population evaluator.",
		}, []string{"model"}),
		meanAPK: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recbench_mean_average_precision",
			Help: "Population mean average precision at k of the last pass.",
		}, []string{"model"}),
	}
	m.registry.MustRegister(m.backtests, m.closeFailures, m.duration, m.users, m.meanAPK)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveBacktest(model, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.backtests.WithLabelValues(model, outcome).Inc()
	m.duration.WithLabelValues(model).Observe(elapsed.Seconds())
}

func (m *Metrics) StrategyCloseFailed(model string) {
	if m == nil {
		return
	}
	m.closeFailures.WithLabelValues(model).Inc()
}

func (m *Metrics) UserEvaluated(model string) {
	if m == nil {
		return
	}
	m.users.WithLabelValues(model).Inc()
}

func (m *Metrics) SetMeanAPK(model string, v float64) {
	if m == nil {
		return
	}
	m.meanAPK.WithLabelValues(model).Set(v)
}
