// Package metrics exposes Prometheus collectors for the remote
// configuration poll loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Poll result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics bundles the poll-loop collectors. A nil *Metrics is valid and
// turns every observation into a no-op.
type Metrics struct {
	Polls          *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	AppliedConfigs prometheus.Gauge
	FailureStreak  prometheus.Gauge
}

// New creates and registers the collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rcagent",
			Name:      "polls_total",
			Help:      "Remote configuration poll cycles by result.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rcagent",
			Name:      "poll_duration_seconds",
			Help:      "Duration of remote configuration poll cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		AppliedConfigs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rcagent",
			Name:      "applied_configs",
			Help:      "Number of currently applied configurations.",
		}),
		FailureStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rcagent",
			Name:      "poll_failure_streak",
			Help:      "Consecutive failed poll cycles.",
		}),
	}
	reg.MustRegister(m.Polls, m.CycleDuration, m.AppliedConfigs, m.FailureStreak)
	return m
}

// ObservePoll records one completed poll cycle.
func (m *Metrics) ObservePoll(success bool, seconds float64, applied, streak int) {
	if m == nil {
		return
	}
	result := ResultFailure
	if success {
		result = ResultSuccess
	}
	m.Polls.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(seconds)
	m.AppliedConfigs.Set(float64(applied))
	m.FailureStreak.Set(float64(streak))
}
