// Package metrics holds the engine's Prometheus collectors. DependencyUnavailable
// recoveries must be observable, so the fail-open counter is the one metric
// operators are expected to alert on.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all Prometheus metrics for the risk engine
type Metrics struct {
	Decisions          *prometheus.CounterVec
	FailOpen           *prometheus.CounterVec
	DirectoryHits      *prometheus.CounterVec
	LimitBreaches      *prometheus.CounterVec
	SuspiciousFlags    prometheus.Counter
	CasesOpened        *prometheus.CounterVec
	AnalysisDuration   prometheus.Histogram
	RiskScores         prometheus.Histogram
	DirectoryCacheMiss prometheus.Counter
}

// New creates the engine's metrics and registers them on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "riskengine",
				Name:      "decisions_total",
				Help:      "Transaction analysis decisions by outcome",
			},
			[]string{"decision"},
		),
		FailOpen: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "riskengine",
				Name:      "fail_open_total",
				Help:      "Analyses that completed through the fail-open path, by failing dependency",
			},
			[]string{"dependency"},
		),
		DirectoryHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "riskengine",
				Name:      "directory_hits_total",
				Help:      "Blacklist hits during analysis, by severity",
			},
			[]string{"severity"},
		),
		LimitBreaches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "riskengine",
				Name:      "limit_breaches_total",
				Help:      "Limit check rejections by breached period",
			},
			[]string{"period"},
		),
		SuspiciousFlags: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "riskengine",
				Name:      "suspicious_flags_total",
				Help:      "Transactions flagged by the pattern detector",
			},
		),
		CasesOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "riskengine",
				Name:      "cases_opened_total",
				Help:      "Investigation cases opened, by case type",
			},
			[]string{"case_type"},
		),
		AnalysisDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "riskengine",
				Name:      "analysis_duration_seconds",
				Help:      "Wall time of a full transaction analysis",
				Buckets:   prometheus.DefBuckets,
			},
		),
		RiskScores: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "riskengine",
				Name:      "risk_scores",
				Help:      "Distribution of computed risk scores",
				Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 85, 100},
			},
		),
		DirectoryCacheMiss: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "riskengine",
				Name:      "directory_cache_misses_total",
				Help:      "Directory lookups that missed the TTL cache",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.Decisions,
			m.FailOpen,
			m.DirectoryHits,
			m.LimitBreaches,
			m.SuspiciousFlags,
			m.CasesOpened,
			m.AnalysisDuration,
			m.RiskScores,
			m.DirectoryCacheMiss,
		)
	}
	return m
}

// NewNop creates unregistered metrics for tests.
func NewNop() *Metrics { return New(nil) }
