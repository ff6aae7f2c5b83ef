// Package metrics exposes Prometheus counters for the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bimmerbailey/prompthakcer/internal/engine"
)

var (
	Optimizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prompthakcer_optimizations_total",
			Help: "Total number of prompts optimized",
		},
		[]string{"level"},
	)

	TokensSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prompthakcer_tokens_saved_total",
			Help: "Estimated tokens removed by optimization",
		},
	)

	RuleApplications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prompthakcer_rule_applications_total",
			Help: "Number of times each rule changed a prompt",
		},
		[]string{"rule"},
	)

	DLPScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prompthakcer_dlp_scans_total",
			Help: "Total number of DLP scans",
		},
		[]string{"result"},
	)

	DLPFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prompthakcer_dlp_matches_total",
			Help: "Sensitive data matches by rule",
		},
		[]string{"rule"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prompthakcer_http_request_duration_seconds",
			Help:    "Time taken to serve API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "code"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prompthakcer_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

// ObserveOptimization records an optimization result.
func ObserveOptimization(level string, res *engine.OptimizationResult) {
	Optimizations.WithLabelValues(level).Inc()
	if res.Stats.TokensSaved > 0 {
		TokensSaved.Add(float64(res.Stats.TokensSaved))
	}
	for _, a := range res.AppliedRules {
		RuleApplications.WithLabelValues(a.ID).Inc()
	}
}

// ObserveScan records a DLP scan.
func ObserveScan(findings engine.Findings) {
	if len(findings) == 0 {
		DLPScans.WithLabelValues("clean").Inc()
		return
	}
	DLPScans.WithLabelValues("blocked").Inc()
	for _, f := range findings {
		DLPFindings.WithLabelValues(f.RuleID).Add(float64(f.MatchCount))
	}
}
