package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bimmerbailey/prompthakcer/internal/engine"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, Optimizations)
	assert.NotNil(t, TokensSaved)
	assert.NotNil(t, RuleApplications)
	assert.NotNil(t, DLPScans)
	assert.NotNil(t, DLPFindings)
	assert.NotNil(t, RequestDuration)
	assert.NotNil(t, RateLimited)
}

func TestObserveOptimization(t *testing.T) {
	before := counterValue(t, Optimizations.WithLabelValues("heavy"))
	tokensBefore := counterValue(t, TokensSaved)

	ObserveOptimization("heavy", &engine.OptimizationResult{
		AppliedRules: []engine.AppliedRule{{ID: "metrics-test-rule"}},
		Stats:        engine.Stats{TokensSaved: 4},
	})
	ObserveOptimization("heavy", &engine.OptimizationResult{Stats: engine.Stats{TokensSaved: -2}})

	assert.Equal(t, before+2, counterValue(t, Optimizations.WithLabelValues("heavy")))
	assert.Equal(t, tokensBefore+4, counterValue(t, TokensSaved), "negative savings are not counted")
	assert.Equal(t, 1.0, counterValue(t, RuleApplications.WithLabelValues("metrics-test-rule")))
}

func TestObserveScan(t *testing.T) {
	clean := counterValue(t, DLPScans.WithLabelValues("clean"))
	blocked := counterValue(t, DLPScans.WithLabelValues("blocked"))

	ObserveScan(nil)
	ObserveScan(engine.Findings{{RuleID: "metrics-test-dlp", MatchCount: 3}})

	assert.Equal(t, clean+1, counterValue(t, DLPScans.WithLabelValues("clean")))
	assert.Equal(t, blocked+1, counterValue(t, DLPScans.WithLabelValues("blocked")))
	assert.Equal(t, 3.0, counterValue(t, DLPFindings.WithLabelValues("metrics-test-dlp")))
}
