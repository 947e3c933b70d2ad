package metrics

import (
	"testing"
	"time"

	"github.com/ethpandaops/regressoor/pkg/baseline"
	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/ethpandaops/regressoor/pkg/suite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runInProgress))

	m.PairFinished(&suite.PairResult{
		Environment: "staging",
		Suite:       "login",
		Status:      suite.StatusSucceeded,
		Attempts:    1,
		Statistics:  &suite.RunStatistics{Duration: suite.DurationStats{Mean: 120, P95: 150}, SampleSize: 5},
	})
	m.PairFinished(&suite.PairResult{Environment: "staging", Suite: "search", Status: suite.StatusFailed, Attempts: 3})

	m.Classified(&classifier.Result{
		Environment:  "staging",
		Suite:        "login",
		IsRegression: true,
		Severity:     classifier.SeverityCritical,
		Deltas:       &baseline.Comparison{Duration: baseline.DurationDeltas{Mean: 42}},
	})
	m.BaselinesUpdated(1, 2, 0)
	m.RunFinished(RunCompleted, 3*time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.runInProgress))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues(RunCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pairsTotal.WithLabelValues("staging", "search", "failed")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.durationMean.WithLabelValues("staging", "login")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.durationDelta.WithLabelValues("staging", "login")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.regressionsTotal.WithLabelValues("staging", "login", "critical")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.baselineUpdates.WithLabelValues("merged")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNoop(t *testing.T) {
	r := Noop()

	assert.NotPanics(t, func() {
		r.RunStarted()
		r.PairFinished(&suite.PairResult{})
		r.Classified(&classifier.Result{})
		r.BaselinesUpdated(0, 0, 0)
		r.RunFinished(RunErrored, 0)
	})
}
