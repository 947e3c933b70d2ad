// Package metrics exposes Prometheus metrics about runs, pairs and
// baselines.
package metrics

import (
	"time"

	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/ethpandaops/regressoor/pkg/suite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "regressoor"

// Run outcomes used as label values.
const (
	RunCompleted = "completed"
	RunTimedOut  = "timed_out"
	RunErrored   = "error"
)

// Recorder receives run events. Implementations must be safe for concurrent
// use.
type Recorder interface {
	RunStarted()
	RunFinished(outcome string, elapsed time.Duration)
	PairFinished(p *suite.PairResult)
	Classified(r *classifier.Result)
	BaselinesUpdated(created, merged, failed int)
}

// Metrics is a Recorder backed by a Prometheus registry.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	runInProgress    prometheus.Gauge
	runDuration      prometheus.Histogram
	lastRunTimestamp prometheus.Gauge
	pairsTotal       *prometheus.CounterVec
	pairAttempts     *prometheus.HistogramVec
	durationMean     *prometheus.GaugeVec
	durationP95      *prometheus.GaugeVec
	regressionsTotal *prometheus.CounterVec
	durationDelta    *prometheus.GaugeVec
	baselineUpdates  *prometheus.CounterVec
}

// Ensure interface compliance.
var _ Recorder = (*Metrics)(nil)

// New registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Count of finished runs by outcome.",
		}, []string{"outcome"}),
		runInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "run_in_progress",
			Help:      "1 while a run is executing.",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall clock duration of runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		lastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		pairsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pairs_total",
			Help:      "Count of executed (environment, suite) pairs by status.",
		}, []string{"environment", "suite", "status"}),
		pairAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pair_attempts",
			Help:      "Attempts needed per pair.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"environment"}),
		durationMean: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "duration_mean_milliseconds",
			Help:      "Mean measured duration of the last run.",
		}, []string{"environment", "suite"}),
		durationP95: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "duration_p95_milliseconds",
			Help:      "95th percentile measured duration of the last run.",
		}, []string{"environment", "suite"}),
		regressionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "regressions_total",
			Help:      "Count of detected regressions by severity.",
		}, []string{"environment", "suite", "severity"}),
		durationDelta: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "duration_delta_percent",
			Help:      "Mean duration change against the baseline in the last run.",
		}, []string{"environment", "suite"}),
		baselineUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "baseline_updates_total",
			Help:      "Count of baseline writes by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) RunStarted() {
	m.runInProgress.Set(1)
}

func (m *Metrics) RunFinished(outcome string, elapsed time.Duration) {
	m.runInProgress.Set(0)
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(elapsed.Seconds())
	m.lastRunTimestamp.SetToCurrentTime()
}

func (m *Metrics) PairFinished(p *suite.PairResult) {
	m.pairsTotal.WithLabelValues(p.Environment, p.Suite, string(p.Status)).Inc()
	m.pairAttempts.WithLabelValues(p.Environment).Observe(float64(p.Attempts))

	if p.Succeeded() {
		m.durationMean.WithLabelValues(p.Environment, p.Suite).Set(p.Statistics.Duration.Mean)
		m.durationP95.WithLabelValues(p.Environment, p.Suite).Set(p.Statistics.Duration.P95)
	}
}

func (m *Metrics) Classified(r *classifier.Result) {
	if r.Deltas != nil {
		m.durationDelta.WithLabelValues(r.Environment, r.Suite).Set(r.Deltas.Duration.Mean)
	}

	if r.IsRegression {
		m.regressionsTotal.WithLabelValues(r.Environment, r.Suite, string(r.Severity)).Inc()
	}
}

func (m *Metrics) BaselinesUpdated(created, merged, failed int) {
	m.baselineUpdates.WithLabelValues("created").Add(float64(created))
	m.baselineUpdates.WithLabelValues("merged").Add(float64(merged))
	m.baselineUpdates.WithLabelValues("failed").Add(float64(failed))
}

type noop struct{}

// Noop returns a Recorder that discards everything.
func Noop() Recorder { return noop{} }

func (noop) RunStarted() {}
func (noop) RunFinished(string, time.Duration) {}
func (noop) PairFinished(*suite.PairResult) {}
func (noop) Classified(*classifier.Result) {}
func (noop) BaselinesUpdated(_, _, _ int) {}
