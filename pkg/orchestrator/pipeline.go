package orchestrator

import (
	"context"
	"fmt"

	"github.com/ethpandaops/regressoor/pkg/alert"
	"github.com/ethpandaops/regressoor/pkg/baseline"
	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/ethpandaops/regressoor/pkg/report"
	"github.com/ethpandaops/regressoor/pkg/statistics"
	"github.com/ethpandaops/regressoor/pkg/suite"
	"github.com/sirupsen/logrus"
)

const (
	bootstrapAlpha = 0.05
	minDriftPoints = 3
)

// pipeline classifies succeeded pairs, then reports, alerts, updates
// baselines and records history, in that order.
func (o *orchestrator) pipeline(ctx context.Context, log logrus.FieldLogger, rep *RunReport, opts RunOptions) {
	rep.Results = make([]*classifier.Result, 0, len(rep.Pairs))

	for _, pair := range rep.Pairs {
		if !pair.Succeeded() {
			continue
		}

		var thresholds *config.Thresholds
		if s, ok := o.deps.Registry.Get(pair.Suite); ok {
			thresholds = s.Thresholds
		}

		b, _ := o.deps.Baselines.Get(pair.Environment, pair.Suite)

		result := o.deps.Classifier.Classify(pair.Environment, pair.Suite, b, pair.Statistics, thresholds)
		rep.Results = append(rep.Results, result)

		pair.Insights = o.insights(pair, b)

		o.deps.Metrics.Classified(result)
	}

	rep.Analysis = o.deps.Classifier.Analyze(rep.Results)

	// The report is rendered before alerting so alerts can link to it.
	rep.ReportLocation = o.render(ctx, log, rep)

	rep.AlertSent = o.alert(ctx, log, rep)

	switch {
	case opts.SkipBaselineUpdate:
		rep.BaselineSkipReason = "baseline update disabled for this run"
	case rep.Analysis.CriticalRegressions > 0:
		rep.BaselineSkipReason = fmt.Sprintf("%d critical regression(s) detected", rep.Analysis.CriticalRegressions)
	default:
		rep.BaselineUpdate = o.deps.Baselines.Update(ctx, rep.RunID, rep.Pairs)
		o.deps.Metrics.BaselinesUpdated(rep.BaselineUpdate.Created, rep.BaselineUpdate.Merged, rep.BaselineUpdate.Failed)
	}

	if rep.BaselineSkipReason != "" {
		log.WithField("reason", rep.BaselineSkipReason).Warn("Skipping baseline update")
	}

	o.record(ctx, log, rep)
}

func (o *orchestrator) render(ctx context.Context, log logrus.FieldLogger, rep *RunReport) string {
	if o.deps.Reporter == nil {
		return ""
	}

	location, err := o.deps.Reporter.Generate(ctx, o.reportInput(rep))
	if err != nil {
		log.WithError(err).Error("Failed to generate report")

		return ""
	}

	log.WithField("location", location).Info("Report generated")

	return location
}

func (o *orchestrator) reportInput(rep *RunReport) *report.Input {
	return &report.Input{
		RunID:        rep.RunID,
		StartedAt:    rep.StartedAt,
		CompletedAt:  o.now().UTC(),
		Environments: rep.Environments,
		TimedOut:     rep.TimedOut,
		Pairs:        rep.Pairs,
		Results:      rep.Results,
		Analysis:     rep.Analysis,
		Runner:       o.cfg.Runner,
		Thresholds:   o.cfg.Thresholds,
	}
}

// alert dispatches when the run has at least one regression.
func (o *orchestrator) alert(ctx context.Context, log logrus.FieldLogger, rep *RunReport) bool {
	if o.deps.Alerts == nil || rep.Analysis.RegressionCount == 0 {
		return false
	}

	a := &alert.Alert{
		Type:     alert.TypeRegression,
		Severity: rep.Analysis.HighestSeverity(),
		RunID:    rep.RunID,
		Summary: fmt.Sprintf(
			"%d regression(s) detected (%d critical, %d warning) across %d test(s)",
			rep.Analysis.RegressionCount,
			rep.Analysis.CriticalRegressions,
			rep.Analysis.WarningRegressions,
			rep.Analysis.TotalTests,
		),
		Regressions:    rep.Analysis.Regressions,
		Analysis:       rep.Analysis,
		ReportLocation: rep.ReportLocation,
		Timestamp:      o.now().UTC(),
	}

	log.WithField("severity", a.Severity).Info("Dispatching regression alert")

	o.deps.Alerts.SendAlert(ctx, a)

	return true
}

func (o *orchestrator) record(ctx context.Context, log logrus.FieldLogger, rep *RunReport) {
	if o.deps.History == nil {
		return
	}

	run, pairs := history.FromReport(o.reportInput(rep), rep.ReportLocation, rep.BaselineUpdate != nil)

	if err := o.deps.History.RecordRun(ctx, run, pairs); err != nil {
		log.WithError(err).Warn("Failed to record run history")
	}
}

// insights computes outliers, a bootstrap interval for the mean and drift
// against the baseline's recent means. Failures leave fields empty.
func (o *orchestrator) insights(pair *suite.PairResult, b *baseline.Baseline) *suite.Insights {
	durations := pair.SuccessfulDurations()
	extras := o.cfg.Extras
	ins := &suite.Insights{}

	if extras.OutlierMultiplier > 0 {
		if iqr, err := statistics.DetectOutliersIQR(durations, extras.OutlierMultiplier); err == nil {
			ins.OutlierCount = len(iqr.Outliers)

			for _, out := range iqr.Outliers {
				ins.OutlierIndices = append(ins.OutlierIndices, out.Index)
			}
		}
	}

	if extras.BootstrapSamples > 0 && len(durations) > 1 {
		o.rngMu.Lock()
		ci, err := statistics.BootstrapConfidenceInterval(
			durations, statistics.Mean, extras.BootstrapSamples, bootstrapAlpha, o.rng,
		)
		o.rngMu.Unlock()

		if err == nil {
			ins.MeanCILower, ins.MeanCIUpper = &ci.Lower, &ci.Upper
		}
	}

	if b != nil && extras.DriftSigma > 0 {
		ins.Drift, ins.DriftDirection = drift(b, pair.Statistics.Duration.Mean, extras.DriftSigma)
	}

	return ins
}

// drift runs CUSUM over the baseline's historical means followed by the
// current mean, targeting the historical average with a threshold of
// sigma standard deviations.
func drift(b *baseline.Baseline, current, sigma float64) (bool, string) {
	series := make([]float64, 0, len(b.UpdateHistory)+1)
	for _, h := range b.UpdateHistory {
		series = append(series, h.DurationMean)
	}

	if len(series) < minDriftPoints-1 {
		return false, ""
	}

	target, err := statistics.Mean(series)
	if err != nil {
		return false, ""
	}

	sd, err := statistics.StandardDeviation(series)
	if err != nil || sd <= 0 {
		return false, ""
	}

	res, err := statistics.CUSUM(append(series, current), target, sigma*sd)
	if err != nil {
		return false, ""
	}

	last := len(series)
	for _, cp := range res.ChangePoints {
		if cp.Index == last {
			return true, cp.Direction
		}
	}

	return false, ""
}
