package history

import (
	"strings"
	"time"

	"github.com/ethpandaops/regressoor/pkg/report"
)

// Run is one recorded orchestrator run.
type Run struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	RunID       string    `gorm:"not null;uniqueIndex" json:"run_id"`
	StartedAt   time.Time `gorm:"index" json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	// Environments is a comma separated list.
	Environments string `json:"environments"`
	TimedOut     bool   `json:"timed_out"`

	// Denormalized analysis counts.
	TotalTests          int `json:"total_tests"`
	PairsFailed         int `json:"pairs_failed"`
	RegressionCount     int `json:"regression_count"`
	CriticalRegressions int `json:"critical_regressions"`
	WarningRegressions  int `json:"warning_regressions"`
	ImprovementCount    int `json:"improvement_count"`

	BaselineUpdated bool   `json:"baseline_updated"`
	ReportLocation  string `json:"report_location,omitempty"`

	RecordedAt time.Time `json:"recorded_at"`
}

// Pair is the outcome of one (environment, suite) pair in a run.
type Pair struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	RunID       string `gorm:"not null;uniqueIndex:idx_pairs_run_env_suite" json:"run_id"`
	Environment string `gorm:"not null;uniqueIndex:idx_pairs_run_env_suite;index:idx_pairs_env_suite" json:"environment"`
	Suite       string `gorm:"not null;uniqueIndex:idx_pairs_run_env_suite;index:idx_pairs_env_suite" json:"suite"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	Error       string `gorm:"type:text" json:"error,omitempty"`

	SampleSize   int     `json:"sample_size"`
	DurationMean float64 `json:"duration_mean"`
	DurationP95  float64 `json:"duration_p95"`
	HeapMean     float64 `json:"heap_mean"`
	ErrorRate    float64 `json:"error_rate"`

	Severity        string  `json:"severity,omitempty"`
	IsRegression    bool    `json:"is_regression"`
	IsImprovement   bool    `json:"is_improvement"`
	DurationDelta   float64 `json:"duration_delta"`
	ConfidenceLevel string  `json:"confidence_level,omitempty"`
	Downgraded      bool    `json:"downgraded"`

	CompletedAt time.Time `json:"completed_at"`
}

// FromReport converts a run report into history rows.
func FromReport(in *report.Input, location string, baselineUpdated bool) (*Run, []*Pair) {
	run := &Run{
		RunID:           in.RunID,
		StartedAt:       in.StartedAt,
		CompletedAt:     in.CompletedAt,
		TimedOut:        in.TimedOut,
		TotalTests:      len(in.Pairs),
		BaselineUpdated: baselineUpdated,
		ReportLocation:  location,
		Environments:    strings.Join(in.Environments, ","),
	}

	if in.Analysis != nil {
		run.RegressionCount = in.Analysis.RegressionCount
		run.CriticalRegressions = in.Analysis.CriticalRegressions
		run.WarningRegressions = in.Analysis.WarningRegressions
		run.ImprovementCount = in.Analysis.ImprovementCount
	}

	type pairKey struct{ env, suite string }

	verdicts := make(map[pairKey]int, len(in.Results))
	for i, r := range in.Results {
		verdicts[pairKey{r.Environment, r.Suite}] = i
	}

	pairs := make([]*Pair, 0, len(in.Pairs))

	for _, p := range in.Pairs {
		row := &Pair{
			RunID:       in.RunID,
			Environment: p.Environment,
			Suite:       p.Suite,
			Status:      string(p.Status),
			Attempts:    p.Attempts,
			Error:       p.Error,
			CompletedAt: p.CompletedAt,
		}

		if !p.Succeeded() {
			run.PairsFailed++
			pairs = append(pairs, row)

			continue
		}

		row.SampleSize = p.Statistics.SampleSize
		row.DurationMean = p.Statistics.Duration.Mean
		row.DurationP95 = p.Statistics.Duration.P95
		row.HeapMean = p.Statistics.Memory.Heap.Mean
		row.ErrorRate = p.Statistics.ErrorRate

		if i, ok := verdicts[pairKey{p.Environment, p.Suite}]; ok {
			r := in.Results[i]
			row.Severity = string(r.Severity)
			row.IsRegression = r.IsRegression
			row.IsImprovement = r.IsImprovement
			row.ConfidenceLevel = r.Confidence.Level
			row.Downgraded = r.Downgraded

			if r.Deltas != nil {
				row.DurationDelta = r.Deltas.Duration.Mean
			}
		}

		pairs = append(pairs, row)
	}

	return run, pairs
}
