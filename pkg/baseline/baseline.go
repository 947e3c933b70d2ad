// Package baseline maintains the historical performance expectation for
// every (environment, suite) pair and compares fresh runs against it.
package baseline

import (
	"math"
	"time"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/suite"
)

// Update reasons recorded in a baseline's history.
const (
	ReasonFirstRun = "first_run"
	ReasonMerge    = "merge"
)

// maxHistoryEntries bounds UpdateHistory.
const maxHistoryEntries = 10

// Baseline is the aggregate of every merged run for one pair.
type Baseline struct {
	Environment   string              `json:"environment"`
	Suite         string              `json:"suite"`
	Statistics    suite.RunStatistics `json:"statistics"`
	SampleSize    int                 `json:"sample_size"`
	Created       time.Time           `json:"created"`
	LastUpdated   time.Time           `json:"last_updated"`
	UpdateHistory []HistoryEntry      `json:"update_history"`
	Version       int                 `json:"version"`
	Metadata      map[string]string   `json:"metadata,omitempty"`
}

// HistoryEntry records one creation or merge.
type HistoryEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	RunID        string    `json:"run_id"`
	Reason       string    `json:"reason"`
	SampleSize   int       `json:"sample_size"`
	DurationMean float64   `json:"duration_mean"`
}

// New creates a baseline from the first successful run of a pair.
func New(environment, suiteName string, stats *suite.RunStatistics, runID string, now time.Time) *Baseline {
	return &Baseline{
		Environment: environment,
		Suite:       suiteName,
		Statistics:  *stats,
		SampleSize:  stats.SampleSize,
		Created:     now,
		LastUpdated: now,
		UpdateHistory: []HistoryEntry{{
			Timestamp:    now,
			RunID:        runID,
			Reason:       ReasonFirstRun,
			SampleSize:   stats.SampleSize,
			DurationMean: stats.Duration.Mean,
		}},
		Version: 1,
	}
}

// Merge returns a new baseline combining b with the run statistics. Averaged
// fields are weighted by sample size and min/max are taken pointwise. The
// duration standard deviation uses the pooled approximation
// sqrt(w1*sd1^2 + w2*sd2^2) unless method is config.VarianceMergeExact, which
// combines the two samples' variances exactly. b is not modified.
func Merge(b *Baseline, stats *suite.RunStatistics, runID, method string, now time.Time) *Baseline {
	n1 := float64(b.SampleSize)
	m := float64(stats.SampleSize)
	total := n1 + m

	w1, w2 := n1/total, m/total

	weighted := func(a, c float64) float64 { return w1*a + w2*c }

	prev := b.Statistics
	merged := suite.RunStatistics{
		Duration: suite.DurationStats{
			Mean:   weighted(prev.Duration.Mean, stats.Duration.Mean),
			Median: weighted(prev.Duration.Median, stats.Duration.Median),
			Min:    math.Min(prev.Duration.Min, stats.Duration.Min),
			Max:    math.Max(prev.Duration.Max, stats.Duration.Max),
			P95:    weighted(prev.Duration.P95, stats.Duration.P95),
			P99:    weighted(prev.Duration.P99, stats.Duration.P99),
		},
		Memory: suite.MemoryStats{
			Heap: suite.HeapStats{
				Mean:   weighted(prev.Memory.Heap.Mean, stats.Memory.Heap.Mean),
				Median: weighted(prev.Memory.Heap.Median, stats.Memory.Heap.Median),
				Min:    math.Min(prev.Memory.Heap.Min, stats.Memory.Heap.Min),
				Max:    math.Max(prev.Memory.Heap.Max, stats.Memory.Heap.Max),
			},
		},
		SuccessRate: weighted(prev.SuccessRate, stats.SuccessRate),
		ErrorRate:   weighted(prev.ErrorRate, stats.ErrorRate),
		SampleSize:  b.SampleSize + stats.SampleSize,
	}

	if method == config.VarianceMergeExact {
		merged.Duration.StdDev = exactStdDev(
			n1, prev.Duration.Mean, prev.Duration.StdDev,
			m, stats.Duration.Mean, stats.Duration.StdDev,
		)
	} else {
		merged.Duration.StdDev = math.Sqrt(
			w1*prev.Duration.StdDev*prev.Duration.StdDev + w2*stats.Duration.StdDev*stats.Duration.StdDev,
		)
	}

	history := b.UpdateHistory
	if len(history) > maxHistoryEntries-1 {
		history = history[len(history)-(maxHistoryEntries-1):]
	}

	newHistory := make([]HistoryEntry, 0, len(history)+1)
	newHistory = append(newHistory, history...)
	newHistory = append(newHistory, HistoryEntry{
		Timestamp:    now,
		RunID:        runID,
		Reason:       ReasonMerge,
		SampleSize:   stats.SampleSize,
		DurationMean: stats.Duration.Mean,
	})

	var metadata map[string]string
	if b.Metadata != nil {
		metadata = make(map[string]string, len(b.Metadata))
		for k, v := range b.Metadata {
			metadata[k] = v
		}
	}

	return &Baseline{
		Environment:   b.Environment,
		Suite:         b.Suite,
		Statistics:    merged,
		SampleSize:    b.SampleSize + stats.SampleSize,
		Created:       b.Created,
		LastUpdated:   now,
		UpdateHistory: newHistory,
		Version:       b.Version + 1,
		Metadata:      metadata,
	}
}

// exactStdDev combines two sample standard deviations (n-1 denominators)
// using the parallel variance formula.
func exactStdDev(n1, mean1, sd1, n2, mean2, sd2 float64) float64 {
	total := n1 + n2
	if total < 2 {
		return 0
	}

	delta := mean2 - mean1
	m2 := (n1-1)*sd1*sd1 + (n2-1)*sd2*sd2 + delta*delta*n1*n2/total

	if m2 < 0 {
		return 0
	}

	return math.Sqrt(m2 / (total - 1))
}

// Expired reports whether b was last updated more than retentionDays ago.
// A non-positive retention never expires.
func (b *Baseline) Expired(now time.Time, retentionDays int) bool {
	if retentionDays <= 0 {
		return false
	}

	return now.Sub(b.LastUpdated) > time.Duration(retentionDays)*24*time.Hour
}
