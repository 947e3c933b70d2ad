// Package suite defines performance test suites, the outcomes of a single
// execution and the statistics derived from a batch of executions.
package suite

import (
	"context"
	"time"

	"github.com/ethpandaops/regressoor/pkg/config"
)

// Execution phases passed to a test function.
const (
	PhaseWarmup      = "warmup"
	PhaseMeasurement = "measurement"
)

// Options describe one invocation of a test function.
type Options struct {
	Phase     string            `json:"phase"`
	Iteration int               `json:"iteration"`
	Attempt   int               `json:"attempt"`
	Variables map[string]string `json:"variables,omitempty"`
}

// Func executes one measurement of a suite against an environment.
// Returning an error records a failed outcome; it is not propagated.
// Functions should return once ctx is done. One that does not is abandoned
// and left running in the background.
type Func func(ctx context.Context, environment string, opts Options) (*Outcome, error)

// Metadata carries descriptive suite attributes. Extra is free-form.
type Metadata struct {
	Category string         `json:"category,omitempty"`
	Priority string         `json:"priority,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Suite is a named, repeatable performance test. It must not be modified
// after registration.
type Suite struct {
	Name         string
	Func         Func
	Environments []string
	Metadata     Metadata
	// Thresholds overrides the global limits per category when set.
	Thresholds *config.Thresholds
}

// Targets reports whether the suite runs against environment.
func (s *Suite) Targets(environment string) bool {
	for _, env := range s.Environments {
		if env == environment {
			return true
		}
	}

	return false
}

// MemoryDelta is the change in memory use across one execution, in bytes.
type MemoryDelta struct {
	Heap     int64 `json:"heap"`
	External int64 `json:"external"`
	RSS      int64 `json:"rss"`
}

// IsZero reports whether no delta was recorded.
func (m MemoryDelta) IsZero() bool {
	return m == MemoryDelta{}
}

// Outcome is the result of a single execution.
type Outcome struct {
	Success    bool           `json:"success"`
	DurationMs float64        `json:"duration_ms"`
	Memory     MemoryDelta    `json:"memory"`
	Error      string         `json:"error,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Status is the lifecycle state of one (environment, suite) pair in a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusWarmingUp Status = "warming-up"
	StatusMeasuring Status = "measuring"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Insights are optional statistics computed over a pair's raw durations.
type Insights struct {
	OutlierCount   int      `json:"outlier_count"`
	OutlierIndices []int    `json:"outlier_indices,omitempty"`
	MeanCILower    *float64 `json:"mean_ci_lower,omitempty"`
	MeanCIUpper    *float64 `json:"mean_ci_upper,omitempty"`
	Drift          bool     `json:"drift"`
	DriftDirection string   `json:"drift_direction,omitempty"`
}

// PairResult is the terminal result of executing one suite against one
// environment. Statistics is nil unless Status is StatusSucceeded.
type PairResult struct {
	Environment string         `json:"environment"`
	Suite       string         `json:"suite"`
	Status      Status         `json:"status"`
	Attempts    int            `json:"attempts"`
	Statistics  *RunStatistics `json:"statistics,omitempty"`
	Outcomes    []*Outcome     `json:"outcomes,omitempty"`
	Insights    *Insights      `json:"insights,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Succeeded reports whether the pair produced statistics.
func (p *PairResult) Succeeded() bool {
	return p.Status == StatusSucceeded && p.Statistics != nil
}

// SuccessfulDurations returns the durations of successful measurements in
// execution order.
func (p *PairResult) SuccessfulDurations() []float64 {
	durations := make([]float64, 0, len(p.Outcomes))

	for _, o := range p.Outcomes {
		if o.Success {
			durations = append(durations, o.DurationMs)
		}
	}

	return durations
}
