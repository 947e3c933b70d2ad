package suite

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/regressoor/pkg/statistics"
)

// ErrNoSuccessfulOutcomes is returned when statistics are requested for a
// batch without a single successful outcome.
var ErrNoSuccessfulOutcomes = errors.New("no successful outcomes")

// DurationStats summarises execution durations in milliseconds.
type DurationStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// HeapStats summarises heap deltas in bytes.
type HeapStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// MemoryStats groups memory statistics.
type MemoryStats struct {
	Heap HeapStats `json:"heap"`
}

// RunStatistics summarises the measurement outcomes of one pair in one run.
type RunStatistics struct {
	Duration    DurationStats `json:"duration"`
	Memory      MemoryStats   `json:"memory"`
	SuccessRate float64       `json:"success_rate"`
	ErrorRate   float64       `json:"error_rate"`
	// SampleSize is the number of successful measurements.
	SampleSize int `json:"sample_size"`
}

// CoefficientOfVariation returns StdDev/Mean of durations, or 0 when the
// mean is not positive.
func (r *RunStatistics) CoefficientOfVariation() float64 {
	if r.Duration.Mean <= 0 {
		return 0
	}

	return r.Duration.StdDev / r.Duration.Mean
}

// ComputeStatistics derives RunStatistics from measurement outcomes. Only
// successful outcomes contribute to duration and memory figures; failures
// count towards the error rate.
func ComputeStatistics(outcomes []*Outcome) (*RunStatistics, error) {
	durations := make([]float64, 0, len(outcomes))
	heaps := make([]float64, 0, len(outcomes))

	for _, o := range outcomes {
		if o == nil || !o.Success {
			continue
		}

		durations = append(durations, o.DurationMs)
		heaps = append(heaps, float64(o.Memory.Heap))
	}

	if len(durations) == 0 {
		return nil, ErrNoSuccessfulOutcomes
	}

	duration, err := statistics.Describe(durations)
	if err != nil {
		return nil, fmt.Errorf("describing durations: %w", err)
	}

	heap, err := statistics.Describe(heaps)
	if err != nil {
		return nil, fmt.Errorf("describing heap deltas: %w", err)
	}

	successRate := float64(len(durations)) / float64(len(outcomes))

	return &RunStatistics{
		Duration: DurationStats{
			Mean:   duration.Mean,
			Median: duration.Median,
			Min:    duration.Min,
			Max:    duration.Max,
			StdDev: duration.StdDev,
			P95:    duration.P95,
			P99:    duration.P99,
		},
		Memory: MemoryStats{
			Heap: HeapStats{
				Mean:   heap.Mean,
				Median: heap.Median,
				Min:    heap.Min,
				Max:    heap.Max,
			},
		},
		SuccessRate: successRate,
		ErrorRate:   1 - successRate,
		SampleSize:  len(durations),
	}, nil
}
