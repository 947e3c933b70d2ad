package baseline

import (
	"math"

	"github.com/ethpandaops/regressoor/pkg/suite"
)

// Confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
	// ConfidenceNone marks a result without a baseline to compare against.
	ConfidenceNone = "n/a"
)

// Confidence describes how much a comparison can be trusted.
type Confidence struct {
	Level       string  `json:"level"`
	Score       float64 `json:"score"`
	SampleSize  int     `json:"sample_size"`
	Variability float64 `json:"variability"`
}

// DurationDeltas are percentage changes of duration statistics.
type DurationDeltas struct {
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	P95         float64 `json:"p95"`
	P99         float64 `json:"p99"`
	Variability float64 `json:"variability"`
}

// MemoryDeltas are percentage changes of heap statistics.
type MemoryDeltas struct {
	HeapMean   float64 `json:"heap_mean"`
	HeapMedian float64 `json:"heap_median"`
	HeapMax    float64 `json:"heap_max"`
}

// ReliabilityDeltas are changes in percentage points.
type ReliabilityDeltas struct {
	SuccessRate float64 `json:"success_rate"`
	ErrorRate   float64 `json:"error_rate"`
}

// Comparison holds the deltas of a run against its baseline.
type Comparison struct {
	Duration    DurationDeltas    `json:"duration"`
	Memory      MemoryDeltas      `json:"memory"`
	Reliability ReliabilityDeltas `json:"reliability"`
	Confidence  Confidence        `json:"confidence"`
}

// Compare computes the deltas of current against b. minSampleSize is the
// sample size at which confidence is no longer reduced for small samples.
func Compare(b *Baseline, current *suite.RunStatistics, minSampleSize int) *Comparison {
	base := b.Statistics

	return &Comparison{
		Duration: DurationDeltas{
			Mean:        PercentChange(base.Duration.Mean, current.Duration.Mean),
			Median:      PercentChange(base.Duration.Median, current.Duration.Median),
			P95:         PercentChange(base.Duration.P95, current.Duration.P95),
			P99:         PercentChange(base.Duration.P99, current.Duration.P99),
			Variability: PercentChange(base.Duration.StdDev, current.Duration.StdDev),
		},
		Memory: MemoryDeltas{
			HeapMean:   PercentChange(base.Memory.Heap.Mean, current.Memory.Heap.Mean),
			HeapMedian: PercentChange(base.Memory.Heap.Median, current.Memory.Heap.Median),
			HeapMax:    PercentChange(base.Memory.Heap.Max, current.Memory.Heap.Max),
		},
		Reliability: ReliabilityDeltas{
			SuccessRate: (current.SuccessRate - base.SuccessRate) * 100,
			ErrorRate:   (current.ErrorRate - base.ErrorRate) * 100,
		},
		Confidence: ComputeConfidence(b.SampleSize, &base, current, minSampleSize),
	}
}

// PercentChange returns (current-base)/|base|*100. A zero base yields 0 when
// current is also zero and ±100 otherwise.
func PercentChange(base, current float64) float64 {
	if base == 0 {
		switch {
		case current > 0:
			return 100
		case current < 0:
			return -100
		default:
			return 0
		}
	}

	return (current - base) / math.Abs(base) * 100
}

// ComputeConfidence scores a comparison in [0,1]. The score starts from the
// ratio of the smaller sample size to minSampleSize (capped at 1) and is
// scaled down by the average coefficient of variation of both samples.
func ComputeConfidence(baselineSampleSize int, base, current *suite.RunStatistics, minSampleSize int) Confidence {
	n := min(baselineSampleSize, current.SampleSize)

	sampleFactor := 1.0
	if minSampleSize > 0 {
		sampleFactor = math.Min(1, float64(n)/float64(minSampleSize))
	}

	avgCV := (base.CoefficientOfVariation() + current.CoefficientOfVariation()) / 2
	score := sampleFactor * (1 - math.Min(avgCV, 1))
	score = math.Max(0, math.Min(1, score))

	return Confidence{
		Level:       confidenceLevel(score),
		Score:       score,
		SampleSize:  n,
		Variability: avgCV,
	}
}

func confidenceLevel(score float64) string {
	switch {
	case score >= 0.8:
		return ConfidenceHigh
	case score >= 0.6:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
