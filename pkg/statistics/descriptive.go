// Package statistics provides the numeric primitives used to summarise
// measurement runs and compare them against baselines.
//
// Every function is pure. Degenerate input (empty slices, zero variance,
// too few observations) is reported through one of the sentinel errors
// below instead of a NaN result.
package statistics

import (
	"errors"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrEmptyInput is returned when a function receives no data.
	ErrEmptyInput = errors.New("empty input")
	// ErrInsufficientData is returned when there are fewer observations
	// than the computation needs.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrZeroVariance is returned when the result would divide by a zero spread.
	ErrZeroVariance = errors.New("zero variance")
	// ErrInvalidArgument is returned for out-of-range parameters.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Mean returns the arithmetic mean of data.
func Mean(data []float64) (float64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyInput
	}

	return stat.Mean(data, nil), nil
}

// Median returns the 50th percentile of data.
func Median(data []float64) (float64, error) {
	return Percentile(data, 50)
}

// Variance returns the unbiased sample variance (n-1 denominator).
// A single observation has no spread and yields 0.
func Variance(data []float64) (float64, error) {
	switch len(data) {
	case 0:
		return 0, ErrEmptyInput
	case 1:
		return 0, nil
	}

	return stat.Variance(data, nil), nil
}

// StandardDeviation returns the square root of the sample variance.
func StandardDeviation(data []float64) (float64, error) {
	v, err := Variance(data)
	if err != nil {
		return 0, err
	}

	return math.Sqrt(v), nil
}

// Percentile returns the p-th percentile (0 <= p <= 100) using linear
// interpolation between the closest order statistics.
func Percentile(data []float64, p float64) (float64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyInput
	}

	if p < 0 || p > 100 || math.IsNaN(p) {
		return 0, ErrInvalidArgument
	}

	return percentileSorted(sortedCopy(data), p), nil
}

// percentileSorted expects sorted, non-empty input.
func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return sorted[lower]
	}

	frac := rank - float64(lower)

	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// Skewness returns the adjusted Fisher-Pearson sample skewness.
func Skewness(data []float64) (float64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyInput
	}

	if len(data) < 3 {
		return 0, ErrInsufficientData
	}

	if allEqual(data) {
		return 0, ErrZeroVariance
	}

	return stat.Skew(data, nil), nil
}

// Kurtosis returns the sample excess kurtosis.
func Kurtosis(data []float64) (float64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyInput
	}

	if len(data) < 4 {
		return 0, ErrInsufficientData
	}

	if allEqual(data) {
		return 0, ErrZeroVariance
	}

	return stat.ExKurtosis(data, nil), nil
}

// MinMax returns the smallest and largest values in data.
func MinMax(data []float64) (minV, maxV float64, err error) {
	if len(data) == 0 {
		return 0, 0, ErrEmptyInput
	}

	return slices.Min(data), slices.Max(data), nil
}

func sortedCopy(data []float64) []float64 {
	sorted := slices.Clone(data)
	slices.Sort(sorted)

	return sorted
}

func allEqual(data []float64) bool {
	for _, v := range data[1:] {
		if v != data[0] {
			return false
		}
	}

	return true
}
