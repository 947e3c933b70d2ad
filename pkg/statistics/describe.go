package statistics

import "math"

// Summary bundles the descriptive statistics of a sample.
// Skewness and Kurtosis are nil when the sample is too small or constant.
type Summary struct {
	Count    int      `json:"count"`
	Mean     float64  `json:"mean"`
	Median   float64  `json:"median"`
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	Variance float64  `json:"variance"`
	StdDev   float64  `json:"std_dev"`
	P25      float64  `json:"p25"`
	P75      float64  `json:"p75"`
	P95      float64  `json:"p95"`
	P99      float64  `json:"p99"`
	Skewness *float64 `json:"skewness,omitempty"`
	Kurtosis *float64 `json:"kurtosis,omitempty"`
}

// CoefficientOfVariation returns StdDev/Mean, or 0 when the mean is not positive.
func (s *Summary) CoefficientOfVariation() float64 {
	if s.Mean <= 0 {
		return 0
	}

	return s.StdDev / s.Mean
}

// Describe computes a Summary for data in one pass over a sorted copy.
func Describe(data []float64) (*Summary, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	sorted := sortedCopy(data)

	mean, _ := Mean(data)
	variance, _ := Variance(data)

	summary := &Summary{
		Count:    len(data),
		Mean:     mean,
		Median:   percentileSorted(sorted, 50),
		Min:      sorted[0],
		Max:      sorted[len(sorted)-1],
		Variance: variance,
		StdDev:   math.Sqrt(variance),
		P25:      percentileSorted(sorted, 25),
		P75:      percentileSorted(sorted, 75),
		P95:      percentileSorted(sorted, 95),
		P99:      percentileSorted(sorted, 99),
	}

	if skew, err := Skewness(data); err == nil {
		summary.Skewness = &skew
	}

	if kurt, err := Kurtosis(data); err == nil {
		summary.Kurtosis = &kurt
	}

	return summary, nil
}
