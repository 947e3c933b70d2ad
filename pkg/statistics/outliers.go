package statistics

import (
	"math"
	"math/rand"
)

// Outlier kinds.
const (
	OutlierHigh = "high"
	OutlierLow  = "low"
)

// Outlier is a flagged observation.
type Outlier struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
	Kind  string  `json:"kind"`
	Score float64 `json:"score,omitempty"`
}

// IQRResult describes the fences used by DetectOutliersIQR.
type IQRResult struct {
	Q1         float64   `json:"q1"`
	Q3         float64   `json:"q3"`
	IQR        float64   `json:"iqr"`
	LowerBound float64   `json:"lower_bound"`
	UpperBound float64   `json:"upper_bound"`
	Outliers   []Outlier `json:"outliers"`
}

// DetectOutliersIQR flags values outside [Q1 - k*IQR, Q3 + k*IQR]. Quartiles
// are the lower order statistic at rank floor((n-1)*q), without interpolation.
func DetectOutliersIQR(data []float64, multiplier float64) (*IQRResult, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	if multiplier <= 0 || math.IsNaN(multiplier) {
		return nil, ErrInvalidArgument
	}

	sorted := sortedCopy(data)
	last := float64(len(sorted) - 1)

	q1 := sorted[int(math.Floor(last*0.25))]
	q3 := sorted[int(math.Floor(last*0.75))]
	iqr := q3 - q1

	result := &IQRResult{
		Q1:         q1,
		Q3:         q3,
		IQR:        iqr,
		LowerBound: q1 - multiplier*iqr,
		UpperBound: q3 + multiplier*iqr,
		Outliers:   make([]Outlier, 0),
	}

	for i, v := range data {
		switch {
		case v > result.UpperBound:
			result.Outliers = append(result.Outliers, Outlier{Index: i, Value: v, Kind: OutlierHigh})
		case v < result.LowerBound:
			result.Outliers = append(result.Outliers, Outlier{Index: i, Value: v, Kind: OutlierLow})
		}
	}

	return result, nil
}

// modifiedZScale makes the MAD a consistent estimator of the standard
// deviation for normal data.
const modifiedZScale = 0.6745

// DetectOutliersModifiedZScore flags values whose modified z-score
// 0.6745*(x - median)/MAD exceeds threshold in absolute value.
func DetectOutliersModifiedZScore(data []float64, threshold float64) ([]Outlier, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	if threshold <= 0 || math.IsNaN(threshold) {
		return nil, ErrInvalidArgument
	}

	median, _ := Median(data)

	deviations := make([]float64, len(data))
	for i, v := range data {
		deviations[i] = math.Abs(v - median)
	}

	mad, _ := Median(deviations)
	if mad == 0 {
		return nil, ErrZeroVariance
	}

	outliers := make([]Outlier, 0)

	for i, v := range data {
		score := modifiedZScale * (v - median) / mad
		if math.Abs(score) <= threshold {
			continue
		}

		kind := OutlierHigh
		if score < 0 {
			kind = OutlierLow
		}

		outliers = append(outliers, Outlier{Index: i, Value: v, Kind: kind, Score: score})
	}

	return outliers, nil
}

// StatisticFunc reduces a sample to a single value.
type StatisticFunc func(data []float64) (float64, error)

// Interval is a confidence interval around a point estimate.
type Interval struct {
	Estimate float64 `json:"estimate"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Alpha    float64 `json:"alpha"`
}

// BootstrapConfidenceInterval resamples data with replacement numSamples
// times and returns the [alpha/2, 1-alpha/2] percentiles of fn over the
// resamples. The caller supplies rng so results are reproducible.
func BootstrapConfidenceInterval(
	data []float64,
	fn StatisticFunc,
	numSamples int,
	alpha float64,
	rng *rand.Rand,
) (*Interval, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	if fn == nil || rng == nil || numSamples < 1 || alpha <= 0 || alpha >= 1 {
		return nil, ErrInvalidArgument
	}

	estimate, err := fn(data)
	if err != nil {
		return nil, err
	}

	resample := make([]float64, len(data))
	values := make([]float64, 0, numSamples)

	for range numSamples {
		for i := range resample {
			resample[i] = data[rng.Intn(len(data))]
		}

		v, err := fn(resample)
		if err != nil {
			return nil, err
		}

		values = append(values, v)
	}

	sorted := sortedCopy(values)

	return &Interval{
		Estimate: estimate,
		Lower:    percentileSorted(sorted, alpha/2*100),
		Upper:    percentileSorted(sorted, (1-alpha/2)*100),
		Alpha:    alpha,
	}, nil
}
