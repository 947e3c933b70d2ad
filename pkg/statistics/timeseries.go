package statistics

import "math"

// Direction of a detected mean shift.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// ChangePoint is an index at which a cumulative sum crossed its threshold.
type ChangePoint struct {
	Index     int     `json:"index"`
	Direction string  `json:"direction"`
	Value     float64 `json:"value"`
}

// CUSUMResult holds the upper and lower cumulative sums and the change points.
type CUSUMResult struct {
	Upper        []float64     `json:"upper"`
	Lower        []float64     `json:"lower"`
	ChangePoints []ChangePoint `json:"change_points"`
}

// CUSUM runs a two-sided cumulative-sum detector against target. Both sums
// restart from zero after they signal, so successive shifts are reported
// separately.
func CUSUM(series []float64, target, threshold float64) (*CUSUMResult, error) {
	if len(series) == 0 {
		return nil, ErrEmptyInput
	}

	if threshold <= 0 || math.IsNaN(threshold) {
		return nil, ErrInvalidArgument
	}

	result := &CUSUMResult{
		Upper:        make([]float64, len(series)),
		Lower:        make([]float64, len(series)),
		ChangePoints: make([]ChangePoint, 0),
	}

	var hi, lo float64

	for i, x := range series {
		hi = math.Max(0, hi+x-target)
		lo = math.Max(0, lo+target-x)

		result.Upper[i] = hi
		result.Lower[i] = lo

		if hi > threshold {
			result.ChangePoints = append(result.ChangePoints, ChangePoint{
				Index: i, Direction: DirectionUp, Value: hi,
			})
			hi = 0
		}

		if lo > threshold {
			result.ChangePoints = append(result.ChangePoints, ChangePoint{
				Index: i, Direction: DirectionDown, Value: lo,
			})
			lo = 0
		}
	}

	return result, nil
}

// Autocorrelation returns the normalised autocovariance for lags 0..maxLag.
// The first element is always 1.
func Autocorrelation(series []float64, maxLag int) ([]float64, error) {
	if len(series) == 0 {
		return nil, ErrEmptyInput
	}

	if maxLag < 0 || maxLag >= len(series) {
		return nil, ErrInvalidArgument
	}

	mean, _ := Mean(series)

	var denom float64
	for _, x := range series {
		denom += (x - mean) * (x - mean)
	}

	if denom == 0 {
		return nil, ErrZeroVariance
	}

	acf := make([]float64, maxLag+1)
	for lag := 0; lag <= maxLag; lag++ {
		var sum float64
		for t := 0; t+lag < len(series); t++ {
			sum += (series[t] - mean) * (series[t+lag] - mean)
		}

		acf[lag] = sum / denom
	}

	return acf, nil
}

// Decomposition is an additive split of a series into trend, seasonal and
// residual components of equal length.
type Decomposition struct {
	Period   int       `json:"period"`
	Trend    []float64 `json:"trend"`
	Seasonal []float64 `json:"seasonal"`
	Residual []float64 `json:"residual"`
}

// SeasonalDecomposition extracts a centred moving-average trend, averages the
// detrended values by position within the period and leaves the remainder as
// residual. Trend values the window cannot reach at either edge take the
// nearest computed value.
func SeasonalDecomposition(series []float64, period int) (*Decomposition, error) {
	if len(series) == 0 {
		return nil, ErrEmptyInput
	}

	if period < 2 {
		return nil, ErrInvalidArgument
	}

	if len(series) < 2*period {
		return nil, ErrInsufficientData
	}

	n := len(series)
	trend := make([]float64, n)
	valid := make([]bool, n)
	half := period / 2

	for i := half; i < n-half; i++ {
		var sum float64

		if period%2 == 1 {
			for j := i - half; j <= i+half; j++ {
				sum += series[j]
			}

			trend[i] = sum / float64(period)
		} else {
			// 2xP moving average: the two outer points carry half weight.
			sum = 0.5*series[i-half] + 0.5*series[i+half]
			for j := i - half + 1; j < i+half; j++ {
				sum += series[j]
			}

			trend[i] = sum / float64(period)
		}

		valid[i] = true
	}

	first, last := half, n-half-1
	for i := 0; i < first; i++ {
		trend[i] = trend[first]
	}

	for i := last + 1; i < n; i++ {
		trend[i] = trend[last]
	}

	sums := make([]float64, period)
	counts := make([]int, period)

	for i := range series {
		if !valid[i] {
			continue
		}

		sums[i%period] += series[i] - trend[i]
		counts[i%period]++
	}

	pattern := make([]float64, period)

	var patternMean float64

	for p := range pattern {
		if counts[p] > 0 {
			pattern[p] = sums[p] / float64(counts[p])
		}

		patternMean += pattern[p]
	}

	patternMean /= float64(period)

	seasonal := make([]float64, n)
	residual := make([]float64, n)

	for i := range series {
		seasonal[i] = pattern[i%period] - patternMean
		residual[i] = series[i] - trend[i] - seasonal[i]
	}

	return &Decomposition{
		Period:   period,
		Trend:    trend,
		Seasonal: seasonal,
		Residual: residual,
	}, nil
}
