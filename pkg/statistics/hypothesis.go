package statistics

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TTestResult holds the outcome of Welch's two-sample t-test.
type TTestResult struct {
	TStatistic       float64 `json:"t_statistic"`
	DegreesOfFreedom float64 `json:"degrees_of_freedom"`
	PValue           float64 `json:"p_value"`
	MeanDifference   float64 `json:"mean_difference"`
	EffectSize       float64 `json:"effect_size"`
	CILower          float64 `json:"ci_lower"`
	CIUpper          float64 `json:"ci_upper"`
	Alpha            float64 `json:"alpha"`
	Significant      bool    `json:"significant"`
}

// TTest runs Welch's unequal-variance t-test of a against b. The mean
// difference is mean(a) - mean(b) and the confidence interval is at level
// 1-alpha.
func TTest(a, b []float64, alpha float64) (*TTestResult, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, ErrEmptyInput
	}

	if len(a) < 2 || len(b) < 2 {
		return nil, ErrInsufficientData
	}

	if alpha <= 0 || alpha >= 1 {
		return nil, ErrInvalidArgument
	}

	na, nb := float64(len(a)), float64(len(b))
	ma, va := stat.MeanVariance(a, nil)
	mb, vb := stat.MeanVariance(b, nil)

	sa, sb := va/na, vb/nb
	se := math.Sqrt(sa + sb)

	if se == 0 {
		return nil, ErrZeroVariance
	}

	diff := ma - mb
	t := diff / se
	df := (sa + sb) * (sa + sb) / (sa*sa/(na-1) + sb*sb/(nb-1))

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - dist.CDF(math.Abs(t)))
	p = clamp01(p)

	tCrit := dist.Quantile(1 - alpha/2)

	d, err := CohensD(a, b)
	if err != nil {
		return nil, err
	}

	return &TTestResult{
		TStatistic:       t,
		DegreesOfFreedom: df,
		PValue:           p,
		MeanDifference:   diff,
		EffectSize:       d,
		CILower:          diff - tCrit*se,
		CIUpper:          diff + tCrit*se,
		Alpha:            alpha,
		Significant:      p < alpha,
	}, nil
}

// CohensD returns (mean(a) - mean(b)) divided by the pooled standard deviation.
func CohensD(a, b []float64) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyInput
	}

	if len(a) < 2 || len(b) < 2 {
		return 0, ErrInsufficientData
	}

	na, nb := float64(len(a)), float64(len(b))
	ma, va := stat.MeanVariance(a, nil)
	mb, vb := stat.MeanVariance(b, nil)

	pooled := math.Sqrt(((na-1)*va + (nb-1)*vb) / (na + nb - 2))
	if pooled == 0 {
		return 0, ErrZeroVariance
	}

	return (ma - mb) / pooled, nil
}

// MannWhitneyResult holds the rank-sum statistics. Z and PValue are only set
// when both samples are larger than the normal-approximation cutoff; exact
// small-sample tables are not implemented.
type MannWhitneyResult struct {
	U1                  float64  `json:"u1"`
	U2                  float64  `json:"u2"`
	U                   float64  `json:"u"`
	Z                   *float64 `json:"z,omitempty"`
	PValue              *float64 `json:"p_value,omitempty"`
	NormalApproximation bool     `json:"normal_approximation"`
}

// mannWhitneyNormalCutoff is the sample size both groups must exceed before a
// p-value is reported.
const mannWhitneyNormalCutoff = 20

type rankedValue struct {
	value float64
	group int
}

// MannWhitneyU compares a and b by rank. Ties receive the average of the
// ranks they span.
func MannWhitneyU(a, b []float64) (*MannWhitneyResult, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, ErrEmptyInput
	}

	combined := make([]rankedValue, 0, len(a)+len(b))
	for _, v := range a {
		combined = append(combined, rankedValue{value: v, group: 0})
	}

	for _, v := range b {
		combined = append(combined, rankedValue{value: v, group: 1})
	}

	slices.SortFunc(combined, func(x, y rankedValue) int {
		switch {
		case x.value < y.value:
			return -1
		case x.value > y.value:
			return 1
		default:
			return 0
		}
	})

	var rankSumA, tieTerm float64

	n := len(combined)
	n1, n2 := float64(len(a)), float64(len(b))
	position := 0

	for position < n {
		end := position
		for end+1 < n && combined[end+1].value == combined[position].value {
			end++
		}

		// Ranks are 1-based; a tie block from position..end shares the midrank.
		midrank := float64(position+end)/2 + 1
		tieSize := float64(end - position + 1)

		for i := position; i <= end; i++ {
			if combined[i].group == 0 {
				rankSumA += midrank
			}
		}

		tieTerm += tieSize*tieSize*tieSize - tieSize
		position = end + 1
	}

	u1 := rankSumA - n1*(n1+1)/2
	u2 := n1*n2 - u1

	result := &MannWhitneyResult{
		U1: u1,
		U2: u2,
		U:  math.Min(u1, u2),
	}

	if len(a) <= mannWhitneyNormalCutoff || len(b) <= mannWhitneyNormalCutoff {
		return result, nil
	}

	total := n1 + n2
	mu := n1 * n2 / 2
	sigma := math.Sqrt(n1 * n2 / 12 * ((total + 1) - tieTerm/(total*(total-1))))

	if sigma == 0 {
		return nil, ErrZeroVariance
	}

	z := (u1 - mu) / sigma
	p := clamp01(2 * (1 - distuv.UnitNormal.CDF(math.Abs(z))))

	result.Z = &z
	result.PValue = &p
	result.NormalApproximation = true

	return result, nil
}

// KSResult holds the two-sample Kolmogorov-Smirnov statistic.
type KSResult struct {
	D             float64 `json:"d"`
	CriticalValue float64 `json:"critical_value"`
	PValue        float64 `json:"p_value"`
	Alpha         float64 `json:"alpha"`
	Reject        bool    `json:"reject"`
}

// KolmogorovSmirnov computes the maximum distance between the empirical CDFs
// of a and b, the asymptotic critical value at alpha and an approximate p-value.
func KolmogorovSmirnov(a, b []float64, alpha float64) (*KSResult, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, ErrEmptyInput
	}

	if alpha <= 0 || alpha >= 1 {
		return nil, ErrInvalidArgument
	}

	sa, sb := sortedCopy(a), sortedCopy(b)
	n1, n2 := float64(len(sa)), float64(len(sb))

	var (
		i, j int
		d    float64
	)

	for i < len(sa) && j < len(sb) {
		v := math.Min(sa[i], sb[j])

		for i < len(sa) && sa[i] == v {
			i++
		}

		for j < len(sb) && sb[j] == v {
			j++
		}

		if dist := math.Abs(float64(i)/n1 - float64(j)/n2); dist > d {
			d = dist
		}
	}

	ne := n1 * n2 / (n1 + n2)
	critical := math.Sqrt(-0.5*math.Log(alpha/2)) * math.Sqrt((n1+n2)/(n1*n2))

	sqrtNe := math.Sqrt(ne)
	lambda := (sqrtNe + 0.12 + 0.11/sqrtNe) * d

	return &KSResult{
		D:             d,
		CriticalValue: critical,
		PValue:        kolmogorovQ(lambda),
		Alpha:         alpha,
		Reject:        d > critical,
	}, nil
}

// kolmogorovQ evaluates the Kolmogorov survival function
// Q(lambda) = 2 * sum_{j>=1} (-1)^(j-1) exp(-2 j^2 lambda^2).
func kolmogorovQ(lambda float64) float64 {
	if lambda <= 0 {
		return 1
	}

	var (
		sum  float64
		sign = 1.0
	)

	for j := 1; j <= 100; j++ {
		term := sign * math.Exp(-2*float64(j*j)*lambda*lambda)
		sum += term

		if math.Abs(term) < 1e-12 {
			break
		}

		sign = -sign
	}

	return clamp01(2 * sum)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
