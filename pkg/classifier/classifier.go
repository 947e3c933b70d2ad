// Package classifier turns a comparison against a baseline into a
// regression verdict.
package classifier

import (
	"fmt"
	"math"

	"github.com/ethpandaops/regressoor/pkg/baseline"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/suite"
	"github.com/sirupsen/logrus"
)

// Severity orders verdicts from none to critical.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns a comparable weight: none < warning < critical.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Category is a metric family with its own thresholds.
type Category string

const (
	CategoryPerformance Category = "performance"
	CategoryMemory      Category = "memory"
	CategoryReliability Category = "reliability"
)

// CategoryVerdict is the classification of one category.
type CategoryVerdict struct {
	// Delta is the value compared against the thresholds: a percentage
	// change, or percentage points for reliability.
	Delta    float64          `json:"delta"`
	Severity Severity         `json:"severity"`
	Improved bool             `json:"improved"`
	Limits   config.Threshold `json:"limits"`
}

// Verdicts holds the per-category classification.
type Verdicts struct {
	Performance CategoryVerdict `json:"performance"`
	Memory      CategoryVerdict `json:"memory"`
	Reliability CategoryVerdict `json:"reliability"`
}

// Result is the verdict for one (environment, suite) pair.
type Result struct {
	Environment     string               `json:"environment"`
	Suite           string               `json:"suite"`
	HasBaseline     bool                 `json:"has_baseline"`
	IsRegression    bool                 `json:"is_regression"`
	IsImprovement   bool                 `json:"is_improvement"`
	Severity        Severity             `json:"severity"`
	Category        Category             `json:"category,omitempty"`
	Categories      Verdicts             `json:"categories"`
	Deltas          *baseline.Comparison `json:"deltas,omitempty"`
	Confidence      baseline.Confidence  `json:"confidence"`
	Downgraded      bool                 `json:"downgraded"`
	DowngradeReason string               `json:"downgrade_reason,omitempty"`
	Message         string               `json:"message"`
}

// Classifier produces verdicts. Classification is a pure function of the
// deltas, the confidence and the thresholds.
type Classifier interface {
	Classify(
		environment, suiteName string,
		b *baseline.Baseline,
		current *suite.RunStatistics,
		override *config.Thresholds,
	) *Result
	Analyze(results []*Result) *RunAnalysis
}

// Config configures a Classifier.
type Config struct {
	Thresholds    config.Thresholds
	MinSampleSize int
}

type classifier struct {
	log logrus.FieldLogger
	cfg *Config
}

// Ensure interface compliance.
var _ Classifier = (*classifier)(nil)

// New creates a Classifier.
func New(log logrus.FieldLogger, cfg *Config) Classifier {
	return &classifier{
		log: log.WithField("component", "classifier"),
		cfg: cfg,
	}
}

// Classify compares current against b. A nil baseline yields severity none
// with confidence level n/a. A critical verdict at low confidence is
// downgraded to warning.
func (c *classifier) Classify(
	environment, suiteName string,
	b *baseline.Baseline,
	current *suite.RunStatistics,
	override *config.Thresholds,
) *Result {
	result := &Result{
		Environment: environment,
		Suite:       suiteName,
		Severity:    SeverityNone,
		Confidence:  baseline.Confidence{Level: baseline.ConfidenceNone, SampleSize: current.SampleSize},
	}

	if b == nil {
		result.Message = "no baseline, first observation"

		return result
	}

	limits := c.cfg.Thresholds.Resolve(override)
	cmp := baseline.Compare(b, current, c.cfg.MinSampleSize)

	result.HasBaseline = true
	result.Deltas = cmp
	result.Confidence = cmp.Confidence
	result.Categories = Verdicts{
		Performance: judge(math.Max(cmp.Duration.Mean, cmp.Duration.P95), limits.Performance),
		Memory:      judge(cmp.Memory.HeapMean, limits.Memory),
		Reliability: judge(cmp.Reliability.ErrorRate, limits.Reliability),
	}

	for _, cat := range []struct {
		name    Category
		verdict CategoryVerdict
	}{
		{CategoryPerformance, result.Categories.Performance},
		{CategoryMemory, result.Categories.Memory},
		{CategoryReliability, result.Categories.Reliability},
	} {
		if cat.verdict.Severity.Rank() > result.Severity.Rank() {
			result.Severity = cat.verdict.Severity
			result.Category = cat.name
		}
	}

	if result.Severity == SeverityCritical && cmp.Confidence.Level == baseline.ConfidenceLow {
		result.Severity = SeverityWarning
		result.Downgraded = true
		result.DowngradeReason = fmt.Sprintf(
			"critical %s regression downgraded: low confidence (score %.2f, %d samples, variability %.2f)",
			result.Category, cmp.Confidence.Score, cmp.Confidence.SampleSize, cmp.Confidence.Variability,
		)
	}

	result.IsRegression = result.Severity != SeverityNone

	if !result.IsRegression {
		result.IsImprovement = result.Categories.Performance.Improved ||
			result.Categories.Memory.Improved ||
			result.Categories.Reliability.Improved
	}

	result.Message = describe(result)

	return result
}

func judge(delta float64, limits config.Threshold) CategoryVerdict {
	v := CategoryVerdict{Delta: delta, Severity: SeverityNone, Limits: limits}

	switch {
	case delta > limits.Critical:
		v.Severity = SeverityCritical
	case delta > limits.Warning:
		v.Severity = SeverityWarning
	case delta <= -limits.Warning:
		v.Improved = true
	}

	return v
}

func describe(r *Result) string {
	switch {
	case r.IsRegression:
		var delta float64

		switch r.Category {
		case CategoryPerformance:
			delta = r.Categories.Performance.Delta
		case CategoryMemory:
			delta = r.Categories.Memory.Delta
		case CategoryReliability:
			return fmt.Sprintf("%s regression: error rate %+.2f pp", r.Severity, r.Categories.Reliability.Delta)
		}

		return fmt.Sprintf("%s %s regression: %+.1f%%", r.Severity, r.Category, delta)
	case r.IsImprovement:
		return fmt.Sprintf("improvement: duration %+.1f%%", r.Deltas.Duration.Mean)
	default:
		return "within thresholds"
	}
}
