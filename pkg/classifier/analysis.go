package classifier

// RunAnalysis aggregates the verdicts of one run.
type RunAnalysis struct {
	TotalTests          int       `json:"total_tests"`
	RegressionCount     int       `json:"regression_count"`
	ImprovementCount    int       `json:"improvement_count"`
	CriticalRegressions int       `json:"critical_regressions"`
	WarningRegressions  int       `json:"warning_regressions"`
	Downgraded          int       `json:"downgraded"`
	Regressions         []*Result `json:"regressions"`
	Improvements        []*Result `json:"improvements"`
	Results             []*Result `json:"results"`
}

// Analyze counts and groups results. Input order is preserved.
func (c *classifier) Analyze(results []*Result) *RunAnalysis {
	return Analyze(results)
}

// Analyze is the stateless form of Classifier.Analyze.
func Analyze(results []*Result) *RunAnalysis {
	analysis := &RunAnalysis{
		TotalTests:   len(results),
		Regressions:  make([]*Result, 0),
		Improvements: make([]*Result, 0),
		Results:      results,
	}

	if analysis.Results == nil {
		analysis.Results = make([]*Result, 0)
	}

	for _, r := range results {
		if r.Downgraded {
			analysis.Downgraded++
		}

		switch {
		case r.IsRegression:
			analysis.RegressionCount++
			analysis.Regressions = append(analysis.Regressions, r)

			if r.Severity == SeverityCritical {
				analysis.CriticalRegressions++
			} else {
				analysis.WarningRegressions++
			}
		case r.IsImprovement:
			analysis.ImprovementCount++
			analysis.Improvements = append(analysis.Improvements, r)
		}
	}

	return analysis
}

// HighestSeverity returns the most severe verdict of the run.
func (a *RunAnalysis) HighestSeverity() Severity {
	switch {
	case a.CriticalRegressions > 0:
		return SeverityCritical
	case a.RegressionCount > 0:
		return SeverityWarning
	default:
		return SeverityNone
	}
}
