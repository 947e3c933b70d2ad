package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/ethpandaops/regressoor/pkg/suite"
)

// Markdown renders a human-readable summary of a run.
func Markdown(in *Input) string {
	var sb strings.Builder

	sb.Grow(4096)

	fmt.Fprintf(&sb, "# Regression Run: %s\n\n", in.RunID)

	writeOverview(&sb, in)
	writeAnalysis(&sb, in.Analysis)
	writeRegressions(&sb, in.Analysis)
	writeResults(&sb, in)
	writeFailedPairs(&sb, in.Pairs)
	writeInsights(&sb, in.Pairs)
	writeSystem(&sb, in.System)

	return sb.String()
}

func writeOverview(sb *strings.Builder, in *Input) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	if !in.StartedAt.IsZero() {
		fmt.Fprintf(sb, "| Started | %s |\n", in.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	if !in.StartedAt.IsZero() && !in.CompletedAt.IsZero() {
		fmt.Fprintf(sb, "| Duration | %s |\n", formatDuration(in.CompletedAt.Sub(in.StartedAt)))
	}

	if len(in.Environments) > 0 {
		fmt.Fprintf(sb, "| Environments | %s |\n", strings.Join(in.Environments, ", "))
	}

	fmt.Fprintf(sb, "| Runs per pair | %d warmup, %d measured |\n",
		in.Runner.WarmupRuns, in.Runner.MeasurementRuns)

	if in.TimedOut {
		sb.WriteString("| Timed out | yes |\n")
	}

	sb.WriteByte('\n')
}

func writeAnalysis(sb *strings.Builder, a *classifier.RunAnalysis) {
	if a == nil {
		return
	}

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Tests | Regressions | Critical | Warning | Improvements | Downgraded |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	fmt.Fprintf(sb, "| %d | %d | %d | %d | %d | %d |\n\n",
		a.TotalTests, a.RegressionCount, a.CriticalRegressions,
		a.WarningRegressions, a.ImprovementCount, a.Downgraded)
}

func writeRegressions(sb *strings.Builder, a *classifier.RunAnalysis) {
	if a == nil || len(a.Regressions) == 0 {
		return
	}

	sb.WriteString("## Regressions\n\n")
	sb.WriteString("| Environment | Suite | Severity | Category | Detail | Confidence |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")

	for _, r := range a.Regressions {
		severity := string(r.Severity)
		if r.Downgraded {
			severity += " (downgraded)"
		}

		fmt.Fprintf(sb, "| %s | %s | %s | %s | %s | %s (%.2f) |\n",
			r.Environment, r.Suite, severity, r.Category, r.Message,
			r.Confidence.Level, r.Confidence.Score)
	}

	sb.WriteByte('\n')
}

func writeResults(sb *strings.Builder, in *Input) {
	if len(in.Pairs) == 0 {
		return
	}

	verdicts := make(map[string]*classifier.Result, len(in.Results))
	for _, r := range in.Results {
		verdicts[r.Environment+"\x00"+r.Suite] = r
	}

	sb.WriteString("## Results\n\n")
	sb.WriteString("| Environment | Suite | Status | Mean | P95 | Heap | Samples | Δ Mean | Verdict |\n")
	sb.WriteString("|---|---|---|---|---|---|---|---|---|\n")

	for _, p := range in.Pairs {
		if !p.Succeeded() {
			fmt.Fprintf(sb, "| %s | %s | %s | - | - | - | - | - | - |\n",
				p.Environment, p.Suite, p.Status)

			continue
		}

		delta, verdict := "-", "-"

		if r, ok := verdicts[p.Environment+"\x00"+p.Suite]; ok {
			verdict = string(r.Severity)
			if r.IsImprovement {
				verdict = "improved"
			}

			if r.Deltas != nil {
				delta = fmt.Sprintf("%+.1f%%", r.Deltas.Duration.Mean)
			} else {
				verdict = "new"
			}
		}

		s := p.Statistics
		fmt.Fprintf(sb, "| %s | %s | %s | %s | %s | %s | %d | %s | %s |\n",
			p.Environment, p.Suite, p.Status,
			formatMs(s.Duration.Mean), formatMs(s.Duration.P95),
			formatBytes(s.Memory.Heap.Mean), s.SampleSize, delta, verdict)
	}

	sb.WriteByte('\n')
}

func writeFailedPairs(sb *strings.Builder, pairs []*suite.PairResult) {
	failed := make([]*suite.PairResult, 0)

	for _, p := range pairs {
		if !p.Succeeded() {
			failed = append(failed, p)
		}
	}

	if len(failed) == 0 {
		return
	}

	sb.WriteString("## Failed\n\n")
	sb.WriteString("| Environment | Suite | Attempts | Error |\n")
	sb.WriteString("|---|---|---|---|\n")

	for _, p := range failed {
		fmt.Fprintf(sb, "| %s | %s | %d | %s |\n",
			p.Environment, p.Suite, p.Attempts, escapeCell(p.Error))
	}

	sb.WriteByte('\n')
}

func writeInsights(sb *strings.Builder, pairs []*suite.PairResult) {
	rows := make([]*suite.PairResult, 0, len(pairs))

	for _, p := range pairs {
		if p.Insights != nil {
			rows = append(rows, p)
		}
	}

	if len(rows) == 0 {
		return
	}

	sb.WriteString("## Insights\n\n")
	sb.WriteString("| Environment | Suite | Outliers | Mean 95% CI | Drift |\n")
	sb.WriteString("|---|---|---|---|---|\n")

	for _, p := range rows {
		ci := "-"
		if p.Insights.MeanCILower != nil && p.Insights.MeanCIUpper != nil {
			ci = fmt.Sprintf("%s - %s", formatMs(*p.Insights.MeanCILower), formatMs(*p.Insights.MeanCIUpper))
		}

		drift := "no"
		if p.Insights.Drift {
			drift = "yes (" + p.Insights.DriftDirection + ")"
		}

		fmt.Fprintf(sb, "| %s | %s | %d | %s | %s |\n",
			p.Environment, p.Suite, p.Insights.OutlierCount, ci, drift)
	}

	sb.WriteByte('\n')
}

func writeSystem(sb *strings.Builder, sys *SystemInfo) {
	if sys == nil {
		return
	}

	sb.WriteString("## System\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	if sys.Hostname != "" {
		fmt.Fprintf(sb, "| Hostname | %s |\n", sys.Hostname)
	}

	if sys.CPUModel != "" {
		fmt.Fprintf(sb, "| CPU | %s |\n", sys.CPUModel)
	}

	if sys.CPUCores > 0 {
		fmt.Fprintf(sb, "| Cores | %d |\n", sys.CPUCores)
	}

	if sys.MemoryTotal > 0 {
		fmt.Fprintf(sb, "| Memory | %s |\n", units.BytesSize(float64(sys.MemoryTotal)))
	}

	if sys.Platform != "" {
		platform := sys.Platform
		if sys.PlatformVersion != "" {
			platform += " " + sys.PlatformVersion
		}

		fmt.Fprintf(sb, "| Platform | %s |\n", platform)
	}

	fmt.Fprintf(sb, "| OS / Arch | %s / %s |\n", sys.OS, sys.Arch)

	if sys.KernelVersion != "" {
		fmt.Fprintf(sb, "| Kernel | %s |\n", sys.KernelVersion)
	}

	if sys.GoVersion != "" {
		fmt.Fprintf(sb, "| Go | %s |\n", sys.GoVersion)
	}

	sb.WriteByte('\n')
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}

	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}

func formatMs(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.2fs", ms/1000)
	}

	return fmt.Sprintf("%.2fms", ms)
}

// formatBytes renders a signed byte delta with binary units.
func formatBytes(b float64) string {
	if b < 0 {
		return "-" + units.BytesSize(math.Abs(b))
	}

	return units.BytesSize(b)
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")

	return strings.ReplaceAll(s, "\n", " ")
}
