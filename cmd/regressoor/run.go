package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/orchestrator"
	"github.com/ethpandaops/regressoor/pkg/suite"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// errGateFailed is returned when a run reaches the configured fail_on level.
var errGateFailed = errors.New("regression gate failed")

var (
	runSuites             []string
	runFailOn             string
	runSkipBaselineUpdate bool
)

var runCmd = &cobra.Command{
	Use:   "run [environment]",
	Short: "Run performance suites and check for regressions",
	Long: `Run every configured suite against one environment, or all environments
when none is given. The process exits non-zero when the fail_on level is
reached.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRegressionCheck,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringSliceVar(&runSuites, "suite", nil,
		"Limit to suites with these names (comma-separated or repeated flag)")
	runCmd.Flags().StringVar(&runFailOn, "fail-on", "",
		"Override runner.fail_on (critical, warning, never)")
	runCmd.Flags().BoolVar(&runSkipBaselineUpdate, "skip-baseline-update", false,
		"Never write baselines for this run")
}

func runRegressionCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := applyFailOn(cfg, runFailOn); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	opts := orchestrator.RunOptions{
		Suites:             runSuites,
		SkipBaselineUpdate: runSkipBaselineUpdate,
		Progress:           logProgress,
	}

	if len(args) == 1 {
		opts.Environments = []string{args[0]}
	}

	rep, err := a.orch.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("running suites: %w", err)
	}

	printRunSummary(rep)

	return gate(cfg.Runner.FailOn, rep.Analysis)
}

func logProgress(ev orchestrator.Event) {
	fields := logrus.Fields{"event": ev.Type}

	if ev.Suite != "" {
		fields["environment"] = ev.Environment
		fields["suite"] = ev.Suite
	}

	if ev.Attempt > 0 {
		fields["attempt"] = ev.Attempt
	}

	entry := log.WithFields(fields)

	switch ev.Type {
	case orchestrator.EventSuiteFailed:
		entry.WithField("error", ev.Error).Warn("Suite failed")
	case orchestrator.EventSuiteComplete:
		entry.Info("Suite completed")
	default:
		entry.Debug("Progress")
	}
}

// gate maps the run analysis onto the fail_on policy.
// applyFailOn replaces runner.fail_on with a validated --fail-on value.
func applyFailOn(cfg *config.Config, override string) error {
	if override == "" {
		return nil
	}

	if err := config.ValidateFailOn(override); err != nil {
		return fmt.Errorf("--fail-on: %w", err)
	}

	cfg.Runner.FailOn = override

	return nil
}

func gate(failOn string, a *classifier.RunAnalysis) error {
	switch failOn {
	case config.FailOnNever:
		return nil
	case config.FailOnWarning:
		if a.RegressionCount > 0 {
			return fmt.Errorf("%w: %d regression(s)", errGateFailed, a.RegressionCount)
		}
	default:
		if a.CriticalRegressions > 0 {
			return fmt.Errorf("%w: %d critical regression(s)", errGateFailed, a.CriticalRegressions)
		}
	}

	return nil
}

func printRunSummary(rep *orchestrator.RunReport) {
	verdicts := make(map[string]*classifier.Result, len(rep.Results))
	for _, r := range rep.Results {
		verdicts[r.Environment+"/"+r.Suite] = r
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Run " + rep.RunID)
	t.AppendHeader(table.Row{"Environment", "Suite", "Status", "Mean (ms)", "P95 (ms)", "Δ Mean", "Severity", "Confidence"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Mean (ms)", Align: text.AlignRight},
		{Name: "P95 (ms)", Align: text.AlignRight},
		{Name: "Δ Mean", Align: text.AlignRight},
		{Name: "Status", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, p := range rep.Pairs {
		row := table.Row{p.Environment, p.Suite, string(p.Status), "-", "-", "-", "-", "-"}

		if p.Status == suite.StatusFailed && p.Error != "" {
			row[2] = "failed: " + p.Error
		}

		if p.Succeeded() {
			row[3] = fmt.Sprintf("%.2f", p.Statistics.Duration.Mean)
			row[4] = fmt.Sprintf("%.2f", p.Statistics.Duration.P95)
		}

		if v, ok := verdicts[p.Environment+"/"+p.Suite]; ok {
			if v.Deltas != nil {
				row[5] = fmt.Sprintf("%+.1f%%", v.Deltas.Duration.Mean)
			}

			row[6] = severityText(v)
			row[7] = v.Confidence.Level
		}

		t.AppendRow(row)
	}

	t.AppendFooter(table.Row{
		"", "", fmt.Sprintf("%d failed", rep.FailedPairs()), "", "",
		fmt.Sprintf("%d regressions", rep.Analysis.RegressionCount),
		fmt.Sprintf("%d critical", rep.Analysis.CriticalRegressions), "",
	})
	t.Render()

	if rep.ReportLocation != "" {
		fmt.Printf("Report: %s\n", rep.ReportLocation)
	}

	if rep.BaselineSkipReason != "" {
		fmt.Printf("Baselines not updated: %s\n", rep.BaselineSkipReason)
	}
}

func severityText(r *classifier.Result) string {
	switch {
	case r.IsRegression && r.Downgraded:
		return text.FgYellow.Sprint(string(r.Severity) + " (downgraded)")
	case r.Severity == classifier.SeverityCritical:
		return text.FgRed.Sprint(string(r.Severity))
	case r.Severity == classifier.SeverityWarning:
		return text.FgYellow.Sprint(string(r.Severity))
	case r.IsImprovement:
		return text.FgGreen.Sprint("improved")
	default:
		return string(r.Severity)
	}
}
