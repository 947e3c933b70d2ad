package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and stored baselines",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of recent runs to show")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if a.history != nil {
		if err := printRuns(ctx, a.history, statusLimit); err != nil {
			return err
		}
	}

	printBaselines(a)

	return nil
}

func printRuns(ctx context.Context, h history.Store, limit int) error {
	runs, err := h.ListRuns(ctx, limit)
	if err != nil && !errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("listing runs: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Recent runs")
	t.AppendHeader(table.Row{"Run", "Started", "Duration", "Tests", "Failed", "Regressions", "Critical", "Baselines"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Regressions", Align: text.AlignRight},
		{Name: "Critical", Align: text.AlignRight},
	})

	for _, r := range runs {
		baselines := "skipped"
		if r.BaselineUpdated {
			baselines = "updated"
		}

		t.AppendRow(table.Row{
			r.RunID,
			r.StartedAt.UTC().Format(time.RFC3339),
			units.HumanDuration(r.CompletedAt.Sub(r.StartedAt)),
			r.TotalTests,
			r.PairsFailed,
			r.RegressionCount,
			r.CriticalRegressions,
			baselines,
		})
	}

	if len(runs) == 0 {
		t.AppendRow(table.Row{"no runs recorded"})
	}

	t.Render()

	return nil
}

func printBaselines(a *app) {
	all := a.baselines.List()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Environment != all[j].Environment {
			return all[i].Environment < all[j].Environment
		}

		return all[i].Suite < all[j].Suite
	})

	now := time.Now()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Baselines")
	t.AppendHeader(table.Row{"Environment", "Suite", "Samples", "Mean (ms)", "P95 (ms)", "Heap", "Updated", "Version"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Samples", Align: text.AlignRight},
		{Name: "Mean (ms)", Align: text.AlignRight},
		{Name: "P95 (ms)", Align: text.AlignRight},
		{Name: "Heap", Align: text.AlignRight},
	})

	for _, b := range all {
		updated := units.HumanDuration(now.Sub(b.LastUpdated)) + " ago"
		if b.Expired(now, a.cfg.Baseline.RetentionDays) {
			updated = text.FgHiBlack.Sprint(updated + " (expired)")
		}

		t.AppendRow(table.Row{
			b.Environment,
			b.Suite,
			b.SampleSize,
			fmt.Sprintf("%.2f", b.Statistics.Duration.Mean),
			fmt.Sprintf("%.2f", b.Statistics.Duration.P95),
			units.BytesSize(b.Statistics.Memory.Heap.Mean),
			updated,
			b.Version,
		})
	}

	if len(all) == 0 {
		t.AppendRow(table.Row{"no baselines stored"})
	}

	t.Render()
}
