package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var forceCleanup bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete baselines past the retention window",
	Long: `Delete every baseline that has not been updated within
baseline.retention_days from the configured storage backend.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVarP(&forceCleanup, "force", "f", false, "Skip confirmation prompt")
}

func runCleanup(cmd *cobra.Command, _ []string) error {
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

	now := time.Now()
	expired := make([]string, 0, 8)

	for _, b := range a.baselines.List() {
		if b.Expired(now, cfg.Baseline.RetentionDays) {
			expired = append(expired, b.Environment+"/"+b.Suite)
		}
	}

	if len(expired) == 0 {
		log.Info("No expired baselines found")

		return nil
	}

	fmt.Printf("Expired baselines (%d):\n", len(expired))

	for _, name := range expired {
		fmt.Printf("  - %s\n", name)
	}

	if !forceCleanup && !confirm("Delete these baselines?") {
		log.Info("Cleanup cancelled")

		return nil
	}

	removed, err := a.baselines.Cleanup(ctx)
	if err != nil {
		return fmt.Errorf("cleaning up baselines: %w", err)
	}

	log.WithField("removed", removed).Info("Cleanup completed")

	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)

	reader := bufio.NewReader(os.Stdin)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))

	return response == "y" || response == "yes"
}
