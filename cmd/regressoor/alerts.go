package main

import (
	"context"
	"time"

	"github.com/ethpandaops/regressoor/pkg/alert"
	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/spf13/cobra"
)

var testAlertsCmd = &cobra.Command{
	Use:   "test-alerts",
	Short: "Send a test alert through every configured dispatcher",
	RunE:  runTestAlerts,
}

func init() {
	rootCmd.AddCommand(testAlertsCmd)
}

func runTestAlerts(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dispatcher := alert.FromConfig(log, &cfg.Alerts)

	dispatcher.SendAlert(ctx, &alert.Alert{
		Type:      alert.TypeTest,
		Severity:  classifier.SeverityWarning,
		RunID:     "test",
		Summary:   "Test alert from regressoor, no action required",
		Timestamp: time.Now().UTC(),
	})

	log.WithField("webhooks", len(cfg.Alerts.Webhooks)).Info("Test alert dispatched")

	return nil
}
