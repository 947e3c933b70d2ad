package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/regressoor/pkg/api"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/orchestrator"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status API and scheduled runs",
	Long: `Start the status API server. When schedule.enabled is set, runs are
started every schedule.interval; admin users can also trigger runs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	apiCfg := cfg.API
	if apiCfg == nil {
		apiCfg = &config.APIConfig{Listen: config.DefaultAPIListen}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	interval := cfg.Schedule.Interval
	if !cfg.Schedule.Enabled {
		interval = 0
	}

	scheduler := orchestrator.NewScheduler(log, a.orch, interval, orchestrator.RunOptions{
		Environments: cfg.Schedule.Environments,
		Progress:     logProgress,
	})

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	srv := api.NewServer(log, apiCfg, api.Deps{
		Orchestrator: a.orch,
		Scheduler:    scheduler,
		Baselines:    a.baselines,
		History:      a.history,
		Gatherer:     a.promReg,
	})

	if err := srv.Start(ctx); err != nil {
		_ = scheduler.Stop()

		return fmt.Errorf("starting api server: %w", err)
	}

	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down")
	cancel()

	if err := srv.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop api server")
	}

	if err := scheduler.Stop(); err != nil {
		return fmt.Errorf("stopping scheduler: %w", err)
	}

	return nil
}
