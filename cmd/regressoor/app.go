package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethpandaops/regressoor/pkg/alert"
	"github.com/ethpandaops/regressoor/pkg/baseline"
	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/ethpandaops/regressoor/pkg/metrics"
	"github.com/ethpandaops/regressoor/pkg/orchestrator"
	"github.com/ethpandaops/regressoor/pkg/report"
	"github.com/ethpandaops/regressoor/pkg/suite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const suiteHTTPTimeout = 30 * time.Second

// app holds the wired services of one process.
type app struct {
	cfg       *config.Config
	registry  suite.Registry
	baselines baseline.Store
	history   history.Store
	alerts    alert.Dispatcher
	promReg   *prometheus.Registry
	orch      orchestrator.Orchestrator
}

// newApp wires every service from cfg and starts the stores. Callers must
// call close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	a.registry = suite.NewRegistry()
	if err := suite.RegisterConfigured(a.registry, cfg, &http.Client{Timeout: suiteHTTPTimeout}); err != nil {
		return nil, fmt.Errorf("registering suites: %w", err)
	}

	backend, err := baseline.NewBackend(log, &cfg.Baseline.Storage)
	if err != nil {
		return nil, fmt.Errorf("creating baseline backend: %w", err)
	}

	a.baselines = baseline.NewStore(log, &baseline.Config{
		RetentionDays: cfg.Baseline.RetentionDays,
		MinSampleSize: cfg.Baseline.MinSampleSize,
		VarianceMerge: cfg.Baseline.VarianceMerge,
	}, backend)

	if err := a.baselines.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting baseline store: %w", err)
	}

	if cfg.History != nil && cfg.History.Enabled {
		a.history = history.NewStore(log, &cfg.History.Database)

		if err := a.history.Start(ctx); err != nil {
			a.close()

			return nil, fmt.Errorf("starting history store: %w", err)
		}
	}

	opts := []report.Option{report.WithSystemInfo(report.CollectSystemInfo)}
	if cfg.Report.Upload != nil && cfg.Report.Upload.Enabled {
		opts = append(opts, report.WithUploader(report.NewS3Uploader(log, &cfg.Report.Upload.S3)))
	}

	renderer, err := report.NewFileRenderer(log, &cfg.Report, opts...)
	if err != nil {
		a.close()

		return nil, fmt.Errorf("creating report renderer: %w", err)
	}

	a.alerts = alert.FromConfig(log, &cfg.Alerts)

	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.orch = orchestrator.New(log, orchestrator.NewConfig(cfg), orchestrator.Deps{
		Registry:  a.registry,
		Baselines: a.baselines,
		Classifier: classifier.New(log, &classifier.Config{
			Thresholds:    cfg.Thresholds,
			MinSampleSize: cfg.Baseline.MinSampleSize,
		}),
		Alerts:   a.alerts,
		Reporter: renderer,
		History:  a.history,
		Metrics:  metrics.New(a.promReg),
	})

	return a, nil
}

func (a *app) close() {
	if a.history != nil {
		if err := a.history.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop history store")
		}
	}

	if a.baselines != nil {
		if err := a.baselines.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop baseline store")
		}
	}
}
