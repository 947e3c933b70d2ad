// Package alert delivers regression alerts. Delivery is best effort:
// dispatchers log failures and never return them.
package alert

import (
	"context"
	"time"

	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// Alert types.
const (
	TypeRegression = "regression"
	TypeTest       = "test"
)

// Alert is a notification about the regressions of one run.
type Alert struct {
	Type           string                  `json:"type"`
	Severity       classifier.Severity     `json:"severity"`
	RunID          string                  `json:"run_id"`
	Summary        string                  `json:"summary"`
	Regressions    []*classifier.Result    `json:"regressions"`
	Analysis       *classifier.RunAnalysis `json:"analysis,omitempty"`
	ReportLocation string                  `json:"report_location,omitempty"`
	Timestamp      time.Time               `json:"timestamp"`
}

// Dispatcher sends alerts.
type Dispatcher interface {
	SendAlert(ctx context.Context, a *Alert)
}

// FromConfig builds a dispatcher fanning out to every configured transport.
// With nothing configured the returned dispatcher discards alerts.
func FromConfig(log logrus.FieldLogger, cfg *config.AlertsConfig, opts ...WebhookOption) Dispatcher {
	dispatchers := make([]Dispatcher, 0, 1+len(cfg.Webhooks))

	if cfg.Log.Enabled {
		dispatchers = append(dispatchers, NewLogDispatcher(log))
	}

	for i := range cfg.Webhooks {
		dispatchers = append(dispatchers, NewWebhookDispatcher(log, &cfg.Webhooks[i], opts...))
	}

	return Multi(dispatchers...)
}

type multi []Dispatcher

// Multi sends every alert to each dispatcher in order.
func Multi(dispatchers ...Dispatcher) Dispatcher {
	return multi(dispatchers)
}

func (m multi) SendAlert(ctx context.Context, a *Alert) {
	for _, d := range m {
		d.SendAlert(ctx, a)
	}
}

type logDispatcher struct {
	log logrus.FieldLogger
}

// NewLogDispatcher writes alerts to the log at warn or error level.
func NewLogDispatcher(log logrus.FieldLogger) Dispatcher {
	return &logDispatcher{log: log.WithField("component", "alert-log")}
}

func (d *logDispatcher) SendAlert(_ context.Context, a *Alert) {
	entry := d.log.WithFields(logrus.Fields{
		"type":        a.Type,
		"severity":    a.Severity,
		"run_id":      a.RunID,
		"regressions": len(a.Regressions),
		"report":      a.ReportLocation,
	})

	if a.Severity == classifier.SeverityCritical {
		entry.Error(a.Summary)
	} else {
		entry.Warn(a.Summary)
	}

	for _, r := range a.Regressions {
		d.log.WithFields(logrus.Fields{
			"environment": r.Environment,
			"suite":       r.Suite,
			"severity":    r.Severity,
			"confidence":  r.Confidence.Level,
		}).Warn(r.Message)
	}
}
