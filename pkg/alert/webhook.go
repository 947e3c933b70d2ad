package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// WebhookOption customises webhook dispatchers.
type WebhookOption func(*webhookDispatcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(d *webhookDispatcher) {
		d.client = client
	}
}

type webhookDispatcher struct {
	log    logrus.FieldLogger
	cfg    *config.WebhookConfig
	client *http.Client
}

// NewWebhookDispatcher posts alerts as JSON to cfg.URL. Alerts below
// cfg.MinSeverity are dropped.
func NewWebhookDispatcher(log logrus.FieldLogger, cfg *config.WebhookConfig, opts ...WebhookOption) Dispatcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.DefaultWebhookTimeout
	}

	d := &webhookDispatcher{
		log: log.WithFields(logrus.Fields{
			"component": "alert-webhook",
			"webhook":   cfg.Name,
		}),
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *webhookDispatcher) SendAlert(ctx context.Context, a *Alert) {
	if a.Type != TypeTest && d.cfg.MinSeverity != "" &&
		!a.Severity.AtLeast(classifier.Severity(d.cfg.MinSeverity)) {
		d.log.WithField("severity", a.Severity).Debug("Alert below webhook minimum severity")

		return
	}

	if err := d.post(ctx, a); err != nil {
		d.log.WithError(err).Warn("Failed to deliver alert")

		return
	}

	d.log.WithField("run_id", a.RunID).Debug("Alert delivered")
}

func (d *webhookDispatcher) post(ctx context.Context, a *Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
