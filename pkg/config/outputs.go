package config

import (
	"fmt"
	"time"
)

// Report formats.
const (
	ReportFormatJSON     = "json"
	ReportFormatMarkdown = "markdown"
)

// Alert severities usable as webhook filters.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// DefaultWebhookTimeout bounds a single webhook delivery.
const DefaultWebhookTimeout = 10 * time.Second

// AlertsConfig configures alert transports.
type AlertsConfig struct {
	Log      LogAlertConfig  `yaml:"log" mapstructure:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" mapstructure:"webhooks"`
}

// LogAlertConfig writes alerts to the process log.
type LogAlertConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// WebhookConfig posts alerts as JSON to a URL.
type WebhookConfig struct {
	Name        string            `yaml:"name" mapstructure:"name"`
	URL         string            `yaml:"url" mapstructure:"url"`
	Headers     map[string]string `yaml:"headers,omitempty" mapstructure:"headers"`
	Timeout     time.Duration     `yaml:"timeout,omitempty" mapstructure:"timeout"`
	MinSeverity string            `yaml:"min_severity,omitempty" mapstructure:"min_severity"`
}

// ReportConfig configures the report renderer.
type ReportConfig struct {
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	Owner   string        `yaml:"owner,omitempty" mapstructure:"owner"`
	Formats []string      `yaml:"formats,omitempty" mapstructure:"formats"`
	Upload  *ReportUpload `yaml:"upload,omitempty" mapstructure:"upload"`
	Extras  ReportExtras  `yaml:"extras,omitempty" mapstructure:"extras"`
}

// ReportUpload uploads rendered reports to S3.
type ReportUpload struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	S3      S3Config `yaml:"s3" mapstructure:"s3"`
}

// ReportExtras tunes the per-pair statistical extras.
type ReportExtras struct {
	OutlierMultiplier float64 `yaml:"outlier_multiplier,omitempty" mapstructure:"outlier_multiplier"`
	BootstrapSamples  int     `yaml:"bootstrap_samples,omitempty" mapstructure:"bootstrap_samples"`
	DriftSigma        float64 `yaml:"drift_sigma,omitempty" mapstructure:"drift_sigma"`
}

func (r *ReportConfig) applyDefaults() {
	if r.Dir == "" {
		r.Dir = DefaultReportDir
	}

	if len(r.Formats) == 0 {
		r.Formats = []string{ReportFormatJSON, ReportFormatMarkdown}
	}

	if r.Upload != nil && r.Upload.S3.Region == "" {
		r.Upload.S3.Region = DefaultS3Region
	}

	if r.Extras.OutlierMultiplier == 0 {
		r.Extras.OutlierMultiplier = 1.5
	}

	if r.Extras.BootstrapSamples == 0 {
		r.Extras.BootstrapSamples = 1000
	}

	if r.Extras.DriftSigma == 0 {
		r.Extras.DriftSigma = 5
	}
}

func (r *ReportConfig) validate() error {
	for _, f := range r.Formats {
		if f != ReportFormatJSON && f != ReportFormatMarkdown {
			return fmt.Errorf("unknown format %q", f)
		}
	}

	if r.Upload != nil && r.Upload.Enabled {
		if err := r.Upload.S3.validate(); err != nil {
			return fmt.Errorf("upload.s3: %w", err)
		}
	}

	if r.Extras.OutlierMultiplier < 0 || r.Extras.BootstrapSamples < 0 || r.Extras.DriftSigma < 0 {
		return fmt.Errorf("extras must not be negative")
	}

	return nil
}

func (a *AlertsConfig) validate() error {
	for i, w := range a.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %d: url is required", i)
		}

		switch w.MinSeverity {
		case "", SeverityWarning, SeverityCritical:
		default:
			return fmt.Errorf("webhook %d: unknown min_severity %q", i, w.MinSeverity)
		}
	}

	return nil
}
