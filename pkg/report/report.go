// Package report renders run reports to disk and optionally uploads them.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/fsutil"
	"github.com/ethpandaops/regressoor/pkg/suite"
	"github.com/sirupsen/logrus"
)

// File names inside a run report directory.
const (
	RunFileName     = "run.json"
	SummaryFileName = "summary.md"
)

// Input is everything a renderer needs to describe one run.
type Input struct {
	RunID        string                  `json:"run_id"`
	StartedAt    time.Time               `json:"started_at"`
	CompletedAt  time.Time               `json:"completed_at"`
	Environments []string                `json:"environments"`
	TimedOut     bool                    `json:"timed_out,omitempty"`
	Pairs        []*suite.PairResult     `json:"pairs"`
	Results      []*classifier.Result    `json:"results"`
	Analysis     *classifier.RunAnalysis `json:"analysis"`
	Runner       config.RunnerConfig     `json:"runner"`
	Thresholds   config.Thresholds       `json:"thresholds"`
	System       *SystemInfo             `json:"system,omitempty"`
}

// Renderer produces a report for a run and returns where it can be found.
type Renderer interface {
	Generate(ctx context.Context, in *Input) (string, error)
}

// Option customises the file renderer.
type Option func(*fileRenderer)

// WithUploader uploads each rendered report directory.
func WithUploader(u Uploader) Option {
	return func(r *fileRenderer) {
		r.uploader = u
	}
}

// WithSystemInfo overrides host information collection.
func WithSystemInfo(fn func(ctx context.Context) *SystemInfo) Option {
	return func(r *fileRenderer) {
		r.systemInfo = fn
	}
}

type fileRenderer struct {
	log        logrus.FieldLogger
	cfg        *config.ReportConfig
	owner      *fsutil.Owner
	uploader   Uploader
	systemInfo func(ctx context.Context) *SystemInfo
}

// Ensure interface compliance.
var _ Renderer = (*fileRenderer)(nil)

// NewFileRenderer writes reports below cfg.Dir/<run id>/.
func NewFileRenderer(log logrus.FieldLogger, cfg *config.ReportConfig, opts ...Option) (Renderer, error) {
	owner, err := fsutil.ParseOwner(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("parsing report owner: %w", err)
	}

	r := &fileRenderer{
		log:        log.WithField("component", "report"),
		cfg:        cfg,
		owner:      owner,
		systemInfo: CollectSystemInfo,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Generate writes the configured formats and returns the report directory,
// or its remote location when uploads are enabled.
func (r *fileRenderer) Generate(ctx context.Context, in *Input) (string, error) {
	if in.System == nil && r.systemInfo != nil {
		in.System = r.systemInfo(ctx)
	}

	dir := filepath.Join(r.cfg.Dir, in.RunID)
	if err := fsutil.MkdirAll(dir, 0o755, r.owner); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	for _, format := range r.cfg.Formats {
		var (
			name string
			data []byte
		)

		switch format {
		case config.ReportFormatJSON:
			encoded, err := json.MarshalIndent(in, "", "  ")
			if err != nil {
				return "", fmt.Errorf("encoding run report: %w", err)
			}

			name, data = RunFileName, encoded
		case config.ReportFormatMarkdown:
			name, data = SummaryFileName, []byte(Markdown(in))
		default:
			return "", fmt.Errorf("unknown report format %q", format)
		}

		if err := fsutil.WriteFileAtomic(filepath.Join(dir, name), data, 0o644, r.owner); err != nil {
			return "", fmt.Errorf("writing %s: %w", name, err)
		}
	}

	r.log.WithFields(logrus.Fields{
		"run_id":  in.RunID,
		"dir":     dir,
		"formats": r.cfg.Formats,
	}).Info("Report written")

	if r.uploader == nil {
		return dir, nil
	}

	location, err := r.uploader.Upload(ctx, dir)
	if err != nil {
		r.log.WithError(err).Warn("Failed to upload report, keeping local copy")

		return dir, nil
	}

	return location, nil
}
