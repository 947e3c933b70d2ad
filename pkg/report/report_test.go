package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/regressoor/pkg/baseline"
	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/suite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func ptr(v float64) *float64 { return &v }

func sampleInput() *Input {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	regression := &classifier.Result{
		Environment:  "staging",
		Suite:        "login",
		HasBaseline:  true,
		IsRegression: true,
		Severity:     classifier.SeverityCritical,
		Category:     classifier.CategoryPerformance,
		Deltas:       &baseline.Comparison{Duration: baseline.DurationDeltas{Mean: 50}},
		Confidence:   baseline.Confidence{Level: baseline.ConfidenceHigh, Score: 0.95},
		Message:      "critical performance regression: +50.0%",
	}

	return &Input{
		RunID:        "run-1",
		StartedAt:    started,
		CompletedAt:  started.Add(90 * time.Second),
		Environments: []string{"staging"},
		Pairs: []*suite.PairResult{
			{
				Environment: "staging",
				Suite:       "login",
				Status:      suite.StatusSucceeded,
				Attempts:    1,
				Statistics: &suite.RunStatistics{
					Duration:   suite.DurationStats{Mean: 150, P95: 170},
					Memory:     suite.MemoryStats{Heap: suite.HeapStats{Mean: 2048}},
					SampleSize: 5,
				},
				Insights: &suite.Insights{
					OutlierCount:   1,
					MeanCILower:    ptr(140),
					MeanCIUpper:    ptr(160),
					Drift:          true,
					DriftDirection: "up",
				},
			},
			{
				Environment: "staging",
				Suite:       "search",
				Status:      suite.StatusFailed,
				Attempts:    3,
				Error:       "connection refused | retry",
			},
		},
		Results:  []*classifier.Result{regression},
		Analysis: classifier.Analyze([]*classifier.Result{regression}),
		Runner:   config.RunnerConfig{WarmupRuns: 2, MeasurementRuns: 5},
		System:   &SystemInfo{Hostname: "bench-1", CPUCores: 8, MemoryTotal: 16 << 30, OS: "linux", Arch: "amd64"},
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleInput())

	for _, want := range []string{
		"# Regression Run: run-1",
		"| Duration | 1m 30s |",
		"| Runs per pair | 2 warmup, 5 measured |",
		"| 1 | 1 | 1 | 0 | 0 | 0 |",
		"critical performance regression: +50.0%",
		"| staging | login | succeeded | 150.00ms | 170.00ms | 2KiB | 5 | +50.0% | critical |",
		"| staging | search | 3 | connection refused \\| retry |",
		"| staging | login | 1 | 140.00ms - 160.00ms | yes (up) |",
		"| Memory | 16GiB |",
		"| Hostname | bench-1 |",
	} {
		assert.Contains(t, md, want)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", formatBytes(512))
	assert.Equal(t, "-1KiB", formatBytes(-1024))
}

type fakeUploader struct {
	location string
	err      error
	dirs     []string
}

func (f *fakeUploader) Upload(_ context.Context, dir string) (string, error) {
	f.dirs = append(f.dirs, dir)

	return f.location, f.err
}

func noSystemInfo(context.Context) *SystemInfo { return nil }

func TestFileRenderer_Generate(t *testing.T) {
	dir := t.TempDir()

	r, err := NewFileRenderer(testLogger(), &config.ReportConfig{
		Dir:     dir,
		Formats: []string{config.ReportFormatJSON, config.ReportFormatMarkdown},
	}, WithSystemInfo(noSystemInfo))
	require.NoError(t, err)

	in := sampleInput()
	location, err := r.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1"), location)

	data, err := os.ReadFile(filepath.Join(location, RunFileName))
	require.NoError(t, err)

	var decoded Input
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	require.Len(t, decoded.Pairs, 2)
	assert.Equal(t, 1, decoded.Analysis.CriticalRegressions)

	md, err := os.ReadFile(filepath.Join(location, SummaryFileName))
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Regression Run: run-1")
}

func TestFileRenderer_FormatsSubset(t *testing.T) {
	dir := t.TempDir()

	r, err := NewFileRenderer(testLogger(), &config.ReportConfig{
		Dir:     dir,
		Formats: []string{config.ReportFormatMarkdown},
	}, WithSystemInfo(noSystemInfo))
	require.NoError(t, err)

	location, err := r.Generate(context.Background(), sampleInput())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(location, RunFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestFileRenderer_Upload(t *testing.T) {
	tests := []struct {
		name     string
		uploader *fakeUploader
		remote   bool
	}{
		{name: "uploaded", uploader: &fakeUploader{location: "s3://reports/run-1"}, remote: true},
		{name: "upload failure keeps local", uploader: &fakeUploader{err: errors.New("denied")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()

			r, err := NewFileRenderer(testLogger(), &config.ReportConfig{
				Dir:     dir,
				Formats: []string{config.ReportFormatJSON},
			}, WithUploader(tt.uploader), WithSystemInfo(noSystemInfo))
			require.NoError(t, err)

			location, err := r.Generate(context.Background(), sampleInput())
			require.NoError(t, err)
			require.Len(t, tt.uploader.dirs, 1)
			assert.Equal(t, filepath.Join(dir, "run-1"), tt.uploader.dirs[0])

			if tt.remote {
				assert.Equal(t, "s3://reports/run-1", location)
			} else {
				assert.Equal(t, filepath.Join(dir, "run-1"), location)
			}
		})
	}
}

func TestNewFileRenderer_InvalidOwner(t *testing.T) {
	_, err := NewFileRenderer(testLogger(), &config.ReportConfig{Dir: t.TempDir(), Owner: "root"})
	require.Error(t, err)
}

func TestCollectSystemInfo(t *testing.T) {
	info := CollectSystemInfo(context.Background())

	require.NotNil(t, info)
	assert.NotEmpty(t, info.OS)
	assert.NotEmpty(t, info.Arch)
	assert.NotEmpty(t, info.GoVersion)
}
