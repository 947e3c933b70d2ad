package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/regressoor/pkg/alert"
	"github.com/ethpandaops/regressoor/pkg/baseline"
	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/report"
	"github.com/ethpandaops/regressoor/pkg/suite"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) SendAlert(ctx context.Context, a *alert.Alert) {
	m.Called(ctx, a)
}

type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) Generate(ctx context.Context, in *report.Input) (string, error) {
	args := m.Called(ctx, in)

	return args.String(0), args.Error(1)
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func intPtr(v int) *int { return &v }

func testRunner() config.RunnerConfig {
	return config.RunnerConfig{
		WarmupRuns:      1,
		MeasurementRuns: 5,
		ParallelTests:   2,
		RetryAttempts:   intPtr(0),
	}
}

type fixture struct {
	orch      Orchestrator
	registry  suite.Registry
	baselines baseline.Store
	alerts    *mockDispatcher
	reporter  *mockRenderer
}

func newFixture(t *testing.T, runner config.RunnerConfig, suites ...*suite.Suite) *fixture {
	t.Helper()

	log := testLogger()

	reg := suite.NewRegistry()
	for _, s := range suites {
		require.NoError(t, reg.Register(s))
	}

	baselines := baseline.NewStore(log, &baseline.Config{
		RetentionDays: 30,
		MinSampleSize: 1,
		VarianceMerge: config.VarianceMergePooled,
	}, baseline.NewMemoryBackend())
	require.NoError(t, baselines.Start(context.Background()))

	t.Cleanup(func() { _ = baselines.Stop() })

	alerts := &mockDispatcher{}
	reporter := &mockRenderer{}
	reporter.On("Generate", mock.Anything, mock.Anything).Return("reports/run", nil).Maybe()

	thresholds := config.DefaultThresholds()

	orch := New(log, &Config{
		Runner:     runner,
		Thresholds: thresholds,
		Extras:     config.ReportExtras{OutlierMultiplier: 1.5, BootstrapSamples: 100, DriftSigma: 5},
		Seed:       1,
	}, Deps{
		Registry:   reg,
		Baselines:  baselines,
		Classifier: classifier.New(log, &classifier.Config{Thresholds: thresholds, MinSampleSize: 1}),
		Alerts:     alerts,
		Reporter:   reporter,
		Sampler:    suite.NoopSampler(),
	})

	return &fixture{orch: orch, registry: reg, baselines: baselines, alerts: alerts, reporter: reporter}
}

// fixedSuite always reports the duration held by ms.
func fixedSuite(name string, ms *atomic.Int64, envs ...string) *suite.Suite {
	return &suite.Suite{
		Name:         name,
		Environments: envs,
		Func: func(_ context.Context, _ string, _ suite.Options) (*suite.Outcome, error) {
			return &suite.Outcome{Success: true, DurationMs: float64(ms.Load())}, nil
		},
	}
}

func TestRun_FirstRunCreatesBaselines(t *testing.T) {
	var ms atomic.Int64
	ms.Store(100)

	f := newFixture(t, testRunner(),
		fixedSuite("login", &ms, "staging"),
		fixedSuite("search", &ms, "staging", "prod"),
	)

	rep, err := f.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, []string{"staging", "prod"}, rep.Environments)
	require.Len(t, rep.Pairs, 3)
	assert.Zero(t, rep.FailedPairs())
	require.Len(t, rep.Results, 3)

	for _, r := range rep.Results {
		assert.False(t, r.HasBaseline)
		assert.Equal(t, classifier.SeverityNone, r.Severity)
	}

	require.NotNil(t, rep.BaselineUpdate)
	assert.Equal(t, 3, rep.BaselineUpdate.Created)
	assert.Equal(t, "reports/run", rep.ReportLocation)
	assert.False(t, rep.AlertSent)

	b, ok := f.baselines.Get("prod", "search")
	require.True(t, ok)
	assert.InDelta(t, 100, b.Statistics.Duration.Mean, 1e-9)

	f.alerts.AssertNotCalled(t, "SendAlert", mock.Anything, mock.Anything)
	f.reporter.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRun_CriticalRegression(t *testing.T) {
	var ms atomic.Int64
	ms.Store(100)

	f := newFixture(t, testRunner(), fixedSuite("login", &ms, "staging"))

	_, err := f.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	f.alerts.On("SendAlert", mock.Anything, mock.MatchedBy(func(a *alert.Alert) bool {
		return a.Type == alert.TypeRegression &&
			a.Severity == classifier.SeverityCritical &&
			a.ReportLocation == "reports/run" &&
			len(a.Regressions) == 1
	})).Once()

	ms.Store(200)

	rep, err := f.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Len(t, rep.Results, 1)
	assert.True(t, rep.Results[0].IsRegression)
	assert.Equal(t, classifier.SeverityCritical, rep.Results[0].Severity)
	assert.True(t, rep.AlertSent)

	assert.Nil(t, rep.BaselineUpdate)
	assert.Contains(t, rep.BaselineSkipReason, "critical")

	b, ok := f.baselines.Get("staging", "login")
	require.True(t, ok)
	assert.InDelta(t, 100, b.Statistics.Duration.Mean, 1e-9)

	f.alerts.AssertExpectations(t)
}

func TestRun_WarningRegressionStillUpdatesBaseline(t *testing.T) {
	var ms atomic.Int64
	ms.Store(100)

	f := newFixture(t, testRunner(), fixedSuite("login", &ms, "staging"))

	_, err := f.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	f.alerts.On("SendAlert", mock.Anything, mock.MatchedBy(func(a *alert.Alert) bool {
		return a.Severity == classifier.SeverityWarning
	})).Once()

	ms.Store(120)

	rep, err := f.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.NotNil(t, rep.BaselineUpdate)
	assert.Equal(t, 1, rep.BaselineUpdate.Merged)
	assert.Equal(t, 1, rep.Analysis.WarningRegressions)

	f.alerts.AssertExpectations(t)
}

func TestRun_SkipBaselineUpdate(t *testing.T) {
	var ms atomic.Int64
	ms.Store(100)

	f := newFixture(t, testRunner(), fixedSuite("login", &ms, "staging"))

	rep, err := f.orch.Run(context.Background(), RunOptions{SkipBaselineUpdate: true})
	require.NoError(t, err)

	assert.Nil(t, rep.BaselineUpdate)
	assert.NotEmpty(t, rep.BaselineSkipReason)

	_, ok := f.baselines.Get("staging", "login")
	assert.False(t, ok)
}

func TestRun_FailedPairExcludedFromBaselines(t *testing.T) {
	var ms atomic.Int64
	ms.Store(100)

	broken := &suite.Suite{
		Name:         "broken",
		Environments: []string{"staging"},
		Func: func(context.Context, string, suite.Options) (*suite.Outcome, error) {
			return nil, errors.New("connection refused")
		},
	}

	f := newFixture(t, testRunner(), fixedSuite("login", &ms, "staging"), broken)

	rep, err := f.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.FailedPairs())
	require.Len(t, rep.Results, 1)
	assert.Equal(t, "login", rep.Results[0].Suite)

	_, ok := f.baselines.Get("staging", "broken")
	assert.False(t, ok)

	_, ok = f.baselines.Get("staging", "login")
	assert.True(t, ok)
}

func TestRun_ReportFailureDoesNotAbort(t *testing.T) {
	var ms atomic.Int64
	ms.Store(100)

	f := newFixture(t, testRunner(), fixedSuite("login", &ms, "staging"))
	f.reporter.ExpectedCalls = nil
	f.reporter.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("disk full"))

	rep, err := f.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Empty(t, rep.ReportLocation)
	require.NotNil(t, rep.BaselineUpdate)
	assert.Equal(t, 1, rep.BaselineUpdate.Created)
}

func TestRun_Selection(t *testing.T) {
	var ms atomic.Int64
	ms.Store(100)

	f := newFixture(t, testRunner(),
		fixedSuite("login", &ms, "staging", "prod"),
		fixedSuite("search", &ms, "staging"),
	)

	tests := []struct {
		name    string
		opts    RunOptions
		pairs   int
		wantErr error
	}{
		{name: "all", opts: RunOptions{}, pairs: 3},
		{name: "one environment", opts: RunOptions{Environments: []string{"prod"}}, pairs: 1},
		{name: "one suite", opts: RunOptions{Suites: []string{"search"}}, pairs: 1},
		{name: "no matching suites", opts: RunOptions{Environments: []string{"dev"}}, wantErr: ErrNothingToRun},
		{
			name:    "suite not in environment",
			opts:    RunOptions{Environments: []string{"prod"}, Suites: []string{"search"}},
			wantErr: ErrNothingToRun,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := f.orch.Run(context.Background(), tt.opts)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Len(t, rep.Pairs, tt.pairs)
		})
	}

	_, err := f.orch.Run(context.Background(), RunOptions{Suites: []string{"missing"}})
	require.Error(t, err)
}

func TestRun_ConcurrencyBoundAndOrder(t *testing.T) {
	var inFlight, peak atomic.Int32

	runner := testRunner()
	runner.WarmupRuns = 0
	runner.MeasurementRuns = 2
	runner.ParallelTests = 2

	names := []string{"a", "b", "c", "d", "e", "f"}
	suites := make([]*suite.Suite, 0, len(names))

	for _, name := range names {
		suites = append(suites, &suite.Suite{
			Name:         name,
			Environments: []string{"staging"},
			Func: func(context.Context, string, suite.Options) (*suite.Outcome, error) {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)

				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}

				time.Sleep(10 * time.Millisecond)

				return &suite.Outcome{Success: true, DurationMs: 10}, nil
			},
		})
	}

	f := newFixture(t, runner, suites...)

	rep, err := f.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))

	require.Len(t, rep.Pairs, len(names))

	for i, p := range rep.Pairs {
		assert.Equal(t, names[i], p.Suite)
	}
}

func TestRun_Timeout(t *testing.T) {
	runner := testRunner()
	runner.RunTimeout = 50 * time.Millisecond

	slow := &suite.Suite{
		Name:         "slow",
		Environments: []string{"staging"},
		Func: func(ctx context.Context, _ string, _ suite.Options) (*suite.Outcome, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return &suite.Outcome{Success: true, DurationMs: 1}, nil
			}
		},
	}

	f := newFixture(t, runner, slow)

	rep, err := f.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.True(t, rep.TimedOut)
	require.Len(t, rep.Pairs, 1)
	assert.Equal(t, suite.StatusFailed, rep.Pairs[0].Status)
	assert.Equal(t, errRunTimedOut.Error(), rep.Pairs[0].Error)
	assert.Empty(t, rep.Pairs[0].Outcomes)
	assert.Empty(t, rep.Results)

	f.reporter.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRun_TimeoutAbandonsFuncIgnoringContext(t *testing.T) {
	runner := testRunner()
	runner.RunTimeout = 50 * time.Millisecond

	stuck := &suite.Suite{
		Name:         "stuck",
		Environments: []string{"staging"},
		Func: func(_ context.Context, _ string, _ suite.Options) (*suite.Outcome, error) {
			time.Sleep(2 * time.Second)

			return &suite.Outcome{Success: true, DurationMs: 1}, nil
		},
	}

	f := newFixture(t, runner, stuck)

	start := time.Now()
	rep, err := f.orch.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, rep.TimedOut)
	require.Len(t, rep.Pairs, 1)
	assert.Equal(t, suite.StatusFailed, rep.Pairs[0].Status)
	assert.Equal(t, errRunTimedOut.Error(), rep.Pairs[0].Error)
	assert.Empty(t, rep.Pairs[0].Outcomes)
}

func TestRun_InProgress(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	var once sync.Once

	blocking := &suite.Suite{
		Name:         "blocking",
		Environments: []string{"staging"},
		Func: func(context.Context, string, suite.Options) (*suite.Outcome, error) {
			once.Do(func() { close(started) })
			<-release

			return &suite.Outcome{Success: true, DurationMs: 1}, nil
		},
	}

	runner := testRunner()
	runner.WarmupRuns = 0
	runner.MeasurementRuns = 1

	f := newFixture(t, runner, blocking)

	errCh := make(chan error, 1)

	go func() {
		_, err := f.orch.Run(context.Background(), RunOptions{})
		errCh <- err
	}()

	<-started

	st := f.orch.Status()
	assert.True(t, st.Running)
	assert.NotEmpty(t, st.RunID)

	_, err := f.orch.Run(context.Background(), RunOptions{})
	require.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-errCh)

	st = f.orch.Status()
	assert.False(t, st.Running)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, 1, st.LastRun.Pairs)
}

func TestRun_ProgressEvents(t *testing.T) {
	var ms atomic.Int64
	ms.Store(100)

	f := newFixture(t, testRunner(), fixedSuite("login", &ms, "staging"))

	var events []Event

	rep, err := f.orch.Run(context.Background(), RunOptions{
		Progress: func(ev Event) { events = append(events, ev) },
	})
	require.NoError(t, err)

	types := make([]EventType, 0, len(events))
	for _, ev := range events {
		assert.Equal(t, rep.RunID, ev.RunID)
		types = append(types, ev.Type)
	}

	assert.Equal(t, []EventType{
		EventRunStart,
		EventSuiteStart,
		EventSuiteWarmup,
		EventSuiteMeasure,
		EventSuiteComplete,
		EventRunComplete,
	}, types)
}

func TestExecuteSuite_Retries(t *testing.T) {
	tests := []struct {
		name         string
		retries      int
		failAttempts int
		wantStatus   suite.Status
		wantAttempts int
		wantCalls    int64
	}{
		{name: "always fails", retries: 2, failAttempts: 99, wantStatus: suite.StatusFailed, wantAttempts: 3, wantCalls: 9},
		{name: "recovers on retry", retries: 2, failAttempts: 1, wantStatus: suite.StatusSucceeded, wantAttempts: 2, wantCalls: 6},
		{name: "no retries", retries: 0, failAttempts: 1, wantStatus: suite.StatusFailed, wantAttempts: 1, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int64

			s := &suite.Suite{
				Name:         "flaky",
				Environments: []string{"staging"},
				Func: func(_ context.Context, _ string, opts suite.Options) (*suite.Outcome, error) {
					calls.Add(1)

					if opts.Attempt <= tt.failAttempts {
						return nil, errors.New("boom")
					}

					return &suite.Outcome{Success: true, DurationMs: 5}, nil
				},
			}

			runner := testRunner()
			runner.WarmupRuns = 1
			runner.MeasurementRuns = 2
			runner.RetryAttempts = intPtr(tt.retries)

			f := newFixture(t, runner, s)

			res := f.orch.ExecuteSuite(context.Background(), "staging", s)

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantAttempts, res.Attempts)
			assert.Equal(t, tt.wantCalls, calls.Load())

			if tt.wantStatus == suite.StatusFailed {
				assert.Nil(t, res.Statistics)
				assert.NotEmpty(t, res.Error)
			} else {
				require.NotNil(t, res.Statistics)
				assert.Equal(t, 2, res.Statistics.SampleSize)
			}
		})
	}
}

func TestExecuteSuite_PanicAbortsAttempt(t *testing.T) {
	var calls atomic.Int64

	s := &suite.Suite{
		Name:         "panicky",
		Environments: []string{"staging"},
		Func: func(context.Context, string, suite.Options) (*suite.Outcome, error) {
			calls.Add(1)
			panic("unexpected nil")
		},
	}

	runner := testRunner()
	runner.WarmupRuns = 0
	runner.MeasurementRuns = 5

	f := newFixture(t, runner, s)

	res := f.orch.ExecuteSuite(context.Background(), "staging", s)

	assert.Equal(t, suite.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "panicked")
	assert.Equal(t, int64(1), calls.Load())
}

func TestExecuteSuite_PartialFailures(t *testing.T) {
	s := &suite.Suite{
		Name:         "sometimes",
		Environments: []string{"staging"},
		Func: func(_ context.Context, _ string, opts suite.Options) (*suite.Outcome, error) {
			if opts.Iteration%2 == 1 {
				return nil, errors.New("timeout")
			}

			return &suite.Outcome{Success: true, DurationMs: 10}, nil
		},
	}

	runner := testRunner()
	runner.WarmupRuns = 0
	runner.MeasurementRuns = 4

	f := newFixture(t, runner, s)

	res := f.orch.ExecuteSuite(context.Background(), "staging", s)

	require.True(t, res.Succeeded())
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, res.Outcomes, 4)
	assert.Equal(t, 2, res.Statistics.SampleSize)
	assert.InDelta(t, 0.5, res.Statistics.ErrorRate, 1e-9)
}

func TestDrift(t *testing.T) {
	history := []float64{100, 101, 99, 100}

	b := &baseline.Baseline{}
	for _, m := range history {
		b.UpdateHistory = append(b.UpdateHistory, baseline.HistoryEntry{DurationMean: m})
	}

	tests := []struct {
		name      string
		baseline  *baseline.Baseline
		current   float64
		drift     bool
		direction string
	}{
		{name: "upward shift", baseline: b, current: 200, drift: true, direction: "up"},
		{name: "downward shift", baseline: b, current: 10, drift: true, direction: "down"},
		{name: "stable", baseline: b, current: 100.5},
		{name: "too little history", baseline: &baseline.Baseline{
			UpdateHistory: []baseline.HistoryEntry{{DurationMean: 100}},
		}, current: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drift, dir := drift(tt.baseline, tt.current, 5)
			assert.Equal(t, tt.drift, drift)
			assert.Equal(t, tt.direction, dir)
		})
	}
}

func TestScheduler_Trigger(t *testing.T) {
	var ms atomic.Int64
	ms.Store(100)

	f := newFixture(t, testRunner(), fixedSuite("login", &ms, "staging"))

	s := NewScheduler(testLogger(), f.orch, 0, RunOptions{})
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Trigger(RunOptions{}))

	require.Eventually(t, func() bool {
		return f.orch.Status().LastRun != nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
}

func TestScheduler_StopTwice(t *testing.T) {
	var ms atomic.Int64
	ms.Store(100)

	f := newFixture(t, testRunner(), fixedSuite("login", &ms, "staging"))

	s := NewScheduler(testLogger(), f.orch, time.Hour, RunOptions{})
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop())
	require.NotPanics(t, func() {
		require.NoError(t, s.Stop())
	})
}
