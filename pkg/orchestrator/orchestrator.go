// Package orchestrator executes suites across environments and drives the
// classification, reporting, alerting and baseline pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/regressoor/pkg/alert"
	"github.com/ethpandaops/regressoor/pkg/baseline"
	"github.com/ethpandaops/regressoor/pkg/classifier"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/ethpandaops/regressoor/pkg/metrics"
	"github.com/ethpandaops/regressoor/pkg/report"
	"github.com/ethpandaops/regressoor/pkg/suite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrRunInProgress is returned by Run while another run is active.
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrNothingToRun is returned when the selection matches no suites.
	ErrNothingToRun = errors.New("no suites match the selection")
)

// Orchestrator runs suites and the post-run pipeline. At most one Run is
// active at a time.
type Orchestrator interface {
	// Run executes every selected (environment, suite) pair, then classifies,
	// reports, alerts and updates baselines.
	Run(ctx context.Context, opts RunOptions) (*RunReport, error)
	// ExecuteSuite runs warmup and measurement executions of s against
	// environment, with retries. It never returns nil.
	ExecuteSuite(ctx context.Context, environment string, s *suite.Suite) *suite.PairResult
	Status() Status
}

// Config controls execution. Runner holds the resolved runner settings.
type Config struct {
	Runner     config.RunnerConfig
	Thresholds config.Thresholds
	Extras     config.ReportExtras
	// Variables are per-environment values passed to test functions.
	Variables map[string]map[string]string
	// Seed seeds bootstrap resampling. Zero uses the clock.
	Seed int64
}

// NewConfig derives an orchestrator Config from the application config.
func NewConfig(cfg *config.Config) *Config {
	vars := make(map[string]map[string]string, len(cfg.Environments))
	for _, env := range cfg.Environments {
		vars[env.Name] = env.Variables
	}

	return &Config{
		Runner:     cfg.Runner,
		Thresholds: cfg.Thresholds,
		Extras:     cfg.Report.Extras,
		Variables:  vars,
	}
}

// Deps are the collaborators of an orchestrator. History, Metrics and
// Sampler are optional.
type Deps struct {
	Registry   suite.Registry
	Baselines  baseline.Store
	Classifier classifier.Classifier
	Alerts     alert.Dispatcher
	Reporter   report.Renderer
	History    history.Store
	Metrics    metrics.Recorder
	Sampler    suite.MemorySampler
}

// RunOptions select what a run executes.
type RunOptions struct {
	// Environments limits the run. Empty runs every targeted environment.
	Environments []string
	// Suites limits the run by suite name. Empty runs every suite.
	Suites   []string
	Progress ProgressFunc
	// SkipBaselineUpdate leaves baselines untouched regardless of verdicts.
	SkipBaselineUpdate bool
}

// RunReport is the outcome of one Run.
type RunReport struct {
	RunID        string                  `json:"run_id"`
	StartedAt    time.Time               `json:"started_at"`
	CompletedAt  time.Time               `json:"completed_at"`
	Environments []string                `json:"environments"`
	TimedOut     bool                    `json:"timed_out"`
	Pairs        []*suite.PairResult     `json:"pairs"`
	Results      []*classifier.Result    `json:"results"`
	Analysis     *classifier.RunAnalysis `json:"analysis"`
	// ReportLocation is empty when rendering failed.
	ReportLocation string                  `json:"report_location,omitempty"`
	AlertSent      bool                    `json:"alert_sent"`
	BaselineUpdate *baseline.UpdateSummary `json:"baseline_update,omitempty"`
	// BaselineSkipReason explains why baselines were not updated.
	BaselineSkipReason string `json:"baseline_skip_reason,omitempty"`
}

// FailedPairs counts pairs that ended in the failed state.
func (r *RunReport) FailedPairs() int {
	n := 0

	for _, p := range r.Pairs {
		if !p.Succeeded() {
			n++
		}
	}

	return n
}

// Status describes the orchestrator state.
type Status struct {
	Running   bool       `json:"running"`
	RunID     string     `json:"run_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastRun   *LastRun   `json:"last_run,omitempty"`
}

// LastRun summarises the most recent completed run.
type LastRun struct {
	RunID               string    `json:"run_id"`
	CompletedAt         time.Time `json:"completed_at"`
	Pairs               int       `json:"pairs"`
	FailedPairs         int       `json:"failed_pairs"`
	RegressionCount     int       `json:"regression_count"`
	CriticalRegressions int       `json:"critical_regressions"`
}

type orchestrator struct {
	log  logrus.FieldLogger
	cfg  *Config
	deps Deps
	now  func() time.Time

	running atomic.Bool

	mu        sync.RWMutex
	runID     string
	startedAt time.Time
	lastRun   *LastRun

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Ensure interface compliance.
var _ Orchestrator = (*orchestrator)(nil)

// New creates an Orchestrator.
func New(log logrus.FieldLogger, cfg *Config, deps Deps) Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop()
	}

	if deps.Sampler == nil {
		deps.Sampler = suite.NewRuntimeSampler()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &orchestrator{
		log:  log.WithField("component", "orchestrator"),
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
		rng:  rand.New(rand.NewSource(seed)), //nolint:gosec // resampling only
	}
}

func (o *orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st := Status{
		Running: o.running.Load(),
		LastRun: o.lastRun,
	}

	if st.Running {
		started := o.startedAt
		st.RunID = o.runID
		st.StartedAt = &started
	}

	return st
}

func (o *orchestrator) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	plan, err := o.plan(opts)
	if err != nil {
		return nil, err
	}

	rep := &RunReport{
		RunID:        uuid.NewString(),
		StartedAt:    o.now().UTC(),
		Environments: plan.environments,
	}

	o.mu.Lock()
	o.runID, o.startedAt = rep.RunID, rep.StartedAt
	o.mu.Unlock()

	log := o.log.WithField("run_id", rep.RunID)
	em := newEmitter(rep.RunID, opts.Progress)

	log.WithFields(logrus.Fields{
		"environments": plan.environments,
		"pairs":        plan.pairs,
	}).Info("Starting run")

	o.deps.Metrics.RunStarted()
	em.emit(Event{Type: EventRunStart})

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.Runner.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.Runner.RunTimeout)
	}

	rep.Pairs = o.executeAll(runCtx, plan, em)
	rep.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)

	cancel()

	if rep.TimedOut {
		log.WithField("timeout", o.cfg.Runner.RunTimeout).Warn("Run timed out, unfinished pairs marked failed")
	}

	// The pipeline must complete even when the caller's context was cancelled
	// mid-run so the report reflects what happened.
	o.pipeline(context.WithoutCancel(ctx), log, rep, opts)

	rep.CompletedAt = o.now().UTC()

	em.emit(Event{Type: EventRunComplete})

	outcome := metrics.RunCompleted
	if rep.TimedOut {
		outcome = metrics.RunTimedOut
	}

	o.deps.Metrics.RunFinished(outcome, rep.CompletedAt.Sub(rep.StartedAt))

	o.mu.Lock()
	o.lastRun = &LastRun{
		RunID:               rep.RunID,
		CompletedAt:         rep.CompletedAt,
		Pairs:               len(rep.Pairs),
		FailedPairs:         rep.FailedPairs(),
		RegressionCount:     rep.Analysis.RegressionCount,
		CriticalRegressions: rep.Analysis.CriticalRegressions,
	}
	o.mu.Unlock()

	log.WithFields(logrus.Fields{
		"pairs":       len(rep.Pairs),
		"failed":      rep.FailedPairs(),
		"regressions": rep.Analysis.RegressionCount,
		"critical":    rep.Analysis.CriticalRegressions,
		"duration":    rep.CompletedAt.Sub(rep.StartedAt).Round(time.Millisecond),
	}).Info("Run completed")

	return rep, nil
}

type runPlan struct {
	environments []string
	suites       map[string][]*suite.Suite
	pairs        int
	// order ranks pairs for deterministic report ordering.
	order map[string]int
}

func (o *orchestrator) plan(opts RunOptions) (*runPlan, error) {
	known := o.deps.Registry.Environments()

	envs := opts.Environments
	if len(envs) == 0 {
		envs = known
	}

	wanted := make(map[string]struct{}, len(opts.Suites))
	for _, name := range opts.Suites {
		if _, ok := o.deps.Registry.Get(name); !ok {
			return nil, fmt.Errorf("unknown suite %q", name)
		}

		wanted[name] = struct{}{}
	}

	p := &runPlan{
		environments: make([]string, 0, len(envs)),
		suites:       make(map[string][]*suite.Suite, len(envs)),
		order:        make(map[string]int, 16),
	}

	for _, env := range envs {
		if _, dup := p.suites[env]; dup {
			continue
		}

		selected := make([]*suite.Suite, 0, 8)

		for _, s := range o.deps.Registry.ForEnvironment(env) {
			if _, ok := wanted[s.Name]; len(wanted) > 0 && !ok {
				continue
			}

			p.order[pairKey(env, s.Name)] = p.pairs
			p.pairs++

			selected = append(selected, s)
		}

		p.suites[env] = selected
		p.environments = append(p.environments, env)
	}

	if p.pairs == 0 {
		return nil, fmt.Errorf("%w (environments %v, known %v)", ErrNothingToRun, envs, known)
	}

	return p, nil
}

// executeAll runs every planned pair. Results are collected by a single
// aggregator goroutine.
func (o *orchestrator) executeAll(ctx context.Context, p *runPlan, em *emitter) []*suite.PairResult {
	results := make(chan *suite.PairResult)
	collected := make([]*suite.PairResult, 0, p.pairs)
	done := make(chan struct{})

	go func() {
		defer close(done)

		for r := range results {
			collected = append(collected, r)
			o.deps.Metrics.PairFinished(r)
		}
	}()

	if o.cfg.Runner.ParallelEnvironments {
		var g errgroup.Group

		for _, env := range p.environments {
			g.Go(func() error {
				o.runEnvironment(ctx, env, p.suites[env], em, results)

				return nil
			})
		}

		_ = g.Wait()
	} else {
		for _, env := range p.environments {
			o.runEnvironment(ctx, env, p.suites[env], em, results)
		}
	}

	close(results)
	<-done

	sort.SliceStable(collected, func(i, j int) bool {
		return p.order[pairKey(collected[i].Environment, collected[i].Suite)] <
			p.order[pairKey(collected[j].Environment, collected[j].Suite)]
	})

	return collected
}

// runEnvironment executes suites in batches of ParallelTests. A failing
// suite never cancels its siblings.
func (o *orchestrator) runEnvironment(
	ctx context.Context,
	environment string,
	suites []*suite.Suite,
	em *emitter,
	results chan<- *suite.PairResult,
) {
	batchSize := max(o.cfg.Runner.ParallelTests, 1)
	limiter := o.newLimiter()

	o.log.WithFields(logrus.Fields{
		"environment": environment,
		"suites":      len(suites),
		"batch_size":  batchSize,
	}).Info("Executing environment")

	for start := 0; start < len(suites); start += batchSize {
		batch := suites[start:min(start+batchSize, len(suites))]

		var g errgroup.Group

		for _, s := range batch {
			g.Go(func() error {
				results <- o.executePair(ctx, environment, s, em, limiter)

				return nil
			})
		}

		_ = g.Wait()
	}
}

func pairKey(environment, suiteName string) string {
	return environment + "\x00" + suiteName
}
