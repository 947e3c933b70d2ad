package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/regressoor/pkg/suite"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	errRunTimedOut    = errors.New("run timed out")
	errRunCancelled   = errors.New("run cancelled")
	errNoMeasurements = errors.New("no successful measurements")
)

func (o *orchestrator) newLimiter() *rate.Limiter {
	eps := o.cfg.Runner.ExecutionsPerSecond
	if eps <= 0 {
		return nil
	}

	return rate.NewLimiter(rate.Limit(eps), max(1, int(eps)))
}

func (o *orchestrator) ExecuteSuite(ctx context.Context, environment string, s *suite.Suite) *suite.PairResult {
	return o.executePair(ctx, environment, s, nil, o.newLimiter())
}

// executePair runs warmup and measurement for one pair, retrying failed
// attempts. The returned result is terminal.
func (o *orchestrator) executePair(
	ctx context.Context,
	environment string,
	s *suite.Suite,
	em *emitter,
	limiter *rate.Limiter,
) *suite.PairResult {
	res := &suite.PairResult{
		Environment: environment,
		Suite:       s.Name,
		Status:      suite.StatusPending,
		StartedAt:   o.now().UTC(),
	}

	log := o.log.WithFields(logrus.Fields{
		"environment": environment,
		"suite":       s.Name,
	})

	if err := ctxErr(ctx); err != nil {
		return o.fail(res, em, err)
	}

	em.emit(Event{Type: EventSuiteStart, Environment: environment, Suite: s.Name, Status: res.Status})

	retries := o.cfg.Runner.Retries()

	var lastErr error

	for attempt := 1; attempt <= retries+1; attempt++ {
		if attempt > 1 {
			em.emit(Event{
				Type:        EventSuiteRetry,
				Environment: environment,
				Suite:       s.Name,
				Attempt:     attempt,
				Error:       lastErr.Error(),
			})

			log.WithError(lastErr).WithField("attempt", attempt).Warn("Retrying suite")

			if err := sleep(ctx, o.cfg.Runner.RetryBackoff*time.Duration(attempt-1)); err != nil {
				res.Attempts = attempt - 1

				return o.fail(res, em, err)
			}
		}

		res.Attempts = attempt

		outcomes, err := o.attempt(ctx, environment, s, attempt, res, em, limiter)
		if ctxE := ctxErr(ctx); ctxE != nil {
			// Partial measurements of an interrupted attempt are not kept.
			return o.fail(res, em, ctxE)
		}

		if err != nil {
			lastErr = err

			continue
		}

		stats, err := suite.ComputeStatistics(outcomes)
		if err != nil {
			lastErr = errNoMeasurements

			continue
		}

		res.Status = suite.StatusSucceeded
		res.Statistics = stats
		res.Outcomes = outcomes
		res.CompletedAt = o.now().UTC()

		em.emit(Event{
			Type:        EventSuiteComplete,
			Environment: environment,
			Suite:       s.Name,
			Attempt:     attempt,
			Status:      res.Status,
		})

		log.WithFields(logrus.Fields{
			"attempts": attempt,
			"mean_ms":  stats.Duration.Mean,
			"samples":  stats.SampleSize,
		}).Debug("Suite completed")

		return res
	}

	log.WithError(lastErr).WithField("attempts", res.Attempts).Error("Suite failed after all attempts")

	return o.fail(res, em, lastErr)
}

// attempt performs one warmup and measurement cycle. Warmup outcomes are
// discarded. A panic in either phase aborts the attempt.
func (o *orchestrator) attempt(
	ctx context.Context,
	environment string,
	s *suite.Suite,
	attempt int,
	res *suite.PairResult,
	em *emitter,
	limiter *rate.Limiter,
) ([]*suite.Outcome, error) {
	vars := o.cfg.Variables[environment]

	if o.cfg.Runner.WarmupRuns > 0 {
		res.Status = suite.StatusWarmingUp
		em.emit(Event{Type: EventSuiteWarmup, Environment: environment, Suite: s.Name, Attempt: attempt, Status: res.Status})
	}

	for i := 0; i < o.cfg.Runner.WarmupRuns; i++ {
		opts := suite.Options{Phase: suite.PhaseWarmup, Iteration: i, Attempt: attempt, Variables: vars}

		if _, err := o.invoke(ctx, environment, s, opts, limiter); err != nil {
			return nil, err
		}
	}

	res.Status = suite.StatusMeasuring
	em.emit(Event{Type: EventSuiteMeasure, Environment: environment, Suite: s.Name, Attempt: attempt, Status: res.Status})

	outcomes := make([]*suite.Outcome, 0, o.cfg.Runner.MeasurementRuns)

	for i := 0; i < o.cfg.Runner.MeasurementRuns; i++ {
		opts := suite.Options{Phase: suite.PhaseMeasurement, Iteration: i, Attempt: attempt, Variables: vars}

		outcome, err := o.invoke(ctx, environment, s, opts, limiter)
		if err != nil {
			return nil, err
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

func (o *orchestrator) invoke(
	ctx context.Context,
	environment string,
	s *suite.Suite,
	opts suite.Options,
	limiter *rate.Limiter,
) (*suite.Outcome, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	// A panic or an abandoned call ends the attempt.
	outcome, err := suite.Measure(ctx, s, environment, opts, o.deps.Sampler)
	if err != nil {
		return nil, err
	}

	return outcome, nil
}

func (o *orchestrator) fail(res *suite.PairResult, em *emitter, err error) *suite.PairResult {
	if err == nil {
		err = errNoMeasurements
	}

	res.Status = suite.StatusFailed
	res.Statistics = nil
	res.Outcomes = nil
	res.Error = err.Error()
	res.CompletedAt = o.now().UTC()

	em.emit(Event{
		Type:        EventSuiteFailed,
		Environment: res.Environment,
		Suite:       res.Suite,
		Attempt:     res.Attempts,
		Status:      res.Status,
		Error:       res.Error,
	})

	return res
}

// ctxErr maps a done context to the error recorded on unfinished pairs.
func ctxErr(ctx context.Context) error {
	switch {
	case ctx.Err() == nil:
		return nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errRunTimedOut
	default:
		return errRunCancelled
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctxErr(ctx)
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctxErr(ctx)
	case <-t.C:
		return nil
	}
}
