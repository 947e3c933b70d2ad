package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler starts runs periodically and on demand, one at a time.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() error
	// Trigger starts a run in the background. It returns ErrRunInProgress
	// when a run is active or already queued.
	Trigger(opts RunOptions) error
}

// Compile-time interface check.
var _ Scheduler = (*scheduler)(nil)

type scheduler struct {
	log      logrus.FieldLogger
	orch     Orchestrator
	interval time.Duration
	opts     RunOptions

	busy     atomic.Bool
	ctx      context.Context //nolint:containedctx // lifetime of background runs
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. A zero interval disables periodic runs;
// Trigger still works.
func NewScheduler(log logrus.FieldLogger, orch Orchestrator, interval time.Duration, opts RunOptions) Scheduler {
	return &scheduler{
		log:      log.WithField("component", "scheduler"),
		orch:     orch,
		interval: interval,
		opts:     opts,
		done:     make(chan struct{}),
	}
}

func (s *scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.interval <= 0 {
		s.log.Info("Periodic runs disabled")

		return nil
	}

	s.log.WithField("interval", s.interval.String()).Info("Starting scheduler")

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Trigger(s.opts); err != nil {
					s.log.WithError(err).Warn("Skipping scheduled run")
				}
			case <-s.done:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop cancels any active run and waits for background work. It is safe to
// call more than once.
func (s *scheduler) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)

		if s.cancel != nil {
			s.cancel()
		}

		s.wg.Wait()

		s.log.Info("Scheduler stopped")
	})

	return nil
}

func (s *scheduler) Trigger(opts RunOptions) error {
	if s.ctx == nil {
		return errors.New("scheduler not started")
	}

	if s.orch.Status().Running || !s.busy.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)

		rep, err := s.orch.Run(s.ctx, opts)
		if err != nil {
			s.log.WithError(err).Error("Background run failed")

			return
		}

		s.log.WithFields(logrus.Fields{
			"run_id":      rep.RunID,
			"regressions": rep.Analysis.RegressionCount,
		}).Info("Background run finished")
	}()

	return nil
}
