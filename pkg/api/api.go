// Package api serves run status, baselines and history over HTTP and lets
// administrators trigger runs.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/regressoor/pkg/baseline"
	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/ethpandaops/regressoor/pkg/orchestrator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	// Handler returns the router. It is valid before Start.
	Handler() http.Handler
}

// Compile-time interface check.
var _ Server = (*server)(nil)

// Deps are the services the API reads from. History and Gatherer are
// optional.
type Deps struct {
	Orchestrator orchestrator.Orchestrator
	Scheduler    orchestrator.Scheduler
	Baselines    baseline.Store
	History      history.Store
	Gatherer     prometheus.Gatherer
}

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	deps       Deps
	router     http.Handler
	limiters   *rateLimiterMap
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new API server.
func NewServer(log logrus.FieldLogger, cfg *config.APIConfig, deps Deps) Server {
	s := &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		deps: deps,
		done: make(chan struct{}),
	}

	if cfg.RateLimit.Enabled {
		s.limiters = newRateLimiterMap(cfg.RateLimit.RequestsPerMinute)
	}

	s.router = s.buildRouter()

	return s
}

func (s *server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.limiters != nil {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()

			s.limiters.cleanup(s.done)
		}()
	}

	// Bind synchronously so port conflicts fail fast.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Listen).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
