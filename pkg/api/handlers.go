package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/ethpandaops/regressoor/pkg/history"
	"github.com/ethpandaops/regressoor/pkg/orchestrator"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Orchestrator.Status())
}

// handleListBaselines returns every baseline, sorted by environment and
// suite, without update history.
func (s *server) handleListBaselines(w http.ResponseWriter, _ *http.Request) {
	type summary struct {
		Environment  string  `json:"environment"`
		Suite        string  `json:"suite"`
		SampleSize   int     `json:"sample_size"`
		DurationMean float64 `json:"duration_mean"`
		DurationP95  float64 `json:"duration_p95"`
		ErrorRate    float64 `json:"error_rate"`
		LastUpdated  string  `json:"last_updated"`
		Version      int     `json:"version"`
	}

	all := s.deps.Baselines.List()
	out := make([]summary, 0, len(all))

	for _, b := range all {
		out = append(out, summary{
			Environment:  b.Environment,
			Suite:        b.Suite,
			SampleSize:   b.SampleSize,
			DurationMean: b.Statistics.Duration.Mean,
			DurationP95:  b.Statistics.Duration.P95,
			ErrorRate:    b.Statistics.ErrorRate,
			LastUpdated:  b.LastUpdated.UTC().Format("2006-01-02T15:04:05Z"),
			Version:      b.Version,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Environment != out[j].Environment {
			return out[i].Environment < out[j].Environment
		}

		return out[i].Suite < out[j].Suite
	})

	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleGetBaseline(w http.ResponseWriter, r *http.Request) {
	env := chi.URLParam(r, "environment")
	name := chi.URLParam(r, "suite")

	b, ok := s.deps.Baselines.Get(env, name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{"baseline not found"})

		return
	}

	writeJSON(w, http.StatusOK, b)
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"run history is not enabled"})

		return
	}

	limit := defaultRunsLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid limit"})

			return
		}

		limit = min(n, maxRunsLimit)
	}

	runs, err := s.deps.History.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

// handleLatestRun prefers the history index and falls back to the
// in-memory summary of the last run.
func (s *server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.History != nil {
		run, err := s.deps.History.LatestRun(r.Context())

		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, run)

			return
		case !errors.Is(err, history.ErrNotFound):
			s.log.WithError(err).Error("Failed to load latest run")
			writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

			return
		}
	}

	if last := s.deps.Orchestrator.Status().LastRun; last != nil {
		writeJSON(w, http.StatusOK, last)

		return
	}

	writeJSON(w, http.StatusNotFound, errorResponse{"no runs recorded"})
}

func (s *server) handleRunPairs(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"run history is not enabled"})

		return
	}

	pairs, err := s.deps.History.ListPairs(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.log.WithError(err).Error("Failed to list pairs")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	if len(pairs) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	writeJSON(w, http.StatusOK, pairs)
}

type triggerRunRequest struct {
	Environments       []string `json:"environments"`
	Suites             []string `json:"suites"`
	SkipBaselineUpdate bool     `json:"skip_baseline_update"`
}

// handleTriggerRun starts a background run. An empty body runs everything.
func (s *server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRunRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid request body"})

		return
	}

	err := s.deps.Scheduler.Trigger(orchestrator.RunOptions{
		Environments:       req.Environments,
		Suites:             req.Suites,
		SkipBaselineUpdate: req.SkipBaselineUpdate,
	})

	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{err.Error()})

		return
	case err != nil:
		s.log.WithError(err).Error("Failed to trigger run")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	s.log.WithField("user", userFromContext(r.Context())).Info("Run triggered via API")

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *server) handleCleanupBaselines(w http.ResponseWriter, r *http.Request) {
	removed, err := s.deps.Baselines.Cleanup(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to clean up baselines")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	s.log.WithFields(logrus.Fields{
		"user":    userFromContext(r.Context()),
		"removed": removed,
	}).Info("Baselines cleaned up via API")

	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
