package baseline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/suite"
	"github.com/sirupsen/logrus"
)

// Store holds the baselines of every pair. Reads are safe during a run;
// Update is expected once per run.
type Store interface {
	// Start starts the backend and loads all records.
	Start(ctx context.Context) error
	Stop() error

	// Load replaces the in-memory set with the backend contents. Records that
	// fail to decode are skipped.
	Load(ctx context.Context) error
	// Get returns the pair's baseline unless it is missing or expired.
	Get(environment, suiteName string) (*Baseline, bool)
	// List returns every loaded baseline, expired ones included.
	List() []*Baseline
	// Update merges every succeeded result into its baseline, creating new
	// baselines on first observation. Failed writes leave the previous
	// baseline in place.
	Update(ctx context.Context, runID string, results []*suite.PairResult) *UpdateSummary
	// Compare computes deltas of current against b.
	Compare(b *Baseline, current *suite.RunStatistics) *Comparison
	// Cleanup deletes baselines past the retention window and returns how
	// many were removed.
	Cleanup(ctx context.Context) (int, error)
}

// Config configures a Store.
type Config struct {
	RetentionDays int
	MinSampleSize int
	VarianceMerge string
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// UpdateSummary reports the outcome of Update.
type UpdateSummary struct {
	Created int      `json:"created"`
	Merged  int      `json:"merged"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Keys    []string `json:"keys,omitempty"`
}

type store struct {
	log     logrus.FieldLogger
	cfg     *Config
	backend Backend

	mu        sync.RWMutex
	baselines map[string]*Baseline
}

// Ensure interface compliance.
var _ Store = (*store)(nil)

// NewStore creates a Store persisting through backend.
func NewStore(log logrus.FieldLogger, cfg *Config, backend Backend) Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.VarianceMerge == "" {
		cfg.VarianceMerge = config.VarianceMergePooled
	}

	return &store{
		log:       log.WithField("component", "baseline-store"),
		cfg:       cfg,
		backend:   backend,
		baselines: make(map[string]*Baseline, 16),
	}
}

func (s *store) Start(ctx context.Context) error {
	if err := s.backend.Start(ctx); err != nil {
		return fmt.Errorf("starting %s backend: %w", s.backend.Name(), err)
	}

	return s.Load(ctx)
}

func (s *store) Stop() error {
	return s.backend.Stop()
}

func (s *store) Load(ctx context.Context) error {
	records, err := s.backend.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("reading baselines: %w", err)
	}

	loaded := make(map[string]*Baseline, len(records))

	for name, data := range records {
		b, err := Decode(data)
		if err != nil {
			s.log.WithError(err).WithField("record", name).Warn("Skipping invalid baseline record")

			continue
		}

		loaded[Key(b.Environment, b.Suite)] = b
	}

	s.mu.Lock()
	s.baselines = loaded
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"backend":   s.backend.Name(),
		"baselines": len(loaded),
		"skipped":   len(records) - len(loaded),
	}).Info("Loaded baselines")

	return nil
}

func (s *store) Get(environment, suiteName string) (*Baseline, bool) {
	s.mu.RLock()
	b, ok := s.baselines[Key(environment, suiteName)]
	s.mu.RUnlock()

	if !ok || b.Expired(s.cfg.Now(), s.cfg.RetentionDays) {
		return nil, false
	}

	return b, true
}

func (s *store) List() []*Baseline {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Baseline, 0, len(s.baselines))
	for _, b := range s.baselines {
		out = append(out, b)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Environment != out[j].Environment {
			return out[i].Environment < out[j].Environment
		}

		return out[i].Suite < out[j].Suite
	})

	return out
}

func (s *store) Update(ctx context.Context, runID string, results []*suite.PairResult) *UpdateSummary {
	summary := &UpdateSummary{}
	now := s.cfg.Now().UTC()

	for _, r := range results {
		if !r.Succeeded() || r.Statistics.SampleSize < 1 {
			summary.Skipped++

			continue
		}

		key := Key(r.Environment, r.Suite)

		var (
			next    *Baseline
			created bool
		)

		if existing, ok := s.Get(r.Environment, r.Suite); ok {
			next = Merge(existing, r.Statistics, runID, s.cfg.VarianceMerge, now)
		} else {
			next = New(r.Environment, r.Suite, r.Statistics, runID, now)
			created = true
		}

		logCtx := s.log.WithFields(logrus.Fields{
			"environment": r.Environment,
			"suite":       r.Suite,
			"sample_size": next.SampleSize,
		})

		data, err := Encode(next)
		if err == nil {
			err = s.backend.Write(ctx, key, data)
		}

		if err != nil {
			logCtx.WithError(err).Warn("Failed to persist baseline")

			summary.Failed++

			continue
		}

		s.mu.Lock()
		s.baselines[key] = next
		s.mu.Unlock()

		if created {
			summary.Created++
		} else {
			summary.Merged++
		}

		summary.Keys = append(summary.Keys, key)

		logCtx.WithField("created", created).Debug("Baseline updated")
	}

	return summary
}

func (s *store) Compare(b *Baseline, current *suite.RunStatistics) *Comparison {
	return Compare(b, current, s.cfg.MinSampleSize)
}

func (s *store) Cleanup(ctx context.Context) (int, error) {
	now := s.cfg.Now()

	s.mu.RLock()
	expired := make([]string, 0, 4)

	for key, b := range s.baselines {
		if b.Expired(now, s.cfg.RetentionDays) {
			expired = append(expired, key)
		}
	}
	s.mu.RUnlock()

	sort.Strings(expired)

	removed := 0

	for _, key := range expired {
		if err := s.backend.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("deleting baseline %s: %w", key, err)
		}

		s.mu.Lock()
		delete(s.baselines, key)
		s.mu.Unlock()

		removed++

		s.log.WithField("key", key).Info("Removed expired baseline")
	}

	return removed, nil
}
