// Package history indexes past runs and their per-pair results in a SQL
// database.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/database"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("run not found")

// Store persists run history.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// RecordRun stores a run and its pairs, replacing any previous record
	// with the same run id.
	RecordRun(ctx context.Context, run *Run, pairs []*Pair) error
	// ListRuns returns up to limit runs, most recent first. limit <= 0
	// returns every run.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	LatestRun(ctx context.Context) (*Run, error)
	ListPairs(ctx context.Context, runID string) ([]Pair, error)
	// PairHistory returns the most recent results of one pair, newest first.
	PairHistory(ctx context.Context, environment, suiteName string, limit int) ([]Pair, error)
}

// runUpdateColumns are overwritten when a run id is recorded again.
var runUpdateColumns = []string{
	"started_at", "completed_at", "environments", "timed_out",
	"total_tests", "pairs_failed", "regression_count", "critical_regressions",
	"warning_regressions", "improvement_count", "baseline_updated",
	"report_location", "recorded_at",
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a history Store backed by the configured database.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "history"),
		cfg: cfg,
		now: time.Now,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	db, err := database.Open(s.cfg)
	if err != nil {
		return err
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&Run{}, &Pair{}); err != nil {
		return fmt.Errorf("running history migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("History database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	return database.Close(s.db)
}

func (s *store) RecordRun(ctx context.Context, run *Run, pairs []*Pair) error {
	run.RecordedAt = s.now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoUpdates: clause.AssignmentColumns(runUpdateColumns),
		}).Create(run).Error; err != nil {
			return fmt.Errorf("upserting run: %w", err)
		}

		if err := tx.Where("run_id = ?", run.RunID).Delete(&Pair{}).Error; err != nil {
			return fmt.Errorf("deleting previous pairs: %w", err)
		}

		if len(pairs) == 0 {
			return nil
		}

		for _, p := range pairs {
			p.ID = 0
			p.RunID = run.RunID
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(pairs, 100).Error; err != nil {
			return fmt.Errorf("inserting pairs: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"run_id": run.RunID,
		"pairs":  len(pairs),
	}).Debug("Run recorded")

	return nil
}

func (s *store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := s.db.WithContext(ctx).Order("started_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

func (s *store) LatestRun(ctx context.Context) (*Run, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}

	if len(runs) == 0 {
		return nil, ErrNotFound
	}

	return &runs[0], nil
}

func (s *store) ListPairs(ctx context.Context, runID string) ([]Pair, error) {
	var pairs []Pair
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("environment ASC").
		Order("suite ASC").
		Find(&pairs).Error; err != nil {
		return nil, fmt.Errorf("listing pairs: %w", err)
	}

	return pairs, nil
}

func (s *store) PairHistory(ctx context.Context, environment, suiteName string, limit int) ([]Pair, error) {
	q := s.db.WithContext(ctx).
		Where("environment = ? AND suite = ?", environment, suiteName).
		Order("completed_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var pairs []Pair
	if err := q.Find(&pairs).Error; err != nil {
		return nil, fmt.Errorf("listing pair history: %w", err)
	}

	return pairs, nil
}
