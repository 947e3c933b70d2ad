package baseline

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/database"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// baselineRecord stores the encoded record verbatim, so the checksum covers
// the same bytes as in the other backends.
type baselineRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Key       string `gorm:"column:record_key;uniqueIndex;not null"`
	Document  []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (baselineRecord) TableName() string { return "baseline_records" }

// databaseBackend stores records in a SQL table via gorm.
type databaseBackend struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// Ensure interface compliance.
var _ Backend = (*databaseBackend)(nil)

// NewDatabaseBackend creates a sqlite or postgres backed store.
func NewDatabaseBackend(log logrus.FieldLogger, cfg *config.DatabaseConfig) Backend {
	return &databaseBackend{
		log: log.WithField("backend", config.BackendDatabase),
		cfg: cfg,
	}
}

func (b *databaseBackend) Name() string { return config.BackendDatabase }

// Start opens the database connection and runs migrations.
func (b *databaseBackend) Start(ctx context.Context) error {
	db, err := database.Open(b.cfg)
	if err != nil {
		return err
	}

	b.db = db

	if err := b.db.WithContext(ctx).AutoMigrate(&baselineRecord{}); err != nil {
		return fmt.Errorf("running baseline migrations: %w", err)
	}

	b.log.WithField("driver", b.cfg.Driver).Info("Baseline database connected")

	return nil
}

func (b *databaseBackend) Stop() error {
	return database.Close(b.db)
}

func (b *databaseBackend) ReadAll(ctx context.Context) (map[string][]byte, error) {
	var rows []baselineRecord
	if err := b.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing baseline records: %w", err)
	}

	records := make(map[string][]byte, len(rows))
	for _, row := range rows {
		records[row.Key] = row.Document
	}

	return records, nil
}

// Write upserts the record keyed by key.
func (b *databaseBackend) Write(ctx context.Context, key string, data []byte) error {
	row := &baselineRecord{Key: key, Document: data, UpdatedAt: time.Now().UTC()}

	result := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
	}).Create(row)
	if result.Error != nil {
		return fmt.Errorf("upserting baseline record: %w", result.Error)
	}

	return nil
}

func (b *databaseBackend) Delete(ctx context.Context, key string) error {
	if err := b.db.WithContext(ctx).
		Where("record_key = ?", key).
		Delete(&baselineRecord{}).Error; err != nil {
		return fmt.Errorf("deleting baseline record: %w", err)
	}

	return nil
}
