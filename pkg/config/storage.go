package config

import (
	"fmt"
	"path/filepath"
)

// Baseline storage backends.
const (
	BackendLocal    = "local"
	BackendDatabase = "database"
	BackendS3       = "s3"
	BackendMemory   = "memory"
)

// Variance merge strategies for baseline updates.
const (
	VarianceMergePooled = "pooled"
	VarianceMergeExact  = "exact"
)

const (
	// DefaultRetentionDays is how long a baseline stays valid without updates.
	DefaultRetentionDays = 30

	// DefaultMinSampleSize is the sample size at which confidence stops
	// being penalised for small samples.
	DefaultMinSampleSize = 10

	// DefaultBaselineDir is the default directory for local baseline records.
	DefaultBaselineDir = "./baselines"

	// DefaultS3Region is used when no region is configured.
	DefaultS3Region = "us-east-1"
)

// BaselineConfig configures the baseline store.
type BaselineConfig struct {
	RetentionDays int                   `yaml:"retention_days" mapstructure:"retention_days"`
	MinSampleSize int                   `yaml:"min_sample_size" mapstructure:"min_sample_size"`
	VarianceMerge string                `yaml:"variance_merge,omitempty" mapstructure:"variance_merge"`
	Storage       BaselineStorageConfig `yaml:"storage" mapstructure:"storage"`
}

// BaselineStorageConfig selects and configures one persistence backend.
type BaselineStorageConfig struct {
	Backend  string             `yaml:"backend" mapstructure:"backend"`
	Local    LocalStorageConfig `yaml:"local,omitempty" mapstructure:"local"`
	Database DatabaseConfig     `yaml:"database,omitempty" mapstructure:"database"`
	S3       S3Config           `yaml:"s3,omitempty" mapstructure:"s3"`
}

// LocalStorageConfig stores one JSON record per baseline in a directory.
// Owner is an optional "uid:gid" applied to created files.
type LocalStorageConfig struct {
	Dir   string `yaml:"dir" mapstructure:"dir"`
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, sslMode,
	)
}

// S3Config contains S3 connection settings shared by the baseline backend
// and report uploads.
type S3Config struct {
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

func (b *BaselineConfig) applyDefaults() {
	if b.RetentionDays == 0 {
		b.RetentionDays = DefaultRetentionDays
	}

	if b.MinSampleSize == 0 {
		b.MinSampleSize = DefaultMinSampleSize
	}

	if b.VarianceMerge == "" {
		b.VarianceMerge = VarianceMergePooled
	}

	if b.Storage.Backend == "" {
		b.Storage.Backend = BackendLocal
	}

	if b.Storage.Local.Dir == "" {
		b.Storage.Local.Dir = DefaultBaselineDir
	}

	if b.Storage.Backend == BackendDatabase {
		b.Storage.Database.applyDefaults(filepath.Join(DefaultBaselineDir, "baselines.db"))
	}

	if b.Storage.S3.Region == "" {
		b.Storage.S3.Region = DefaultS3Region
	}

	if b.Storage.S3.Prefix == "" {
		b.Storage.S3.Prefix = "baselines"
	}
}

func (b *BaselineConfig) validate() error {
	if b.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}

	if b.MinSampleSize < 1 {
		return fmt.Errorf("min_sample_size must be at least 1")
	}

	if b.VarianceMerge != VarianceMergePooled && b.VarianceMerge != VarianceMergeExact {
		return fmt.Errorf("unknown variance_merge %q", b.VarianceMerge)
	}

	switch b.Storage.Backend {
	case BackendLocal:
		if b.Storage.Local.Dir == "" {
			return fmt.Errorf("storage.local.dir is required")
		}
	case BackendDatabase:
		if err := b.Storage.Database.validate(); err != nil {
			return fmt.Errorf("storage.database: %w", err)
		}
	case BackendS3:
		if err := b.Storage.S3.validate(); err != nil {
			return fmt.Errorf("storage.s3: %w", err)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", b.Storage.Backend)
	}

	return nil
}

func (d *DatabaseConfig) applyDefaults(sqlitePath string) {
	if d.Driver == "" {
		d.Driver = "sqlite"
	}

	if d.Driver == "sqlite" && d.SQLite.Path == "" {
		d.SQLite.Path = sqlitePath
	}

	if d.Driver == "postgres" && d.Postgres.Port == 0 {
		d.Postgres.Port = 5432
	}
}

func (d *DatabaseConfig) validate() error {
	switch d.Driver {
	case "sqlite":
		if d.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case "postgres":
		if d.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required")
		}

		if d.Postgres.Database == "" {
			return fmt.Errorf("postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported driver %q", d.Driver)
	}

	return nil
}

func (s *S3Config) validate() error {
	if s.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}

	if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}

	return nil
}
