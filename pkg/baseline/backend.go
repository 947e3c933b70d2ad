package baseline

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// Backend persists encoded baseline records by key.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string
	Start(ctx context.Context) error
	Stop() error
	// ReadAll returns every stored record keyed by record key.
	ReadAll(ctx context.Context) (map[string][]byte, error)
	// Write stores data under key, replacing any previous record.
	Write(ctx context.Context, key string, data []byte) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// NewBackend creates the backend selected in cfg.
func NewBackend(log logrus.FieldLogger, cfg *config.BaselineStorageConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return NewLocalBackend(log, &cfg.Local)
	case config.BackendDatabase:
		return NewDatabaseBackend(log, &cfg.Database), nil
	case config.BackendS3:
		return NewS3Backend(log, &cfg.S3), nil
	case config.BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown baseline backend %q", cfg.Backend)
	}
}

// memoryBackend keeps records in process memory. Used for dry runs and tests.
type memoryBackend struct {
	mu      sync.Mutex
	records map[string][]byte
}

// Ensure interface compliance.
var _ Backend = (*memoryBackend)(nil)

// NewMemoryBackend creates a non-persistent backend.
func NewMemoryBackend() Backend {
	return &memoryBackend{records: make(map[string][]byte, 16)}
}

func (m *memoryBackend) Name() string { return config.BackendMemory }

func (m *memoryBackend) Start(_ context.Context) error { return nil }

func (m *memoryBackend) Stop() error { return nil }

func (m *memoryBackend) ReadAll(_ context.Context) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]byte, len(m.records))
	maps.Copy(out, m.records)

	return out, nil
}

func (m *memoryBackend) Write(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[key] = append([]byte(nil), data...)

	return nil
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)

	return nil
}
