package baseline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/fsutil"
	"github.com/sirupsen/logrus"
)

// localBackend stores one record file per pair in a directory.
type localBackend struct {
	log   logrus.FieldLogger
	dir   string
	owner *fsutil.Owner
}

// Ensure interface compliance.
var _ Backend = (*localBackend)(nil)

// NewLocalBackend creates a directory-backed store.
func NewLocalBackend(log logrus.FieldLogger, cfg *config.LocalStorageConfig) (Backend, error) {
	owner, err := fsutil.ParseOwner(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("parsing owner: %w", err)
	}

	return &localBackend{
		log:   log.WithField("backend", config.BackendLocal),
		dir:   cfg.Dir,
		owner: owner,
	}, nil
}

func (b *localBackend) Name() string { return config.BackendLocal }

func (b *localBackend) Start(_ context.Context) error {
	if err := fsutil.MkdirAll(b.dir, 0o755, b.owner); err != nil {
		return fmt.Errorf("creating baseline directory: %w", err)
	}

	return nil
}

func (b *localBackend) Stop() error { return nil }

func (b *localBackend) ReadAll(_ context.Context) (map[string][]byte, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string][]byte{}, nil
		}

		return nil, fmt.Errorf("reading baseline directory: %w", err)
	}

	records := make(map[string][]byte, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}

		data, err := os.ReadFile(filepath.Join(b.dir, name))
		if err != nil {
			b.log.WithError(err).WithField("file", name).Warn("Failed to read baseline file")

			continue
		}

		records[strings.TrimSuffix(name, recordExt)] = data
	}

	return records, nil
}

func (b *localBackend) Write(_ context.Context, key string, data []byte) error {
	return fsutil.WriteFileAtomic(b.path(key), data, 0o644, b.owner)
}

func (b *localBackend) Delete(_ context.Context, key string) error {
	if err := os.Remove(b.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing baseline file: %w", err)
	}

	return nil
}

func (b *localBackend) path(key string) string {
	return filepath.Join(b.dir, key+recordExt)
}
