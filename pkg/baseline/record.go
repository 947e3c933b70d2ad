package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SchemaVersion is the current persistence record version.
const SchemaVersion = 1

// recordExt is the file extension of persisted records.
const recordExt = ".json"

// ErrInvalidRecord is wrapped by every decode failure.
var ErrInvalidRecord = errors.New("invalid baseline record")

// Record is the persisted envelope of a baseline.
type Record struct {
	SchemaVersion int             `json:"schema_version"`
	Key           string          `json:"key"`
	Checksum      string          `json:"checksum"`
	Baseline      json.RawMessage `json:"baseline"`
}

// Key returns the deterministic record name of a pair, without extension.
// The hash suffix keeps keys unique when slugs collide.
func Key(environment, suiteName string) string {
	sum := sha256.Sum256([]byte(environment + "\x00" + suiteName))

	return slug(environment) + "__" + slug(suiteName) + "-" + hex.EncodeToString(sum[:4])
}

// FileName returns Key with the record extension.
func FileName(environment, suiteName string) string {
	return Key(environment, suiteName) + recordExt
}

func slug(s string) string {
	var b strings.Builder

	lastDash := false

	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)

			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')

			lastDash = true
		}
	}

	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "x"
	}

	return out
}

// Encode serialises b into a checksummed record.
func Encode(b *Baseline) ([]byte, error) {
	canonical, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshaling baseline: %w", err)
	}

	rec := Record{
		SchemaVersion: SchemaVersion,
		Key:           Key(b.Environment, b.Suite),
		Checksum:      checksum(canonical),
		Baseline:      canonical,
	}

	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}

	return data, nil
}

// Decode parses and verifies a record. The checksum is recomputed over the
// canonical encoding of the decoded baseline.
func Decode(data []byte) (*Baseline, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	if rec.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrInvalidRecord, rec.SchemaVersion)
	}

	if len(rec.Baseline) == 0 {
		return nil, fmt.Errorf("%w: missing baseline", ErrInvalidRecord)
	}

	var b Baseline
	if err := json.Unmarshal(rec.Baseline, &b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	canonical, err := json.Marshal(&b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	if got := checksum(canonical); got != rec.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidRecord)
	}

	if b.Environment == "" || b.Suite == "" {
		return nil, fmt.Errorf("%w: environment and suite are required", ErrInvalidRecord)
	}

	if b.SampleSize < 1 {
		return nil, fmt.Errorf("%w: sample size must be positive", ErrInvalidRecord)
	}

	if rec.Key != Key(b.Environment, b.Suite) {
		return nil, fmt.Errorf("%w: key %q does not match pair", ErrInvalidRecord, rec.Key)
	}

	return &b, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}
