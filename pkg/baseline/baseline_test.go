package baseline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/ethpandaops/regressoor/pkg/suite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func runStats(mean, sd float64, n int) *suite.RunStatistics {
	return &suite.RunStatistics{
		Duration: suite.DurationStats{
			Mean:   mean,
			Median: mean,
			Min:    mean - sd,
			Max:    mean + sd,
			StdDev: sd,
			P95:    mean + 1.5*sd,
			P99:    mean + 2*sd,
		},
		Memory: suite.MemoryStats{
			Heap: suite.HeapStats{Mean: 1024, Median: 1024, Min: 512, Max: 2048},
		},
		SuccessRate: 1,
		ErrorRate:   0,
		SampleSize:  n,
	}
}

func succeeded(env, name string, stats *suite.RunStatistics) *suite.PairResult {
	return &suite.PairResult{
		Environment: env,
		Suite:       name,
		Status:      suite.StatusSucceeded,
		Attempts:    1,
		Statistics:  stats,
	}
}

func TestNew(t *testing.T) {
	stats := runStats(100, 10, 5)
	b := New("staging", "login", stats, "run-1", testNow)

	assert.Equal(t, 5, b.SampleSize)
	assert.Equal(t, *stats, b.Statistics)
	assert.Equal(t, 1, b.Version)
	assert.Equal(t, testNow, b.Created)
	assert.Equal(t, testNow, b.LastUpdated)
	require.Len(t, b.UpdateHistory, 1)
	assert.Equal(t, ReasonFirstRun, b.UpdateHistory[0].Reason)
	assert.Equal(t, "run-1", b.UpdateHistory[0].RunID)
}

func TestMerge(t *testing.T) {
	existing := New("staging", "login", runStats(100, 10, 10), "run-1", testNow)
	incoming := runStats(200, 20, 10)
	later := testNow.Add(time.Hour)

	t.Run("pooled", func(t *testing.T) {
		merged := Merge(existing, incoming, "run-2", config.VarianceMergePooled, later)

		assert.Equal(t, 20, merged.SampleSize)
		assert.Equal(t, 20, merged.Statistics.SampleSize)
		assert.InDelta(t, 150, merged.Statistics.Duration.Mean, 1e-9)
		assert.InDelta(t, 150, merged.Statistics.Duration.Median, 1e-9)
		assert.InDelta(t, 90, merged.Statistics.Duration.Min, 1e-9)
		assert.InDelta(t, 220, merged.Statistics.Duration.Max, 1e-9)
		assert.InDelta(t, math.Sqrt(250), merged.Statistics.Duration.StdDev, 1e-9)
		assert.Equal(t, 2, merged.Version)
		assert.Equal(t, testNow, merged.Created)
		assert.Equal(t, later, merged.LastUpdated)
		require.Len(t, merged.UpdateHistory, 2)
		assert.Equal(t, ReasonMerge, merged.UpdateHistory[1].Reason)

		// The input baseline is untouched.
		assert.Equal(t, 10, existing.SampleSize)
		assert.Len(t, existing.UpdateHistory, 1)
	})

	t.Run("exact", func(t *testing.T) {
		merged := Merge(existing, incoming, "run-2", config.VarianceMergeExact, later)

		// M2 = 9*100 + 9*400 + 100^2*10*10/20 = 54500 over 19 degrees of freedom.
		assert.InDelta(t, math.Sqrt(54500.0/19.0), merged.Statistics.Duration.StdDev, 1e-9)
		assert.InDelta(t, 150, merged.Statistics.Duration.Mean, 1e-9)
	})

	t.Run("weights follow sample size", func(t *testing.T) {
		merged := Merge(existing, runStats(130, 10, 5), "run-2", config.VarianceMergePooled, later)

		assert.InDelta(t, 110, merged.Statistics.Duration.Mean, 1e-9)
		assert.Equal(t, 15, merged.SampleSize)
	})
}

func TestMerge_OrderOnlyAffectsSpread(t *testing.T) {
	a := runStats(100, 5, 10)
	b := runStats(150, 30, 5)

	ab := Merge(New("e", "s", a, "r1", testNow), b, "r2", config.VarianceMergePooled, testNow)
	ba := Merge(New("e", "s", b, "r1", testNow), a, "r2", config.VarianceMergePooled, testNow)

	assert.Equal(t, ab.SampleSize, ba.SampleSize)
	assert.Equal(t, 15, ab.SampleSize)
	assert.InDelta(t, ab.Statistics.Duration.Mean, ba.Statistics.Duration.Mean, 1e-9)
	assert.InDelta(t, ab.Statistics.Duration.Min, ba.Statistics.Duration.Min, 1e-9)
	assert.InDelta(t, ab.Statistics.Duration.Max, ba.Statistics.Duration.Max, 1e-9)
}

func TestMerge_HistoryBounded(t *testing.T) {
	b := New("staging", "login", runStats(100, 10, 5), "run-0", testNow)

	for i := 1; i <= 15; i++ {
		prev := b.SampleSize
		b = Merge(b, runStats(100, 10, 5), "run", config.VarianceMergePooled, testNow.Add(time.Duration(i)*time.Minute))

		assert.Greater(t, b.SampleSize, prev, "sample size must grow monotonically")
	}

	require.Len(t, b.UpdateHistory, maxHistoryEntries)
	assert.Equal(t, 16, b.Version)
	assert.Equal(t, 80, b.SampleSize)
	assert.Equal(t, testNow.Add(15*time.Minute), b.UpdateHistory[maxHistoryEntries-1].Timestamp)
	assert.Equal(t, testNow.Add(6*time.Minute), b.UpdateHistory[0].Timestamp)
}

func TestPercentChange(t *testing.T) {
	tests := []struct {
		name          string
		base, current float64
		want          float64
	}{
		{name: "increase", base: 100, current: 150, want: 50},
		{name: "decrease", base: 100, current: 80, want: -20},
		{name: "negative base", base: -50, current: -25, want: 50},
		{name: "both zero", base: 0, current: 0, want: 0},
		{name: "from zero", base: 0, current: 10, want: 100},
		{name: "from zero negative", base: 0, current: -10, want: -100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PercentChange(tt.base, tt.current), 1e-9)
		})
	}
}

func TestCompare(t *testing.T) {
	base := New("staging", "login", runStats(100, 5, 10), "run-1", testNow)

	current := runStats(150, 7.5, 5)
	current.SuccessRate = 0.8
	current.ErrorRate = 0.2

	cmp := Compare(base, current, 5)

	assert.InDelta(t, 50, cmp.Duration.Mean, 1e-9)
	assert.InDelta(t, 50, cmp.Duration.Median, 1e-9)
	assert.InDelta(t, 50, cmp.Duration.Variability, 1e-9)
	assert.InDelta(t, 0, cmp.Memory.HeapMean, 1e-9)
	assert.InDelta(t, -20, cmp.Reliability.SuccessRate, 1e-9)
	assert.InDelta(t, 20, cmp.Reliability.ErrorRate, 1e-9)

	assert.Equal(t, 5, cmp.Confidence.SampleSize)
	assert.InDelta(t, 0.05, cmp.Confidence.Variability, 1e-9)
	assert.InDelta(t, 0.95, cmp.Confidence.Score, 1e-9)
	assert.Equal(t, ConfidenceHigh, cmp.Confidence.Level)
}

func TestComputeConfidence(t *testing.T) {
	tests := []struct {
		name      string
		baseN     int
		base      *suite.RunStatistics
		current   *suite.RunStatistics
		minSample int
		wantLevel string
		wantScore float64
	}{
		{
			name:      "large stable samples",
			baseN:     20,
			base:      runStats(100, 0, 20),
			current:   runStats(100, 0, 20),
			minSample: 10,
			wantLevel: ConfidenceHigh,
			wantScore: 1,
		},
		{
			name:      "small sample penalised",
			baseN:     20,
			base:      runStats(100, 0, 20),
			current:   runStats(100, 0, 7),
			minSample: 10,
			wantLevel: ConfidenceMedium,
			wantScore: 0.7,
		},
		{
			name:      "noisy samples",
			baseN:     20,
			base:      runStats(100, 60, 20),
			current:   runStats(100, 60, 20),
			minSample: 10,
			wantLevel: ConfidenceLow,
			wantScore: 0.4,
		},
		{
			name:      "variability above one clamps to zero",
			baseN:     20,
			base:      runStats(100, 300, 20),
			current:   runStats(100, 300, 20),
			minSample: 10,
			wantLevel: ConfidenceLow,
			wantScore: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ComputeConfidence(tt.baseN, tt.base, tt.current, tt.minSample)

			assert.Equal(t, tt.wantLevel, c.Level)
			assert.InDelta(t, tt.wantScore, c.Score, 1e-9)
			assert.GreaterOrEqual(t, c.Score, 0.0)
			assert.LessOrEqual(t, c.Score, 1.0)
		})
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	b := New("staging", "login flow", runStats(100, 10, 10), "run-1", testNow)
	b = Merge(b, runStats(120, 12, 5), "run-2", config.VarianceMergePooled, testNow.Add(time.Hour))
	b.Metadata = map[string]string{"owner": "perf"}

	data, err := Encode(b)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, b, decoded)

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestRecord_DecodeRejects(t *testing.T) {
	good, err := Encode(New("staging", "login", runStats(100, 10, 10), "run-1", testNow))
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "not json", data: []byte("{not json")},
		{name: "wrong schema", data: []byte(`{"schema_version":2,"key":"x","checksum":"y","baseline":{}}`)},
		{name: "missing baseline", data: []byte(`{"schema_version":1,"key":"x","checksum":"y"}`)},
		{name: "tampered", data: []byte(replaceOnce(string(good), `"sample_size": 10`, `"sample_size": 99`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func replaceOnce(s, old, replacement string) string {
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			return s[:i] + replacement + s[i+len(old):]
		}
	}

	return s
}

func TestKey(t *testing.T) {
	k1 := Key("Staging EU", "login/flow")
	k2 := Key("Staging EU", "login/flow")
	k3 := Key("staging-eu", "login-flow")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3, "slug collisions are disambiguated by the hash suffix")
	assert.Regexp(t, `^staging-eu__login-flow-[0-9a-f]{8}$`, k1)
	assert.Equal(t, k1+".json", FileName("Staging EU", "login/flow"))
}

func newTestStore(t *testing.T, backend Backend, now *time.Time) Store {
	t.Helper()

	s := NewStore(testLogger(), &Config{
		RetentionDays: 30,
		MinSampleSize: 10,
		Now:           func() time.Time { return *now },
	}, backend)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestStore_UpdateAndGet(t *testing.T) {
	ctx := context.Background()
	now := testNow
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, &now)

	_, ok := s.Get("staging", "login")
	assert.False(t, ok)

	summary := s.Update(ctx, "run-1", []*suite.PairResult{
		succeeded("staging", "login", runStats(100, 10, 5)),
		{Environment: "staging", Suite: "checkout", Status: suite.StatusFailed, Attempts: 3},
	})
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Skipped)

	_, ok = s.Get("staging", "checkout")
	assert.False(t, ok, "failed pairs never create baselines")

	now = now.Add(time.Hour)
	summary = s.Update(ctx, "run-2", []*suite.PairResult{succeeded("staging", "login", runStats(110, 10, 5))})
	assert.Equal(t, 1, summary.Merged)

	b, ok := s.Get("staging", "login")
	require.True(t, ok)
	assert.Equal(t, 10, b.SampleSize)
	assert.InDelta(t, 105, b.Statistics.Duration.Mean, 1e-9)

	// A fresh store over the same backend sees the persisted baseline.
	reloaded := newTestStore(t, backend, &now)
	b2, ok := reloaded.Get("staging", "login")
	require.True(t, ok)
	assert.Equal(t, b, b2)
}

func TestStore_RetentionAndCleanup(t *testing.T) {
	ctx := context.Background()
	now := testNow
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, &now)

	s.Update(ctx, "run-1", []*suite.PairResult{
		succeeded("staging", "old", runStats(100, 10, 5)),
	})

	now = now.Add(20 * 24 * time.Hour)
	s.Update(ctx, "run-2", []*suite.PairResult{
		succeeded("staging", "fresh", runStats(100, 10, 5)),
	})

	now = now.Add(11 * 24 * time.Hour)

	_, ok := s.Get("staging", "old")
	assert.False(t, ok, "expired baseline is treated as absent")

	_, ok = s.Get("staging", "fresh")
	assert.True(t, ok)

	assert.Len(t, s.List(), 2, "expired baselines stay listed until cleanup")

	removed, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Len(t, s.List(), 1)

	records, err := backend.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Contains(t, records, Key("staging", "fresh"))
}

func TestStore_LoadSkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	now := testNow
	backend := NewMemoryBackend()

	good, err := Encode(New("staging", "login", runStats(100, 10, 5), "run-1", testNow))
	require.NoError(t, err)

	require.NoError(t, backend.Write(ctx, Key("staging", "login"), good))
	require.NoError(t, backend.Write(ctx, "garbage", []byte("not a record")))

	s := newTestStore(t, backend, &now)

	assert.Len(t, s.List(), 1)

	_, ok := s.Get("staging", "login")
	assert.True(t, ok)
}

type failingBackend struct {
	Backend
}

func (failingBackend) Write(context.Context, string, []byte) error {
	return assert.AnError
}

func TestStore_WriteFailureKeepsPreviousBaseline(t *testing.T) {
	ctx := context.Background()
	now := testNow
	s := newTestStore(t, failingBackend{Backend: NewMemoryBackend()}, &now)

	summary := s.Update(ctx, "run-1", []*suite.PairResult{succeeded("staging", "login", runStats(100, 10, 5))})
	assert.Equal(t, 1, summary.Failed)

	_, ok := s.Get("staging", "login")
	assert.False(t, ok)
}
