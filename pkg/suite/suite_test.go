package suite

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okFunc(durationMs float64) Func {
	return func(_ context.Context, _ string, _ Options) (*Outcome, error) {
		return &Outcome{Success: true, DurationMs: durationMs}, nil
	}
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		suite   *Suite
		wantErr bool
	}{
		{
			name:  "valid suite",
			suite: &Suite{Name: "login", Func: okFunc(1), Environments: []string{"staging"}},
		},
		{
			name:    "nil suite",
			suite:   nil,
			wantErr: true,
		},
		{
			name:    "missing name",
			suite:   &Suite{Func: okFunc(1), Environments: []string{"staging"}},
			wantErr: true,
		},
		{
			name:    "missing function",
			suite:   &Suite{Name: "login", Environments: []string{"staging"}},
			wantErr: true,
		},
		{
			name:    "no environments",
			suite:   &Suite{Name: "login", Func: okFunc(1)},
			wantErr: true,
		},
		{
			name: "threshold ordering",
			suite: &Suite{
				Name:         "login",
				Func:         okFunc(1),
				Environments: []string{"staging"},
				Thresholds: &config.Thresholds{
					Performance: config.Threshold{Warning: 30, Critical: 15},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()

			err := reg.Register(tt.suite)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrValidation)
				assert.Empty(t, reg.All())

				return
			}

			require.NoError(t, err)
			assert.Len(t, reg.All(), 1)
		})
	}
}

func TestRegistry_DuplicateAndLookup(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(&Suite{Name: "a", Func: okFunc(1), Environments: []string{"staging", "prod"}}))
	require.NoError(t, reg.Register(&Suite{Name: "b", Func: okFunc(1), Environments: []string{"prod"}}))

	err := reg.Register(&Suite{Name: "a", Func: okFunc(1), Environments: []string{"qa"}})
	require.ErrorIs(t, err, ErrValidation)

	s, ok := reg.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", s.Name)

	_, ok = reg.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"staging", "prod"}, reg.Environments())

	prod := reg.ForEnvironment("prod")
	require.Len(t, prod, 2)
	assert.Equal(t, "a", prod[0].Name)
	assert.Equal(t, "b", prod[1].Name)
	assert.Len(t, reg.ForEnvironment("staging"), 1)
}

func TestComputeStatistics(t *testing.T) {
	t.Run("no successful outcomes", func(t *testing.T) {
		_, err := ComputeStatistics([]*Outcome{{Success: false}, {Success: false}})
		require.ErrorIs(t, err, ErrNoSuccessfulOutcomes)

		_, err = ComputeStatistics(nil)
		require.ErrorIs(t, err, ErrNoSuccessfulOutcomes)
	})

	t.Run("failures only affect rates", func(t *testing.T) {
		outcomes := []*Outcome{
			{Success: true, DurationMs: 100, Memory: MemoryDelta{Heap: 1000}},
			{Success: true, DurationMs: 200, Memory: MemoryDelta{Heap: 3000}},
			{Success: false, DurationMs: 5000},
			{Success: true, DurationMs: 300, Memory: MemoryDelta{Heap: 2000}},
		}

		stats, err := ComputeStatistics(outcomes)
		require.NoError(t, err)

		assert.Equal(t, 3, stats.SampleSize)
		assert.InDelta(t, 0.75, stats.SuccessRate, 1e-9)
		assert.InDelta(t, 0.25, stats.ErrorRate, 1e-9)
		assert.InDelta(t, 200, stats.Duration.Mean, 1e-9)
		assert.InDelta(t, 200, stats.Duration.Median, 1e-9)
		assert.InDelta(t, 100, stats.Duration.Min, 1e-9)
		assert.InDelta(t, 300, stats.Duration.Max, 1e-9)
		assert.InDelta(t, 100, stats.Duration.StdDev, 1e-9)
		assert.InDelta(t, 290, stats.Duration.P95, 1e-9)
		assert.InDelta(t, 2000, stats.Memory.Heap.Mean, 1e-9)
		assert.InDelta(t, 1000, stats.Memory.Heap.Min, 1e-9)
		assert.InDelta(t, 3000, stats.Memory.Heap.Max, 1e-9)
	})
}

func TestMeasure(t *testing.T) {
	ctx := context.Background()
	opts := Options{Phase: PhaseMeasurement}

	t.Run("error becomes failed outcome", func(t *testing.T) {
		s := &Suite{Name: "s", Func: func(context.Context, string, Options) (*Outcome, error) {
			return nil, errors.New("connection refused")
		}}

		outcome, err := Measure(ctx, s, "staging", opts, nil)
		require.NoError(t, err)
		assert.False(t, outcome.Success)
		assert.Equal(t, "connection refused", outcome.Error)
		assert.GreaterOrEqual(t, outcome.DurationMs, 0.0)
	})

	t.Run("panic is captured", func(t *testing.T) {
		s := &Suite{Name: "s", Func: func(context.Context, string, Options) (*Outcome, error) {
			panic("boom")
		}}

		outcome, err := Measure(ctx, s, "staging", opts, nil)
		require.ErrorIs(t, err, ErrPanic)
		require.NotNil(t, outcome)
		assert.False(t, outcome.Success)
		assert.Contains(t, outcome.Error, "boom")
	})

	t.Run("nil outcome is a failure", func(t *testing.T) {
		s := &Suite{Name: "s", Func: func(context.Context, string, Options) (*Outcome, error) {
			return nil, nil
		}}

		outcome, err := Measure(ctx, s, "staging", opts, nil)
		require.NoError(t, err)
		assert.False(t, outcome.Success)
	})

	t.Run("reported duration is kept", func(t *testing.T) {
		s := &Suite{Name: "s", Func: okFunc(42)}

		outcome, err := Measure(ctx, s, "staging", opts, nil)
		require.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.InDelta(t, 42, outcome.DurationMs, 1e-9)
	})

	t.Run("done context abandons the call", func(t *testing.T) {
		s := &Suite{Name: "s", Func: func(context.Context, string, Options) (*Outcome, error) {
			time.Sleep(2 * time.Second)

			return &Outcome{Success: true, DurationMs: 1}, nil
		}}

		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		outcome, err := Measure(tctx, s, "staging", opts, nil)

		assert.Less(t, time.Since(start), time.Second)
		require.ErrorIs(t, err, ErrAbandoned)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.NotNil(t, outcome)
		assert.False(t, outcome.Success)
	})

	t.Run("memory delta from sampler", func(t *testing.T) {
		sampler := &stepSampler{step: 512}
		s := &Suite{Name: "s", Func: okFunc(1)}

		outcome, err := Measure(ctx, s, "staging", opts, sampler)
		require.NoError(t, err)
		assert.Equal(t, MemoryDelta{Heap: 512, External: 512, RSS: 512}, outcome.Memory)
	})
}

type stepSampler struct {
	step    uint64
	current uint64
}

func (s *stepSampler) Sample() MemorySnapshot {
	snap := MemorySnapshot{Heap: s.current, External: s.current, RSS: s.current}
	s.current += s.step

	return snap
}

func TestHTTPFunc(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte("ok"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	baseURLs := map[string]string{"staging": srv.URL + "/"}

	t.Run("expected status succeeds", func(t *testing.T) {
		fn, err := NewHTTPFunc(map[string]any{"path": "/health"}, baseURLs, srv.Client())
		require.NoError(t, err)

		outcome, err := fn(context.Background(), "staging", Options{})
		require.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.Equal(t, http.StatusOK, outcome.Data["status_code"])
		assert.Equal(t, int64(2), outcome.Data["bytes"])
	})

	t.Run("unexpected status fails", func(t *testing.T) {
		fn, err := NewHTTPFunc(map[string]any{"path": "missing", "timeout": "2s"}, baseURLs, srv.Client())
		require.NoError(t, err)

		outcome, err := fn(context.Background(), "staging", Options{})
		require.NoError(t, err)
		assert.False(t, outcome.Success)
		assert.Contains(t, outcome.Error, "unexpected status 404")
	})

	t.Run("unknown environment errors", func(t *testing.T) {
		fn, err := NewHTTPFunc(map[string]any{"path": "/health"}, baseURLs, srv.Client())
		require.NoError(t, err)

		_, err = fn(context.Background(), "production", Options{})
		require.Error(t, err)
	})

	t.Run("invalid options", func(t *testing.T) {
		_, err := NewHTTPFunc(map[string]any{}, baseURLs, nil)
		require.Error(t, err)

		_, err = NewHTTPFunc(map[string]any{"path": "/", "unknown_field": 1}, baseURLs, nil)
		require.Error(t, err)
	})
}

func TestCommandFunc(t *testing.T) {
	t.Run("environment is exported", func(t *testing.T) {
		fn, err := NewCommandFunc(map[string]any{
			"command": []any{"sh", "-c", `test "$REGRESSOOR_ENVIRONMENT" = staging && test "$EXTRA" = yes`},
			"env":     map[string]any{"EXTRA": "yes"},
		})
		require.NoError(t, err)

		outcome, err := fn(context.Background(), "staging", Options{})
		require.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.Equal(t, 0, outcome.Data["exit_code"])
	})

	t.Run("non-zero exit fails with stderr", func(t *testing.T) {
		fn, err := NewCommandFunc(map[string]any{
			"command": []any{"sh", "-c", "echo broken >&2; exit 3"},
		})
		require.NoError(t, err)

		outcome, err := fn(context.Background(), "staging", Options{})
		require.NoError(t, err)
		assert.False(t, outcome.Success)
		assert.Equal(t, "broken", outcome.Error)
		assert.Equal(t, 3, outcome.Data["exit_code"])
	})

	t.Run("missing command", func(t *testing.T) {
		_, err := NewCommandFunc(map[string]any{})
		require.Error(t, err)
	})
}

func TestRegisterConfigured(t *testing.T) {
	cfg := &config.Config{
		Environments: []config.EnvironmentConfig{{Name: "staging", BaseURL: "http://localhost"}},
		Suites: []config.SuiteConfig{
			{Name: "home", Kind: config.SuiteKindHTTP, Environments: []string{"staging"}, Options: map[string]any{"path": "/"}},
			{Name: "cli", Kind: config.SuiteKindCommand, Environments: []string{"staging"}, Category: "cli",
				Options: map[string]any{"command": []any{"true"}}},
		},
	}

	reg := NewRegistry()
	require.NoError(t, RegisterConfigured(reg, cfg, nil))

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "home", all[0].Name)
	assert.Equal(t, "cli", all[1].Metadata.Category)
	assert.Equal(t, config.SuiteKindCommand, all[1].Metadata.Extra["kind"])

	cfg.Suites[0].Options = map[string]any{}
	err := RegisterConfigured(NewRegistry(), cfg, nil)
	require.ErrorIs(t, err, ErrValidation)
}
