package suite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

var (
	// ErrPanic is wrapped when a test function panics.
	ErrPanic = errors.New("test function panicked")
	// ErrAbandoned is wrapped when the context ends before a test function
	// returns.
	ErrAbandoned = errors.New("test function abandoned")
)

// MemorySnapshot is a point-in-time reading of process memory, in bytes.
type MemorySnapshot struct {
	Heap     uint64
	External uint64
	RSS      uint64
}

// MemorySampler reads process memory. Readings are process wide, so deltas
// taken while other suites run concurrently include their allocations.
type MemorySampler interface {
	Sample() MemorySnapshot
}

type runtimeSampler struct {
	proc *process.Process
}

// NewRuntimeSampler samples the Go heap, non-heap runtime memory and the
// process RSS. RSS is left at zero if the process cannot be inspected.
func NewRuntimeSampler() MemorySampler {
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		proc = nil
	}

	return &runtimeSampler{proc: proc}
}

func (s *runtimeSampler) Sample() MemorySnapshot {
	var ms runtime.MemStats

	runtime.ReadMemStats(&ms)

	snap := MemorySnapshot{
		Heap:     ms.HeapAlloc,
		External: ms.Sys - ms.HeapSys,
	}

	if s.proc != nil {
		if info, err := s.proc.MemoryInfo(); err == nil {
			snap.RSS = info.RSS
		}
	}

	return snap
}

type noopSampler struct{}

// NoopSampler returns a sampler that always reports zero.
func NoopSampler() MemorySampler { return noopSampler{} }

func (noopSampler) Sample() MemorySnapshot { return MemorySnapshot{} }

// call is what a test function goroutine hands back to Measure.
type call struct {
	result   *Outcome
	err      error
	panicked any
	stack    []byte
}

// Measure executes s.Func once and always returns an outcome. Errors from the
// function become a failed outcome. A panic also yields a failed outcome and
// is reported through the returned error, wrapping ErrPanic.
//
// If ctx ends before the function returns, Measure stops waiting and returns a
// failed outcome with an error wrapping ErrAbandoned and ctx.Err(). The
// function keeps running in the background and its result is discarded.
//
// Duration and memory deltas measured here are used unless the function
// reported its own values.
func Measure(
	ctx context.Context,
	s *Suite,
	environment string,
	opts Options,
	sampler MemorySampler,
) (*Outcome, error) {
	if sampler == nil {
		sampler = NoopSampler()
	}

	before := sampler.Sample()
	start := time.Now()

	done := make(chan call, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- call{panicked: r, stack: debug.Stack()}
			}
		}()

		result, err := s.Func(ctx, environment, opts)
		done <- call{result: result, err: err}
	}()

	c, finished := wait(ctx, done)
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	after := sampler.Sample()

	if !finished {
		err := fmt.Errorf("%w: %w", ErrAbandoned, ctx.Err())

		return &Outcome{Success: false, DurationMs: elapsed, Error: err.Error()}, err
	}

	if c.panicked != nil {
		err := fmt.Errorf("%w: %v", ErrPanic, c.panicked)

		return &Outcome{
			Success:    false,
			DurationMs: elapsed,
			Error:      err.Error(),
			Data:       map[string]any{"stack": string(c.stack)},
		}, err
	}

	var outcome *Outcome

	switch {
	case c.err != nil:
		outcome = &Outcome{Success: false, Error: c.err.Error()}
		if c.result != nil {
			outcome.DurationMs = c.result.DurationMs
			outcome.Data = c.result.Data
		}
	case c.result == nil:
		outcome = &Outcome{Success: false, Error: "test function returned no outcome"}
	default:
		// Copy so the caller's value is never mutated.
		copied := *c.result
		outcome = &copied
	}

	if outcome.DurationMs <= 0 {
		outcome.DurationMs = elapsed
	}

	if outcome.Memory.IsZero() {
		outcome.Memory = MemoryDelta{
			Heap:     delta(before.Heap, after.Heap),
			External: delta(before.External, after.External),
			RSS:      delta(before.RSS, after.RSS),
		}
	}

	return outcome, nil
}

// wait blocks until the function finishes or ctx ends. A result that is
// already available wins over a done context.
func wait(ctx context.Context, done <-chan call) (call, bool) {
	select {
	case c := <-done:
		return c, true
	case <-ctx.Done():
		select {
		case c := <-done:
			return c, true
		default:
			return call{}, false
		}
	}
}

func delta(before, after uint64) int64 {
	return int64(after) - int64(before) //nolint:gosec // memory sizes fit in int64
}
