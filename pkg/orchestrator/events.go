package orchestrator

import (
	"sync"
	"time"

	"github.com/ethpandaops/regressoor/pkg/suite"
)

// EventType names a progress event.
type EventType string

// Progress events in the order a run emits them.
const (
	EventRunStart      EventType = "run:start"
	EventSuiteStart    EventType = "suite:start"
	EventSuiteWarmup   EventType = "suite:warmup"
	EventSuiteMeasure  EventType = "suite:measure"
	EventSuiteRetry    EventType = "suite:retry"
	EventSuiteComplete EventType = "suite:complete"
	EventSuiteFailed   EventType = "suite:failed"
	EventRunComplete   EventType = "run:complete"
)

// Event is a progress notification. Suite-level fields are empty for run
// events.
type Event struct {
	Type        EventType    `json:"type"`
	RunID       string       `json:"run_id"`
	Environment string       `json:"environment,omitempty"`
	Suite       string       `json:"suite,omitempty"`
	Attempt     int          `json:"attempt,omitempty"`
	Status      suite.Status `json:"status,omitempty"`
	Error       string       `json:"error,omitempty"`
	Time        time.Time    `json:"time"`
}

// ProgressFunc receives progress events. Calls are serialized.
type ProgressFunc func(Event)

// emitter serializes calls into one ProgressFunc. A nil emitter or nil
// func drops events.
type emitter struct {
	mu    sync.Mutex
	runID string
	fn    ProgressFunc
}

func newEmitter(runID string, fn ProgressFunc) *emitter {
	return &emitter{runID: runID, fn: fn}
}

func (e *emitter) emit(ev Event) {
	if e == nil || e.fn == nil {
		return
	}

	ev.RunID = e.runID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.fn(ev)
}
