package trace

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glassboxlabs/glassbox/internal/metrics"
)

var (
	// ErrNoActiveTrace is returned when a session has no open trace,
	// either because it was never started or because it was already
	// finalized.
	ErrNoActiveTrace = errors.New("trace: no active trace for session")
)

// Recorder accumulates steps for active sessions and flushes each trace to
// the store exactly once on End. All methods are safe for concurrent use by
// multiple sessions; within one session the orchestrator appends
// sequentially.
type Recorder struct {
	store Store

	mu     sync.Mutex
	active map[string]*Trace
}

// NewRecorder creates a recorder backed by the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store:  store,
		active: make(map[string]*Trace),
	}
}

// Start opens a trace for a new session and returns its session id.
func (r *Recorder) Start() string {
	id := uuid.NewString()

	r.mu.Lock()
	r.active[id] = &Trace{
		SessionID: id,
		StartedAt: time.Now().UTC(),
		Steps:     []Step{},
	}
	r.mu.Unlock()

	slog.Debug("trace started", "session_id", id)
	return id
}

// Append adds a step to the session's trace and returns its step id.
// Step ids are contiguous and strictly increasing from 1. The recorder
// fills in the id, the timestamp (when zero), the counters, and a
// generated summary when the caller did not provide one.
func (r *Recorder) Append(sessionID string, step Step) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.active[sessionID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoActiveTrace, sessionID)
	}

	step.StepID = len(t.Steps) + 1
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	if step.Metadata == nil {
		step.Metadata = map[string]any{}
	}
	if _, ok := step.Metadata["summary"]; !ok {
		step.Metadata["summary"] = step.Summary()
	}

	t.Steps = append(t.Steps, step)
	t.Metadata.TotalSteps = step.StepID
	switch step.Type {
	case StepDecision:
		t.Metadata.TotalDecisions++
	case StepToolCall:
		t.Metadata.TotalToolCalls++
	case StepMemoryUpdate:
		t.Metadata.TotalMemoryUpdates++
	}

	return step.StepID, nil
}

// SetFinalAnswer records the answer returned to the caller on the active
// trace. It is persisted with the trace and feeds shortcut detection.
func (r *Recorder) SetFinalAnswer(sessionID, answer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.active[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoActiveTrace, sessionID)
	}
	t.FinalAnswer = answer
	return nil
}

// End finalizes the session's trace: computes ended_at and duration,
// persists it, and removes the session from the active set. A second End
// for the same session is rejected with ErrNoActiveTrace, never a
// duplicate write. A store failure does not lose the returned trace; the
// audit gap is logged at error level for operators.
func (r *Recorder) End(sessionID string) (*Trace, error) {
	r.mu.Lock()
	t, ok := r.active[sessionID]
	if ok {
		delete(r.active, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveTrace, sessionID)
	}

	ended := time.Now().UTC()
	t.EndedAt = &ended
	t.Metadata.DurationSeconds = ended.Sub(t.StartedAt).Seconds()

	if err := r.store.Save(t); err != nil {
		metrics.TraceWriteFailures.Inc()
		slog.Error("trace persist failed, audit record lost", "session_id", sessionID, "error", err)
		return t, fmt.Errorf("trace save: %w", err)
	}

	slog.Debug("trace finalized", "session_id", sessionID, "total_steps", t.Metadata.TotalSteps)
	return t, nil
}

// Get returns the trace for a session, checking the active set before the
// store. For an active session it returns a snapshot taken under the lock,
// so callers can read it while the session's goroutine keeps appending.
func (r *Recorder) Get(sessionID string) (*Trace, error) {
	r.mu.Lock()
	t, ok := r.active[sessionID]
	if ok {
		cp := snapshot(t)
		r.mu.Unlock()
		return cp, nil
	}
	r.mu.Unlock()
	return r.store.Load(sessionID)
}

// snapshot copies an active trace. Steps are immutable once appended, so a
// fresh slice of the current entries is enough.
func snapshot(t *Trace) *Trace {
	cp := *t
	cp.Steps = make([]Step, len(t.Steps))
	copy(cp.Steps, t.Steps)
	if t.EndedAt != nil {
		ended := *t.EndedAt
		cp.EndedAt = &ended
	}
	return &cp
}
