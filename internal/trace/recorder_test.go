package trace

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	store, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)
	return NewRecorder(store)
}

func TestRecorderStepIDsContiguous(t *testing.T) {
	r := newTestRecorder(t)
	id := r.Start()

	for i := 1; i <= 5; i++ {
		stepID, err := r.Append(id, Step{Type: StepDecision, Success: true})
		require.NoError(t, err)
		assert.Equal(t, i, stepID)
	}

	tr, err := r.Get(id)
	require.NoError(t, err)
	for i, step := range tr.Steps {
		assert.Equal(t, i+1, step.StepID)
	}
}

func TestRecorderCounters(t *testing.T) {
	r := newTestRecorder(t)
	id := r.Start()

	_, err := r.Append(id, Step{Type: StepDecision, Success: true})
	require.NoError(t, err)
	_, err = r.Append(id, Step{Type: StepToolCall, ToolName: "calculator", Success: true})
	require.NoError(t, err)
	_, err = r.Append(id, Step{Type: StepMemoryUpdate, Success: true})
	require.NoError(t, err)
	_, err = r.Append(id, Step{Type: StepMemoryUpdate, Success: true})
	require.NoError(t, err)

	tr, err := r.End(id)
	require.NoError(t, err)
	assert.Equal(t, 4, tr.Metadata.TotalSteps)
	assert.Equal(t, 1, tr.Metadata.TotalDecisions)
	assert.Equal(t, 1, tr.Metadata.TotalToolCalls)
	assert.Equal(t, 2, tr.Metadata.TotalMemoryUpdates)
}

func TestRecorderEndFinalizes(t *testing.T) {
	r := newTestRecorder(t)
	id := r.Start()

	require.NoError(t, r.SetFinalAnswer(id, "done"))

	tr, err := r.End(id)
	require.NoError(t, err)
	require.NotNil(t, tr.EndedAt)
	assert.False(t, tr.EndedAt.Before(tr.StartedAt))
	assert.GreaterOrEqual(t, tr.Metadata.DurationSeconds, 0.0)
	assert.Equal(t, "done", tr.FinalAnswer)

	// persisted and loadable after finalize
	loaded, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, loaded.SessionID)
}

func TestRecorderDoubleEndRejected(t *testing.T) {
	r := newTestRecorder(t)
	id := r.Start()

	_, err := r.End(id)
	require.NoError(t, err)

	_, err = r.End(id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoActiveTrace))
}

func TestRecorderAppendAfterEndRejected(t *testing.T) {
	r := newTestRecorder(t)
	id := r.Start()

	_, err := r.End(id)
	require.NoError(t, err)

	_, err = r.Append(id, Step{Type: StepDecision, Success: true})
	assert.True(t, errors.Is(err, ErrNoActiveTrace))
}

func TestRecorderGetSnapshotsActiveTrace(t *testing.T) {
	r := newTestRecorder(t)
	id := r.Start()

	_, err := r.Append(id, Step{Type: StepDecision, Success: true})
	require.NoError(t, err)

	snap, err := r.Get(id)
	require.NoError(t, err)
	require.Len(t, snap.Steps, 1)

	_, err = r.Append(id, Step{Type: StepMemoryUpdate, Success: true})
	require.NoError(t, err)

	// the snapshot is unaffected by later appends
	assert.Len(t, snap.Steps, 1)

	// and mutating the snapshot does not touch the live trace
	snap.Steps[0].Success = false
	snap.FinalAnswer = "tampered"

	live, err := r.Get(id)
	require.NoError(t, err)
	assert.True(t, live.Steps[0].Success)
	assert.Empty(t, live.FinalAnswer)
	assert.Len(t, live.Steps, 2)
}

func TestRecorderGeneratesSummaries(t *testing.T) {
	r := newTestRecorder(t)
	id := r.Start()

	_, err := r.Append(id, Step{Success: true, Metadata: map[string]any{}})
	require.NoError(t, err)

	_, err = r.Append(id, Step{
		Type:       StepToolCall,
		ToolName:   "calculator",
		DurationMs: 12,
		Success:    true,
	})
	require.NoError(t, err)

	tr, err := r.Get(id)
	require.NoError(t, err)
	assert.NotEmpty(t, tr.Steps[0].Metadata["summary"])
	assert.Equal(t, "Tool calculator: ok (12ms)", tr.Steps[1].Metadata["summary"])
}

func TestStepSummaryVariants(t *testing.T) {
	decision := Step{
		Type: StepDecision,
		Output: map[string]any{
			"selected_action": "tool:calculator",
			"reasoning":       "needs math",
		},
	}
	assert.Equal(t, "Decision: tool:calculator - needs math", decision.Summary())

	failed := Step{Type: StepToolCall, ToolName: "lookup", DurationMs: 3}
	assert.Equal(t, "Tool lookup: failed (3ms)", failed.Summary())

	update := Step{
		Type:   StepMemoryUpdate,
		Output: map[string]any{"cause": "classification"},
	}
	assert.Equal(t, "Memory updated: classification", update.Summary())
}
