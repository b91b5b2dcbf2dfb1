package trace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)

	ended := time.Now().UTC()
	original := &Trace{
		SessionID: "session-1",
		StartedAt: ended.Add(-2 * time.Second),
		EndedAt:   &ended,
		Steps: []Step{
			{
				StepID:   1,
				Type:     StepDecision,
				Success:  true,
				Output:   map[string]any{"selected_action": "category:general"},
				Metadata: map[string]any{"stage": "classify"},
			},
		},
		FinalAnswer: "hello",
		Metadata:    Metadata{TotalSteps: 1, TotalDecisions: 1, DurationSeconds: 2},
	}
	require.NoError(t, store.Save(original))

	loaded, err := store.Load("session-1")
	require.NoError(t, err)
	assert.Equal(t, original.SessionID, loaded.SessionID)
	assert.Equal(t, original.FinalAnswer, loaded.FinalAnswer)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, "classify", loaded.Steps[0].Stage())
	assert.Equal(t, 1, loaded.Metadata.TotalSteps)
}

func TestFileStoreLoadMissing(t *testing.T) {
	store, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStoreLoadAllSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(&Trace{SessionID: "good-1", StartedAt: time.Now().UTC()}))
	require.NoError(t, store.Save(&Trace{SessionID: "good-2", StartedAt: time.Now().UTC()}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))

	traces, skipped, err := store.LoadAll()
	require.NoError(t, err)
	assert.Len(t, traces, 2)
	assert.Equal(t, 1, skipped)
}

func TestFileStoreSaveReplaces(t *testing.T) {
	store, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)

	tr := &Trace{SessionID: "s", StartedAt: time.Now().UTC(), FinalAnswer: "first"}
	require.NoError(t, store.Save(tr))
	tr.FinalAnswer = "second"
	require.NoError(t, store.Save(tr))

	loaded, err := store.Load("s")
	require.NoError(t, err)
	assert.Equal(t, "second", loaded.FinalAnswer)

	traces, skipped, err := store.LoadAll()
	require.NoError(t, err)
	assert.Len(t, traces, 1)
	assert.Zero(t, skipped)
}
