package status

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDocID = "a3f5d2e8c4b6a1908f7e6d5c4b3a29181716151413121110f0e0d0c0b0a0908"

func TestCreate_InitialSnapshot(t *testing.T) {
	m := NewManager()

	snap, err := m.Create(testDocID, "report.pdf", map[string]string{"source": "watch"})
	require.NoError(t, err)

	assert.Equal(t, testDocID, snap.DocID)
	assert.Equal(t, "report.pdf", snap.Filename)
	assert.Equal(t, StateQueued, snap.State)
	assert.Equal(t, 0.0, snap.Progress)
	assert.Equal(t, "watch", snap.Metadata["source"])
	assert.False(t, snap.StartedAt.IsZero())
	assert.Nil(t, snap.CompletedAt)
}

func TestCreate_RejectsActiveDuplicate(t *testing.T) {
	m := NewManager()

	_, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)

	_, err = m.Create(testDocID, "report.pdf", nil)
	assert.ErrorIs(t, err, ErrActiveExists)
}

func TestCreate_ReplacesTerminalRecord(t *testing.T) {
	m := NewManager()

	_, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)
	_, err = m.MarkFailed(testDocID, "parse error")
	require.NoError(t, err)

	// Resubmission of the same bytes starts a fresh lifecycle.
	snap, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, snap.State)
	assert.Empty(t, snap.Error)
	assert.Equal(t, 0.0, snap.Progress)
}

func TestCreateFailed_RecordsAdmissionFailure(t *testing.T) {
	m := NewManager()

	snap := m.CreateFailed(testDocID, "virus.exe", "Unsupported file type: exe", nil)
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "Unsupported file type: exe", snap.Error)

	got, err := m.Get(testDocID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
}

func TestCreateFailed_DoesNotClobberActiveRun(t *testing.T) {
	m := NewManager()

	_, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)
	_, err = m.Update(testDocID, StateParsing, 0.05)
	require.NoError(t, err)

	snap := m.CreateFailed(testDocID, "report.pdf", "should not apply", nil)
	assert.Equal(t, StateParsing, snap.State, "active record must win")

	got, err := m.Get(testDocID)
	require.NoError(t, err)
	assert.Equal(t, StateParsing, got.State)
	assert.Empty(t, got.Error)
}

func TestGet_UnknownDocument(t *testing.T) {
	m := NewManager()

	_, err := m.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_FullLifecycle(t *testing.T) {
	m := NewManager()

	_, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)

	steps := []struct {
		state    State
		progress float64
	}{
		{StateParsing, 0.05},
		{StateEmbeddingVisual, 0.10},
		{StateEmbeddingVisual, 0.35},
		{StateEmbeddingText, 0.60},
		{StateStoring, 0.95},
		{StateCompleted, 1.0},
	}

	last := 0.0
	for _, step := range steps {
		snap, err := m.Update(testDocID, step.state, step.progress)
		require.NoError(t, err, "transition to %s", step.state)
		assert.Equal(t, step.state, snap.State)
		assert.GreaterOrEqual(t, snap.Progress, last, "progress must never decrease")
		last = snap.Progress
	}

	final, err := m.Get(testDocID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, 1.0, final.Progress)
	require.NotNil(t, final.CompletedAt)
}

func TestUpdate_TextOnlyDocumentSkipsVisual(t *testing.T) {
	m := NewManager()

	_, err := m.Create(testDocID, "notes.md", nil)
	require.NoError(t, err)

	_, err = m.Update(testDocID, StateParsing, 0.05)
	require.NoError(t, err)
	_, err = m.Update(testDocID, StateEmbeddingText, 0.60)
	require.NoError(t, err, "parsing → embedding_text is legal for pageless formats")
}

func TestUpdate_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"queued to storing", StateQueued, StateStoring},
		{"queued to completed", StateQueued, StateCompleted},
		{"parsing to storing", StateParsing, StateStoring},
		{"embedding_text to embedding_visual", StateEmbeddingText, StateEmbeddingVisual},
		{"completed to parsing", StateCompleted, StateParsing},
		{"failed to parsing", StateFailed, StateParsing},
		{"completed to failed", StateCompleted, StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, canTransition(tt.from, tt.to))
		})
	}
}

func TestUpdate_InvalidTransitionSurfacesError(t *testing.T) {
	m := NewManager()

	_, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)

	_, err = m.Update(testDocID, StateStoring, 0.95)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// The failed write must not have corrupted the record.
	snap, err := m.Get(testDocID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, snap.State)
}

func TestUpdate_ProgressValidation(t *testing.T) {
	m := NewManager()

	_, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)

	_, err = m.Update(testDocID, StateParsing, -0.1)
	assert.ErrorIs(t, err, ErrInvalidProgress)

	_, err = m.Update(testDocID, StateParsing, 1.1)
	assert.ErrorIs(t, err, ErrInvalidProgress)

	_, err = m.Update(testDocID, StateParsing, 0.08)
	require.NoError(t, err)

	// A stale lower value is clamped, not applied.
	snap, err := m.Update(testDocID, StateParsing, 0.02)
	require.NoError(t, err)
	assert.Equal(t, 0.08, snap.Progress)
}

func TestUpdate_UnknownDocAndState(t *testing.T) {
	m := NewManager()

	_, err := m.Update("missing", StateParsing, 0.1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)
	_, err = m.Update(testDocID, State("sleeping"), 0.1)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUpdate_OptionsPopulateCounters(t *testing.T) {
	m := NewManager()

	_, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)
	_, err = m.Update(testDocID, StateParsing, 0.1)
	require.NoError(t, err)

	snap, err := m.Update(testDocID, StateEmbeddingVisual, 0.35,
		WithStage("embedding pages"), WithPages(5, 10))
	require.NoError(t, err)
	assert.Equal(t, "embedding pages", snap.Stage)
	assert.Equal(t, 5, snap.Page)
	assert.Equal(t, 10, snap.TotalPages)
}

func TestMarkFailed_FromAnyNonTerminal(t *testing.T) {
	states := []struct {
		name  string
		setup func(m *Manager)
	}{
		{"queued", func(m *Manager) {}},
		{"parsing", func(m *Manager) {
			_, _ = m.Update(testDocID, StateParsing, 0.05)
		}},
		{"embedding_visual", func(m *Manager) {
			_, _ = m.Update(testDocID, StateParsing, 0.05)
			_, _ = m.Update(testDocID, StateEmbeddingVisual, 0.2)
		}},
	}

	for _, tt := range states {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			_, err := m.Create(testDocID, "report.pdf", nil)
			require.NoError(t, err)
			tt.setup(m)

			snap, err := m.MarkFailed(testDocID, "cancelled")
			require.NoError(t, err)
			assert.Equal(t, StateFailed, snap.State)
			assert.Equal(t, "cancelled", snap.Error)
		})
	}
}

func TestMarkFailed_KeepsLastProgress(t *testing.T) {
	m := NewManager()

	_, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)
	_, err = m.Update(testDocID, StateParsing, 0.1)
	require.NoError(t, err)
	_, err = m.Update(testDocID, StateEmbeddingVisual, 0.42)
	require.NoError(t, err)

	snap, err := m.MarkFailed(testDocID, "device lost")
	require.NoError(t, err)
	assert.Equal(t, 0.42, snap.Progress)
}

func TestMarkFailed_TerminalIsError(t *testing.T) {
	m := NewManager()

	_, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)
	_, err = m.MarkFailed(testDocID, "first")
	require.NoError(t, err)

	_, err = m.MarkFailed(testDocID, "second")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestList_SortedAndLimited(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	m := NewManager(withClock(func() time.Time { return current }))

	ids := []string{"doc-a", "doc-b", "doc-c"}
	for _, id := range ids {
		_, err := m.Create(id, id+".pdf", nil)
		require.NoError(t, err)
		current = current.Add(time.Minute)
	}

	// doc-a becomes the most recently updated.
	_, err := m.Update("doc-a", StateParsing, 0.05)
	require.NoError(t, err)

	all := m.ListAll(0)
	require.Len(t, all, 3)
	assert.Equal(t, "doc-a", all[0].DocID)

	limited := m.ListAll(2)
	assert.Len(t, limited, 2)

	_, err = m.MarkFailed("doc-b", "x")
	require.NoError(t, err)
	active := m.ListActive()
	require.Len(t, active, 2)
	for _, s := range active {
		assert.False(t, s.State.Terminal())
	}
}

func TestCountByState(t *testing.T) {
	m := NewManager()

	for _, id := range []string{"d1", "d2", "d3"} {
		_, err := m.Create(id, id+".pdf", nil)
		require.NoError(t, err)
	}
	_, err := m.Update("d1", StateParsing, 0.05)
	require.NoError(t, err)
	_, err = m.MarkFailed("d2", "x")
	require.NoError(t, err)

	counts := m.CountByState()
	assert.Equal(t, 1, counts[StateQueued])
	assert.Equal(t, 1, counts[StateParsing])
	assert.Equal(t, 1, counts[StateFailed])
}

func TestCleanup_RemovesOnlyOldTerminal(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	m := NewManager(withClock(func() time.Time { return current }))

	_, err := m.Create("done", "a.pdf", nil)
	require.NoError(t, err)
	walkToCompleted(t, m, "done")

	_, err = m.Create("dead", "b.pdf", nil)
	require.NoError(t, err)
	_, err = m.MarkFailed("dead", "x")
	require.NoError(t, err)

	_, err = m.Create("active", "c.pdf", nil)
	require.NoError(t, err)

	// Nothing is old enough yet.
	assert.Equal(t, 0, m.Cleanup(time.Hour))

	current = current.Add(2 * time.Hour)
	assert.Equal(t, 2, m.Cleanup(time.Hour))

	// Active entries survive any TTL.
	_, err = m.Get("active")
	assert.NoError(t, err)
	_, err = m.Get("done")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get("dead")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotifier_ReceivesWritesInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	m := NewManager(WithNotifier(func(s ProcessingStatus) {
		mu.Lock()
		seen = append(seen, s.State)
		mu.Unlock()
	}))

	_, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)
	walkToCompleted(t, m, testDocID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{
		StateQueued, StateParsing, StateEmbeddingVisual,
		StateEmbeddingText, StateStoring, StateCompleted,
	}, seen)
}

func TestNotifier_PanicDoesNotPoisonManager(t *testing.T) {
	m := NewManager(WithNotifier(func(ProcessingStatus) {
		panic("subscriber bug")
	}))

	_, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)

	snap, err := m.Get(testDocID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, snap.State)

	_, err = m.Update(testDocID, StateParsing, 0.05)
	assert.NoError(t, err)
}

func TestSnapshot_IsolatedFromManagerState(t *testing.T) {
	m := NewManager()

	_, err := m.Create(testDocID, "report.pdf", map[string]string{"k": "v"})
	require.NoError(t, err)

	snap, err := m.Get(testDocID)
	require.NoError(t, err)
	snap.Metadata["k"] = "mutated"

	again, err := m.Get(testDocID)
	require.NoError(t, err)
	assert.Equal(t, "v", again.Metadata["k"])
}

func TestElapsedAndRemaining(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	m := NewManager(withClock(func() time.Time { return current }))

	_, err := m.Create(testDocID, "report.pdf", nil)
	require.NoError(t, err)

	current = current.Add(10 * time.Second)
	snap, err := m.Update(testDocID, StateParsing, 0.10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap.Elapsed)
	assert.InDelta(t, 90.0, snap.Remaining, 1e-9, "10s for 10%% implies 90s remaining")

	// Terminal snapshots freeze elapsed at completion time.
	walkFrom(t, m, testDocID, StateParsing)
	current = current.Add(time.Hour)
	final, err := m.Get(testDocID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, final.Elapsed)
	assert.Zero(t, final.Remaining)
}

// walkToCompleted drives a queued document through the full lifecycle.
func walkToCompleted(t *testing.T, m *Manager, docID string) {
	t.Helper()
	_, err := m.Update(docID, StateParsing, 0.05)
	require.NoError(t, err)
	walkFrom(t, m, docID, StateParsing)
}

func walkFrom(t *testing.T, m *Manager, docID string, from State) {
	t.Helper()
	if from == StateParsing {
		_, err := m.Update(docID, StateEmbeddingVisual, 0.30)
		require.NoError(t, err)
	}
	_, err := m.Update(docID, StateEmbeddingText, 0.70)
	require.NoError(t, err)
	_, err = m.Update(docID, StateStoring, 0.95)
	require.NoError(t, err)
	_, err = m.MarkCompleted(docID)
	require.NoError(t, err)
}
