package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/embed"
	perrors "github.com/petrel-search/petrel/internal/errors"
	"github.com/petrel-search/petrel/internal/parse"
	"github.com/petrel-search/petrel/internal/pipeline"
	"github.com/petrel-search/petrel/internal/search"
	"github.com/petrel-search/petrel/internal/status"
	"github.com/petrel-search/petrel/internal/store"
	"github.com/petrel-search/petrel/internal/validate"
)

// Integration tests covering the full flow: submit -> parse -> embed ->
// store -> search. Everything runs on the static provider so no external
// services are needed.

const terminalWait = 15 * time.Second

// system bundles the wired components, mirroring what serve assembles.
type system struct {
	embedder *embed.Engine
	store    *store.Store
	status   *status.Manager
	pipe     *pipeline.Pipeline
	engine   *search.Engine
}

func newSystem(t *testing.T) *system {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	embedder, err := embed.New(ctx, embed.Config{Provider: "static"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = embedder.Close() })

	st, err := store.Open(ctx, store.DefaultConfig(t.TempDir(), embedder.Dimensions()), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := parse.NewRegistry(parse.Options{ChunkSize: 40, ChunkOverlap: 8, Logger: logger})
	manager := status.NewManager(status.WithLogger(logger))

	pipe, err := pipeline.New(pipeline.Config{Workers: 2}, pipeline.Deps{
		Validator: validate.New(config.DefaultFormats),
		Status:    manager,
		Parser:    registry,
		Embedder:  embedder,
		Store:     st,
		Logger:    logger,
	})
	require.NoError(t, err)
	require.NoError(t, pipe.Start(ctx))
	t.Cleanup(func() { pipe.Stop(5 * time.Second) })

	engine, err := search.New(embedder, st, search.Config{}, search.WithLogger(logger))
	require.NoError(t, err)

	return &system{embedder: embedder, store: st, status: manager, pipe: pipe, engine: engine}
}

// writeDoc drops a markdown file with the given body into dir.
func writeDoc(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// ingest submits the file and waits for it to complete.
func (s *system) ingest(t *testing.T, path string) string {
	t.Helper()
	snap, err := s.pipe.Submit(context.Background(), path, filepath.Base(path))
	require.NoError(t, err)
	s.waitCompleted(t, snap.DocID)
	return snap.DocID
}

func (s *system) waitCompleted(t *testing.T, docID string) {
	t.Helper()
	deadline := time.Now().Add(terminalWait)
	for {
		st, err := s.status.Get(docID)
		require.NoError(t, err)
		if st.State.Terminal() {
			require.Equal(t, status.StateCompleted, st.State, "processing failed: %s", st.Error)
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("document %s stuck in state %s", docID, st.State)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestIngestAndSearch_FindsDocument(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Given a completed ingestion of two documents
	sys := newSystem(t)
	dir := t.TempDir()
	wantID := sys.ingest(t, writeDoc(t, dir, "zoning.md",
		"# Zoning Variance\n\nThe commission approved the zoning variance for the riverside warehouse."))
	sys.ingest(t, writeDoc(t, dir, "recipes.md",
		"# Soup Recipes\n\nSimmer the leeks and potatoes until tender, then blend."))

	require.Equal(t, 2, sys.store.Documents())

	// When searching for content unique to the first document
	resp, err := sys.engine.Search(context.Background(), "zoning variance warehouse", search.Options{K: 5})

	// Then it ranks first, without a partial flag
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.False(t, resp.Partial)
	assert.Equal(t, wantID, resp.Results[0].DocID)
	assert.Equal(t, "zoning.md", resp.Results[0].Meta.Filename)
}

func TestIngest_DuplicateSubmissionIsNoOp(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Given a document already ingested
	sys := newSystem(t)
	path := writeDoc(t, t.TempDir(), "minutes.md", "# Minutes\n\nThe board met on Tuesday and adjourned early.")
	docID := sys.ingest(t, path)
	countBefore := sys.store.Count(store.CollectionText)

	// When submitting the identical file again
	snap, err := sys.pipe.Submit(context.Background(), path, "minutes.md")

	// Then the existing completed record answers and nothing is re-stored
	require.NoError(t, err)
	assert.Equal(t, docID, snap.DocID)
	assert.Equal(t, status.StateCompleted, snap.State)
	assert.Equal(t, countBefore, sys.store.Count(store.CollectionText))
}

func TestIngest_UnsupportedFormatRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	sys := newSystem(t)
	path := writeDoc(t, t.TempDir(), "payload.exe", "MZ not a document")

	snap, err := sys.pipe.Submit(context.Background(), path, "payload.exe")
	require.Error(t, err)

	var perr *perrors.PetrelError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, perrors.CodeUnsupportedFormat, perr.Code)

	// The rejection leaves a failed record so the status API can answer.
	st, gerr := sys.status.Get(snap.DocID)
	require.NoError(t, gerr)
	assert.Equal(t, status.StateFailed, st.State)
	assert.Equal(t, 0, sys.store.Documents())
}

func TestCancel_AfterCompletionReturnsFalse(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	sys := newSystem(t)
	docID := sys.ingest(t, writeDoc(t, t.TempDir(), "done.md", "# Done\n\nThis one finished already."))

	assert.False(t, sys.pipe.Cancel(docID))
}

func TestSearch_ModeAndFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Given two markdown documents sharing a query term
	sys := newSystem(t)
	dir := t.TempDir()
	reportID := sys.ingest(t, writeDoc(t, dir, "report.md",
		"# Quarterly Report\n\nRevenue grew while churn declined across all regions."))
	sys.ingest(t, writeDoc(t, dir, "notes.md",
		"# Meeting Notes\n\nRevenue discussion postponed until next week."))

	ctx := context.Background()

	// When restricting to one doc id
	resp, err := sys.engine.Search(ctx, "revenue", search.Options{
		K:       5,
		Filters: search.Filters{DocIDs: []string{reportID}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, reportID, r.DocID)
	}

	// And when searching text_only explicitly
	resp, err = sys.engine.Search(ctx, "quarterly report revenue", search.Options{
		K:    5,
		Mode: search.ModeTextOnly,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, store.CollectionText, resp.Results[0].Kind)

	// And visual_only finds nothing since no pages were rendered
	resp, err = sys.engine.Search(ctx, "quarterly report", search.Options{
		K:    5,
		Mode: search.ModeVisualOnly,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearch_EmptyStoreReturnsNoResults(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	sys := newSystem(t)

	resp, err := sys.engine.Search(context.Background(), "anything at all", search.Options{K: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.Partial)
}

func TestSearch_ConcurrentQueriesNoRace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	sys := newSystem(t)
	dir := t.TempDir()
	sys.ingest(t, writeDoc(t, dir, "handbook.md",
		"# Employee Handbook\n\nVacation requests go through the portal. Expenses need receipts."))

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(q string) {
			_, err := sys.engine.Search(context.Background(), q, search.Options{K: 5})
			done <- err
		}([]string{"vacation requests", "expense receipts", "handbook portal"}[i%3])
	}

	timeout := time.After(10 * time.Second)
	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-timeout:
			t.Fatal("concurrent searches timed out")
		}
	}
}

func TestReingest_ChangedContentReplacesRecords(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Given an ingested document
	sys := newSystem(t)
	dir := t.TempDir()
	path := writeDoc(t, dir, "policy.md", "# Policy\n\nBadgers must be escorted at all times.")
	oldID := sys.ingest(t, path)

	// When the file changes on disk and is resubmitted
	require.NoError(t, os.WriteFile(path, []byte("# Policy\n\nBadgers may roam freely on Fridays."), 0o644))
	snap, err := sys.pipe.Submit(context.Background(), path, "policy.md")
	require.NoError(t, err)
	newID := snap.DocID
	require.NotEqual(t, oldID, newID)
	sys.waitCompleted(t, newID)

	// Then searching finds the new content under the new id
	resp, err := sys.engine.Search(context.Background(), "roam freely fridays", search.Options{K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, newID, resp.Results[0].DocID)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dataDir := t.TempDir()

	embedder, err := embed.New(ctx, embed.Config{Provider: "static"}, logger)
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	// Given a store populated through the pipeline and then closed
	st, err := store.Open(ctx, store.DefaultConfig(dataDir, embedder.Dimensions()), logger)
	require.NoError(t, err)

	registry := parse.NewRegistry(parse.Options{Logger: logger})
	manager := status.NewManager(status.WithLogger(logger))
	pipe, err := pipeline.New(pipeline.Config{Workers: 1}, pipeline.Deps{
		Validator: validate.New(config.DefaultFormats),
		Status:    manager,
		Parser:    registry,
		Embedder:  embedder,
		Store:     st,
		Logger:    logger,
	})
	require.NoError(t, err)
	require.NoError(t, pipe.Start(ctx))

	path := writeDoc(t, t.TempDir(), "lease.md", "# Lease\n\nThe tenant renews annually before March.")
	snap, err := pipe.Submit(ctx, path, "lease.md")
	require.NoError(t, err)
	deadline := time.Now().Add(terminalWait)
	for {
		cur, gerr := manager.Get(snap.DocID)
		require.NoError(t, gerr)
		if cur.State.Terminal() {
			require.Equal(t, status.StateCompleted, cur.State, "processing failed: %s", cur.Error)
			break
		}
		require.False(t, time.Now().After(deadline), "ingest timed out")
		time.Sleep(20 * time.Millisecond)
	}
	pipe.Stop(5 * time.Second)
	require.NoError(t, st.Close())

	// When reopening the same directory
	st2, err := store.Open(ctx, store.DefaultConfig(dataDir, embedder.Dimensions()), logger)
	require.NoError(t, err)
	defer func() { _ = st2.Close() }()

	// Then the records survive and are searchable
	assert.Equal(t, 1, st2.Documents())
	engine, err := search.New(embedder, st2, search.Config{}, search.WithLogger(logger))
	require.NoError(t, err)
	resp, err := engine.Search(ctx, "tenant renews annually", search.Options{K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, snap.DocID, resp.Results[0].DocID)
}
