package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/store"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"", ModeHybrid, false},
		{"hybrid", ModeHybrid, false},
		{"visual_only", ModeVisualOnly, false},
		{"text_only", ModeTextOnly, false},
		{"  hybrid  ", ModeHybrid, false},
		{"semantic", "", true},
		{"HYBRID", "", true},
	}

	for _, tt := range tests {
		t.Run("input_"+tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilters_ZeroValueCompilesToNil(t *testing.T) {
	assert.True(t, Filters{}.IsZero())
	assert.Nil(t, Filters{}.predicate())
}

func TestFilters_DocIDs(t *testing.T) {
	pred := Filters{DocIDs: []string{"doc1", "doc2"}}.predicate()
	require.NotNil(t, pred)

	assert.True(t, pred(store.Meta{DocID: "doc1"}))
	assert.True(t, pred(store.Meta{DocID: "doc2"}))
	assert.False(t, pred(store.Meta{DocID: "doc3"}))
}

func TestFilters_FormatsNormalizeExtension(t *testing.T) {
	pred := Filters{Formats: []string{".PDF", "docx"}}.predicate()
	require.NotNil(t, pred)

	assert.True(t, pred(store.Meta{Filename: "report.pdf"}))
	assert.True(t, pred(store.Meta{Filename: "deck.PDF"}))
	assert.True(t, pred(store.Meta{Filename: "notes.docx"}))
	assert.False(t, pred(store.Meta{Filename: "photo.png"}))
	assert.False(t, pred(store.Meta{Filename: "README"}))
}

func TestFilters_TimeRangeInclusive(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	pred := Filters{After: after, Before: before}.predicate()
	require.NotNil(t, pred)

	assert.True(t, pred(store.Meta{CreatedAt: after}))
	assert.True(t, pred(store.Meta{CreatedAt: before}))
	assert.True(t, pred(store.Meta{CreatedAt: after.AddDate(0, 2, 0)}))
	assert.False(t, pred(store.Meta{CreatedAt: after.Add(-time.Second)}))
	assert.False(t, pred(store.Meta{CreatedAt: before.Add(time.Second)}))
}

func TestFilters_Combined(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pred := Filters{
		DocIDs:  []string{"doc1"},
		Formats: []string{"pdf"},
		After:   after,
	}.predicate()
	require.NotNil(t, pred)

	ok := store.Meta{DocID: "doc1", Filename: "a.pdf", CreatedAt: after.AddDate(0, 1, 0)}
	assert.True(t, pred(ok))

	wrongDoc := ok
	wrongDoc.DocID = "doc2"
	assert.False(t, pred(wrongDoc))

	wrongFormat := ok
	wrongFormat.Filename = "a.png"
	assert.False(t, pred(wrongFormat))

	tooOld := ok
	tooOld.CreatedAt = after.AddDate(-1, 0, 0)
	assert.False(t, pred(tooOld))
}

func TestConfigFrom(t *testing.T) {
	app := &config.Config{}
	app.Search.DefaultK = 25
	app.Search.Stage1Timeout = "250ms"
	app.Search.Stage2Timeout = "1.5s"
	app.Search.QueryCacheSize = 64

	cfg := ConfigFrom(app)
	assert.Equal(t, 25, cfg.DefaultK)
	assert.Equal(t, 250*time.Millisecond, cfg.Stage1Timeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Stage2Timeout)
	assert.Equal(t, 64, cfg.QueryCacheSize)
}

func TestConfigFrom_BadDurationsFallBack(t *testing.T) {
	app := &config.Config{}
	app.Search.Stage1Timeout = "soon"
	app.Search.Stage2Timeout = "-1s"

	cfg := ConfigFrom(app)
	assert.Equal(t, DefaultStage1Timeout, cfg.Stage1Timeout)
	assert.Equal(t, DefaultStage2Timeout, cfg.Stage2Timeout)
}
