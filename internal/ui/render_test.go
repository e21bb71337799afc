package ui

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-search/petrel/internal/search"
	"github.com/petrel-search/petrel/internal/status"
	"github.com/petrel-search/petrel/internal/store"
)

func TestRenderStatusActiveDocument(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	r.RenderStatus(status.ProcessingStatus{
		DocID:      "abcdef0123456789",
		Filename:   "report.pdf",
		State:      status.StateEmbeddingVisual,
		Progress:   0.42,
		Stage:      "embed_visual",
		Page:       3,
		TotalPages: 10,
		StartedAt:  time.Now().Add(-30 * time.Second),
		Remaining:  41.5,
	})

	out := buf.String()
	assert.Contains(t, out, "report.pdf")
	assert.Contains(t, out, "abcdef0123456789")
	assert.Contains(t, out, "embedding_visual")
	assert.Contains(t, out, "42%")
	assert.Contains(t, out, "3/10")
	assert.Contains(t, out, "remaining:")
}

func TestRenderStatusFailedDocument(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	done := time.Now()
	r.RenderStatus(status.ProcessingStatus{
		DocID:       "feedbeef",
		Filename:    "broken.docx",
		State:       status.StateFailed,
		Progress:    0.1,
		StartedAt:   done.Add(-5 * time.Second),
		CompletedAt: &done,
		Elapsed:     5,
		Error:       "parse failed: truncated archive",
	})

	out := buf.String()
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "parse failed: truncated archive")
	// Terminal documents show no progress bar.
	assert.NotContains(t, out, "progress:")
}

func TestRenderQueue(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	r.RenderQueue([]status.ProcessingStatus{
		{DocID: "aaaa000000000000", Filename: "one.pdf", State: status.StateParsing, Progress: 0.1},
		{DocID: "bbbb000000000000", Filename: "two.md", State: status.StateStoring, Progress: 0.97},
	}, 2, 5, 1)

	out := buf.String()
	assert.Contains(t, out, "Processing Queue")
	assert.Contains(t, out, "one.pdf")
	assert.Contains(t, out, "two.md")
	assert.Contains(t, out, "aaaa00000000")
	assert.Contains(t, out, "active:")
	assert.Contains(t, out, "5")
}

func TestRenderQueueEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf, true).RenderQueue(nil, 0, 0, 0)
	assert.Contains(t, buf.String(), "queue is empty")
}

func TestRenderHealth(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf, true).RenderHealth(true, map[string]int{"visual": 12, "text": 80})

	out := buf.String()
	assert.Contains(t, out, "healthy")
	assert.Contains(t, out, "visual:")
	assert.Contains(t, out, "12 records")
	assert.Contains(t, out, "80 records")
}

func TestRenderResults(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	resp := search.Response{
		Results: []search.Result{
			{
				DocID: "cafe000000000000",
				Kind:  store.CollectionVisual,
				Index: 2,
				Score: 0.8731,
				Meta:  store.Meta{Filename: "slides.pdf", PageNumber: 2},
				Evidence: &search.Hit{
					Kind:  store.CollectionText,
					Index: 5,
					Meta:  store.Meta{PageNumber: 2},
				},
			},
			{
				DocID: "beef000000000000",
				Kind:  store.CollectionText,
				Index: 0,
				Score: 0.5112,
				Meta:  store.Meta{Filename: "notes.md"},
			},
		},
		Partial: true,
	}
	r.RenderResults("quarterly revenue", resp, 48*time.Millisecond)

	out := buf.String()
	assert.Contains(t, out, `2 results for "quarterly revenue"`)
	assert.Contains(t, out, "48ms")
	assert.Contains(t, out, "partial results")
	assert.Contains(t, out, "slides.pdf")
	assert.Contains(t, out, "page 2")
	assert.Contains(t, out, "also:")
	assert.Contains(t, out, "chunk 5 (page 2)")
	assert.Contains(t, out, "0.8731")
	assert.Contains(t, out, "chunk 0")
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	require.NoError(t, r.RenderJSON(map[string]int{"visual": 3}))

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 3, decoded["visual"])
}

func TestFormatAgo(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero time", time.Time{}, "never"},
		{"seconds", now.Add(-20 * time.Second), "just now"},
		{"one minute", now.Add(-70 * time.Second), "1 minute ago"},
		{"minutes", now.Add(-5 * time.Minute), "5 minutes ago"},
		{"one hour", now.Add(-90 * time.Minute), "1 hour ago"},
		{"days", now.Add(-49 * time.Hour), "2 days ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatAgo(tt.t))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", FormatDuration(5*time.Second))
	assert.Equal(t, "2m", FormatDuration(2*time.Minute))
	assert.Equal(t, "2m 15s", FormatDuration(2*time.Minute+15*time.Second))
	assert.Equal(t, "1h 5m", FormatDuration(65*time.Minute))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "640 B", FormatBytes(640))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "2.5 MB", FormatBytes(5*1024*1024/2))
	assert.Equal(t, "3.0 GB", FormatBytes(3*1024*1024*1024))
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "short.pdf", truncatePath("short.pdf", 40))
	got := truncatePath("/very/long/path/to/uploads/annual-report-2025.pdf", 30)
	assert.LessOrEqual(t, len(got), 30)
	assert.True(t, strings.HasSuffix(got, "annual-report-2025.pdf"))
}
