package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-search/petrel/internal/telemetry"
)

func seedTelemetry(t *testing.T, dir string) {
	t.Helper()

	tstore, err := telemetry.Open(filepath.Join(dir, "telemetry.db"))
	require.NoError(t, err)

	now := time.Now()
	events := []telemetry.SearchEvent{
		{Query: "quarterly report", Mode: "hybrid", K: 10, ResultCount: 5, Latency: 8 * time.Millisecond, Timestamp: now},
		{Query: "quarterly figures", Mode: "hybrid", K: 10, ResultCount: 3, Latency: 42 * time.Millisecond, CacheHit: true, Timestamp: now},
		{Query: "unfindable thing", Mode: "text_only", K: 5, ResultCount: 0, Latency: 120 * time.Millisecond, Partial: true, Timestamp: now},
	}
	require.NoError(t, tstore.AppendSearches(events))
	require.NoError(t, tstore.UpsertTermCounts(map[string]int64{
		"quarterly": 2,
		"report":    1,
	}))
	require.NoError(t, tstore.Close())
}

func TestStatsCmd_NoTelemetry(t *testing.T) {
	chdirTemp(t)

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"stats"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no telemetry recorded yet")
}

func TestStatsCmd_RendersSummary(t *testing.T) {
	// Given a data directory with recorded searches
	chdirTemp(t)
	seedTelemetry(t, ".petrel")

	// When running petrel stats
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"stats"})
	require.NoError(t, cmd.Execute())

	// Then the report covers counts, modes, latency, terms, and zero-hits
	output := buf.String()
	assert.Contains(t, output, "Search telemetry")
	assert.Contains(t, output, "queries")
	assert.Contains(t, output, "hybrid")
	assert.Contains(t, output, "text_only")
	assert.Contains(t, output, "<10ms")
	assert.Contains(t, output, "quarterly")
	assert.Contains(t, output, "unfindable thing")
}

func TestStatsCmd_JSON(t *testing.T) {
	chdirTemp(t)
	seedTelemetry(t, ".petrel")

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"stats", "--json"})
	require.NoError(t, cmd.Execute())

	var out statsOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, int64(3), out.Summary.Count)
	assert.Equal(t, int64(2), out.ModeCounts["hybrid"])
	assert.Equal(t, int64(1), out.ModeCounts["text_only"])
	assert.Equal(t, int64(1), out.Summary.ZeroHitCount)
	assert.Contains(t, out.ZeroHits, "unfindable thing")
}
