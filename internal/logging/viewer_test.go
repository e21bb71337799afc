package logging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLogFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l + "\n")
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func jsonLine(ts time.Time, level, msg string) string {
	return fmt.Sprintf(`{"time":%q,"level":%q,"msg":%q}`,
		ts.Format(time.RFC3339Nano), level, msg)
}

func TestViewerTailReturnsLastN(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Minute)
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, jsonLine(base.Add(time.Duration(i)*time.Second), "info", fmt.Sprintf("msg-%d", i)))
	}
	path := writeLogFile(t, dir, "petrel.log", lines...)

	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})
	entries, err := v.Tail([]string{path}, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "msg-7", entries[0].Msg)
	assert.Equal(t, "msg-9", entries[2].Msg)
	assert.Equal(t, string(LogSourceService), entries[0].Source)
}

func TestViewerTailMergesSourcesByTime(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Minute)
	svc := writeLogFile(t, dir, "petrel.log",
		jsonLine(base, "info", "service-first"),
		jsonLine(base.Add(2*time.Second), "info", "service-second"))
	embed := writeLogFile(t, dir, "embed-service.log",
		jsonLine(base.Add(time.Second), "info", "embed-between"))

	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})
	entries, err := v.Tail([]string{svc, embed}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "service-first", entries[0].Msg)
	assert.Equal(t, "embed-between", entries[1].Msg)
	assert.Equal(t, string(LogSourceEmbed), entries[1].Source)
}

func TestViewerLevelAndPatternFilters(t *testing.T) {
	dir := t.TempDir()
	base := time.Now()
	path := writeLogFile(t, dir, "petrel.log",
		jsonLine(base, "debug", "noisy detail"),
		jsonLine(base.Add(time.Second), "warn", "embed_retry attempt"),
		jsonLine(base.Add(2*time.Second), "error", "store write failed"))

	v := NewViewer(ViewerConfig{Level: "warn", NoColor: true}, &bytes.Buffer{})
	entries, err := v.Tail([]string{path}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	v = NewViewer(ViewerConfig{Pattern: regexp.MustCompile(`embed_retry`), NoColor: true}, &bytes.Buffer{})
	entries, err = v.Tail([]string{path}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "embed_retry attempt", entries[0].Msg)
}

func TestViewerFormatEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true, ShowSource: true}, &bytes.Buffer{})

	ts := time.Date(2026, 3, 1, 10, 30, 45, 123e6, time.UTC)
	entry := v.parseLine(fmt.Sprintf(
		`{"time":%q,"level":"info","msg":"upload_submitted","doc_id":"abc"}`,
		ts.Format(time.RFC3339Nano)), "service")

	out := v.FormatEntry(entry)
	assert.Contains(t, out, "10:30:45.123")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "[service]")
	assert.Contains(t, out, "upload_submitted")
	assert.Contains(t, out, "doc_id=abc")
}

func TestViewerPassesThroughNonJSON(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})
	entry := v.parseLine("plain text panic trace", "service")
	assert.False(t, entry.IsValid)
	assert.Equal(t, "plain text panic trace", v.FormatEntry(entry))
}

func TestViewerFollowStreamsNewLines(t *testing.T) {
	dir := t.TempDir()
	path := writeLogFile(t, dir, "petrel.log", jsonLine(time.Now(), "info", "existing"))

	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan Entry, 4)
	done := make(chan struct{})
	go func() {
		_ = v.Follow(ctx, []string{path}, entries)
		close(done)
	}()

	// Give the follower time to seek to EOF, then append.
	time.Sleep(150 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(jsonLine(time.Now(), "info", "appended") + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case entry := <-entries:
		assert.Equal(t, "appended", entry.Msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for followed entry")
	}

	cancel()
	<-done
}

func TestFindLogFiles(t *testing.T) {
	dir := t.TempDir()
	explicit := writeLogFile(t, dir, "custom.log", jsonLine(time.Now(), "info", "x"))

	paths, err := FindLogFiles(LogSourceService, explicit)
	require.NoError(t, err)
	assert.Equal(t, []string{explicit}, paths)

	_, err = FindLogFiles(LogSourceService, filepath.Join(dir, "missing.log"))
	assert.Error(t, err)
}

func TestParseLogSource(t *testing.T) {
	assert.Equal(t, LogSourceService, ParseLogSource(""))
	assert.Equal(t, LogSourceService, ParseLogSource("bogus"))
	assert.Equal(t, LogSourceEmbed, ParseLogSource("embed"))
	assert.Equal(t, LogSourceParser, ParseLogSource("parser"))
	assert.Equal(t, LogSourceAll, ParseLogSource("all"))
}
