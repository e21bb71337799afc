package parse

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// testLogger returns a logger that discards output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// nWords generates n distinct words so window boundaries are checkable.
func nWords(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("w%03d", i)
	}
	return strings.Join(out, " ")
}

// chunkTexts extracts the chunk bodies for compact assertions.
func chunkTexts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// chunkTags extracts the chunk tags for compact assertions.
func chunkTags(chunks []Chunk) []Tag {
	out := make([]Tag, len(chunks))
	for i, c := range chunks {
		out[i] = c.Tag
	}
	return out
}
