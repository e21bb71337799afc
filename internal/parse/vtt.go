package parse

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// vttMarkupPattern matches cue payload markup: voice spans <v Name>,
// styling <i>/<b>/<c>, and their closers.
var vttMarkupPattern = regexp.MustCompile(`<[^>]*>`)

// vttParser turns WebVTT subtitle files into one transcript-line chunk
// per cue. Cue identifiers, timings, and NOTE/STYLE/REGION blocks are
// dropped; multi-line payloads are joined.
type vttParser struct{}

func newVTTParser() *vttParser { return &vttParser{} }

func (p *vttParser) Name() string { return "vtt" }

func (p *vttParser) Extensions() []string {
	return []string{".vtt"}
}

func (p *vttParser) Parse(_ context.Context, path string, data []byte) (*Document, error) {
	text := strings.TrimPrefix(string(data), "\uFEFF")
	lines := splitLines(text)
	if len(lines) == 0 || !strings.HasPrefix(strings.TrimSpace(lines[0]), "WEBVTT") {
		return nil, fmt.Errorf("%s: missing WEBVTT header", filepath.Base(path))
	}

	var (
		chunks    []Chunk
		cue       []string
		inCue     bool
		skipBlock bool
	)

	flushCue := func() {
		if len(cue) > 0 {
			line := vttMarkupPattern.ReplaceAllString(strings.Join(cue, " "), "")
			if line = collapseSpace(line); line != "" {
				chunks = append(chunks, Chunk{
					Index: len(chunks),
					Text:  line,
					Tag:   TagTranscriptLine,
				})
			}
			cue = cue[:0]
		}
		inCue = false
		skipBlock = false
	}

	for _, raw := range lines[1:] {
		line := strings.TrimSpace(raw)
		if line == "" {
			flushCue()
			continue
		}
		if skipBlock {
			continue
		}
		if strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") || strings.HasPrefix(line, "REGION") {
			skipBlock = true
			continue
		}
		if strings.Contains(line, "-->") {
			inCue = true
			continue
		}
		if inCue {
			cue = append(cue, line)
		}
		// A non-empty line before the timing line is the cue identifier.
	}
	flushCue()

	return &Document{Chunks: chunks}, nil
}
