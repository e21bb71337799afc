package parse

import (
	"strings"
)

// Chunker defaults. 250 words with a 50-word carry keeps one chunk
// comfortably inside a late-interaction model's sequence budget while
// the overlap preserves sentences cut at a window edge.
const (
	DefaultChunkSize    = 250
	DefaultChunkOverlap = 50
)

// block is a structural unit produced by format parsers before word
// windowing. Atomic blocks become exactly one chunk; everything else
// accumulates into word windows.
type block struct {
	text   string
	tag    Tag
	page   int
	atomic bool
}

// chunker assembles parser blocks into dense, 0-indexed chunks. Free
// text is windowed to size words with overlap words repeated between
// consecutive windows. An atomic block flushes the open window and
// passes through unchanged, so headings and table rows are never split
// or merged away.
type chunker struct {
	size    int
	overlap int
}

// newChunker creates a chunker, substituting defaults for out-of-range
// values. overlap must stay below size or the window cannot advance.
func newChunker(size, overlap int) *chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &chunker{size: size, overlap: overlap}
}

// assemble turns blocks into chunks and assigns dense indexes.
func (c *chunker) assemble(blocks []block) []Chunk {
	var chunks []Chunk

	var words []string
	page := 0

	flush := func() {
		if len(words) == 0 {
			return
		}
		step := c.size - c.overlap
		for start := 0; start < len(words); start += step {
			end := start + c.size
			if end > len(words) {
				end = len(words)
			}
			chunks = append(chunks, Chunk{
				PageNumber: page,
				Text:       strings.Join(words[start:end], " "),
				Tag:        TagParagraph,
			})
			if end == len(words) {
				break
			}
		}
		words = nil
		page = 0
	}

	for _, b := range blocks {
		text := strings.TrimSpace(b.text)
		if text == "" {
			continue
		}
		if b.atomic {
			flush()
			chunks = append(chunks, Chunk{
				PageNumber: b.page,
				Text:       text,
				Tag:        b.tag,
			})
			continue
		}
		if len(words) == 0 {
			page = b.page
		}
		words = append(words, strings.Fields(text)...)
	}
	flush()

	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// splitParagraphs splits text on blank lines, normalizing CRLF first.
// Whitespace-only paragraphs are dropped.
func splitParagraphs(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	parts := strings.Split(s, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitLines splits text into lines, normalizing CRLF first.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

// joinTableCells flattens one pipe-delimited table row into searchable
// text: cells trimmed and joined with commas, empty cells dropped.
func joinTableCells(row string) string {
	row = strings.Trim(strings.TrimSpace(row), "|")
	cells := strings.Split(row, "|")
	out := make([]string, 0, len(cells))
	for _, cell := range cells {
		cell = strings.TrimSpace(cell)
		if cell != "" {
			out = append(out, cell)
		}
	}
	return strings.Join(out, ", ")
}
