package parse

import (
	"context"
	"fmt"
	"path/filepath"
	"unicode/utf8"
)

// textParser handles plain text. Blank-line separated paragraphs feed
// the word chunker; there is no structure to preserve beyond that.
type textParser struct {
	chunker *chunker
}

func newTextParser(c *chunker) *textParser {
	return &textParser{chunker: c}
}

func (p *textParser) Name() string { return "text" }

func (p *textParser) Extensions() []string {
	return []string{".txt", ".text"}
}

func (p *textParser) Parse(_ context.Context, path string, data []byte) (*Document, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not valid UTF-8 text", filepath.Base(path))
	}

	var blocks []block
	for _, para := range splitParagraphs(string(data)) {
		blocks = append(blocks, block{text: para, tag: TagParagraph})
	}

	return &Document{Chunks: p.chunker.assemble(blocks)}, nil
}
