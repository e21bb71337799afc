package parse

import (
	"context"
	"regexp"
	"strings"
)

// AsciiDoc line patterns.
var (
	// Matches section titles: = Title through ====== Title.
	adocHeadingPattern = regexp.MustCompile(`^(={1,6})\s+(.+?)\s*$`)

	// Matches document attribute lines: :toc: left
	adocAttributePattern = regexp.MustCompile(`^:[\w-]+:`)
)

// asciidocParser mirrors the markdown parser for AsciiDoc syntax:
// = headings atomic, |=== table rows atomic, listing blocks as plain
// text, comments and attribute lines dropped.
type asciidocParser struct {
	chunker *chunker
}

func newAsciiDocParser(c *chunker) *asciidocParser {
	return &asciidocParser{chunker: c}
}

func (p *asciidocParser) Name() string { return "asciidoc" }

func (p *asciidocParser) Extensions() []string {
	return []string{".adoc", ".asciidoc"}
}

func (p *asciidocParser) Parse(_ context.Context, path string, data []byte) (*Document, error) {
	lines := splitLines(string(data))

	var (
		blocks    []block
		para      []string
		title     string
		inTable   bool
		inListing bool
	)

	flushPara := func() {
		if len(para) > 0 {
			blocks = append(blocks, block{text: strings.Join(para, "\n"), tag: TagParagraph})
			para = para[:0]
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if len(trimmed) >= 4 && strings.TrimRight(trimmed, "-") == "" {
			inListing = !inListing
			continue
		}
		if inListing {
			para = append(para, line)
			continue
		}
		if trimmed == "|===" {
			flushPara()
			inTable = !inTable
			continue
		}
		if inTable {
			if strings.HasPrefix(trimmed, "|") {
				if row := joinTableCells(trimmed); row != "" {
					blocks = append(blocks, block{text: row, tag: TagTableCell, atomic: true})
				}
			}
			continue
		}
		if trimmed == "" {
			flushPara()
			continue
		}
		if strings.HasPrefix(trimmed, "//") || adocAttributePattern.MatchString(trimmed) {
			continue
		}
		if m := adocHeadingPattern.FindStringSubmatch(trimmed); m != nil {
			flushPara()
			heading := strings.TrimSpace(m[2])
			if title == "" && len(m[1]) == 1 {
				title = heading
			}
			blocks = append(blocks, block{text: heading, tag: TagHeading, atomic: true})
			continue
		}
		para = append(para, line)
	}
	flushPara()

	return &Document{
		Chunks: p.chunker.assemble(blocks),
		Meta:   DocMeta{Title: title},
	}, nil
}
