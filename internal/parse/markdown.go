package parse

import (
	"context"
	"regexp"
	"strings"
)

// Markdown line patterns.
var (
	// Matches ATX headings: # Title through ###### Title, with optional
	// trailing hashes.
	mdHeadingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

	// Matches pipe table rows: | a | b |
	mdTableRowPattern = regexp.MustCompile(`^\|.*\|$`)

	// Matches the alignment rule under a table header: |---|:--:|
	mdTableRulePattern = regexp.MustCompile(`^\|[\s\-:|]+\|$`)
)

// markdownParser chunks Markdown along its structure: headings and table
// rows come through atomically, paragraph prose goes to the word chunker,
// fenced code is treated as plain text. Frontmatter is metadata, not body;
// only its title survives.
type markdownParser struct {
	chunker *chunker
}

func newMarkdownParser(c *chunker) *markdownParser {
	return &markdownParser{chunker: c}
}

func (p *markdownParser) Name() string { return "markdown" }

func (p *markdownParser) Extensions() []string {
	return []string{".md", ".markdown"}
}

func (p *markdownParser) Parse(_ context.Context, path string, data []byte) (*Document, error) {
	lines := splitLines(string(data))

	var (
		blocks  []block
		para    []string
		title   string
		inFence bool
	)

	flushPara := func() {
		if len(para) > 0 {
			blocks = append(blocks, block{text: strings.Join(para, "\n"), tag: TagParagraph})
			para = para[:0]
		}
	}

	start := 0
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == "---" {
		for j := 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) != "---" {
				continue
			}
			for _, fl := range lines[1:j] {
				fl = strings.TrimSpace(fl)
				if strings.HasPrefix(fl, "title:") {
					title = strings.Trim(strings.TrimSpace(strings.TrimPrefix(fl, "title:")), `"'`)
				}
			}
			start = j + 1
			break
		}
	}

	for _, line := range lines[start:] {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			para = append(para, line)
			continue
		}
		if trimmed == "" {
			flushPara()
			continue
		}
		if m := mdHeadingPattern.FindStringSubmatch(trimmed); m != nil {
			flushPara()
			heading := strings.TrimSpace(m[2])
			if title == "" && len(m[1]) == 1 {
				title = heading
			}
			blocks = append(blocks, block{text: heading, tag: TagHeading, atomic: true})
			continue
		}
		if mdTableRowPattern.MatchString(trimmed) {
			flushPara()
			if mdTableRulePattern.MatchString(trimmed) {
				continue
			}
			blocks = append(blocks, block{text: joinTableCells(trimmed), tag: TagTableCell, atomic: true})
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
