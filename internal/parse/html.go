package parse

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Elements whose subtrees contribute nothing searchable.
var htmlSkippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"svg":      true,
	"meta":     true,
	"link":     true,
	"base":     true,
}

var htmlHeadingTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// Elements that separate prose; text never flows across them into one
// paragraph.
var htmlBlockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"body": true, "dd": true, "div": true, "dl": true, "dt": true,
	"figure": true, "footer": true, "form": true, "header": true,
	"hr": true, "li": true, "main": true, "nav": true, "ol": true,
	"p": true, "pre": true, "section": true, "table": true, "ul": true,
}

// htmlParser strips markup and chunks what is left. Headings, table
// rows, and captions keep their structural tags; everything else is
// prose for the word chunker. The document title comes from <title>.
// html.Parse repairs malformed input, so this accepts real-world pages.
type htmlParser struct {
	chunker *chunker
}

func newHTMLParser(c *chunker) *htmlParser {
	return &htmlParser{chunker: c}
}

func (p *htmlParser) Name() string { return "html" }

func (p *htmlParser) Extensions() []string {
	return []string{".html", ".htm", ".xhtml"}
}

func (p *htmlParser) Parse(_ context.Context, path string, data []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var (
		blocks []block
		text   strings.Builder
		title  string
	)

	flushText := func() {
		if s := collapseSpace(text.String()); s != "" {
			blocks = append(blocks, block{text: s, tag: TagParagraph})
		}
		text.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			text.WriteString(n.Data)
			text.WriteByte(' ')
			return
		case html.ElementNode:
			switch {
			case htmlSkippedTags[n.Data]:
				return
			case n.Data == "title":
				if title == "" {
					title = innerText(n)
				}
				return
			case htmlHeadingTags[n.Data]:
				flushText()
				if s := innerText(n); s != "" {
					blocks = append(blocks, block{text: s, tag: TagHeading, atomic: true})
				}
				return
			case n.Data == "tr":
				flushText()
				if s := tableRowText(n); s != "" {
					blocks = append(blocks, block{text: s, tag: TagTableCell, atomic: true})
				}
				return
			case n.Data == "caption" || n.Data == "figcaption":
				flushText()
				if s := innerText(n); s != "" {
					blocks = append(blocks, block{text: s, tag: TagCaption, atomic: true})
				}
				return
			case n.Data == "img":
				if alt := collapseSpace(attrValue(n, "alt")); alt != "" {
					flushText()
					blocks = append(blocks, block{text: alt, tag: TagCaption, atomic: true})
				}
				return
			case n.Data == "br":
				text.WriteByte(' ')
				return
			}
		}

		boundary := n.Type == html.ElementNode && htmlBlockTags[n.Data]
		if boundary {
			flushText()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if boundary {
			flushText()
		}
	}
	walk(root)
	flushText()

	return &Document{
		Chunks: p.chunker.assemble(blocks),
		Meta:   DocMeta{Title: title},
	}, nil
}

// innerText collapses a subtree's text nodes into one spaced string,
// skipping non-content elements.
func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		if n.Type == html.ElementNode && htmlSkippedTags[n.Data] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return collapseSpace(b.String())
}

// tableRowText joins a row's th/td cell texts in column order.
func tableRowText(tr *html.Node) string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			if s := innerText(c); s != "" {
				cells = append(cells, s)
			}
		}
	}
	return strings.Join(cells, ", ")
}

// attrValue returns the value of the named attribute, or "".
func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// collapseSpace trims and folds runs of whitespace to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
