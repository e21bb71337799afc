package parse

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTML_StripsMarkupKeepsStructure(t *testing.T) {
	p := newHTMLParser(newChunker(250, 50))
	src := `<!DOCTYPE html>
<html><head>
<title>Fleet Report</title>
<style>body { color: red }</style>
<script>console.log("hi")</script>
</head>
<body>
<h1>Overview</h1>
<p>Twelve vessels operated this quarter.</p>
<table>
<tr><th>Ship</th><th>Days</th></tr>
<tr><td>Petrel</td><td>81</td></tr>
</table>
<figure><img src="x.png" alt="Route map of the north fleet"><figcaption>Fleet routes</figcaption></figure>
</body></html>`

	doc, err := p.Parse(context.Background(), "fleet.html", []byte(src))

	require.NoError(t, err)
	assert.Equal(t, "Fleet Report", doc.Meta.Title)
	assert.Empty(t, doc.Pages)

	assert.Equal(t, []string{
		"Overview",
		"Twelve vessels operated this quarter.",
		"Ship, Days",
		"Petrel, 81",
		"Route map of the north fleet",
		"Fleet routes",
	}, chunkTexts(doc.Chunks))
	assert.Equal(t, []Tag{
		TagHeading,
		TagParagraph,
		TagTableCell,
		TagTableCell,
		TagCaption,
		TagCaption,
	}, chunkTags(doc.Chunks))

	joined := strings.Join(chunkTexts(doc.Chunks), " ")
	assert.NotContains(t, joined, "console.log")
	assert.NotContains(t, joined, "color: red")
}

func TestHTML_MalformedInputStillParses(t *testing.T) {
	p := newHTMLParser(newChunker(250, 50))
	src := "<p>Unclosed paragraph<div>And a stray div"

	doc, err := p.Parse(context.Background(), "broken.html", []byte(src))

	require.NoError(t, err)
	require.NotEmpty(t, doc.Chunks)
	joined := strings.Join(chunkTexts(doc.Chunks), " ")
	assert.Contains(t, joined, "Unclosed paragraph")
	assert.Contains(t, joined, "And a stray div")
}

func TestHTML_InlineMarkupFlowsTogether(t *testing.T) {
	// Inline elements do not split a paragraph; block elements do.
	p := newHTMLParser(newChunker(250, 50))
	src := "<body><p>A <b>bold</b> and <i>italic</i> word.</p><p>Next paragraph.</p></body>"

	doc, err := p.Parse(context.Background(), "inline.html", []byte(src))

	require.NoError(t, err)
	require.Len(t, doc.Chunks, 1)
	assert.Equal(t, "A bold and italic word. Next paragraph.", doc.Chunks[0].Text)
}

func TestHTML_EmptyBody(t *testing.T) {
	p := newHTMLParser(newChunker(250, 50))

	doc, err := p.Parse(context.Background(), "empty.html", []byte("<html><body></body></html>"))

	require.NoError(t, err)
	assert.Empty(t, doc.Chunks)
}
