package parse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextParser_ChunksParagraphs(t *testing.T) {
	p := newTextParser(newChunker(250, 50))

	doc, err := p.Parse(context.Background(), "notes.txt", []byte("first paragraph here\n\nsecond paragraph here"))

	require.NoError(t, err)
	assert.Empty(t, doc.Pages)
	require.Len(t, doc.Chunks, 1)
	assert.Equal(t, "first paragraph here second paragraph here", doc.Chunks[0].Text)
	assert.Equal(t, TagParagraph, doc.Chunks[0].Tag)
}

func TestTextParser_RejectsBinary(t *testing.T) {
	p := newTextParser(newChunker(0, 0))

	_, err := p.Parse(context.Background(), "blob.txt", []byte{0xff, 0xfe, 0x00, 0x80})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid UTF-8")
}

func TestTextParser_EmptyFile(t *testing.T) {
	p := newTextParser(newChunker(0, 0))

	doc, err := p.Parse(context.Background(), "empty.txt", nil)

	require.NoError(t, err)
	assert.Empty(t, doc.Chunks)
	assert.Empty(t, doc.Pages)
}
