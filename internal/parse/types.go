// Package parse normalizes supported document formats into ordered page
// images and text chunks ready for embedding. Lightweight text and image
// formats are handled in process; heavyweight formats (PDF, Office,
// audio) go through an HTTP sidecar when one is configured. A registry
// routes files to parsers by extension.
package parse

import (
	"context"
	"errors"
)

// ErrUnsupported reports an extension with no registered parser.
var ErrUnsupported = errors.New("unsupported file type")

// Tag classifies a chunk's structural role in the source document.
type Tag string

const (
	TagParagraph      Tag = "paragraph"
	TagHeading        Tag = "heading"
	TagTableCell      Tag = "table-cell"
	TagCaption        Tag = "caption"
	TagTranscriptLine Tag = "transcript-line"
)

// Page is one rendered page raster. Number is 1-based and dense within
// a document.
type Page struct {
	Number int
	Image  []byte
	Format string // "png", "jpeg", ...
	Width  int
	Height int
}

// Chunk is one ordered text unit. Index is 0-based and dense within a
// document. PageNumber aligns the chunk to a page when the source format
// knows one; 0 means no alignment.
type Chunk struct {
	Index      int
	PageNumber int
	Text       string
	Tag        Tag
}

// DocMeta is document-level metadata extracted during parsing.
type DocMeta struct {
	Title  string
	Format string // canonical extension without the dot
	MIME   string
}

// Document is the normalized output of a parser: the visual side as
// page images, the textual side as chunks. Either may be empty; an
// image has pages and no chunks, a CSV has chunks and no pages.
type Document struct {
	Pages  []Page
	Chunks []Chunk
	Meta   DocMeta
}

// PageImages returns the raw page rasters in page order.
func (d *Document) PageImages() [][]byte {
	out := make([][]byte, len(d.Pages))
	for i, p := range d.Pages {
		out[i] = p.Image
	}
	return out
}

// ChunkTexts returns the chunk bodies in index order.
func (d *Document) ChunkTexts() []string {
	out := make([]string, len(d.Chunks))
	for i, c := range d.Chunks {
		out[i] = c.Text
	}
	return out
}

// Parser converts one source format into the normalized document form.
// Parse receives both the path (for the filename and extension) and the
// already-read bytes; parsers never touch the filesystem themselves.
type Parser interface {
	// Name identifies the parser in logs and diagnostics.
	Name() string

	// Extensions lists the dotted, lowercase extensions this parser claims.
	Extensions() []string

	// Parse converts the document. Errors are data-dependent unless the
	// parser says otherwise; the pipeline fails the document without retry.
	Parse(ctx context.Context, path string, data []byte) (*Document, error)
}
