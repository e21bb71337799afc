// Package store persists multi-vector document embeddings.
//
// Each document page or text chunk becomes one record: a representative
// D-vector indexed in an HNSW graph for fast cosine search, plus the full
// T x D token tensor compressed into a SQLite sidecar row together with the
// record metadata. The graph answers "which records are close", the sidecar
// answers "give me the whole tensor back" for late-interaction reranking.
package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/petrel-search/petrel/internal/embed"
)

// Collection selects one of the two record families.
type Collection string

const (
	// CollectionVisual holds one record per rendered document page.
	CollectionVisual Collection = "visual"
	// CollectionText holds one record per extracted text chunk.
	CollectionText Collection = "text"
)

// Record kind tags used inside record IDs.
const (
	kindPage  = "p"
	kindChunk = "c"
)

// Valid reports whether c names a known collection.
func (c Collection) Valid() bool {
	return c == CollectionVisual || c == CollectionText
}

// Kind returns the record kind tag for the collection.
func (c Collection) Kind() string {
	if c == CollectionText {
		return kindChunk
	}
	return kindPage
}

func collectionForKind(kind string) (Collection, bool) {
	switch kind {
	case kindPage:
		return CollectionVisual, true
	case kindChunk:
		return CollectionText, true
	default:
		return "", false
	}
}

// RecordID builds the canonical record identifier {doc_id}:{kind}:{index}.
// Visual records use the 1-based page number as index, text records the
// 0-based chunk index.
func RecordID(docID string, c Collection, index int) string {
	return docID + ":" + c.Kind() + ":" + strconv.Itoa(index)
}

// SplitRecordID parses an identifier produced by RecordID.
func SplitRecordID(id string) (docID string, c Collection, index int, err error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("malformed record id %q", id)
	}
	c, ok := collectionForKind(parts[1])
	if !ok {
		return "", "", 0, fmt.Errorf("record id %q has unknown kind %q", id, parts[1])
	}
	index, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, fmt.Errorf("record id %q has non-numeric index: %w", id, err)
	}
	return parts[0], c, index, nil
}

// Meta is the per-record metadata stored alongside every vector entry.
// The JSON form appears verbatim in search responses and status payloads.
type Meta struct {
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`

	// PageNumber is the 1-based source page. Always set for visual
	// records; set for text records when the parser aligned the chunk
	// to a page, zero otherwise.
	PageNumber int `json:"page_number,omitempty"`

	// ChunkIndex is the 0-based chunk ordinal. Meaningful for text
	// records only.
	ChunkIndex int `json:"chunk_index"`

	// ContentType tags what the record was extracted from, for example
	// "page", "paragraph", "heading", "table-cell" or "transcript-line".
	ContentType string `json:"content_type"`

	CreatedAt time.Time `json:"created_at"`
}

// PageMeta describes one rendered page handed to UpsertVisual.
type PageMeta struct {
	PageNumber  int // 1-based
	Filename    string
	ContentType string
	CreatedAt   time.Time // zero value defaults to time.Now
}

// ChunkMeta describes one text chunk handed to UpsertText.
type ChunkMeta struct {
	ChunkIndex  int // 0-based
	PageNumber  int // 1-based page alignment, zero when unknown
	Filename    string
	ContentType string
	CreatedAt   time.Time // zero value defaults to time.Now
}

// SearchResult is a single ANN hit over representative vectors.
// Score is cosine similarity mapped onto [0,1].
type SearchResult struct {
	ID    string
	Score float64
	Meta  Meta
}

// FullRecord is a fully decoded store entry.
type FullRecord struct {
	Seq  embed.Tensor
	Meta Meta
}

// Filter restricts ANN search results by metadata. A nil Filter admits
// every record.
type Filter func(Meta) bool

// Config controls store geometry and persistence layout.
type Config struct {
	// Dir is the data directory holding the HNSW snapshots and the
	// SQLite sidecar.
	Dir string

	// Dimensions is the embedding row width D. All representative
	// vectors and tensor rows must match it.
	Dimensions int

	// Precision selects the sidecar tensor dtype: fp16, int8 or fp32.
	Precision string

	// ReprIndex is the token row used as the representative vector.
	ReprIndex int

	// M is the HNSW connectivity parameter.
	M int

	// EfSearch is the HNSW search breadth.
	EfSearch int
}

// DefaultConfig returns the standard store configuration for a data
// directory and embedding width.
func DefaultConfig(dir string, dims int) Config {
	return Config{
		Dir:        dir,
		Dimensions: dims,
		Precision:  embed.PrecisionFP16,
		ReprIndex:  0,
		M:          32,
		EfSearch:   64,
	}
}

// Sentinel errors shared across the store.
var (
	// ErrNotFound is returned when a record id has no entry.
	ErrNotFound = errors.New("record not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// ErrDimensionMismatch reports a vector whose width does not match the
// store configuration.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
