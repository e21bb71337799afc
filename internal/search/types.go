// Package search answers text queries over the multi-vector store in two
// stages: approximate recall on representative vectors, then MaxSim
// reranking over the full token tensors. Hybrid mode fuses the visual and
// text collections per document with fixed weights.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/embed"
	perrors "github.com/petrel-search/petrel/internal/errors"
	"github.com/petrel-search/petrel/internal/store"
)

// Mode selects which collections a search consults.
type Mode string

const (
	// ModeHybrid searches both collections and fuses per document.
	ModeHybrid Mode = "hybrid"
	// ModeVisualOnly searches rendered pages only.
	ModeVisualOnly Mode = "visual_only"
	// ModeTextOnly searches text chunks only.
	ModeTextOnly Mode = "text_only"
)

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool {
	return m == ModeHybrid || m == ModeVisualOnly || m == ModeTextOnly
}

func (m Mode) wantsVisual() bool {
	return m == ModeHybrid || m == ModeVisualOnly
}

func (m Mode) wantsText() bool {
	return m == ModeHybrid || m == ModeTextOnly
}

// ParseMode maps a request string onto a Mode. Empty means hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(s)) {
	case "":
		return ModeHybrid, nil
	case ModeHybrid:
		return ModeHybrid, nil
	case ModeVisualOnly:
		return ModeVisualOnly, nil
	case ModeTextOnly:
		return ModeTextOnly, nil
	default:
		return "", perrors.InvalidRequest("unknown search mode: " + s)
	}
}

// Filters restricts a search by record metadata. The zero value admits
// every record.
type Filters struct {
	// DocIDs limits results to the listed documents.
	DocIDs []string `json:"doc_ids,omitempty"`

	// Formats limits results by filename extension, with or without the
	// leading dot, case-insensitive.
	Formats []string `json:"formats,omitempty"`

	// After and Before bound the record creation time inclusively.
	After  time.Time `json:"after,omitempty"`
	Before time.Time `json:"before,omitempty"`
}

// IsZero reports whether the filters admit everything.
func (f Filters) IsZero() bool {
	return len(f.DocIDs) == 0 && len(f.Formats) == 0 && f.After.IsZero() && f.Before.IsZero()
}

// predicate compiles the filters into a store.Filter. Returns nil for the
// zero value so the store can skip per-record checks entirely.
func (f Filters) predicate() store.Filter {
	if f.IsZero() {
		return nil
	}

	var docIDs map[string]struct{}
	if len(f.DocIDs) > 0 {
		docIDs = make(map[string]struct{}, len(f.DocIDs))
		for _, id := range f.DocIDs {
			docIDs[id] = struct{}{}
		}
	}

	var formats map[string]struct{}
	if len(f.Formats) > 0 {
		formats = make(map[string]struct{}, len(f.Formats))
		for _, ext := range f.Formats {
			formats[normalizeExt(ext)] = struct{}{}
		}
	}

	after, before := f.After, f.Before

	return func(m store.Meta) bool {
		if docIDs != nil {
			if _, ok := docIDs[m.DocID]; !ok {
				return false
			}
		}
		if formats != nil {
			if _, ok := formats[extOf(m.Filename)]; !ok {
				return false
			}
		}
		if !after.IsZero() && m.CreatedAt.Before(after) {
			return false
		}
		if !before.IsZero() && m.CreatedAt.After(before) {
			return false
		}
		return true
	}
}

// normalizeExt lowercases an extension and strips the leading dot.
func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// extOf returns the normalized extension of a filename.
func extOf(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

// Options control one search call. Zero values fall back to the engine
// defaults.
type Options struct {
	// K is the final result count. Zero uses the configured default;
	// values above the configured maximum clamp to it.
	K int

	// Mode selects the collections. Empty means hybrid.
	Mode Mode

	// Filters restrict candidate records during recall.
	Filters Filters
}

// Hit is one scored record. ReprScore is the stage-1 approximate cosine
// in [0,1]; MaxSim is the absolute stage-2 late-interaction score.
type Hit struct {
	RecordID  string           `json:"record_id"`
	Kind      store.Collection `json:"kind"`
	Index     int              `json:"index"`
	ReprScore float64          `json:"repr_score"`
	MaxSim    float64          `json:"maxsim_score"`
	Meta      store.Meta       `json:"meta"`
}

// Result is one ranked search result: a document's best record, with the
// document's best record from the other collection attached as evidence
// when hybrid fusion found both.
type Result struct {
	DocID     string           `json:"doc_id"`
	Kind      store.Collection `json:"kind"`
	Index     int              `json:"index"`
	ReprScore float64          `json:"repr_score"`
	MaxSim    float64          `json:"maxsim_score"`
	Score     float64          `json:"score"`
	Meta      store.Meta       `json:"meta"`
	Evidence  *Hit             `json:"evidence,omitempty"`
}

// Response is a ranked search response. Partial marks responses that
// missed a stage deadline or lost a collection branch and therefore may
// carry fewer results than requested.
type Response struct {
	Results []Result `json:"results"`
	Partial bool     `json:"partial"`
}

// Defaults for unset Config fields.
const (
	DefaultK             = 10
	DefaultMaxK          = 100
	DefaultStage1Timeout = 2 * time.Second
	DefaultStage2Timeout = 3 * time.Second
	DefaultCacheSize     = 512
)

// Config tunes the engine. Zero values fall back to the defaults.
type Config struct {
	// DefaultK is the result count for requests that omit k.
	DefaultK int

	// MaxK caps the requested result count.
	MaxK int

	// Stage1Timeout bounds query embedding plus ANN recall;
	// Stage2Timeout bounds tensor fetch plus MaxSim reranking.
	// A violated deadline yields partial results, not an error.
	Stage1Timeout time.Duration
	Stage2Timeout time.Duration

	// QueryCacheSize bounds the query-tensor LRU.
	QueryCacheSize int
}

// ConfigFrom derives engine settings from the application config.
func ConfigFrom(app *config.Config) Config {
	return Config{
		DefaultK:       app.Search.DefaultK,
		Stage1Timeout:  durationOr(app.Search.Stage1Timeout, DefaultStage1Timeout),
		Stage2Timeout:  durationOr(app.Search.Stage2Timeout, DefaultStage2Timeout),
		QueryCacheSize: app.Search.QueryCacheSize,
	}
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Embedder supplies query tensors and the identity salts for cache keys.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) (embed.Tensor, error)
	Repr(t embed.Tensor) []float32
	ModelName() string
	Precision() string
}

// Searcher is the store surface the engine consumes: approximate recall
// over representative vectors and batched full-tensor fetch.
type Searcher interface {
	ANNSearch(ctx context.Context, c store.Collection, repr []float32, k int, filter store.Filter) ([]store.SearchResult, error)
	GetFullBatch(ctx context.Context, ids []string) (map[string]store.FullRecord, error)
}
