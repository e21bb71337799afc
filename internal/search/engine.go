package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/petrel-search/petrel/internal/embed"
	perrors "github.com/petrel-search/petrel/internal/errors"
	"github.com/petrel-search/petrel/internal/metrics"
	"github.com/petrel-search/petrel/internal/store"
	"github.com/petrel-search/petrel/internal/telemetry"
)

// ErrNilDependency is returned by New when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine runs two-stage searches. Safe for concurrent use.
type Engine struct {
	embedder  Embedder
	store     Searcher
	cfg       Config
	logger    *slog.Logger
	collector *telemetry.Collector

	// cache holds query tensors keyed by query text, model name and
	// precision. Stale entries age out by LRU; a model or precision
	// change alters the key, so old tensors are never served.
	cache *lru.Cache[string, embed.Tensor]
}

// Option configures optional engine dependencies.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTelemetry records one telemetry event per executed search.
func WithTelemetry(c *telemetry.Collector) Option {
	return func(e *Engine) {
		e.collector = c
	}
}

// New creates a search engine over an embedder and a vector store.
func New(embedder Embedder, searcher Searcher, cfg Config, opts ...Option) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder", ErrNilDependency)
	}
	if searcher == nil {
		return nil, fmt.Errorf("%w: store", ErrNilDependency)
	}

	if cfg.DefaultK <= 0 {
		cfg.DefaultK = DefaultK
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = DefaultMaxK
	}
	if cfg.Stage1Timeout <= 0 {
		cfg.Stage1Timeout = DefaultStage1Timeout
	}
	if cfg.Stage2Timeout <= 0 {
		cfg.Stage2Timeout = DefaultStage2Timeout
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, embed.Tensor](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}

	e := &Engine{
		embedder: embedder,
		store:    searcher,
		cfg:      cfg,
		logger:   slog.Default(),
		cache:    cache,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search answers a query. Stage 1 embeds the query and recalls
// candidates by representative vector; stage 2 fetches their full
// tensors and reranks by MaxSim. Each stage runs under its own
// deadline; a missed deadline degrades the response to Partial rather
// than failing it.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{}, perrors.InvalidRequest("query text is required")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	if !mode.Valid() {
		return Response{}, perrors.InvalidRequest(fmt.Sprintf("unknown search mode: %s", mode))
	}
	k := opts.K
	if k <= 0 {
		k = e.cfg.DefaultK
	}
	if k > e.cfg.MaxK {
		k = e.cfg.MaxK
	}

	started := time.Now()
	resp, cacheHit, err := e.run(ctx, query, mode, k, opts.Filters)
	if err != nil {
		return Response{}, err
	}
	elapsed := time.Since(started)

	e.observe(query, mode, k, elapsed, resp, cacheHit)
	e.logger.Debug("search complete",
		"mode", mode,
		"k", k,
		"results", len(resp.Results),
		"partial", resp.Partial,
		"cache_hit", cacheHit,
		"elapsed_ms", elapsed.Milliseconds())
	return resp, nil
}

func (e *Engine) run(ctx context.Context, query string, mode Mode, k int, filters Filters) (Response, bool, error) {
	// Stage 1: query embedding plus approximate recall.
	stage1Start := time.Now()
	ctx1, cancel1 := context.WithTimeout(ctx, e.cfg.Stage1Timeout)
	defer cancel1()

	tensor, cacheHit, err := e.queryTensor(ctx1, query)
	if err != nil {
		if isDeadline(err) {
			// Embedding consumed the whole stage budget.
			e.logger.Warn("query embedding missed the stage deadline", "timeout", e.cfg.Stage1Timeout)
			return Response{Results: []Result{}, Partial: true}, cacheHit, nil
		}
		return Response{}, cacheHit, perrors.EmbedUnavailable("embed query", err)
	}

	visualANN, textANN, partial, err := e.recall(ctx1, tensor, mode, k, filters)
	if err != nil {
		return Response{}, cacheHit, err
	}
	metrics.StageDuration.WithLabelValues("search_recall").Observe(time.Since(stage1Start).Seconds())

	if len(visualANN) == 0 && len(textANN) == 0 {
		return Response{Results: []Result{}, Partial: partial}, cacheHit, nil
	}

	// Stage 2: full tensors plus MaxSim reranking.
	stage2Start := time.Now()
	ctx2, cancel2 := context.WithTimeout(ctx, e.cfg.Stage2Timeout)
	defer cancel2()

	visual, text, err := e.rerank(ctx2, tensor, visualANN, textANN)
	if err != nil {
		if isDeadline(err) {
			e.logger.Warn("rerank missed the stage deadline", "timeout", e.cfg.Stage2Timeout,
				"candidates", len(visualANN)+len(textANN))
			return Response{Results: []Result{}, Partial: true}, cacheHit, nil
		}
		return Response{}, cacheHit, perrors.StoreUnavailable("fetch full records", err)
	}
	metrics.StageDuration.WithLabelValues("search_rerank").Observe(time.Since(stage2Start).Seconds())

	// Stage-2 scores are absolute; dividing by each collection's top
	// stage-1 cosine puts the two collections on a comparable scale
	// before fusion.
	normalize(visual, topScore(visualANN))
	normalize(text, topScore(textANN))

	return Response{Results: fuse(visual, text, k), Partial: partial}, cacheHit, nil
}

// queryTensor returns the query embedding, consulting the LRU first.
func (e *Engine) queryTensor(ctx context.Context, query string) (embed.Tensor, bool, error) {
	key := e.cacheKey(query)
	if t, ok := e.cache.Get(key); ok {
		metrics.CacheHitsTotal.WithLabelValues("query").Inc()
		return t, true, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("query").Inc()

	t, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return embed.Tensor{}, false, err
	}
	e.cache.Add(key, t)
	return t, false, nil
}

func (e *Engine) cacheKey(query string) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(e.embedder.ModelName()))
	h.Write([]byte{0})
	h.Write([]byte(e.embedder.Precision()))
	return hex.EncodeToString(h.Sum(nil))
}

// recall fans out ANN searches to the collections the mode wants. Both
// branches run even if one fails; a branch that missed the deadline or,
// in hybrid mode, failed outright degrades the response to partial
// instead of failing the search.
func (e *Engine) recall(ctx context.Context, query embed.Tensor, mode Mode, k int, filters Filters) (visual, text []store.SearchResult, partial bool, err error) {
	repr := e.embedder.Repr(query)
	filter := filters.predicate()
	n := annK(k)

	var (
		visualErr error
		textErr   error
	)

	var g errgroup.Group
	if mode.wantsVisual() {
		g.Go(func() error {
			visual, visualErr = e.store.ANNSearch(ctx, store.CollectionVisual, repr, n, filter)
			return nil
		})
	}
	if mode.wantsText() {
		g.Go(func() error {
			text, textErr = e.store.ANNSearch(ctx, store.CollectionText, repr, n, filter)
			return nil
		})
	}
	_ = g.Wait() // branch errors are captured above

	if isDeadline(visualErr) {
		e.logger.Warn("visual recall missed the stage deadline", "timeout", e.cfg.Stage1Timeout)
		visual, visualErr, partial = nil, nil, true
	}
	if isDeadline(textErr) {
		e.logger.Warn("text recall missed the stage deadline", "timeout", e.cfg.Stage1Timeout)
		text, textErr, partial = nil, nil, true
	}

	switch {
	case visualErr != nil && textErr != nil:
		return nil, nil, false, perrors.StoreUnavailable("vector recall", errors.Join(visualErr, textErr))
	case visualErr != nil:
		if mode != ModeHybrid {
			return nil, nil, false, perrors.StoreUnavailable("visual recall", visualErr)
		}
		e.logger.Warn("visual recall failed, continuing with text results", "error", visualErr)
		visual, partial = nil, true
	case textErr != nil:
		if mode != ModeHybrid {
			return nil, nil, false, perrors.StoreUnavailable("text recall", textErr)
		}
		e.logger.Warn("text recall failed, continuing with visual results", "error", textErr)
		text, partial = nil, true
	}

	return visual, text, partial, nil
}

// rerank fetches full tensors for the recalled records and scores each
// against the query by MaxSim. Records evicted between stages drop out.
func (e *Engine) rerank(ctx context.Context, query embed.Tensor, visualANN, textANN []store.SearchResult) (visual, text []candidate, err error) {
	ids := make([]string, 0, len(visualANN)+len(textANN))
	for _, r := range visualANN {
		ids = append(ids, r.ID)
	}
	for _, r := range textANN {
		ids = append(ids, r.ID)
	}

	records, err := e.store.GetFullBatch(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	visual = scoreCandidates(query, store.CollectionVisual, visualANN, records)
	text = scoreCandidates(query, store.CollectionText, textANN, records)
	return visual, text, nil
}

func scoreCandidates(query embed.Tensor, c store.Collection, ann []store.SearchResult, records map[string]store.FullRecord) []candidate {
	cands := make([]candidate, 0, len(ann))
	for _, r := range ann {
		rec, ok := records[r.ID]
		if !ok {
			continue
		}
		cands = append(cands, candidate{
			id:        r.ID,
			kind:      c,
			index:     recordIndex(c, rec.Meta),
			reprScore: r.Score,
			maxSim:    embed.MaxSim(query, rec.Seq),
			meta:      rec.Meta,
		})
	}
	return cands
}

// recordIndex is the page number for visual records and the chunk
// ordinal for text records.
func recordIndex(c store.Collection, m store.Meta) int {
	if c == store.CollectionVisual {
		return m.PageNumber
	}
	return m.ChunkIndex
}

// annK widens recall so stage 2 has enough candidates to rerank.
func annK(k int) int {
	n := 4 * k
	if n < 50 {
		n = 50
	}
	return n
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) observe(query string, mode Mode, k int, elapsed time.Duration, resp Response, cacheHit bool) {
	metrics.SearchesTotal.WithLabelValues(string(mode)).Inc()
	metrics.SearchDuration.Observe(elapsed.Seconds())
	if resp.Partial {
		metrics.SearchPartialTotal.Inc()
	}
	if e.collector == nil {
		return
	}
	e.collector.Record(telemetry.SearchEvent{
		Query:       query,
		Mode:        string(mode),
		K:           k,
		ResultCount: len(resp.Results),
		Latency:     elapsed,
		Partial:     resp.Partial,
		CacheHit:    cacheHit,
	})
}
