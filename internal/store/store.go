package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/petrel-search/petrel/internal/embed"
	"github.com/petrel-search/petrel/internal/metrics"
)

const sidecarFilename = "records.db"

// Store is the multi-vector store over two collections. Representative
// vectors live in per-collection HNSW graphs, full tensors and metadata in
// the SQLite sidecar. Safe for concurrent use.
//
// The write lock spans sidecar commit and graph replacement, so a
// concurrent ANNSearch observes either the old version of a record or the
// new one, never the repr of one paired with the blob of the other.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	colls  map[Collection]*collectionState
	db     *recordDB
	closed bool
}

// collectionState pairs a collection's ANN graph with its in-memory
// metadata map. The map mirrors the sidecar and serves ANN filtering and
// counting without touching SQLite on the search path.
type collectionState struct {
	graph *annGraph
	meta  map[string]Meta
}

// Open loads or creates a store under cfg.Dir. Missing or out-of-sync
// graph snapshots are rebuilt from the sidecar, which is the source of
// truth. Rebuilt representative vectors are decoded from quantized blobs,
// so their scores may drift within the dtype tolerance.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("store dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Precision == "" {
		cfg.Precision = embed.PrecisionFP16
	}
	switch cfg.Precision {
	case embed.PrecisionFP16, embed.PrecisionInt8, embed.PrecisionFP32:
	default:
		return nil, fmt.Errorf("unknown store precision %q", cfg.Precision)
	}
	if cfg.ReprIndex < 0 {
		cfg.ReprIndex = 0
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := openRecordDB(filepath.Join(cfg.Dir, sidecarFilename), logger)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:    cfg,
		logger: logger,
		db:     db,
		colls: map[Collection]*collectionState{
			CollectionVisual: {meta: make(map[string]Meta)},
			CollectionText:   {meta: make(map[string]Meta)},
		},
	}

	if err := db.scanMeta(ctx, func(id string, c Collection, m Meta) error {
		cs, ok := s.colls[c]
		if !ok {
			return fmt.Errorf("record %s has unknown collection %q", id, c)
		}
		cs.meta[id] = m
		return nil
	}); err != nil {
		_ = db.close()
		return nil, fmt.Errorf("load record metadata: %w", err)
	}

	for c, cs := range s.colls {
		graph, err := s.openGraph(ctx, c, len(cs.meta))
		if err != nil {
			_ = db.close()
			return nil, err
		}
		cs.graph = graph
		s.updateGauge(c)
	}

	logger.Info("store_opened",
		slog.String("dir", cfg.Dir),
		slog.Int("dimensions", cfg.Dimensions),
		slog.String("precision", cfg.Precision),
		slog.Int("visual_records", len(s.colls[CollectionVisual].meta)),
		slog.Int("text_records", len(s.colls[CollectionText].meta)))

	return s, nil
}

// openGraph loads a collection's graph snapshot, falling back to a rebuild
// from the sidecar when the snapshot is absent, unreadable or disagrees
// with the sidecar row count.
func (s *Store) openGraph(ctx context.Context, c Collection, want int) (*annGraph, error) {
	path := s.graphPath(c)

	dims, err := readGraphDimensions(path)
	if err != nil {
		s.logger.Warn("store_graph_snapshot_unreadable",
			slog.String("collection", string(c)),
			slog.String("error", err.Error()))
		return s.rebuildGraph(ctx, c)
	}
	if dims != 0 && dims != s.cfg.Dimensions {
		return nil, fmt.Errorf("existing %s graph has %d dimensions, configured %d: reindex required", c, dims, s.cfg.Dimensions)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if want == 0 {
			return newANNGraph(s.cfg.Dimensions, s.cfg.M, s.cfg.EfSearch), nil
		}
		return s.rebuildGraph(ctx, c)
	}

	g := newANNGraph(s.cfg.Dimensions, s.cfg.M, s.cfg.EfSearch)
	if err := g.load(path); err != nil {
		s.logger.Warn("store_graph_load_failed",
			slog.String("collection", string(c)),
			slog.String("error", err.Error()))
		return s.rebuildGraph(ctx, c)
	}
	if g.count() != want {
		s.logger.Warn("store_graph_out_of_sync",
			slog.String("collection", string(c)),
			slog.Int("graph_records", g.count()),
			slog.Int("sidecar_records", want))
		return s.rebuildGraph(ctx, c)
	}
	return g, nil
}

func (s *Store) rebuildGraph(ctx context.Context, c Collection) (*annGraph, error) {
	g := newANNGraph(s.cfg.Dimensions, s.cfg.M, s.cfg.EfSearch)
	n := 0
	err := s.db.scanAll(ctx, func(rec record) error {
		if rec.collection != c {
			return nil
		}
		seq, err := decodeSeq(rec.blob, rec.seqRows, rec.seqDim, rec.dtype)
		if err != nil {
			return fmt.Errorf("decode record %s: %w", rec.id, err)
		}
		if err := g.add([]string{rec.id}, [][]float32{seq.Repr(s.cfg.ReprIndex)}); err != nil {
			return fmt.Errorf("index record %s: %w", rec.id, err)
		}
		n++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild %s graph: %w", c, err)
	}
	if n > 0 {
		s.logger.Info("store_graph_rebuilt",
			slog.String("collection", string(c)),
			slog.Int("records", n))
	}
	return g, nil
}

// UpsertVisual stores one record per rendered page, replacing any existing
// record for the same (docID, page number). The whole batch commits in one
// sidecar transaction before the graph entries are swapped.
func (s *Store) UpsertVisual(ctx context.Context, docID string, embeddings []embed.Tensor, pages []PageMeta) error {
	if docID == "" {
		return fmt.Errorf("document id is empty")
	}
	if len(embeddings) != len(pages) {
		return fmt.Errorf("embeddings and page metadata length mismatch: %d vs %d", len(embeddings), len(pages))
	}
	if len(embeddings) == 0 {
		return nil
	}

	now := time.Now().UTC()
	recs := make([]record, len(embeddings))
	ids := make([]string, len(embeddings))
	reprs := make([][]float32, len(embeddings))

	for i, t := range embeddings {
		pm := pages[i]
		if pm.PageNumber < 1 {
			return fmt.Errorf("page %d metadata has non-positive page number %d", i, pm.PageNumber)
		}
		if t.Len() == 0 {
			return fmt.Errorf("page %d has an empty embedding", pm.PageNumber)
		}
		if t.Dim() != s.cfg.Dimensions {
			return ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: t.Dim()}
		}

		createdAt := pm.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		blob, err := encodeSeq(t, s.cfg.Precision)
		if err != nil {
			return fmt.Errorf("encode page %d: %w", pm.PageNumber, err)
		}

		id := RecordID(docID, CollectionVisual, pm.PageNumber)
		recs[i] = record{
			id:         id,
			collection: CollectionVisual,
			meta: Meta{
				DocID:       docID,
				Filename:    pm.Filename,
				PageNumber:  pm.PageNumber,
				ContentType: pm.ContentType,
				CreatedAt:   createdAt,
			},
			dtype:   s.cfg.Precision,
			seqRows: t.Len(),
			seqDim:  t.Dim(),
			blob:    blob,
		}
		ids[i] = id
		reprs[i] = t.Repr(s.cfg.ReprIndex)
	}

	return s.commit(ctx, CollectionVisual, recs, ids, reprs)
}

// UpsertText stores one record per text chunk, replacing any existing
// record for the same (docID, chunk index).
func (s *Store) UpsertText(ctx context.Context, docID string, embeddings []embed.Tensor, chunks []ChunkMeta) error {
	if docID == "" {
		return fmt.Errorf("document id is empty")
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embeddings and chunk metadata length mismatch: %d vs %d", len(embeddings), len(chunks))
	}
	if len(embeddings) == 0 {
		return nil
	}

	now := time.Now().UTC()
	recs := make([]record, len(embeddings))
	ids := make([]string, len(embeddings))
	reprs := make([][]float32, len(embeddings))

	for i, t := range embeddings {
		cm := chunks[i]
		if cm.ChunkIndex < 0 {
			return fmt.Errorf("chunk %d metadata has negative index %d", i, cm.ChunkIndex)
		}
		if t.Len() == 0 {
			return fmt.Errorf("chunk %d has an empty embedding", cm.ChunkIndex)
		}
		if t.Dim() != s.cfg.Dimensions {
			return ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: t.Dim()}
		}

		createdAt := cm.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		blob, err := encodeSeq(t, s.cfg.Precision)
		if err != nil {
			return fmt.Errorf("encode chunk %d: %w", cm.ChunkIndex, err)
		}

		id := RecordID(docID, CollectionText, cm.ChunkIndex)
		recs[i] = record{
			id:         id,
			collection: CollectionText,
			meta: Meta{
				DocID:       docID,
				Filename:    cm.Filename,
				PageNumber:  cm.PageNumber,
				ChunkIndex:  cm.ChunkIndex,
				ContentType: cm.ContentType,
				CreatedAt:   createdAt,
			},
			dtype:   s.cfg.Precision,
			seqRows: t.Len(),
			seqDim:  t.Dim(),
			blob:    blob,
		}
		ids[i] = id
		reprs[i] = t.Repr(s.cfg.ReprIndex)
	}

	return s.commit(ctx, CollectionText, recs, ids, reprs)
}

// commit writes the sidecar rows, swaps the graph entries and refreshes the
// metadata map under one write lock.
func (s *Store) commit(ctx context.Context, c Collection, recs []record, ids []string, reprs [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	cs := s.colls[c]
	if err := s.db.upsertRecords(ctx, recs); err != nil {
		return err
	}
	if err := cs.graph.add(ids, reprs); err != nil {
		return fmt.Errorf("index %s records: %w", c, err)
	}
	for i, rec := range recs {
		cs.meta[ids[i]] = rec.meta
	}
	s.updateGauge(c)
	return nil
}

// ANNSearch returns up to k records nearest to repr by cosine similarity,
// best first. When a filter is given, the graph is over-fetched and the
// fetch size doubles until k admitted results are found or every live
// record has been considered.
func (s *Store) ANNSearch(ctx context.Context, c Collection, repr []float32, k int, filter Filter) ([]SearchResult, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown collection %q", c)
	}
	if k <= 0 {
		return []SearchResult{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	cs := s.colls[c]
	live := cs.graph.count()
	if live == 0 {
		return []SearchResult{}, nil
	}

	fetch := k
	if filter != nil && fetch < 4*k {
		fetch = 4 * k
	}
	for {
		if fetch > live {
			fetch = live
		}

		hits, err := cs.graph.search(repr, fetch)
		if err != nil {
			return nil, err
		}

		results := make([]SearchResult, 0, min(k, len(hits)))
		for _, h := range hits {
			m, ok := cs.meta[h.id]
			if !ok {
				continue
			}
			if filter != nil && !filter(m) {
				continue
			}
			results = append(results, SearchResult{ID: h.id, Score: h.score, Meta: m})
			if len(results) == k {
				break
			}
		}

		if len(results) >= k || fetch >= live {
			return results, nil
		}
		fetch *= 2
	}
}

// GetFull fetches and decodes one record. Returns ErrNotFound for an
// unknown id.
func (s *Store) GetFull(ctx context.Context, id string) (FullRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return FullRecord{}, ErrClosed
	}

	rec, err := s.db.getRecord(ctx, id)
	if err != nil {
		return FullRecord{}, err
	}
	seq, err := decodeSeq(rec.blob, rec.seqRows, rec.seqDim, rec.dtype)
	if err != nil {
		return FullRecord{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return FullRecord{Seq: seq, Meta: rec.meta}, nil
}

// GetFullBatch fetches and decodes many records in one sidecar round trip.
// Unknown ids are simply absent from the returned map.
func (s *Store) GetFullBatch(ctx context.Context, ids []string) (map[string]FullRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	recs, err := s.db.getRecords(ctx, dedupIDs(ids))
	if err != nil {
		return nil, err
	}

	out := make(map[string]FullRecord, len(recs))
	for _, rec := range recs {
		seq, err := decodeSeq(rec.blob, rec.seqRows, rec.seqDim, rec.dtype)
		if err != nil {
			return nil, fmt.Errorf("decode record %s: %w", rec.id, err)
		}
		out[rec.id] = FullRecord{Seq: seq, Meta: rec.meta}
	}
	return out, nil
}

// Delete removes every record of a document from both collections and
// reports how many sidecar rows were removed. Deleting an unknown document
// is a no-op.
func (s *Store) Delete(ctx context.Context, docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	n, err := s.db.deleteDoc(ctx, docID)
	if err != nil {
		return 0, err
	}

	for c, cs := range s.colls {
		var ids []string
		for id, m := range cs.meta {
			if m.DocID == docID {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		cs.graph.remove(ids)
		for _, id := range ids {
			delete(cs.meta, id)
		}
		s.updateGauge(c)
	}

	if n > 0 {
		s.logger.Debug("store_document_deleted",
			slog.String("doc_id", docID),
			slog.Int64("records", n))
	}
	return int(n), nil
}

// Count returns the number of records in a collection.
func (s *Store) Count(c Collection) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || !c.Valid() {
		return 0
	}
	return len(s.colls[c].meta)
}

// Documents returns the number of distinct documents across both
// collections.
func (s *Store) Documents() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	docs := make(map[string]struct{})
	for _, cs := range s.colls {
		for _, m := range cs.meta {
			docs[m.DocID] = struct{}{}
		}
	}
	return len(docs)
}

// Stats describes one collection's index state.
type Stats struct {
	Collection Collection
	Records    int
	Documents  int
	// Orphans counts lazily deleted graph nodes still occupying the
	// index; a rebuild on next open reclaims them.
	Orphans int
}

// Stats reports per-collection record, document and orphan counts. The
// slice is ordered visual first.
func (s *Store) Stats() []Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	out := make([]Stats, 0, 2)
	for _, c := range []Collection{CollectionVisual, CollectionText} {
		cs := s.colls[c]
		docs := make(map[string]struct{}, len(cs.meta))
		for _, m := range cs.meta {
			docs[m.DocID] = struct{}{}
		}
		out = append(out, Stats{
			Collection: c,
			Records:    len(cs.meta),
			Documents:  len(docs),
			Orphans:    cs.graph.orphans(),
		})
	}
	return out
}

// Save snapshots both ANN graphs to disk. The sidecar is durable on its
// own; only the graphs need explicit persistence.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	for c, cs := range s.colls {
		if err := cs.graph.save(s.graphPath(c)); err != nil {
			return fmt.Errorf("save %s graph: %w", c, err)
		}
	}
	s.logger.Debug("store_saved", slog.String("dir", s.cfg.Dir))
	return nil
}

// Close snapshots the graphs and releases the sidecar. Safe to call more
// than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	var firstErr error
	for c, cs := range s.colls {
		if err := cs.graph.save(s.graphPath(c)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("save %s graph: %w", c, err)
		}
	}
	for _, cs := range s.colls {
		cs.graph.close()
	}
	if err := s.db.close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close sidecar: %w", err)
	}
	s.closed = true

	s.logger.Debug("store_closed", slog.String("dir", s.cfg.Dir))
	return firstErr
}

func (s *Store) graphPath(c Collection) string {
	return filepath.Join(s.cfg.Dir, string(c)+".hnsw")
}

func (s *Store) updateGauge(c Collection) {
	metrics.StoreEntries.WithLabelValues(string(c)).Set(float64(len(s.colls[c].meta)))
}

func dedupIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
