package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// annGraph indexes representative vectors for one collection using the pure
// Go coder/hnsw implementation. The graph keys nodes by uint64, so a
// bidirectional string<->uint64 mapping rides alongside it.
type annGraph struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	dims    int
	m       int
	ef      int
	idMap   map[string]uint64 // record ID -> internal key
	keyMap  map[uint64]string // internal key -> record ID
	nextKey uint64
	closed  bool
}

// graphHit is one raw ANN match before metadata filtering.
type graphHit struct {
	id    string
	score float64
}

// graphSnapshot carries the ID mappings and geometry through gob.
type graphSnapshot struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dims    int
	M       int
	Ef      int
}

func newANNGraph(dims, m, ef int) *annGraph {
	if m == 0 {
		m = 32
	}
	if ef == 0 {
		ef = 64
	}

	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = m
	g.EfSearch = ef
	g.Ml = 0.25

	return &annGraph{
		graph:  g,
		dims:   dims,
		m:      m,
		ef:     ef,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// add inserts vectors under their record IDs, replacing existing entries.
func (g *annGraph) add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}

	for _, v := range vectors {
		if len(v) != g.dims {
			return ErrDimensionMismatch{Expected: g.dims, Got: len(v)}
		}
	}

	for i, id := range ids {
		// Replacement is lazy: the old node stays in the graph but loses
		// its ID mapping. Removing nodes trips a coder/hnsw bug when the
		// last node is deleted, so orphans are left behind and skipped
		// during search.
		if existingKey, exists := g.idMap[id]; exists {
			delete(g.keyMap, existingKey)
			delete(g.idMap, id)
		}

		key := g.nextKey
		g.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		g.graph.Add(hnsw.MakeNode(key, vec))
		g.idMap[id] = key
		g.keyMap[key] = id
	}

	return nil
}

// search returns up to k live matches nearest to query, best first. The
// fetch size is padded by the current orphan count so lazily deleted nodes
// cannot starve the result set.
func (g *annGraph) search(query []float32, k int) ([]graphHit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, ErrClosed
	}
	if len(query) != g.dims {
		return nil, ErrDimensionMismatch{Expected: g.dims, Got: len(query)}
	}
	if k <= 0 || g.graph.Len() == 0 {
		return []graphHit{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	fetch := k + (g.graph.Len() - len(g.idMap))
	if fetch > g.graph.Len() {
		fetch = g.graph.Len()
	}

	nodes := g.graph.Search(normalized, fetch)

	hits := make([]graphHit, 0, k)
	for _, node := range nodes {
		id, live := g.keyMap[node.Key]
		if !live {
			continue
		}
		distance := g.graph.Distance(normalized, node.Value)
		hits = append(hits, graphHit{id: id, score: cosineScore(distance)})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// remove drops IDs from the mappings. Unknown IDs are ignored.
func (g *annGraph) remove(ids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	for _, id := range ids {
		if key, exists := g.idMap[id]; exists {
			delete(g.keyMap, key)
			delete(g.idMap, id)
		}
	}
}

// count returns the number of live entries.
func (g *annGraph) count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return 0
	}
	return len(g.idMap)
}

// orphans returns how many lazily deleted nodes remain in the graph.
func (g *annGraph) orphans() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return 0
	}
	return g.graph.Len() - len(g.idMap)
}

// save writes the graph and its ID mappings atomically next to each other:
// <path> holds the exported graph, <path>.meta the gob snapshot. Both are
// written to temp files and renamed into place.
func (g *annGraph) save(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return ErrClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create graph directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	if err := g.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close graph file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename graph file: %w", err)
	}

	if err := g.saveSnapshot(path + ".meta"); err != nil {
		return fmt.Errorf("save graph metadata: %w", err)
	}
	return nil
}

func (g *annGraph) saveSnapshot(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}

	snap := graphSnapshot{
		IDMap:   g.idMap,
		NextKey: g.nextKey,
		Dims:    g.dims,
		M:       g.m,
		Ef:      g.ef,
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// load restores a graph saved by save. The snapshot's geometry replaces the
// receiver's.
func (g *annGraph) load(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}

	if err := g.loadSnapshot(path + ".meta"); err != nil {
		return fmt.Errorf("load graph metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := g.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (g *annGraph) loadSnapshot(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer file.Close()

	var snap graphSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	g.idMap = snap.IDMap
	g.keyMap = make(map[uint64]string, len(snap.IDMap))
	g.nextKey = snap.NextKey
	g.dims = snap.Dims
	g.m = snap.M
	g.ef = snap.Ef
	for id, key := range g.idMap {
		g.keyMap[key] = id
	}
	return nil
}

func (g *annGraph) close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true
	g.graph = nil
}

// readGraphDimensions reports the embedding width recorded in a saved graph
// snapshot, or 0 when no snapshot exists yet.
func readGraphDimensions(graphPath string) (int, error) {
	file, err := os.Open(graphPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open graph snapshot: %w", err)
	}
	defer file.Close()

	var snap graphSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return 0, fmt.Errorf("decode graph snapshot: %w", err)
	}
	return snap.Dims, nil
}

// normalizeVectorInPlace scales a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// cosineScore maps a cosine distance in [0,2] onto a similarity in [0,1].
func cosineScore(distance float32) float64 {
	return float64(1 - distance/2)
}
