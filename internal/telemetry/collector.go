// Package telemetry collects per-search measurements: one row per executed
// query plus running aggregates for the stats command. All data stays on the
// local machine - nothing is reported externally.
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Search Event
// =============================================================================

// SearchEvent is one executed search, recorded after the response is built.
type SearchEvent struct {
	Query       string
	Mode        string
	K           int
	ResultCount int
	Latency     time.Duration
	Partial     bool
	CacheHit    bool
	Timestamp   time.Time
}

// IsZeroHit reports whether the search returned no results.
func (e SearchEvent) IsZeroHit() bool {
	return e.ResultCount == 0
}

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // Next write position
	size     int // Current number of items
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity

	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in the buffer in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		// Buffer not full - items start at 0
		copy(result, b.items[:b.size])
	} else {
		// Buffer full - oldest item is at head
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear removes all items from the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// =============================================================================
// Term Extraction
// =============================================================================

// ExtractTerms extracts searchable terms from a query string.
// Terms are lowercased and filtered to minimum length 3.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	words := strings.Fields(query)
	var terms []string
	for _, w := range words {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}

	if len(terms) == 0 {
		return nil
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is an immutable view of the in-memory aggregates.
type Snapshot struct {
	ModeCounts          map[string]int64        `json:"mode_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroHitQueries      []string                `json:"zero_hit_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalSearches       int64                   `json:"total_searches"`
	ZeroHitCount        int64                   `json:"zero_hit_count"`
	PartialCount        int64                   `json:"partial_count"`
	CacheHitCount       int64                   `json:"cache_hit_count"`
	MeanLatencyMs       float64                 `json:"mean_latency_ms"`
	Since               time.Time               `json:"since"`
}

// ZeroHitRate returns the fraction of searches that returned nothing.
func (s *Snapshot) ZeroHitRate() float64 {
	if s.TotalSearches == 0 {
		return 0
	}
	return float64(s.ZeroHitCount) / float64(s.TotalSearches)
}

// PartialRate returns the fraction of searches that missed a stage deadline.
func (s *Snapshot) PartialRate() float64 {
	if s.TotalSearches == 0 {
		return 0
	}
	return float64(s.PartialCount) / float64(s.TotalSearches)
}

// CacheHitRate returns the fraction of searches served from the query cache.
func (s *Snapshot) CacheHitRate() float64 {
	if s.TotalSearches == 0 {
		return 0
	}
	return float64(s.CacheHitCount) / float64(s.TotalSearches)
}

// =============================================================================
// Sink
// =============================================================================

// Sink persists telemetry. *Store is the SQLite implementation.
type Sink interface {
	// AppendSearches appends one row per event.
	AppendSearches(events []SearchEvent) error

	// UpsertTermCounts adds term frequency deltas.
	UpsertTermCounts(terms map[string]int64) error

	// Close releases resources.
	Close() error
}

// =============================================================================
// Collector
// =============================================================================

// Config tunes the collector.
type Config struct {
	TopTermsCapacity int           // Max distinct terms tracked in memory (default: 100)
	ZeroHitCapacity  int           // Max zero-hit queries tracked (default: 100)
	PendingCapacity  int           // Max rows buffered between flushes (default: 4096)
	FlushInterval    time.Duration // How often to flush to the sink (default: 30s, 0 = no auto-flush)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity: 100,
		ZeroHitCapacity:  100,
		PendingCapacity:  4096,
		FlushInterval:    30 * time.Second,
	}
}

// Collector accumulates search telemetry in memory and periodically drains
// buffered rows to a Sink. Thread-safe for concurrent access.
type Collector struct {
	mu sync.RWMutex

	// In-memory aggregates
	modeCounts    map[string]int64
	topTerms      *lru.Cache[string, int64]
	zeroHits      *CircularBuffer[string]
	latencies     map[LatencyBucket]int64
	totalSearches int64
	zeroHitCount  int64
	partialCount  int64
	cacheHitCount int64
	latencySum    time.Duration
	startTime     time.Time

	// Rows and term deltas waiting for the next flush. Deltas reset on
	// flush so repeated flushes never double-count in the sink.
	pending    *CircularBuffer[SearchEvent]
	termDeltas map[string]int64

	sink        Sink
	cfg         Config
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewCollector creates a collector with default configuration.
// If sink is nil, telemetry is only kept in memory.
func NewCollector(sink Sink) *Collector {
	return NewCollectorWithConfig(sink, DefaultConfig())
}

// NewCollectorWithConfig creates a collector with custom configuration.
func NewCollectorWithConfig(sink Sink, cfg Config) *Collector {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroHitCapacity <= 0 {
		cfg.ZeroHitCapacity = 100
	}
	if cfg.PendingCapacity <= 0 {
		cfg.PendingCapacity = 4096
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)

	c := &Collector{
		modeCounts: make(map[string]int64),
		topTerms:   topTerms,
		zeroHits:   NewCircularBuffer[string](cfg.ZeroHitCapacity),
		latencies:  make(map[LatencyBucket]int64),
		startTime:  time.Now(),
		pending:    NewCircularBuffer[SearchEvent](cfg.PendingCapacity),
		termDeltas: make(map[string]int64),
		sink:       sink,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && sink != nil {
		c.flushTicker = time.NewTicker(cfg.FlushInterval)
		go c.flushLoop()
	}

	return c
}

// flushLoop periodically flushes buffered telemetry to the sink.
func (c *Collector) flushLoop() {
	for {
		select {
		case <-c.flushTicker.C:
			_ = c.Flush()
		case <-c.stopCh:
			return
		}
	}
}

// Record captures one search. Thread-safe and non-blocking; the sink is
// only touched by Flush.
func (c *Collector) Record(event SearchEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	c.modeCounts[event.Mode]++
	c.totalSearches++
	c.latencySum += event.Latency
	c.latencies[LatencyToBucket(event.Latency)]++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := c.topTerms.Get(term)
		c.topTerms.Add(term, count+1)
		c.termDeltas[term]++
	}

	if event.IsZeroHit() {
		c.zeroHits.Add(event.Query)
		c.zeroHitCount++
	}
	if event.Partial {
		c.partialCount++
	}
	if event.CacheHit {
		c.cacheHitCount++
	}

	if c.sink != nil {
		c.pending.Add(event)
	}
}

// Snapshot returns current aggregates for reporting.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	modeCounts := make(map[string]int64, len(c.modeCounts))
	for k, v := range c.modeCounts {
		modeCounts[k] = v
	}

	var topTerms []TermCount
	for _, key := range c.topTerms.Keys() {
		if count, ok := c.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	latencies := make(map[LatencyBucket]int64, len(c.latencies))
	for k, v := range c.latencies {
		latencies[k] = v
	}

	var meanMs float64
	if c.totalSearches > 0 {
		meanMs = float64(c.latencySum) / float64(time.Millisecond) / float64(c.totalSearches)
	}

	return &Snapshot{
		ModeCounts:          modeCounts,
		TopTerms:            topTerms,
		ZeroHitQueries:      c.zeroHits.Items(),
		LatencyDistribution: latencies,
		TotalSearches:       c.totalSearches,
		ZeroHitCount:        c.zeroHitCount,
		PartialCount:        c.partialCount,
		CacheHitCount:       c.cacheHitCount,
		MeanLatencyMs:       meanMs,
		Since:               c.startTime,
	}
}

// Flush drains buffered rows and term deltas to the sink.
// Safe to call when no sink is configured. Rows from a failed flush are
// dropped; the in-memory aggregates still cover them.
func (c *Collector) Flush() error {
	if c.sink == nil {
		return nil
	}

	c.mu.Lock()
	events := c.pending.Items()
	c.pending.Clear()
	terms := c.termDeltas
	c.termDeltas = make(map[string]int64)
	c.mu.Unlock()

	if len(events) > 0 {
		if err := c.sink.AppendSearches(events); err != nil {
			return fmt.Errorf("append search rows: %w", err)
		}
	}
	if len(terms) > 0 {
		if err := c.sink.UpsertTermCounts(terms); err != nil {
			return fmt.Errorf("upsert term counts: %w", err)
		}
	}
	return nil
}

// Close flushes buffered telemetry and stops the flush loop.
func (c *Collector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.flushTicker != nil {
		c.flushTicker.Stop()
		close(c.stopCh)
	}

	return c.Flush()
}
