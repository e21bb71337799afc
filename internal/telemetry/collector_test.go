package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	rows    []SearchEvent
	terms   map[string]int64
	failErr error
}

func newFakeSink() *fakeSink {
	return &fakeSink{terms: make(map[string]int64)}
}

func (f *fakeSink) AppendSearches(events []SearchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.rows = append(f.rows, events...)
	return nil
}

func (f *fakeSink) UpsertTermCounts(terms map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	for term, count := range terms {
		f.terms[term] += count
	}
	return nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeSink) termTotal(term string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terms[term]
}

func (f *fakeSink) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func TestLatencyToBucket(t *testing.T) {
	cases := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{9 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{49 * time.Millisecond, BucketP50},
		{50 * time.Millisecond, BucketP100},
		{99 * time.Millisecond, BucketP100},
		{100 * time.Millisecond, BucketP500},
		{499 * time.Millisecond, BucketP500},
		{500 * time.Millisecond, BucketP1000},
		{2 * time.Second, BucketP1000},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LatencyToBucket(tc.latency), "latency %v", tc.latency)
	}
}

func TestCircularBuffer_WrapAround(t *testing.T) {
	buf := NewCircularBuffer[int](3)

	buf.Add(1)
	buf.Add(2)
	assert.Equal(t, []int{1, 2}, buf.Items())
	assert.Equal(t, 2, buf.Size())

	buf.Add(3)
	buf.Add(4)
	buf.Add(5)

	// Oldest two evicted, FIFO order preserved
	assert.Equal(t, []int{3, 4, 5}, buf.Items())
	assert.Equal(t, 3, buf.Size())

	buf.Clear()
	assert.Empty(t, buf.Items())
	assert.Equal(t, 0, buf.Size())
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"quarterly", "revenue"}, ExtractTerms("  Quarterly REVENUE  "))
	assert.Equal(t, []string{"budget"}, ExtractTerms("Q1 budget"))
	assert.Nil(t, ExtractTerms("a b"))
	assert.Nil(t, ExtractTerms(""))
}

func TestCollector_RecordAggregates(t *testing.T) {
	c := NewCollectorWithConfig(nil, Config{FlushInterval: 0})

	c.Record(SearchEvent{
		Query:       "quarterly revenue report",
		Mode:        "hybrid",
		K:           10,
		ResultCount: 5,
		Latency:     12 * time.Millisecond,
		CacheHit:    true,
	})
	c.Record(SearchEvent{
		Query:       "missing contract",
		Mode:        "visual_only",
		K:           5,
		ResultCount: 0,
		Latency:     80 * time.Millisecond,
		Partial:     true,
	})

	snap := c.Snapshot()

	assert.Equal(t, int64(2), snap.TotalSearches)
	assert.Equal(t, int64(1), snap.ModeCounts["hybrid"])
	assert.Equal(t, int64(1), snap.ModeCounts["visual_only"])

	assert.Equal(t, int64(1), snap.ZeroHitCount)
	assert.Equal(t, []string{"missing contract"}, snap.ZeroHitQueries)

	assert.Equal(t, int64(1), snap.PartialCount)
	assert.Equal(t, int64(1), snap.CacheHitCount)

	assert.InDelta(t, 46.0, snap.MeanLatencyMs, 0.001)
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP50])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP100])

	assert.InDelta(t, 0.5, snap.ZeroHitRate(), 0.001)
	assert.InDelta(t, 0.5, snap.PartialRate(), 0.001)
	assert.InDelta(t, 0.5, snap.CacheHitRate(), 0.001)
	assert.False(t, snap.Since.IsZero())
}

func TestCollector_TopTermsSortedByCount(t *testing.T) {
	c := NewCollectorWithConfig(nil, Config{FlushInterval: 0})

	c.Record(SearchEvent{Query: "alpha beta", Mode: "hybrid", ResultCount: 1})
	c.Record(SearchEvent{Query: "alpha gamma", Mode: "hybrid", ResultCount: 1})
	c.Record(SearchEvent{Query: "alpha beta", Mode: "hybrid", ResultCount: 1})

	snap := c.Snapshot()
	require.Len(t, snap.TopTerms, 3)
	assert.Equal(t, TermCount{Term: "alpha", Count: 3}, snap.TopTerms[0])
	assert.Equal(t, TermCount{Term: "beta", Count: 2}, snap.TopTerms[1])
	assert.Equal(t, TermCount{Term: "gamma", Count: 1}, snap.TopTerms[2])
}

func TestCollector_FlushDrainsPending(t *testing.T) {
	sink := newFakeSink()
	c := NewCollectorWithConfig(sink, Config{FlushInterval: 0})

	c.Record(SearchEvent{Query: "alpha beta", Mode: "hybrid", ResultCount: 2})
	c.Record(SearchEvent{Query: "alpha", Mode: "text_only", ResultCount: 1})

	require.NoError(t, c.Flush())
	assert.Equal(t, 2, sink.rowCount())
	assert.Equal(t, int64(2), sink.termTotal("alpha"))
	assert.Equal(t, int64(1), sink.termTotal("beta"))

	// Nothing new, nothing resent
	require.NoError(t, c.Flush())
	assert.Equal(t, 2, sink.rowCount())

	// Only the delta since the last flush goes out
	c.Record(SearchEvent{Query: "alpha", Mode: "hybrid", ResultCount: 1})
	require.NoError(t, c.Flush())
	assert.Equal(t, 3, sink.rowCount())
	assert.Equal(t, int64(3), sink.termTotal("alpha"))
}

func TestCollector_FlushWithoutSink(t *testing.T) {
	c := NewCollectorWithConfig(nil, Config{FlushInterval: 0})
	c.Record(SearchEvent{Query: "anything", Mode: "hybrid", ResultCount: 1})
	require.NoError(t, c.Flush())
}

func TestCollector_FlushErrorDropsRows(t *testing.T) {
	sink := newFakeSink()
	c := NewCollectorWithConfig(sink, Config{FlushInterval: 0})

	sink.setFail(errors.New("disk full"))
	c.Record(SearchEvent{Query: "alpha", Mode: "hybrid", ResultCount: 1})

	err := c.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append search rows")

	// Failed rows are not retried, but the in-memory aggregates keep them
	sink.setFail(nil)
	require.NoError(t, c.Flush())
	assert.Equal(t, 0, sink.rowCount())
	assert.Equal(t, int64(1), c.Snapshot().TotalSearches)
}

func TestCollector_PendingCapacityDropsOldest(t *testing.T) {
	sink := newFakeSink()
	c := NewCollectorWithConfig(sink, Config{FlushInterval: 0, PendingCapacity: 2})

	c.Record(SearchEvent{Query: "one", Mode: "hybrid", ResultCount: 1})
	c.Record(SearchEvent{Query: "two", Mode: "hybrid", ResultCount: 1})
	c.Record(SearchEvent{Query: "three", Mode: "hybrid", ResultCount: 1})

	require.NoError(t, c.Flush())
	assert.Equal(t, 2, sink.rowCount())
	assert.Equal(t, int64(3), c.Snapshot().TotalSearches)
}

func TestCollector_AutoFlush(t *testing.T) {
	sink := newFakeSink()
	c := NewCollectorWithConfig(sink, Config{FlushInterval: 10 * time.Millisecond})
	defer c.Close()

	c.Record(SearchEvent{Query: "alpha", Mode: "hybrid", ResultCount: 1})

	require.Eventually(t, func() bool {
		return sink.rowCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCollector_CloseFlushesAndStopsRecording(t *testing.T) {
	sink := newFakeSink()
	c := NewCollector(sink)

	c.Record(SearchEvent{Query: "alpha", Mode: "hybrid", ResultCount: 1})
	require.NoError(t, c.Close())
	assert.Equal(t, 1, sink.rowCount())

	c.Record(SearchEvent{Query: "beta", Mode: "hybrid", ResultCount: 1})
	assert.Equal(t, int64(1), c.Snapshot().TotalSearches)

	require.NoError(t, c.Close())
	assert.Equal(t, 1, sink.rowCount())
}
