package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/petrel-search/petrel/internal/metrics"
)

// Cache configuration constants.
const (
	// DefaultCacheSize is the default number of text tensors to cache.
	DefaultCacheSize = 1024

	// cacheName labels cache metrics for this wrapper.
	cacheName = "embed_text"
)

// CachedProvider wraps a Provider with LRU caching of text tensors so
// repeated chunks and queries skip inference. Images pass through
// uncached; page bytes rarely repeat and their tensors are large.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, Tensor]

	mu        sync.RWMutex
	precision string
}

// Verify interface implementation at compile time
var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider creates a cached provider wrapping inner. Precision
// participates in the cache key because the same text embeds differently
// at different precisions.
func NewCachedProvider(inner Provider, precision string, cacheSize int) *CachedProvider {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, Tensor](cacheSize)
	return &CachedProvider{
		inner:     inner,
		cache:     cache,
		precision: precision,
	}
}

// cacheKey derives a fixed-length key from text, model, and precision.
func (c *CachedProvider) cacheKey(text string) string {
	c.mu.RLock()
	precision := c.precision
	c.mu.RUnlock()

	combined := text + "\x00" + c.inner.ModelName() + "\x00" + precision
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// EmbedTexts returns cached tensors where available and embeds only the
// misses, preserving input order.
func (c *CachedProvider) EmbedTexts(ctx context.Context, texts []string) ([]Tensor, error) {
	if len(texts) == 0 {
		return []Tensor{}, nil
	}

	results := make([]Tensor, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	// First pass: check cache for each text.
	for i, text := range texts {
		key := c.cacheKey(text)
		if t, ok := c.cache.Get(key); ok {
			metrics.CacheHitsTotal.WithLabelValues(cacheName).Inc()
			results[i] = t
		} else {
			metrics.CacheMissesTotal.WithLabelValues(cacheName).Inc()
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	// Second pass: embed the misses and fill the cache.
	embedded, err := c.inner.EmbedTexts(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range uncachedIndices {
		results[idx] = embedded[j]
		c.cache.Add(c.cacheKey(texts[idx]), embedded[j])
	}

	return results, nil
}

// EmbedImages passes through to the inner provider.
func (c *CachedProvider) EmbedImages(ctx context.Context, images [][]byte) ([]Tensor, error) {
	return c.inner.EmbedImages(ctx, images)
}

// SetPrecision changes the key salt and purges stale entries, forwarding
// to the inner provider when it accepts precision hints.
func (c *CachedProvider) SetPrecision(precision string) {
	c.mu.Lock()
	changed := c.precision != precision
	c.precision = precision
	c.mu.Unlock()

	if changed {
		c.cache.Purge()
	}
	if ps, ok := c.inner.(precisionSetter); ok {
		ps.SetPrecision(precision)
	}
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (c *CachedProvider) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (c *CachedProvider) ModelName() string {
	return c.inner.ModelName()
}

// Available checks if the provider is ready (passthrough to inner).
func (c *CachedProvider) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close releases resources and closes the inner provider.
func (c *CachedProvider) Close() error {
	return c.inner.Close()
}

// Inner returns the underlying provider for callers that need
// provider-specific features outside the Provider interface.
func (c *CachedProvider) Inner() Provider {
	return c.inner
}
