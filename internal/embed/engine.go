package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Engine wraps a provider with batching, row normalization, and the
// single-inference-context lock. The model holds one inference context;
// concurrent Embed* calls through it are not safe, so every provider call
// serializes on one mutex. The lock is held per batch rather than per
// call, letting a query slip in between page batches of a large document.
type Engine struct {
	provider Provider
	logger   *slog.Logger

	// mu serializes provider calls (the single inference context).
	mu sync.Mutex

	reprIndex   int
	batchVisual int
	batchText   int

	// precision may demote once when the backend reports resource
	// exhaustion. Guarded by mu.
	precision string
	demoted   bool
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Provider        Provider
	ReprIndex       int
	Precision       string
	BatchSizeVisual int
	BatchSizeText   int
	Logger          *slog.Logger
}

// NewEngine creates an embedding engine over a provider.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.BatchSizeVisual <= 0 {
		cfg.BatchSizeVisual = DefaultBatchSizeVisual
	}
	if cfg.BatchSizeText <= 0 {
		cfg.BatchSizeText = DefaultBatchSizeText
	}
	if cfg.Precision == "" {
		cfg.Precision = PrecisionFP16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReprIndex < 0 {
		cfg.ReprIndex = 0
	}

	return &Engine{
		provider:    cfg.Provider,
		logger:      cfg.Logger,
		reprIndex:   cfg.ReprIndex,
		batchVisual: cfg.BatchSizeVisual,
		batchText:   cfg.BatchSizeText,
		precision:   cfg.Precision,
	}
}

// EmbedImages embeds raster images in batches, one tensor per input in
// input order, rows L2-normalized. batchSize <= 0 uses the configured
// default.
func (e *Engine) EmbedImages(ctx context.Context, images [][]byte, batchSize int) ([]Tensor, error) {
	if len(images) == 0 {
		return []Tensor{}, nil
	}
	batchSize = clampBatchSize(batchSize, e.batchVisual)

	results := make([]Tensor, 0, len(images))
	for start := 0; start < len(images); start += batchSize {
		end := start + batchSize
		if end > len(images) {
			end = len(images)
		}

		batch, err := e.runBatch(ctx, func(ctx context.Context) ([]Tensor, error) {
			return e.provider.EmbedImages(ctx, images[start:end])
		})
		if err != nil {
			return nil, fmt.Errorf("image batch %d-%d: %w", start, end-1, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("image batch %d-%d: got %d tensors, want %d", start, end-1, len(batch), end-start)
		}

		for _, t := range batch {
			results = append(results, t.NormalizeRows())
		}
	}

	return results, nil
}

// EmbedText embeds texts in batches, one tensor per input in input order,
// rows L2-normalized. Empty strings yield a single-row zero tensor.
func (e *Engine) EmbedText(ctx context.Context, texts []string, batchSize int) ([]Tensor, error) {
	if len(texts) == 0 {
		return []Tensor{}, nil
	}
	batchSize = clampBatchSize(batchSize, e.batchText)

	results := make([]Tensor, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.runBatch(ctx, func(ctx context.Context) ([]Tensor, error) {
			return e.provider.EmbedTexts(ctx, texts[start:end])
		})
		if err != nil {
			return nil, fmt.Errorf("text batch %d-%d: %w", start, end-1, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("text batch %d-%d: got %d tensors, want %d", start, end-1, len(batch), end-start)
		}

		for _, t := range batch {
			results = append(results, t.NormalizeRows())
		}
	}

	return results, nil
}

// EmbedQuery embeds one query string with the same model and tokenizer
// as EmbedText.
func (e *Engine) EmbedQuery(ctx context.Context, text string) (Tensor, error) {
	out, err := e.EmbedText(ctx, []string{text}, 1)
	if err != nil {
		return Tensor{}, err
	}
	return out[0], nil
}

// runBatch executes one provider call under the inference lock. On
// resource exhaustion it demotes precision once and retries the batch.
func (e *Engine) runBatch(ctx context.Context, fn func(ctx context.Context) ([]Tensor, error)) ([]Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out, err := fn(ctx)
	if err == nil || !errors.Is(err, ErrResourceExhausted) {
		return out, err
	}

	if e.demoted {
		return nil, err
	}
	next, ok := DemotePrecision(e.precision)
	if !ok {
		return nil, err
	}

	e.logger.Warn("embed_precision_demoted",
		slog.String("from", e.precision),
		slog.String("to", next),
		slog.String("reason", err.Error()))
	e.precision = next
	e.demoted = true
	if ps, ok := e.provider.(precisionSetter); ok {
		ps.SetPrecision(next)
	}

	return fn(ctx)
}

// Repr returns the representative row of a tensor using the configured
// token index.
func (e *Engine) Repr(t Tensor) []float32 {
	return t.Repr(e.reprIndex)
}

// ReprIndex returns the configured representative token index.
func (e *Engine) ReprIndex() int {
	return e.reprIndex
}

// Dimensions returns the provider's embedding dimension.
func (e *Engine) Dimensions() int {
	return e.provider.Dimensions()
}

// ModelName returns the provider's model identifier.
func (e *Engine) ModelName() string {
	return e.provider.ModelName()
}

// Precision returns the current precision, after any demotion.
func (e *Engine) Precision() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.precision
}

// Available checks if the underlying provider is ready.
func (e *Engine) Available(ctx context.Context) bool {
	return e.provider.Available(ctx)
}

// Close releases the provider.
func (e *Engine) Close() error {
	return e.provider.Close()
}

// clampBatchSize applies the default and the global bounds.
func clampBatchSize(requested, fallback int) int {
	size := requested
	if size <= 0 {
		size = fallback
	}
	if size < MinBatchSize {
		size = MinBatchSize
	}
	if size > MaxBatchSize {
		size = MaxBatchSize
	}
	return size
}
