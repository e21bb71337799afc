package embed

import (
	"context"
	"errors"
)

// Batch size bounds for inference requests.
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion).
	MaxBatchSize = 64

	// DefaultBatchSizeVisual is the default page batch per inference call.
	// Image batches are memory-heavy; small batches keep peak usage bounded.
	DefaultBatchSizeVisual = 4

	// DefaultBatchSizeText is the default chunk batch per inference call.
	DefaultBatchSizeText = 8

	// DefaultMaxRetries is the default number of retry attempts for
	// transient provider failures.
	DefaultMaxRetries = 3
)

// Precision names accepted across providers and the store codec.
const (
	PrecisionFP16 = "fp16"
	PrecisionInt8 = "int8"
	PrecisionFP32 = "fp32"
)

// Static provider constants.
const (
	// StaticDimensions is the row dimension of the hash-based provider.
	// Matches the 128-dim late-interaction family so indexes built
	// against the fallback keep the same shape.
	StaticDimensions = 128
)

// ErrResourceExhausted marks a provider failure caused by memory pressure
// on the inference backend. The engine reacts by demoting precision once
// and retrying; any other error propagates unchanged.
var ErrResourceExhausted = errors.New("embedding backend out of resources")

// Provider produces multi-vector embeddings for images and texts.
// Implementations return one tensor per input, in input order, and must
// be deterministic: identical bytes on the same device produce identical
// output across runs.
type Provider interface {
	// EmbedImages embeds encoded raster images (PNG or JPEG bytes).
	EmbedImages(ctx context.Context, images [][]byte) ([]Tensor, error)

	// EmbedTexts embeds text strings. Empty or whitespace-only strings
	// come back as a single-row zero tensor, never an error.
	EmbedTexts(ctx context.Context, texts []string) ([]Tensor, error)

	// Dimensions returns D, fixed for the life of the provider.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the provider is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// precisionSetter is implemented by providers whose backend accepts a
// precision hint. The engine uses it to push a demotion down the chain.
type precisionSetter interface {
	SetPrecision(precision string)
}
