package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ProviderType selects an embedding backend.
type ProviderType string

const (
	// ProviderColPali talks to a colpali HTTP inference service.
	ProviderColPali ProviderType = "colpali"

	// ProviderStatic uses hash-based tensors (fallback, no dependencies).
	ProviderStatic ProviderType = "static"
)

// Config carries the embedding settings the factory needs. The
// composition root maps the process configuration onto it.
type Config struct {
	// Provider is "colpali", "static", or empty for auto-detection.
	Provider string

	// Model names the late-interaction model to request.
	Model string

	// ServiceURL is the colpali inference endpoint. Empty disables the
	// colpali provider in auto-detection.
	ServiceURL string

	// Device is the requested inference device (mps, cuda, cpu).
	Device string

	// Precision is the requested precision (fp16, int8, fp32).
	Precision string

	// BatchSizeVisual and BatchSizeText bound inference batches.
	BatchSizeVisual int
	BatchSizeText   int

	// ReprIndex selects the representative sequence row for ANN recall.
	ReprIndex int

	// CacheSize bounds the text tensor LRU.
	CacheSize int
}

// New builds the embedding engine: resolve the device, pick a provider,
// wrap it with the text cache, and hand it to the engine.
//
// Provider selection:
//   - "colpali": requires ServiceURL; a failed health check is an error.
//     Explicit selection never falls back silently.
//   - "static": always works.
//   - empty: auto-detect. ServiceURL set and healthy selects colpali,
//     anything else demotes to static with a logged warning.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	device := ResolveDevice(cfg.Device, logger)

	provider, err := newProvider(ctx, cfg, device, logger)
	if err != nil {
		return nil, err
	}

	cached := NewCachedProvider(provider, cfg.Precision, cfg.CacheSize)

	return NewEngine(EngineConfig{
		Provider:        cached,
		ReprIndex:       cfg.ReprIndex,
		Precision:       cfg.Precision,
		BatchSizeVisual: cfg.BatchSizeVisual,
		BatchSizeText:   cfg.BatchSizeText,
		Logger:          logger,
	}), nil
}

// newProvider picks the backend per the selection rules.
func newProvider(ctx context.Context, cfg Config, device Device, logger *slog.Logger) (Provider, error) {
	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderStatic:
		logger.Info("embed_provider_selected", slog.String("provider", "static"))
		return NewStaticProvider(), nil

	case ProviderColPali:
		if cfg.ServiceURL == "" {
			return nil, fmt.Errorf("colpali provider requires EMBED_SERVICE_URL")
		}
		provider, err := newColPali(ctx, cfg, device, logger)
		if err != nil {
			// Explicit selection fails loudly rather than silently
			// degrading search quality.
			return nil, fmt.Errorf("colpali unavailable: %w", err)
		}
		return provider, nil

	case "":
		if cfg.ServiceURL == "" {
			logger.Info("embed_provider_selected",
				slog.String("provider", "static"),
				slog.String("reason", "no service url configured"))
			return NewStaticProvider(), nil
		}
		provider, err := newColPali(ctx, cfg, device, logger)
		if err != nil {
			logger.Warn("embed_provider_demoted",
				slog.String("requested", "colpali"),
				slog.String("resolved", "static"),
				slog.String("error", err.Error()))
			return NewStaticProvider(), nil
		}
		logger.Info("embed_provider_selected",
			slog.String("provider", "colpali"),
			slog.String("endpoint", cfg.ServiceURL))
		return provider, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// newColPali constructs the HTTP provider with the resolved device.
func newColPali(ctx context.Context, cfg Config, device Device, logger *slog.Logger) (*ColPaliProvider, error) {
	ccfg := DefaultColPaliConfig()
	ccfg.Endpoint = cfg.ServiceURL
	ccfg.Device = string(device)
	if cfg.Model != "" {
		ccfg.Model = cfg.Model
	}
	if cfg.Precision != "" {
		ccfg.Precision = cfg.Precision
	}
	return NewColPaliProvider(ctx, ccfg, logger)
}

// ParseProvider converts a string to ProviderType. Unknown names map to
// static so misconfiguration degrades instead of crashing.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "colpali":
		return ProviderColPali
	case "static":
		return ProviderStatic
	default:
		return ProviderStatic
	}
}

// String returns the string representation of ProviderType.
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{
		string(ProviderColPali),
		string(ProviderStatic),
	}
}

// IsValidProvider checks if a provider name is valid.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// Info describes a constructed engine for status surfaces.
type Info struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Precision  string
	Available  bool
}

// GetInfo inspects an engine's provider chain.
func GetInfo(ctx context.Context, e *Engine) Info {
	info := Info{
		Model:      e.ModelName(),
		Dimensions: e.Dimensions(),
		Precision:  e.Precision(),
		Available:  e.Available(ctx),
	}

	inner := e.provider
	if cached, ok := inner.(*CachedProvider); ok {
		inner = cached.Inner()
	}

	switch inner.(type) {
	case *ColPaliProvider:
		info.Provider = ProviderColPali
	default:
		info.Provider = ProviderStatic
	}

	return info
}
