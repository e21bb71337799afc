package embed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/petrel-search/petrel/internal/metrics"
)

// ColPali default configuration
const (
	DefaultColPaliEndpoint = "http://localhost:8094"
	DefaultColPaliModel    = "colpali-v1.3"

	// DefaultColPaliDimensions is assumed until the health check reports
	// the served model's dimension.
	DefaultColPaliDimensions = 128

	// DefaultVisualTimeout bounds one image batch. Page batches run a
	// full vision encoder pass and dominate ingest latency.
	DefaultVisualTimeout = 300 * time.Second

	// DefaultTextTimeout bounds one text batch.
	DefaultTextTimeout = 120 * time.Second

	// DefaultHealthTimeout bounds the startup health check.
	DefaultHealthTimeout = 10 * time.Second

	// DefaultPoolSize is the HTTP connection pool size.
	DefaultPoolSize = 10
)

// ColPaliConfig holds configuration for the colpali HTTP provider.
type ColPaliConfig struct {
	// Endpoint is the inference service URL (default: http://localhost:8094).
	Endpoint string

	// Model names the late-interaction model to request.
	Model string

	// Device is the resolved device hint forwarded to the service.
	Device string

	// Precision is the requested inference precision (fp16, int8, fp32).
	Precision string

	// VisualTimeout and TextTimeout bound one batch request each.
	VisualTimeout time.Duration
	TextTimeout   time.Duration

	// MaxRetries is the attempt count for transient failures.
	MaxRetries int

	// SkipHealthCheck skips the startup health check (for testing).
	SkipHealthCheck bool
}

// DefaultColPaliConfig returns default colpali configuration.
func DefaultColPaliConfig() ColPaliConfig {
	return ColPaliConfig{
		Endpoint:      DefaultColPaliEndpoint,
		Model:         DefaultColPaliModel,
		Precision:     PrecisionFP16,
		VisualTimeout: DefaultVisualTimeout,
		TextTimeout:   DefaultTextTimeout,
		MaxRetries:    DefaultMaxRetries,
	}
}

// ColPaliProvider generates multi-vector embeddings through an HTTP
// inference service running the actual model.
type ColPaliProvider struct {
	client *http.Client
	config ColPaliConfig
	logger *slog.Logger

	mu        sync.RWMutex
	dims      int
	model     string
	precision string
	closed    bool
}

// Verify interface implementation at compile time
var _ Provider = (*ColPaliProvider)(nil)

// NewColPaliProvider creates a colpali provider and verifies the service
// is reachable unless the health check is skipped.
func NewColPaliProvider(ctx context.Context, cfg ColPaliConfig, logger *slog.Logger) (*ColPaliProvider, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultColPaliEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultColPaliModel
	}
	if cfg.Precision == "" {
		cfg.Precision = PrecisionFP16
	}
	if cfg.VisualTimeout <= 0 {
		cfg.VisualTimeout = DefaultVisualTimeout
	}
	if cfg.TextTimeout <= 0 {
		cfg.TextTimeout = DefaultTextTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	// Do NOT set http.Client.Timeout: it would override the per-request
	// context timeouts that bound each batch individually.
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        DefaultPoolSize,
			MaxIdleConnsPerHost: DefaultPoolSize,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	p := &ColPaliProvider{
		client:    client,
		config:    cfg,
		logger:    logger,
		dims:      DefaultColPaliDimensions,
		model:     cfg.Model,
		precision: cfg.Precision,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()

		if err := p.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("colpali health check failed: %w", err)
		}
	}

	logger.Debug("colpali_provider_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", p.model),
		slog.Int("dimensions", p.dims))

	return p, nil
}

// healthCheck verifies the service is up and adopts its reported model
// name and dimension.
func (p *ColPaliProvider) healthCheck(ctx context.Context) error {
	url := p.config.Endpoint + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to colpali service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("colpali service unhealthy (status %d): %s", resp.StatusCode, string(body))
	}

	var health colpaliHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	if health.Status != "ok" {
		return fmt.Errorf("colpali service status: %s", health.Status)
	}

	p.mu.Lock()
	if health.Dim > 0 {
		p.dims = health.Dim
	}
	if health.Model != "" {
		p.model = health.Model
	}
	p.mu.Unlock()

	return nil
}

// EmbedImages generates one tensor per image through the service.
func (p *ColPaliProvider) EmbedImages(ctx context.Context, images [][]byte) ([]Tensor, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("provider is closed")
	}
	precision := p.precision
	p.mu.RUnlock()

	if len(images) == 0 {
		return []Tensor{}, nil
	}

	encoded := make([]string, len(images))
	for i, img := range images {
		if len(img) == 0 {
			return nil, fmt.Errorf("image %d is empty", i)
		}
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}

	reqBody := colpaliEmbedImagesRequest{
		Images:    encoded,
		Model:     p.config.Model,
		Device:    p.config.Device,
		Precision: precision,
	}

	matrices, err := p.embedWithRetry(ctx, "/embed/images", "image", reqBody, len(images), p.config.VisualTimeout)
	if err != nil {
		return nil, err
	}

	return matricesToTensors(matrices)
}

// EmbedTexts generates one tensor per text through the service. Empty
// strings are filled with zero tensors locally and never sent.
func (p *ColPaliProvider) EmbedTexts(ctx context.Context, texts []string) ([]Tensor, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("provider is closed")
	}
	precision := p.precision
	dims := p.dims
	p.mu.RUnlock()

	if len(texts) == 0 {
		return []Tensor{}, nil
	}

	// Track which indices need API calls vs zero tensors.
	results := make([]Tensor, len(texts))
	sendIndices := make([]int, 0, len(texts))
	sendTexts := make([]string, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = ZeroTensor(1, dims)
			continue
		}
		sendIndices = append(sendIndices, i)
		sendTexts = append(sendTexts, text)
	}

	if len(sendTexts) == 0 {
		return results, nil
	}

	reqBody := colpaliEmbedTextsRequest{
		Texts:     sendTexts,
		Model:     p.config.Model,
		Device:    p.config.Device,
		Precision: precision,
	}

	matrices, err := p.embedWithRetry(ctx, "/embed/texts", "text", reqBody, len(sendTexts), p.config.TextTimeout)
	if err != nil {
		return nil, err
	}

	tensors, err := matricesToTensors(matrices)
	if err != nil {
		return nil, err
	}
	for j, idx := range sendIndices {
		results[idx] = tensors[j]
	}

	return results, nil
}

// embedWithRetry posts one batch with exponential backoff on transient
// failures. Resource exhaustion is not retried here; the engine handles
// it by demoting precision.
func (p *ColPaliProvider) embedWithRetry(ctx context.Context, path, kind string, reqBody any, want int, timeout time.Duration) ([][][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		matrices, err := p.doEmbed(reqCtx, path, reqBody)
		cancel()

		metrics.EmbedRequestsTotal.WithLabelValues("colpali", kind).Inc()
		if err == nil {
			metrics.EmbedDuration.WithLabelValues("colpali", kind).Observe(time.Since(start).Seconds())
			if len(matrices) != want {
				return nil, fmt.Errorf("colpali returned %d embeddings, want %d", len(matrices), want)
			}
			return matrices, nil
		}

		metrics.EmbedErrorsTotal.WithLabelValues("colpali", kind).Inc()
		if errors.Is(err, ErrResourceExhausted) {
			return nil, err
		}
		lastErr = err

		p.logger.Debug("colpali_attempt_failed",
			slog.Int("attempt", attempt+1),
			slog.String("kind", kind),
			slog.String("error", err.Error()))
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", p.config.MaxRetries, lastErr)
}

// doEmbed performs one HTTP request against the service.
func (p *ColPaliProvider) doEmbed(ctx context.Context, path string, reqBody any) ([][][]float32, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach colpali service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusInsufficientStorage || containsOOM(body) {
			return nil, fmt.Errorf("%w: status %d: %s", ErrResourceExhausted, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("embedding failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result colpaliEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Embeddings, nil
}

// matricesToTensors validates raw matrices into tensors.
func matricesToTensors(matrices [][][]float32) ([]Tensor, error) {
	tensors := make([]Tensor, len(matrices))
	for i, m := range matrices {
		t, err := NewTensor(m)
		if err != nil {
			return nil, fmt.Errorf("embedding %d invalid: %w", i, err)
		}
		tensors[i] = t
	}
	return tensors, nil
}

// containsOOM scans an error body for out-of-memory markers.
func containsOOM(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "out of memory") || strings.Contains(s, "oom")
}

// SetPrecision updates the precision hint sent with each request.
func (p *ColPaliProvider) SetPrecision(precision string) {
	p.mu.Lock()
	p.precision = precision
	p.mu.Unlock()
}

// Dimensions returns the embedding dimension.
func (p *ColPaliProvider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dims
}

// ModelName returns the model identifier reported by the service.
func (p *ColPaliProvider) ModelName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

// Available checks if the service responds to a health probe.
func (p *ColPaliProvider) Available(ctx context.Context) bool {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return false
	}
	p.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.healthCheck(checkCtx) == nil
}

// Close releases resources.
func (p *ColPaliProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if transport, ok := p.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}

	return nil
}
