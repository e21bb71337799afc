// Package config builds the immutable processing configuration from
// defaults, an optional YAML file, and environment variables.
// Environment variables win; they are the authoritative interface.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petrel-search/petrel/internal/validate"
)

// DefaultFormats is the accepted extension list when SUPPORTED_FORMATS is unset.
var DefaultFormats = []string{
	"pdf", "docx", "pptx", "xlsx", "html", "xhtml", "md", "asciidoc", "csv",
	"mp3", "wav", "vtt", "png", "jpg", "jpeg", "tiff", "bmp", "webp",
}

// Config is the complete Petrel configuration. Constructed once at startup
// and passed by handle; never mutated afterwards.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	Ingest    IngestConfig    `yaml:"ingest" json:"ingest"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Status    StatusConfig    `yaml:"status" json:"status"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// PathsConfig configures filesystem locations.
type PathsConfig struct {
	// UploadDir is the watched drop directory (UPLOAD_DIR).
	UploadDir string `yaml:"upload_dir" json:"upload_dir"`
	// DataDir holds the vector store, sidecar DB, and telemetry (PETREL_DATA_DIR).
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	// SupportedFormats lists accepted extensions without dots (SUPPORTED_FORMATS).
	SupportedFormats []string `yaml:"supported_formats" json:"supported_formats"`
	// MaxFileSizeMB rejects files above this size (MAX_FILE_SIZE_MB).
	MaxFileSizeMB int `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	// ChunkSize is the chunker word target (TEXT_CHUNK_SIZE).
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap is the chunker word overlap (TEXT_CHUNK_OVERLAP).
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	// PageRenderDPI is the page-to-image render density (PAGE_RENDER_DPI).
	PageRenderDPI int `yaml:"page_render_dpi" json:"page_render_dpi"`
	// Workers is the ingestion pool size (WORKER_THREADS).
	Workers int `yaml:"workers" json:"workers"`
	// QueueEnabled selects queued parallel ingestion; false runs submissions
	// inline, one at a time (ENABLE_QUEUE).
	QueueEnabled bool `yaml:"queue_enabled" json:"queue_enabled"`
	// ParserServiceURL is the HTTP sidecar for heavyweight formats
	// (PARSER_SERVICE_URL). Empty disables sidecar parsing.
	ParserServiceURL string `yaml:"parser_service_url" json:"parser_service_url"`
	// ParseTimeout, EmbedTimeout, StoreTimeout bound each pipeline stage.
	ParseTimeout string `yaml:"parse_timeout" json:"parse_timeout"`
	EmbedTimeout string `yaml:"embed_timeout" json:"embed_timeout"`
	StoreTimeout string `yaml:"store_timeout" json:"store_timeout"`
	// WatchQuietPeriod is how long a new upload must sit unchanged before
	// it is submitted.
	WatchQuietPeriod string `yaml:"watch_quiet_period" json:"watch_quiet_period"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	// Provider selects the backend: "colpali" (HTTP), "static", or empty
	// for auto-detection (EMBED_PROVIDER).
	Provider string `yaml:"provider" json:"provider"`
	// Model names the late-interaction model served by the backend (EMBED_MODEL).
	Model string `yaml:"model" json:"model"`
	// ServiceURL is the inference endpoint (EMBED_SERVICE_URL).
	ServiceURL string `yaml:"service_url" json:"service_url"`
	// Device requests mps, cuda, or cpu; unavailability falls back in that
	// order (EMBED_DEVICE).
	Device string `yaml:"device" json:"device"`
	// Precision requests fp16, int8, or fp32 (EMBED_PRECISION).
	Precision string `yaml:"precision" json:"precision"`
	// BatchSizeVisual and BatchSizeText bound inference batches
	// (BATCH_SIZE_VISUAL, BATCH_SIZE_TEXT).
	BatchSizeVisual int `yaml:"batch_size_visual" json:"batch_size_visual"`
	BatchSizeText   int `yaml:"batch_size_text" json:"batch_size_text"`
	// RepresentativeTokenIndex selects the sequence row used for ANN recall
	// (REPRESENTATIVE_TOKEN_INDEX). 0 is the CLS-like first token.
	RepresentativeTokenIndex int `yaml:"representative_token_index" json:"representative_token_index"`
	// CacheSize bounds the text/query embedding LRU.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// SearchConfig configures the search engine.
type SearchConfig struct {
	// DefaultK is the fallback result count for requests that omit k.
	DefaultK int `yaml:"default_k" json:"default_k"`
	// Stage1Timeout bounds ANN recall, Stage2Timeout bounds fetch+rerank.
	Stage1Timeout string `yaml:"stage1_timeout" json:"stage1_timeout"`
	Stage2Timeout string `yaml:"stage2_timeout" json:"stage2_timeout"`
	// QueryCacheSize bounds the query-embedding LRU.
	QueryCacheSize int `yaml:"query_cache_size" json:"query_cache_size"`
}

// StatusConfig configures status retention.
type StatusConfig struct {
	// TTLSeconds is how long terminal statuses are kept (STATUS_TTL_SECONDS).
	TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"`
	// CleanupInterval is the sweep timer period.
	CleanupInterval string `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// BindAddr is the listen address (PETREL_BIND_ADDR).
	BindAddr string `yaml:"bind_addr" json:"bind_addr"`
	// CORSOrigins is the allow-list; empty denies cross-origin requests
	// (PETREL_CORS_ORIGINS). Wildcard must be opted into explicitly.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // LOG_LEVEL
	Format string `yaml:"format" json:"format"` // LOG_FORMAT: text|json
	File   string `yaml:"file" json:"file"`     // LOG_FILE; empty = stderr only
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			UploadDir: "uploads",
			DataDir:   ".petrel",
		},
		Ingest: IngestConfig{
			SupportedFormats: append([]string(nil), DefaultFormats...),
			MaxFileSizeMB:    100,
			ChunkSize:        250,
			ChunkOverlap:     50,
			PageRenderDPI:    150,
			Workers:          defaultWorkers(),
			QueueEnabled:     true,
			ParseTimeout:     "60s",
			EmbedTimeout:     "300s",
			StoreTimeout:     "60s",
			WatchQuietPeriod: "2s",
		},
		Embedding: EmbeddingConfig{
			Provider:                 "", // Empty triggers auto-detection: colpali service → static
			Model:                    "colpali-v1.3",
			ServiceURL:               "",
			Device:                   "cpu",
			Precision:                "fp16",
			BatchSizeVisual:          4,
			BatchSizeText:            8,
			RepresentativeTokenIndex: 0,
			CacheSize:                1024,
		},
		Search: SearchConfig{
			DefaultK:       10,
			Stage1Timeout:  "2s",
			Stage2Timeout:  "3s",
			QueryCacheSize: 512,
		},
		Status: StatusConfig{
			TTLSeconds:      3600,
			CleanupInterval: "15m",
		},
		Server: ServerConfig{
			BindAddr:    "127.0.0.1:8093",
			CORSOrigins: nil,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		// Inference serializes on one device; more workers only buy
		// parse/store overlap.
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// Load loads configuration with increasing precedence:
//  1. Hardcoded defaults
//  2. YAML file (petrel.yaml in dir, or $PETREL_CONFIG)
//  3. Environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile loads configuration from an explicit file path, then applies
// environment overrides. Unlike Load, a missing file is an error.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from $PETREL_CONFIG or
// petrel.yaml/petrel.yml under dir. A missing file is fine.
func (c *Config) loadFromFile(dir string) error {
	if p := os.Getenv("PETREL_CONFIG"); p != "" {
		return c.loadYAML(p)
	}

	yamlPath := filepath.Join(dir, "petrel.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, "petrel.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Paths.UploadDir != "" {
		c.Paths.UploadDir = other.Paths.UploadDir
	}
	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}

	if len(other.Ingest.SupportedFormats) > 0 {
		c.Ingest.SupportedFormats = other.Ingest.SupportedFormats
	}
	if other.Ingest.MaxFileSizeMB != 0 {
		c.Ingest.MaxFileSizeMB = other.Ingest.MaxFileSizeMB
	}
	if other.Ingest.ChunkSize != 0 {
		c.Ingest.ChunkSize = other.Ingest.ChunkSize
	}
	if other.Ingest.ChunkOverlap != 0 {
		c.Ingest.ChunkOverlap = other.Ingest.ChunkOverlap
	}
	if other.Ingest.PageRenderDPI != 0 {
		c.Ingest.PageRenderDPI = other.Ingest.PageRenderDPI
	}
	if other.Ingest.Workers != 0 {
		c.Ingest.Workers = other.Ingest.Workers
	}
	if other.Ingest.ParserServiceURL != "" {
		c.Ingest.ParserServiceURL = other.Ingest.ParserServiceURL
	}
	if other.Ingest.ParseTimeout != "" {
		c.Ingest.ParseTimeout = other.Ingest.ParseTimeout
	}
	if other.Ingest.EmbedTimeout != "" {
		c.Ingest.EmbedTimeout = other.Ingest.EmbedTimeout
	}
	if other.Ingest.StoreTimeout != "" {
		c.Ingest.StoreTimeout = other.Ingest.StoreTimeout
	}
	if other.Ingest.WatchQuietPeriod != "" {
		c.Ingest.WatchQuietPeriod = other.Ingest.WatchQuietPeriod
	}

	if other.Embedding.Provider != "" {
		c.Embedding.Provider = other.Embedding.Provider
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.ServiceURL != "" {
		c.Embedding.ServiceURL = other.Embedding.ServiceURL
	}
	if other.Embedding.Device != "" {
		c.Embedding.Device = other.Embedding.Device
	}
	if other.Embedding.Precision != "" {
		c.Embedding.Precision = other.Embedding.Precision
	}
	if other.Embedding.BatchSizeVisual != 0 {
		c.Embedding.BatchSizeVisual = other.Embedding.BatchSizeVisual
	}
	if other.Embedding.BatchSizeText != 0 {
		c.Embedding.BatchSizeText = other.Embedding.BatchSizeText
	}
	if other.Embedding.RepresentativeTokenIndex != 0 {
		c.Embedding.RepresentativeTokenIndex = other.Embedding.RepresentativeTokenIndex
	}
	if other.Embedding.CacheSize != 0 {
		c.Embedding.CacheSize = other.Embedding.CacheSize
	}

	if other.Search.DefaultK != 0 {
		c.Search.DefaultK = other.Search.DefaultK
	}
	if other.Search.Stage1Timeout != "" {
		c.Search.Stage1Timeout = other.Search.Stage1Timeout
	}
	if other.Search.Stage2Timeout != "" {
		c.Search.Stage2Timeout = other.Search.Stage2Timeout
	}
	if other.Search.QueryCacheSize != 0 {
		c.Search.QueryCacheSize = other.Search.QueryCacheSize
	}

	if other.Status.TTLSeconds != 0 {
		c.Status.TTLSeconds = other.Status.TTLSeconds
	}
	if other.Status.CleanupInterval != "" {
		c.Status.CleanupInterval = other.Status.CleanupInterval
	}

	if other.Server.BindAddr != "" {
		c.Server.BindAddr = other.Server.BindAddr
	}
	if len(other.Server.CORSOrigins) > 0 {
		c.Server.CORSOrigins = other.Server.CORSOrigins
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
}

// applyEnvOverrides applies environment variable overrides.
// These names are the documented external interface; the YAML file only
// supplies defaults beneath them.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SUPPORTED_FORMATS"); v != "" {
		c.Ingest.SupportedFormats = splitCommaList(v)
	}
	if v := os.Getenv("MAX_FILE_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.MaxFileSizeMB = n
		}
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		c.Paths.UploadDir = v
	}
	if v := os.Getenv("TEXT_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.ChunkSize = n
		}
	}
	if v := os.Getenv("TEXT_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Ingest.ChunkOverlap = n
		}
	}
	if v := os.Getenv("PAGE_RENDER_DPI"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.PageRenderDPI = n
		}
	}
	if v := os.Getenv("WORKER_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.Workers = n
		}
	}
	if v := os.Getenv("ENABLE_QUEUE"); v != "" {
		c.Ingest.QueueEnabled = parseBool(v)
	}
	if v := os.Getenv("PARSER_SERVICE_URL"); v != "" {
		c.Ingest.ParserServiceURL = v
	}

	if v := os.Getenv("EMBED_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("EMBED_SERVICE_URL"); v != "" {
		c.Embedding.ServiceURL = v
	}
	if v := os.Getenv("EMBED_DEVICE"); v != "" {
		c.Embedding.Device = strings.ToLower(v)
	}
	if v := os.Getenv("EMBED_PRECISION"); v != "" {
		c.Embedding.Precision = strings.ToLower(v)
	}
	if v := os.Getenv("BATCH_SIZE_VISUAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.BatchSizeVisual = n
		}
	}
	if v := os.Getenv("BATCH_SIZE_TEXT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.BatchSizeText = n
		}
	}
	if v := os.Getenv("REPRESENTATIVE_TOKEN_INDEX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Embedding.RepresentativeTokenIndex = n
		}
	}

	if v := os.Getenv("STATUS_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Status.TTLSeconds = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	if v := os.Getenv("PETREL_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("PETREL_BIND_ADDR"); v != "" {
		c.Server.BindAddr = v
	}
	if v := os.Getenv("PETREL_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitCommaList(v)
	}
}

// Validate checks the final configuration for consistency.
func (c *Config) Validate() error {
	if c.Ingest.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max_file_size_mb must be positive, got %d", c.Ingest.MaxFileSizeMB)
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Ingest.Workers)
	}

	validDevices := map[string]bool{"mps": true, "cuda": true, "cpu": true}
	if !validDevices[strings.ToLower(c.Embedding.Device)] {
		return fmt.Errorf("embedding.device must be 'mps', 'cuda', or 'cpu', got %s", c.Embedding.Device)
	}

	validPrecisions := map[string]bool{"fp16": true, "int8": true, "fp32": true}
	if !validPrecisions[strings.ToLower(c.Embedding.Precision)] {
		return fmt.Errorf("embedding.precision must be 'fp16', 'int8', or 'fp32', got %s", c.Embedding.Precision)
	}

	if c.Embedding.Provider != "" {
		validProviders := map[string]bool{"colpali": true, "static": true}
		if !validProviders[strings.ToLower(c.Embedding.Provider)] {
			return fmt.Errorf("embedding.provider must be 'colpali', 'static', or empty (auto-detect), got %s", c.Embedding.Provider)
		}
	}

	if c.Embedding.RepresentativeTokenIndex < 0 {
		return fmt.Errorf("representative_token_index must be non-negative, got %d", c.Embedding.RepresentativeTokenIndex)
	}

	if c.Status.TTLSeconds <= 0 {
		return fmt.Errorf("status ttl_seconds must be positive, got %d", c.Status.TTLSeconds)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %s", c.Logging.Format)
	}

	return nil
}

// Validator builds a FileValidator from the snapshot's format list.
func (c *Config) Validator() *validate.FileValidator {
	return validate.New(c.Ingest.SupportedFormats)
}

// ValidateFile checks a candidate file against the snapshot's format list
// and size cap. Thin delegation to FileValidator.
func (c *Config) ValidateFile(path string, sizeBytes int64) (bool, string) {
	return c.Validator().Validate(path, sizeBytes, c.Ingest.MaxFileSizeMB)
}

// MaxFileSizeBytes returns the size cap in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.Ingest.MaxFileSizeMB) * 1024 * 1024
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func splitCommaList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
