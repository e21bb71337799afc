package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "uploads", cfg.Paths.UploadDir)
	assert.Equal(t, ".petrel", cfg.Paths.DataDir)

	// Ingest defaults
	assert.Contains(t, cfg.Ingest.SupportedFormats, "pdf")
	assert.Contains(t, cfg.Ingest.SupportedFormats, "docx")
	assert.Contains(t, cfg.Ingest.SupportedFormats, "png")
	assert.Equal(t, 100, cfg.Ingest.MaxFileSizeMB)
	assert.Equal(t, 250, cfg.Ingest.ChunkSize)
	assert.Equal(t, 50, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 150, cfg.Ingest.PageRenderDPI)
	assert.True(t, cfg.Ingest.QueueEnabled)
	assert.GreaterOrEqual(t, cfg.Ingest.Workers, 1)
	assert.LessOrEqual(t, cfg.Ingest.Workers, 4)
	assert.Equal(t, "2s", cfg.Ingest.WatchQuietPeriod)

	// Embedding defaults (empty provider triggers auto-detection)
	assert.Equal(t, "", cfg.Embedding.Provider)
	assert.Equal(t, "colpali-v1.3", cfg.Embedding.Model)
	assert.Equal(t, "cpu", cfg.Embedding.Device)
	assert.Equal(t, "fp16", cfg.Embedding.Precision)
	assert.Equal(t, 4, cfg.Embedding.BatchSizeVisual)
	assert.Equal(t, 8, cfg.Embedding.BatchSizeText)
	assert.Equal(t, 0, cfg.Embedding.RepresentativeTokenIndex)

	// Search defaults
	assert.Equal(t, 10, cfg.Search.DefaultK)
	assert.Equal(t, "2s", cfg.Search.Stage1Timeout)
	assert.Equal(t, "3s", cfg.Search.Stage2Timeout)
	assert.Equal(t, 512, cfg.Search.QueryCacheSize)

	// Server and status defaults
	assert.Equal(t, "127.0.0.1:8093", cfg.Server.BindAddr)
	assert.Empty(t, cfg.Server.CORSOrigins)
	assert.Equal(t, 3600, cfg.Status.TTLSeconds)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	// Given: a directory with no petrel.yaml
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 250, cfg.Ingest.ChunkSize)
}

func TestLoad_YamlFileOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
ingest:
  max_file_size_mb: 20
  chunk_size: 300
  chunk_overlap: 40
search:
  default_k: 25
server:
  bind_addr: "0.0.0.0:9000"
`
	err := os.WriteFile(filepath.Join(tmpDir, "petrel.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Ingest.MaxFileSizeMB)
	assert.Equal(t, 300, cfg.Ingest.ChunkSize)
	assert.Equal(t, 40, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 25, cfg.Search.DefaultK)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.BindAddr)

	// Untouched fields keep their defaults.
	assert.Equal(t, 150, cfg.Ingest.PageRenderDPI)
}

func TestLoad_YmlExtensionIsRecognized(t *testing.T) {
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "petrel.yml"),
		[]byte("ingest:\n  chunk_size: 111\n"), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 111, cfg.Ingest.ChunkSize)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "petrel.yaml"),
		[]byte("ingest:\n  chunk_size: 222\n"), 0o644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, "petrel.yml"),
		[]byte("ingest:\n  chunk_size: 333\n"), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 222, cfg.Ingest.ChunkSize)
}

func TestLoad_ExplicitConfigPathWins(t *testing.T) {
	// Given: PETREL_CONFIG pointing outside the working directory
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "petrel.yaml"),
		[]byte("ingest:\n  chunk_size: 222\n"), 0o644)
	require.NoError(t, err)

	other := filepath.Join(t.TempDir(), "custom.yaml")
	err = os.WriteFile(other, []byte("ingest:\n  chunk_size: 444\n"), 0o644)
	require.NoError(t, err)
	t.Setenv("PETREL_CONFIG", other)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 444, cfg.Ingest.ChunkSize)
}

func TestLoad_InvalidYamlReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "petrel.yaml"),
		[]byte("ingest:\n  chunk_size: [broken\n"), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
ingest:
  supported_formats: [pdf, docx]
  max_file_size_mb: 20
`
	err := os.WriteFile(filepath.Join(tmpDir, "petrel.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	t.Setenv("SUPPORTED_FORMATS", "pdf, md , ")
	t.Setenv("MAX_FILE_SIZE_MB", "10")
	t.Setenv("PETREL_BIND_ADDR", "127.0.0.1:9999")
	t.Setenv("PETREL_CORS_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, []string{"pdf", "md"}, cfg.Ingest.SupportedFormats)
	assert.Equal(t, 10, cfg.Ingest.MaxFileSizeMB)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.BindAddr)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
}

func TestLoad_BadNumericEnvIsIgnored(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MAX_FILE_SIZE_MB", "ten")
	t.Setenv("TEXT_CHUNK_SIZE", "-5")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Ingest.MaxFileSizeMB)
	assert.Equal(t, 250, cfg.Ingest.ChunkSize)
}

func TestLoad_EnableQueueParsing(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"1", true},
		{"true", true},
		{"YES", true},
		{"on", true},
		{"0", false},
		{"false", false},
		{"off", false},
		{"nonsense", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			tmpDir := t.TempDir()
			t.Setenv("ENABLE_QUEUE", tt.value)

			cfg, err := Load(tmpDir)

			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Ingest.QueueEnabled)
		})
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero file size", func(c *Config) { c.Ingest.MaxFileSizeMB = 0 }},
		{"zero chunk size", func(c *Config) { c.Ingest.ChunkSize = 0 }},
		{"overlap >= size", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }},
		{"zero workers", func(c *Config) { c.Ingest.Workers = 0 }},
		{"bad device", func(c *Config) { c.Embedding.Device = "tpu" }},
		{"bad precision", func(c *Config) { c.Embedding.Precision = "fp64" }},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "openai" }},
		{"negative token index", func(c *Config) { c.Embedding.RepresentativeTokenIndex = -1 }},
		{"zero ttl", func(c *Config) { c.Status.TTLSeconds = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	assert.NoError(t, NewConfig().Validate())
}

func TestMaxFileSizeBytes(t *testing.T) {
	cfg := NewConfig()
	cfg.Ingest.MaxFileSizeMB = 3
	assert.Equal(t, int64(3*1024*1024), cfg.MaxFileSizeBytes())
}

func TestValidateFile_UsesFormatListAndCap(t *testing.T) {
	cfg := NewConfig()
	cfg.Ingest.SupportedFormats = []string{"pdf"}
	cfg.Ingest.MaxFileSizeMB = 1

	ok, _ := cfg.ValidateFile("report.pdf", 512)
	assert.True(t, ok)

	ok, msg := cfg.ValidateFile("tool.exe", 512)
	assert.False(t, ok)
	assert.Contains(t, msg, "Unsupported file type")

	ok, msg = cfg.ValidateFile("big.pdf", 2*1024*1024)
	assert.False(t, ok)
	assert.Contains(t, msg, "File too large")
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := NewConfig()
	cfg.Ingest.ChunkSize = 321
	cfg.Search.DefaultK = 7

	path := filepath.Join(tmpDir, "petrel.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 321, loaded.Ingest.ChunkSize)
	assert.Equal(t, 7, loaded.Search.DefaultK)
}
