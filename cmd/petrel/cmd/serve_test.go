package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServeConfig_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := loadServeConfig(serveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8093", cfg.Server.BindAddr)
	assert.Equal(t, "uploads", cfg.Paths.UploadDir)
}

func TestLoadServeConfig_BindOverride(t *testing.T) {
	chdirTemp(t)

	cfg, err := loadServeConfig(serveOptions{bindAddr: "0.0.0.0:9999"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.BindAddr)
}

func TestLoadServeConfig_ExplicitFile(t *testing.T) {
	// Given a config file outside the working directory
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("paths:\n  upload_dir: dropzone\n"), 0o644))

	// When loading it via --config
	cfg, err := loadServeConfig(serveOptions{configPath: path})
	require.NoError(t, err)

	// Then the file's values land on top of the defaults
	assert.Equal(t, "dropzone", cfg.Paths.UploadDir)
	assert.Equal(t, ".petrel", cfg.Paths.DataDir)
}

func TestLoadServeConfig_MissingExplicitFile(t *testing.T) {
	chdirTemp(t)

	_, err := loadServeConfig(serveOptions{configPath: "/nonexistent/petrel.yaml"})
	require.Error(t, err)
}

func TestDurationOr(t *testing.T) {
	assert.Equal(t, 15*time.Minute, durationOr("", 15*time.Minute))
	assert.Equal(t, 15*time.Minute, durationOr("garbage", 15*time.Minute))
	assert.Equal(t, 15*time.Minute, durationOr("-3s", 15*time.Minute))
	assert.Equal(t, 2*time.Second, durationOr("2s", 15*time.Minute))
}
