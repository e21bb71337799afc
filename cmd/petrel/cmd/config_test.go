package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-search/petrel/internal/config"
)

// chdirTemp moves the test into a fresh directory so config files and
// data directories never leak between tests.
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() { _ = os.Chdir(oldDir) })
	return tmpDir
}

func TestConfigInit_CreatesFile(t *testing.T) {
	// Given: an empty directory
	tmpDir := chdirTemp(t)

	// When: running config init
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"config", "init"})
	require.NoError(t, cmd.Execute())

	// Then: petrel.yaml exists and the loader accepts it
	path := filepath.Join(tmpDir, "petrel.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "upload_dir")
	assert.Contains(t, string(data), "embedding")

	_, err = config.Load(tmpDir)
	require.NoError(t, err)
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile("petrel.yaml", []byte("version: 1\n"), 0o644))

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "init"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrites(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile("petrel.yaml", []byte("version: 1\n"), 0o644))

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "init", "--force"})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile("petrel.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "upload_dir")
}

func TestConfigShow_JSON(t *testing.T) {
	chdirTemp(t)

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"config", "show", "--json"})
	require.NoError(t, cmd.Execute())

	var cfg config.Config
	require.NoError(t, json.Unmarshal(buf.Bytes(), &cfg))
	assert.Equal(t, "uploads", cfg.Paths.UploadDir)
	assert.Equal(t, ".petrel", cfg.Paths.DataDir)
	assert.Equal(t, 10, cfg.Search.DefaultK)
}

func TestConfigShow_ReflectsFile(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile("petrel.yaml", []byte("paths:\n  upload_dir: dropbox\n"), 0o644))

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"config", "show", "--json"})
	require.NoError(t, cmd.Execute())

	var cfg config.Config
	require.NoError(t, json.Unmarshal(buf.Bytes(), &cfg))
	assert.Equal(t, "dropbox", cfg.Paths.UploadDir)
}

func TestConfigPath(t *testing.T) {
	chdirTemp(t)

	t.Run("missing file is flagged", func(t *testing.T) {
		cmd := NewRootCmd()
		buf := &bytes.Buffer{}
		cmd.SetOut(buf)
		cmd.SetArgs([]string{"config", "path"})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, buf.String(), "not created yet")
	})

	t.Run("existing file prints absolute path", func(t *testing.T) {
		require.NoError(t, os.WriteFile("petrel.yaml", []byte("version: 1\n"), 0o644))
		cmd := NewRootCmd()
		buf := &bytes.Buffer{}
		cmd.SetOut(buf)
		cmd.SetArgs([]string{"config", "path"})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, buf.String(), "petrel.yaml")
		assert.True(t, filepath.IsAbs(strings.TrimSpace(buf.String())))
		assert.NotContains(t, buf.String(), "not created yet")
	})
}
