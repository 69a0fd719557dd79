package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 500, cfg.Chunker.MaxChunks)
	assert.Equal(t, 50, cfg.Embedder.BatchSize)
	assert.Equal(t, 384, cfg.Embedder.Local.Dimension)
	assert.Equal(t, "doc_chunks", cfg.Index.Collection)
	assert.Equal(t, "gemini-2.5-flash", cfg.Generator.Model)
	assert.Contains(t, cfg.Server.AllowedExtensions, ".pdf")
}

func TestLoadFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunker:\n  chunk_size: 800\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, "doc_chunks", cfg.Index.Collection)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- bad"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Index.DataDir = "/var/lib/smartdocq"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/smartdocq", loaded.Index.DataDir)
	assert.Equal(t, cfg.Embedder.Local.BaseURL, loaded.Embedder.Local.BaseURL)
}
