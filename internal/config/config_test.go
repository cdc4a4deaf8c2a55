package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "hashing", cfg.Embedder.Type)
	assert.Equal(t, "extractive", cfg.Generator.Type)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	require.NotNil(t, cfg.Retrieval.SimilarityThreshold)
	assert.InDelta(t, 0.3, *cfg.Retrieval.SimilarityThreshold, 1e-6)
	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedder:
  type: openai
generator:
  type: gemini
retrieval:
  similarity_threshold: 0
  greeting_phrases: [ahoy]
chunker:
  overlap_segments: 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Embedder.OpenAI.BaseURL)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.OpenAI.Model)
	require.NotNil(t, cfg.Generator.Gemini)
	assert.Equal(t, "GEMINI_API_KEY", cfg.Generator.Gemini.APIKeyEnv)
	assert.Equal(t, float32(0), *cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, []string{"ahoy"}, cfg.Retrieval.GreetingPhrases)
	assert.Equal(t, 2, cfg.Chunker.OverlapSegments)
	assert.Equal(t, 200, cfg.Chunker.TargetWords)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("embedder:\n  type: word2vec\n"), 0o644))
	_, err := Load(bad)
	assert.ErrorContains(t, err, "Type")

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("embedder: [\n"), 0o644))
	_, err = Load(broken)
	assert.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Retrieval.TopK = 7
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadDefaultWritesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "transcript-rag", "config.yaml"), path)
	assert.FileExists(t, path)
	assert.Equal(t, defaultConfig(), cfg)

	require.NoError(t, os.WriteFile("config.yaml", []byte("retrieval:\n  top_k: 9\n"), 0o644))
	cfg, path, err = LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", path)
	assert.Equal(t, 9, cfg.Retrieval.TopK)
}
