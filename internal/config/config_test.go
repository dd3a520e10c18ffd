package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deepsearch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithMemoryStore(t *testing.T) {
	t.Setenv("DEEPSEARCH_CONFIG", "")
	t.Setenv("VECTOR_STORE_PROVIDER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.VectorStore.Provider)
	assert.Equal(t, 3, cfg.Search.MaxRounds)
	assert.Equal(t, 1, cfg.Search.MinNewChunks)
	assert.Equal(t, 15*time.Second, cfg.Search.Timeouts.Embed)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: openai
  model: gpt-4o-mini
  api_key: from-file
embedding:
  provider: jina
  model: jina-embeddings-v3
vector_store:
  provider: qdrant
  endpoint: http://qdrant:6333
  descriptions:
    hr: people policies
search:
  max_rounds: 5
  top_k: 8
  fan_out: 3
  concurrency: 4
  timeouts:
    embed: 2s
    search: 3s
    plan: 10s
    reflect: 10s
    synthesize: 30s
`)
	t.Setenv("DEEPSEARCH_CONFIG", path)
	t.Setenv("SEARCH_MAX_ROUNDS", "7")
	t.Setenv("LLM_API_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, "jina", cfg.Embedding.Provider)
	assert.Equal(t, "http://qdrant:6333", cfg.VectorStore.Endpoint)
	assert.Equal(t, "people policies", cfg.VectorStore.Descriptions["hr"])
	assert.Equal(t, 7, cfg.Search.MaxRounds)
	assert.Equal(t, 8, cfg.Search.TopK)
	assert.Equal(t, 2*time.Second, cfg.Search.Timeouts.Embed)
	// untouched fields keep their defaults
	assert.True(t, cfg.Search.RouteCollections)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("DEEPSEARCH_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "memory store", mutate: func(c *Config) { c.VectorStore.Provider = "memory" }},
		{name: "pgvector with dsn", mutate: func(c *Config) { c.Database.Connection = "postgres://x" }},
		{name: "pgvector without dsn", mutate: func(c *Config) {}, wantErr: true},
		{name: "unknown store", mutate: func(c *Config) { c.VectorStore.Provider = "faiss" }, wantErr: true},
		{name: "qdrant without endpoint", mutate: func(c *Config) { c.VectorStore.Provider = "qdrant" }, wantErr: true},
		{
			name: "unknown llm",
			mutate: func(c *Config) {
				c.VectorStore.Provider = "memory"
				c.LLM.Provider = "anthropic"
			},
			wantErr: true,
		},
		{
			name: "unknown embedding",
			mutate: func(c *Config) {
				c.VectorStore.Provider = "memory"
				c.Embedding.Provider = "huggingface"
			},
			wantErr: true,
		},
		{
			name: "zero rounds",
			mutate: func(c *Config) {
				c.VectorStore.Provider = "memory"
				c.Search.MaxRounds = 0
			},
			wantErr: true,
		},
		{
			name: "zero timeout",
			mutate: func(c *Config) {
				c.VectorStore.Provider = "memory"
				c.Search.Timeouts.Synthesize = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
