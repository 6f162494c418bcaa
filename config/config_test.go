package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/siherrmann/grounder/helper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Load file with defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
log_level: debug
graph:
  backend: postgres
  namespace: movies
retrieval:
  threshold: 0.8
  hops: 3
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, BackendPostgres, cfg.Graph.Backend)
		assert.Equal(t, "movies", cfg.Graph.Namespace)
		assert.Equal(t, BackendMemory, cfg.Vectors.Backend)
		assert.InDelta(t, 0.8, cfg.Retrieval.Threshold, 1e-9)
		assert.Equal(t, 3, cfg.Retrieval.Hops)
		assert.Equal(t, 5, cfg.Retrieval.MaxSeeds, "Expected default max seeds")
		assert.Equal(t, ProviderHugot, cfg.Embedding.Provider)
		assert.Equal(t, 384, cfg.Embedding.Dimension)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("Malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("graph: [unclosed"))
		assert.Error(t, err)
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NEO4J_URI", "bolt://neo4j:7687")
	t.Setenv("NEO4J_PASSWORD", "secret")
	t.Setenv("EMBEDDING_API_KEY", "key")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Parse([]byte(`
graph:
  backend: neo4j
embedding:
  provider: openai
  model: text-embedding-3-small
  dimension: 1536
`))
	require.NoError(t, err)
	assert.Equal(t, "bolt://neo4j:7687", cfg.Graph.Neo4j.URI)
	assert.Equal(t, "secret", cfg.Graph.Neo4j.Password)
	assert.Equal(t, "key", cfg.Embedding.APIKey)
	assert.Equal(t, "localhost:6379", cfg.Embedding.RedisAddr)

	t.Run("String masks secrets", func(t *testing.T) {
		rendered := cfg.String()
		assert.NotContains(t, rendered, "secret")
		assert.Contains(t, rendered, "***")
		assert.Equal(t, "secret", cfg.Graph.Neo4j.Password, "Expected String to leave the config unchanged")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"Unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"Unknown graph backend", func(c *Config) { c.Graph.Backend = "sqlite" }},
		{"Neo4j vector backend", func(c *Config) { c.Vectors.Backend = BackendNeo4j }},
		{"Unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"Invalid namespace", func(c *Config) { c.Graph.Namespace = "1abc" }},
		{"Invalid collection", func(c *Config) { c.Vectors.Collection = "a-b" }},
		{"Neo4j without uri", func(c *Config) { c.Graph.Backend = BackendNeo4j; c.Graph.Neo4j.URI = "" }},
		{"Remote provider without dimension", func(c *Config) { c.Embedding.Provider = ProviderOllama; c.Embedding.Dimension = 0 }},
		{"OpenAI without key", func(c *Config) {
			c.Embedding.Provider = ProviderOpenAI
			c.Embedding.Dimension = 8
			c.Embedding.APIKey = ""
		}},
		{"Unknown chunker", func(c *Config) { c.Ingestion.Chunker = "token" }},
		{"Hops out of range", func(c *Config) { c.Retrieval.Hops = 6 }},
		{"Threshold out of range", func(c *Config) { c.Retrieval.Threshold = 1.5 }},
		{"Zero parallelism", func(c *Config) { c.Retrieval.Parallelism = 0 }},
	}

	require.NoError(t, Default().Validate(), "Expected the default config to be valid")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), helper.ErrInvalidArgument)
		})
	}
}
