// Package config provides the file based configuration of a grounder instance.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
	"gopkg.in/yaml.v3"
)

// Backend names a store implementation.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendNeo4j    Backend = "neo4j"
	BackendMemory   Backend = "memory"
)

// EmbeddingProvider names an embedding implementation in the provider registry.
type EmbeddingProvider string

const (
	ProviderHugot  EmbeddingProvider = "hugot"
	ProviderOpenAI EmbeddingProvider = "openai"
	ProviderOllama EmbeddingProvider = "ollama"
)

// Config holds all configuration for a grounder instance.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Graph     GraphConfig     `yaml:"graph"`
	Vectors   VectorConfig    `yaml:"vectors"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingestion IngestionConfig `yaml:"ingestion"`
}

// GraphConfig selects the graph store.
type GraphConfig struct {
	Backend   Backend     `yaml:"backend"`
	Namespace string      `yaml:"namespace"`
	Force     bool        `yaml:"force"` // reload the sql functions on start
	Neo4j     Neo4jConfig `yaml:"neo4j"`
}

// Neo4jConfig holds the bolt connection settings.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// VectorConfig selects the passage store.
type VectorConfig struct {
	Backend    Backend `yaml:"backend"`
	Collection string  `yaml:"collection"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	Provider    EmbeddingProvider `yaml:"provider"`
	Model       string            `yaml:"model"`
	Dimension   int               `yaml:"dimension"`
	BaseURL     string            `yaml:"base_url"`
	APIKey      string            `yaml:"api_key"`
	BatchSize   int               `yaml:"batch_size"`
	Concurrency int64             `yaml:"concurrency"`
	TimeoutSec  int               `yaml:"timeout_sec"`
	CacheSize   int               `yaml:"cache_size"`
	RedisAddr   string            `yaml:"redis_addr"`
	CacheTTLSec int               `yaml:"cache_ttl_sec"`
}

// RetrievalConfig holds the default retrieval options and the expansion parallelism.
type RetrievalConfig struct {
	model.RetrievalOptions `yaml:",inline"`
	Parallelism            int `yaml:"parallelism"`
}

// IngestionConfig holds the document chunking settings.
type IngestionConfig struct {
	Chunker           string `yaml:"chunker"` // sentence or paragraph
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
}

// Load reads and parses the config file at path, applies environment overrides and defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, helper.NewError("read config", err)
	}
	return Parse(data)
}

// Parse parses a yaml document like Load does.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, helper.NewError("parse config", err)
	}

	ApplyEnv(cfg)
	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and addresses from the environment.
// A .env file in the working directory is loaded first if present.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("NEO4J_URI"); v != "" {
		cfg.Graph.Neo4j.URI = v
	}
	if v := os.Getenv("NEO4J_USERNAME"); v != "" {
		cfg.Graph.Neo4j.Username = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		cfg.Graph.Neo4j.Password = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Embedding.RedisAddr = v
	}
}

// Level returns the configured slog level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, helper.Errorf(helper.ErrInvalidArgument, "log level %q", c.LogLevel)
	}
	return level, nil
}

// Validate checks backends, provider and retrieval defaults.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return helper.NewError("log level", err)
	}
	switch c.Graph.Backend {
	case BackendPostgres, BackendNeo4j, BackendMemory:
	default:
		return helper.NewError("graph backend", helper.Errorf(helper.ErrInvalidArgument, "unknown backend %q", c.Graph.Backend))
	}
	switch c.Vectors.Backend {
	case BackendPostgres, BackendMemory:
	default:
		return helper.NewError("vector backend", helper.Errorf(helper.ErrInvalidArgument, "unknown backend %q", c.Vectors.Backend))
	}
	switch c.Embedding.Provider {
	case ProviderHugot, ProviderOpenAI, ProviderOllama:
	default:
		return helper.NewError("embedding provider", helper.Errorf(helper.ErrInvalidArgument, "unknown provider %q", c.Embedding.Provider))
	}

	if err := model.ValidateName(c.Graph.Namespace); err != nil {
		return helper.NewError("graph namespace", err)
	}
	if err := model.ValidateName(c.Vectors.Collection); err != nil {
		return helper.NewError("vector collection", err)
	}
	if c.Graph.Backend == BackendNeo4j && c.Graph.Neo4j.URI == "" {
		return helper.NewError("neo4j", helper.Errorf(helper.ErrInvalidArgument, "uri must be set for the neo4j backend"))
	}
	if c.Embedding.Provider != ProviderHugot && c.Embedding.Dimension < 1 {
		return helper.NewError("embedding dimension", helper.Errorf(helper.ErrInvalidArgument,
			"dimension must be set for provider %s", c.Embedding.Provider))
	}
	if c.Embedding.Provider == ProviderOpenAI && c.Embedding.APIKey == "" {
		return helper.NewError("embedding api key", helper.Errorf(helper.ErrInvalidArgument, "api key must be set for provider openai"))
	}
	switch c.Ingestion.Chunker {
	case "sentence", "paragraph":
	default:
		return helper.NewError("chunker", helper.Errorf(helper.ErrInvalidArgument, "unknown chunker %q", c.Ingestion.Chunker))
	}

	if err := c.Retrieval.Validate(); err != nil {
		return helper.NewError("retrieval defaults", err)
	}
	if c.Retrieval.Parallelism < 1 {
		return helper.NewError("retrieval parallelism", helper.Errorf(helper.ErrInvalidArgument, "parallelism %d must be positive", c.Retrieval.Parallelism))
	}

	return nil
}

// String renders the config without secrets for logging.
func (c *Config) String() string {
	masked := *c
	if masked.Graph.Neo4j.Password != "" {
		masked.Graph.Neo4j.Password = "***"
	}
	if masked.Embedding.APIKey != "" {
		masked.Embedding.APIKey = "***"
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return strings.TrimSpace(string(data))
}
