package config

import "github.com/siherrmann/grounder/model"

// Default returns a configuration for the in-memory stores and the local hugot embedder.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Graph.Backend == "" {
		cfg.Graph.Backend = BackendMemory
	}
	if cfg.Graph.Namespace == "" {
		cfg.Graph.Namespace = "grounder"
	}
	if cfg.Graph.Neo4j.Database == "" {
		cfg.Graph.Neo4j.Database = "neo4j"
	}
	if cfg.Vectors.Backend == "" {
		cfg.Vectors.Backend = BackendMemory
	}
	if cfg.Vectors.Collection == "" {
		cfg.Vectors.Collection = "passages"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderHugot
	}
	if cfg.Embedding.Provider == ProviderHugot {
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = "sentence-transformers/all-MiniLM-L6-v2"
		}
		if cfg.Embedding.Dimension == 0 {
			cfg.Embedding.Dimension = 384
		}
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.Concurrency == 0 {
		cfg.Embedding.Concurrency = 4
	}
	if cfg.Embedding.TimeoutSec == 0 {
		cfg.Embedding.TimeoutSec = 60
	}

	defaults := model.DefaultRetrievalOptions()
	if cfg.Retrieval.Threshold == 0 {
		cfg.Retrieval.Threshold = defaults.Threshold
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = defaults.TopK
	}
	if cfg.Retrieval.MaxSeeds == 0 {
		cfg.Retrieval.MaxSeeds = defaults.MaxSeeds
	}
	if cfg.Retrieval.Hops == 0 {
		cfg.Retrieval.Hops = defaults.Hops
	}
	if cfg.Retrieval.MaxEdges == 0 {
		cfg.Retrieval.MaxEdges = defaults.MaxEdges
	}
	if cfg.Retrieval.MaxBytes == 0 {
		cfg.Retrieval.MaxBytes = defaults.MaxBytes
	}
	if cfg.Retrieval.Parallelism == 0 {
		cfg.Retrieval.Parallelism = 4
	}

	if cfg.Ingestion.Chunker == "" {
		cfg.Ingestion.Chunker = "sentence"
	}
	if cfg.Ingestion.SentencesPerChunk == 0 {
		cfg.Ingestion.SentencesPerChunk = 3
	}
}
