package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"

	"github.com/siherrmann/grounder"
	"github.com/siherrmann/grounder/config"
	"github.com/siherrmann/grounder/model"
)

// Reads NEO4J_URI, NEO4J_USERNAME and NEO4J_PASSWORD from the environment or a .env file.
//
//	go run ./example/neo4j -triples triples.jsonl -query "Who founded Apple?"
func main() {
	configPath := flag.String("config", "", "yaml config file, defaults to the neo4j graph with the hugot embedder")
	triplesPath := flag.String("triples", "", "jsonl file with one {\"h\", \"r\", \"t\"} object per line")
	query := flag.String("query", "", "question to retrieve the context for")
	hops := flag.Int("hops", 2, "expansion depth")
	flag.Parse()

	ctx := context.Background()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg = config.Default()
		cfg.Graph.Backend = config.BackendNeo4j
		config.ApplyEnv(cfg)
		err = cfg.Validate()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	g, err := grounder.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create grounder: %v", err)
	}
	defer g.Close(ctx)

	if *triplesPath != "" {
		result, err := g.IngestTriplesFile(ctx, *triplesPath)
		if err != nil {
			log.Fatalf("Failed to ingest %s: %v", *triplesPath, err)
		}
		fmt.Printf("Ingested %d triples with %d entities in %s\n", result.Triples, result.Entities, result.Duration)
	}

	info, err := g.Describe(ctx)
	if err != nil {
		log.Fatalf("Failed to describe graph: %v", err)
	}
	fmt.Printf("Graph %s (%s): %d entities, %d relations\n", info.Namespace, info.State, info.EntityCount, info.RelationCount)

	if *query == "" {
		return
	}

	opts := cfg.Retrieval.RetrievalOptions
	opts.Hops = *hops

	response, err := g.Answer(ctx, &model.RetrievalRequest{Query: *query, Options: &opts})
	if err != nil {
		log.Fatalf("Failed to retrieve: %v", err)
	}

	out, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode response: %v", err)
	}
	fmt.Println(string(out))
}
