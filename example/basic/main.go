package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/siherrmann/grounder"
	"github.com/siherrmann/grounder/config"
	"github.com/siherrmann/grounder/core/pipeline"
	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
)

const sampleContent = `Marie Curie was a physicist and chemist who conducted pioneering research on radioactivity.
She was the first woman to win a Nobel Prize. She won the Nobel Prize in Physics in 1903 together with Pierre Curie.

Pierre Curie was a French physicist. He worked at the University of Paris.`

var sampleTriples = []model.Triple{
	{H: "Marie Curie", R: "married to", T: "Pierre Curie"},
	{H: "Marie Curie", R: "won", T: "Nobel Prize in Physics"},
	{H: "Pierre Curie", R: "won", T: "Nobel Prize in Physics"},
	{H: "Pierre Curie", R: "worked at", T: "University of Paris"},
	{H: "University of Paris", R: "located in", T: "Paris"},
}

func main() {
	rebelPath := flag.String("rebel", "", "path to a REBEL onnx model, extracts triples from the ingested document")
	flag.Parse()
	ctx := context.Background()

	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "grounder",
		Username: "grounder",
		Password: "grounder",
		Schema:   "public",
		SSLMode:  "disable",
	}

	// Postgres for the graph and the passages, hugot with all-MiniLM-L6-v2 for the embeddings
	cfg := config.Default()
	cfg.Graph.Backend = config.BackendPostgres
	cfg.Vectors.Backend = config.BackendPostgres

	opts := []grounder.Option{grounder.WithDatabaseConfiguration(dbConfig)}
	if *rebelPath != "" {
		extractor, err := pipeline.NewREBELExtractor(*rebelPath)
		if err != nil {
			log.Fatalf("Failed to load REBEL model: %v", err)
		}
		defer extractor.Close()
		opts = append(opts, grounder.WithTripleExtractor(extractor.Extract))
	}

	g, err := grounder.New(ctx, cfg, opts...)
	if err != nil {
		log.Fatalf("Failed to create grounder: %v", err)
	}
	defer g.Close(ctx)

	fmt.Println("Ingesting triples...")
	result, err := g.IngestTriples(ctx, sampleTriples)
	if err != nil {
		log.Fatalf("Failed to ingest triples: %v", err)
	}
	fmt.Printf("Ingested %d triples with %d entities in %s\n", result.Triples, result.Entities, result.Duration)

	fmt.Println("Ingesting document...")
	result, err = g.IngestDocument(ctx, sampleContent, "curie_example")
	if err != nil {
		log.Fatalf("Failed to ingest document: %v", err)
	}
	fmt.Printf("Inserted %d passages and %d extracted triples\n", result.Passages, result.Triples)

	queryText := "Marie Curie"
	fmt.Printf("\nQuerying: %s\n", queryText)

	retrievalOpts := model.DefaultRetrievalOptions()
	retrievalOpts.Threshold = 0.6
	retrievalOpts.Collection = cfg.Vectors.Collection

	retrieved, err := g.Retrieve(ctx, queryText, &retrievalOpts)
	if err != nil {
		log.Fatalf("Failed to retrieve: %v", err)
	}

	fmt.Printf("\nSeeds:\n")
	for _, seed := range retrieved.Seeds {
		fmt.Printf("  %s (%.4f)\n", seed.Name, seed.Score)
	}

	fmt.Printf("\nContext (%d relations, truncated: %v):\n", len(retrieved.Edges), retrieved.Truncated)
	for _, edge := range retrieved.Edges {
		fmt.Printf("  %s  [seed %s, %d hops]\n", edge.Relation, edge.Seed, len(edge.Path)+1)
	}

	fmt.Printf("\nPassages:\n")
	for _, passage := range retrieved.Passages {
		fmt.Printf("  %.4f  %s\n", passage.Score, passage.Text)
	}

	info, err := g.Describe(ctx)
	if err != nil {
		log.Fatalf("Failed to describe graph: %v", err)
	}
	fmt.Printf("\nGraph %s: %d entities, %d relations, types %v\n", info.Namespace, info.EntityCount, info.RelationCount, info.RelationTypes)

	fmt.Println("\nBasic example completed successfully!")
}
