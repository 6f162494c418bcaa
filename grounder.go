package grounder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/siherrmann/grounder/config"
	"github.com/siherrmann/grounder/core/graph"
	"github.com/siherrmann/grounder/core/pipeline"
	"github.com/siherrmann/grounder/core/retrieval"
	"github.com/siherrmann/grounder/core/vector"
	"github.com/siherrmann/grounder/database"
	"github.com/siherrmann/grounder/database/neo4jdb"
	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
	loadSql "github.com/siherrmann/grounder/sql"
)

// Grounder wires the configured stores, the embedder, the retrieval engine and the ingestor
type Grounder struct {
	Config   *config.Config
	DB       *helper.Database // Only set for the postgres backends
	Graph    retrieval.GraphStore
	Vectors  retrieval.VectorStore
	Embedder pipeline.Embedder
	Engine   *retrieval.Engine
	Ingestor *pipeline.Ingestor

	passages *database.PassagesDBHandler
	neo4j    *neo4jdb.Store
	// Logging
	log *slog.Logger
}

type options struct {
	embedder  pipeline.Embedder
	logger    *slog.Logger
	database  *helper.DatabaseConfiguration
	extractor pipeline.TripleExtractFunc
}

// Option changes how New builds a Grounder
type Option func(*options)

// WithEmbedder uses embedder instead of the configured provider.
func WithEmbedder(embedder pipeline.Embedder) Option {
	return func(o *options) { o.embedder = embedder }
}

// WithLogger uses logger instead of the pretty handler at the configured level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDatabaseConfiguration sets the postgres connection, by default it is read from the environment.
func WithDatabaseConfiguration(dbConfig *helper.DatabaseConfiguration) Option {
	return func(o *options) { o.database = dbConfig }
}

// WithTripleExtractor extracts triples from every chunk of an ingested document.
func WithTripleExtractor(extractor pipeline.TripleExtractFunc) Option {
	return func(o *options) { o.extractor = extractor }
}

// New creates a Grounder from cfg. A nil cfg uses config.Default.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Grounder, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// Logger
	logger := o.logger
	if logger == nil {
		level, _ := cfg.Level()
		logger = slog.New(helper.NewPrettyHandler(os.Stdout, helper.PrettyHandlerOptions{
			SlogOpts: slog.HandlerOptions{Level: level},
		}))
	}

	g := &Grounder{Config: cfg, log: logger}

	embedder := o.embedder
	if embedder == nil {
		var err error
		embedder, err = pipeline.NewEmbedder(cfg.Embedding, logger)
		if err != nil {
			return nil, helper.NewError("create embedder", err)
		}
	}
	g.Embedder = embedder

	if cfg.Graph.Backend == config.BackendPostgres || cfg.Vectors.Backend == config.BackendPostgres {
		if err := g.openDatabase(ctx, o.database); err != nil {
			g.Close(ctx)
			return nil, err
		}
	}

	if err := g.openGraph(ctx); err != nil {
		g.Close(ctx)
		return nil, err
	}
	if err := g.openVectors(ctx); err != nil {
		g.Close(ctx)
		return nil, err
	}

	g.Engine = retrieval.NewEngine(g.Graph, g.Vectors, embedder, logger)
	g.Engine.Defaults = cfg.Retrieval.RetrievalOptions
	g.Engine.Parallelism = cfg.Retrieval.Parallelism

	chunker := pipeline.SentenceChunker(cfg.Ingestion.SentencesPerChunk)
	if cfg.Ingestion.Chunker == "paragraph" {
		chunker = pipeline.ParagraphChunker()
	}
	g.Ingestor = pipeline.NewIngestor(g.Graph, g.Vectors, embedder, chunker, cfg.Embedding.BatchSize, logger)
	if o.extractor != nil {
		g.Ingestor.SetTripleExtractor(o.extractor)
	}

	logger.Info("Initialized grounder",
		slog.String("graph", string(cfg.Graph.Backend)),
		slog.String("namespace", cfg.Graph.Namespace),
		slog.String("vectors", string(cfg.Vectors.Backend)),
		slog.Int("dimension", embedder.Dimension()))

	return g, nil
}

func (g *Grounder) openDatabase(ctx context.Context, dbConfig *helper.DatabaseConfiguration) error {
	if dbConfig == nil {
		var err error
		dbConfig, err = helper.NewDatabaseConfiguration()
		if err != nil {
			return err
		}
	}

	db, err := helper.NewDatabase("grounder", dbConfig, g.log)
	if err != nil {
		return err
	}
	g.DB = db

	instance, err := db.Conn(ctx)
	if err != nil {
		return helper.NewError("connect", err)
	}
	if err := loadSql.Init(instance); err != nil {
		return helper.NewError("initialize database extensions", err)
	}
	return nil
}

func (g *Grounder) openGraph(ctx context.Context) error {
	cfg := g.Config.Graph
	switch cfg.Backend {
	case config.BackendPostgres:
		handler, err := database.NewGraphDBHandler(ctx, g.DB, cfg.Namespace, cfg.Force)
		if err != nil {
			return helper.NewError("create graph handler", err)
		}
		g.Graph = handler
	case config.BackendNeo4j:
		store, err := neo4jdb.New(ctx, neo4jdb.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		}, cfg.Namespace, g.log)
		if store == nil {
			return helper.NewError("create neo4j store", err)
		}
		if err != nil {
			g.log.Warn("Neo4j is not reachable yet, reconnecting on the next call", slog.String("error", err.Error()))
		}
		g.neo4j = store
		g.Graph = store
	default:
		memory, err := graph.NewMemoryGraph(cfg.Namespace)
		if err != nil {
			return helper.NewError("create memory graph", err)
		}
		g.Graph = memory
	}
	return nil
}

func (g *Grounder) openVectors(ctx context.Context) error {
	switch g.Config.Vectors.Backend {
	case config.BackendPostgres:
		handler, err := database.NewPassagesDBHandler(ctx, g.DB, g.Config.Graph.Force)
		if err != nil {
			return helper.NewError("create passages handler", err)
		}
		g.passages = handler
		g.Vectors = handler
	default:
		g.Vectors = vector.NewMemoryStore(g.log)
	}
	return nil
}

// Close releases the embedder and the store connections.
func (g *Grounder) Close(ctx context.Context) error {
	var errs []error
	if closer, ok := g.Embedder.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	if g.neo4j != nil {
		errs = append(errs, g.neo4j.Close(ctx))
	}
	if g.DB != nil {
		errs = append(errs, g.DB.Close())
	}
	return errors.Join(errs...)
}

// Retrieve returns the graph context and, with a collection in opts, the passages grounding query.
// Nil opts uses the configured retrieval defaults.
func (g *Grounder) Retrieve(ctx context.Context, query string, opts *model.RetrievalOptions) (*model.RetrievalResult, error) {
	return g.Engine.Retrieve(ctx, query, opts)
}

// Answer serves a retrieval request of the chat layer.
func (g *Grounder) Answer(ctx context.Context, req *model.RetrievalRequest) (*model.RetrievalResponse, error) {
	return g.Engine.Answer(ctx, req)
}

// SearchPassages returns the k passages of the configured collection most similar to query.
func (g *Grounder) SearchPassages(ctx context.Context, query string, k int) ([]*model.PassageHit, error) {
	return g.Engine.SearchPassages(ctx, query, g.Config.Vectors.Collection, k)
}

// IngestTriples writes the triples and the embeddings of their entities to the graph.
func (g *Grounder) IngestTriples(ctx context.Context, triples []model.Triple) (*pipeline.IngestResult, error) {
	return g.Ingestor.IngestTriples(ctx, triples)
}

// IngestTriplesFile ingests a file with one json triple {"h", "r", "t"} per line.
func (g *Grounder) IngestTriplesFile(ctx context.Context, path string) (*pipeline.IngestResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, helper.NewError("open triples file", err)
	}
	defer file.Close()

	triples, err := pipeline.ReadTriplesJSONL(file)
	if err != nil {
		return nil, helper.NewError(fmt.Sprintf("read %s", path), err)
	}

	g.log.Info("Read triples file", slog.String("path", path), slog.Int("triples", len(triples)))
	return g.Ingestor.IngestTriples(ctx, triples)
}

// IngestPassages embeds the texts into the configured collection.
func (g *Grounder) IngestPassages(ctx context.Context, texts []string, sourceID string) (*pipeline.IngestResult, error) {
	return g.Ingestor.IngestPassages(ctx, g.Config.Vectors.Collection, texts, sourceID)
}

// IngestDocument chunks text into the configured collection and, with a triple extractor, into the graph.
func (g *Grounder) IngestDocument(ctx context.Context, text string, sourceID string) (*pipeline.IngestResult, error) {
	return g.Ingestor.IngestDocument(ctx, g.Config.Vectors.Collection, text, sourceID)
}

// Describe returns counts, relation types, index dimension and connection state of the graph.
func (g *Grounder) Describe(ctx context.Context) (*model.GraphInfo, error) {
	return g.Graph.Describe(ctx)
}

// Collections lists the passage collections.
func (g *Grounder) Collections(ctx context.Context) ([]*model.CollectionInfo, error) {
	return g.Vectors.Collections(ctx)
}

// DeleteEntity removes an entity and its relations.
func (g *Grounder) DeleteEntity(ctx context.Context, name string) error {
	return g.Graph.DeleteEntity(ctx, name)
}

// DeleteAll empties the graph namespace, confirm has to be model.ConfirmDeleteAll.
func (g *Grounder) DeleteAll(ctx context.Context, confirm model.DeleteAllConfirmation) error {
	return g.Graph.DeleteAll(ctx, confirm)
}

// ChangeIndexType changes the vector index of the configured collection between HNSW and IVFFlat.
// Only the postgres passage store has index types.
func (g *Grounder) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	if g.passages == nil {
		return helper.NewError("change index type", helper.Errorf(helper.ErrInvalidArgument, "vector backend %s has no index types", g.Config.Vectors.Backend))
	}
	return g.passages.ChangeIndexType(ctx, g.Config.Vectors.Collection, indexType, params)
}
