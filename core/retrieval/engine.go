package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
	"golang.org/x/sync/errgroup"
)

// GraphStore is a graph of entities and typed relations in one namespace.
type GraphStore interface {
	UpsertTriples(ctx context.Context, triples []model.Triple) error
	AttachVector(ctx context.Context, entityName string, vector []float32) error
	EnsureVectorIndex(ctx context.Context, dimension int) error
	VectorSearch(ctx context.Context, vector []float32, k int) ([]*model.EntityHit, error)
	Expand(ctx context.Context, seed string, hops int) ([]*model.Path, error)
	SampleTriples(ctx context.Context, limit int) ([]model.Relation, error)
	TriplesByRelationType(ctx context.Context, relType string, limit int) ([]model.Relation, error)
	DeleteEntity(ctx context.Context, name string) error
	DeleteAll(ctx context.Context, confirm model.DeleteAllConfirmation) error
	Describe(ctx context.Context) (*model.GraphInfo, error)
}

// VectorStore holds named passage collections.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, collection string, records []*model.PassageRecord) error
	Search(ctx context.Context, collection string, vector []float32, k int) ([]*model.PassageHit, error)
	GetByID(ctx context.Context, collection string, id uint64) (*model.PassageRecord, error)
	SamplePassages(ctx context.Context, collection string, limit int) ([]*model.PassageRecord, error)
	Collections(ctx context.Context) ([]*model.CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error
}

// Embedder embeds a query.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine retrieves grounding context for queries from a graph store and a vector store.
// Requests are independent and may run concurrently. Ingestion running at the same
// time becomes visible per written triple, there is no snapshot across a request.
type Engine struct {
	graph    GraphStore
	vectors  VectorStore
	embedder Embedder
	logger   *slog.Logger

	// Defaults fill the unset fields of request options, their size bounds cap every request.
	Defaults model.RetrievalOptions
	// Parallelism bounds the concurrent seed expansions of one request.
	Parallelism int
}

// NewEngine creates a new retrieval engine. Either store may be nil.
func NewEngine(graph GraphStore, vectors VectorStore, embedder Embedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		graph:       graph,
		vectors:     vectors,
		embedder:    embedder,
		logger:      logger,
		Defaults:    model.DefaultRetrievalOptions(),
		Parallelism: 4,
	}
}

// Retrieve embeds the query, selects the seed entities scoring above the threshold,
// expands every seed and merges the walks into one deduplicated, size bounded edge list.
// Unset fields of opts fall back to the engine defaults, whose size bounds always apply.
func (e *Engine) Retrieve(ctx context.Context, query string, opts *model.RetrievalOptions) (*model.RetrievalResult, error) {
	o := e.Defaults
	if opts != nil {
		o = opts.WithDefaults(e.Defaults)
	}
	if err := o.Validate(); err != nil {
		return nil, helper.NewError("retrieval options", err)
	}
	if strings.TrimSpace(query) == "" {
		return nil, helper.NewError("retrieve", helper.Errorf(helper.ErrInvalidArgument, "query is empty"))
	}
	if e.graph == nil && (e.vectors == nil || o.Collection == "") {
		return nil, helper.NewError("retrieve", helper.Errorf(helper.ErrInvalidArgument, "no store to retrieve from"))
	}

	vector, err := e.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	result := &model.RetrievalResult{
		Query: query,
		Seeds: []model.SeedHit{},
		Edges: []*model.RetrievedEdge{},
	}

	entityHits, passageHits, err := e.searchSeeds(ctx, vector, &o)
	if err != nil {
		return nil, err
	}

	result.Passages = filterPassages(passageHits, o.Threshold)
	result.Seeds = selectSeeds(entityHits, o.Threshold, o.MaxSeeds)
	if len(result.Seeds) == 0 {
		return result, nil
	}

	paths, err := e.expandSeeds(ctx, result.Seeds, o.Hops)
	if err != nil {
		return nil, err
	}

	result.Edges = mergePaths(result.Seeds, paths)
	result.Edges, result.Truncated = boundEdges(result.Edges, o.MaxEdges, o.MaxBytes)

	e.logger.Debug("Retrieved context", slog.String("query", query), slog.Int("seeds", len(result.Seeds)),
		slog.Int("edges", len(result.Edges)), slog.Int("passages", len(result.Passages)), slog.Bool("truncated", result.Truncated))

	return result, nil
}

// Answer serves the chat layer contract. Triples is never nil.
func (e *Engine) Answer(ctx context.Context, req *model.RetrievalRequest) (*model.RetrievalResponse, error) {
	if req == nil {
		return nil, helper.NewError("answer", helper.Errorf(helper.ErrInvalidArgument, "request is nil"))
	}
	result, err := e.Retrieve(ctx, req.Query, req.Options)
	if err != nil {
		return nil, err
	}
	return &model.RetrievalResponse{
		Triples:  result.Triples(),
		Seeds:    result.Seeds,
		Passages: result.Passages,
	}, nil
}

// SearchPassages returns the k passages of collection most similar to query.
func (e *Engine) SearchPassages(ctx context.Context, query string, collection string, k int) ([]*model.PassageHit, error) {
	if e.vectors == nil {
		return nil, helper.NewError("search passages", helper.Errorf(helper.ErrInvalidArgument, "no vector store configured"))
	}
	vector, err := e.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.vectors.Search(ctx, collection, vector, k)
	if err != nil {
		return nil, helper.NewError("search passages", err)
	}
	return hits, nil
}

// SimilarEntities returns the k entities most similar to query without threshold or expansion.
func (e *Engine) SimilarEntities(ctx context.Context, query string, k int) ([]*model.EntityHit, error) {
	if e.graph == nil {
		return nil, helper.NewError("similar entities", helper.Errorf(helper.ErrInvalidArgument, "no graph store configured"))
	}
	vector, err := e.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.graph.VectorSearch(ctx, vector, k)
	if err != nil {
		return nil, helper.NewError("similar entities", err)
	}
	return hits, nil
}

func (e *Engine) embed(ctx context.Context, query string) ([]float32, error) {
	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		if !helper.IsKind(err, helper.ErrEmbeddingFailed) {
			err = fmt.Errorf("%w: %w", helper.ErrEmbeddingFailed, err)
		}
		return nil, helper.NewError("embed query", err)
	}
	return vector, nil
}

// searchSeeds runs the entity search and, with a collection, the passage search concurrently.
// A failing source is skipped as long as the other one answered.
func (e *Engine) searchSeeds(ctx context.Context, vector []float32, o *model.RetrievalOptions) ([]*model.EntityHit, []*model.PassageHit, error) {
	var entityHits []*model.EntityHit
	var passageHits []*model.PassageHit
	var graphErr, passageErr error
	searchGraph := e.graph != nil
	searchPassages := e.vectors != nil && o.Collection != ""

	var wg sync.WaitGroup
	if searchGraph {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entityHits, graphErr = e.graph.VectorSearch(ctx, vector, o.TopK)
		}()
	}
	if searchPassages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			passageHits, passageErr = e.vectors.Search(ctx, o.Collection, vector, o.TopK)
		}()
	}
	wg.Wait()

	switch {
	case searchGraph && graphErr != nil && (!searchPassages || passageErr != nil):
		return nil, nil, helper.NewError("seed search", graphErr)
	case searchPassages && passageErr != nil && !searchGraph:
		return nil, nil, helper.NewError("passage search", passageErr)
	case graphErr != nil:
		e.logger.Warn("Entity seed search failed, continuing with passages", slog.String("error", graphErr.Error()))
		entityHits = nil
	case passageErr != nil:
		e.logger.Warn("Passage search failed, continuing with the graph",
			slog.String("collection", o.Collection), slog.String("error", passageErr.Error()))
		passageHits = nil
	}

	return entityHits, passageHits, nil
}

// selectSeeds keeps the hits scoring strictly above threshold, best first, at most maxSeeds.
func selectSeeds(hits []*model.EntityHit, threshold float64, maxSeeds int) []model.SeedHit {
	seeds := []model.SeedHit{}
	for _, hit := range hits {
		if hit.Score > threshold {
			seeds = append(seeds, model.SeedHit{Name: hit.Name, Score: hit.Score})
		}
	}
	sort.SliceStable(seeds, func(i, j int) bool { return seeds[i].Score > seeds[j].Score })
	if len(seeds) > maxSeeds {
		seeds = seeds[:maxSeeds]
	}
	return seeds
}

func filterPassages(hits []*model.PassageHit, threshold float64) []*model.PassageHit {
	if hits == nil {
		return nil
	}
	passages := []*model.PassageHit{}
	for _, hit := range hits {
		if hit.Score > threshold {
			passages = append(passages, hit)
		}
	}
	return passages
}

// expandSeeds expands every seed with at most Parallelism concurrent calls.
// Results are stored by seed index. A failing seed is skipped unless all seeds fail.
func (e *Engine) expandSeeds(ctx context.Context, seeds []model.SeedHit, hops int) ([][]*model.Path, error) {
	paths := make([][]*model.Path, len(seeds))
	errs := make([]error, len(seeds))

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(max(e.Parallelism, 1))
	for i, seed := range seeds {
		eg.Go(func() error {
			paths[i], errs[i] = e.graph.Expand(ectx, seed.Name, hops)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	var last error
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		last = err
		e.logger.Warn("Seed expansion failed", slog.String("seed", seeds[i].Name), slog.String("error", err.Error()))
	}
	if failed == len(seeds) {
		return nil, helper.NewError("expand seeds", fmt.Errorf("%w: all %d seeds failed: %w", helper.ErrRetrievalUnavailable, failed, last))
	}

	return paths, nil
}

// mergePaths walks seeds in score order, paths in store order and edges in path order.
// The first occurrence of a relation wins.
func mergePaths(seeds []model.SeedHit, paths [][]*model.Path) []*model.RetrievedEdge {
	edges := []*model.RetrievedEdge{}
	seen := map[model.Relation]bool{}
	for i, seed := range seeds {
		for _, path := range paths[i] {
			for j, rel := range path.Edges {
				if seen[rel] {
					continue
				}
				seen[rel] = true
				edges = append(edges, &model.RetrievedEdge{
					Relation: rel,
					Seed:     seed.Name,
					Score:    seed.Score,
					Path:     append([]model.Relation{}, path.Edges[:j]...),
				})
			}
		}
	}
	return edges
}

// boundEdges cuts the tail of edges until at most maxEdges remain and their json
// encoding fits maxBytes. Zero disables a bound.
func boundEdges(edges []*model.RetrievedEdge, maxEdges int, maxBytes int) ([]*model.RetrievedEdge, bool) {
	truncated := false
	if maxEdges > 0 && len(edges) > maxEdges {
		edges = edges[:maxEdges]
		truncated = true
	}
	if maxBytes <= 0 {
		return edges, truncated
	}

	// "[" + elements joined by "," + "]"
	size := 2
	for i, edge := range edges {
		data, err := json.Marshal(edge)
		if err != nil {
			return edges[:i], true
		}
		next := size + len(data)
		if i > 0 {
			next++
		}
		if next > maxBytes {
			return edges[:i], true
		}
		size = next
	}
	return edges, truncated
}
