package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
)

// MemoryGraph is an in-process graph store.
// Handles created with WithNamespace share the data of all namespaces.
type MemoryGraph struct {
	data *memoryData

	mu        sync.RWMutex
	namespace string
}

type memoryData struct {
	mu     sync.RWMutex
	graphs map[string]*namespaceData
	seq    int64
}

type namespaceData struct {
	entities  map[string]*memoryEntity
	outgoing  map[string][]*Edge
	relations map[model.Relation]*Edge
	dimension int
}

type memoryEntity struct {
	seq       int64
	embedding []float32
}

// NewMemoryGraph creates an empty graph bound to namespace.
func NewMemoryGraph(namespace string) (*MemoryGraph, error) {
	if err := model.ValidateName(namespace); err != nil {
		return nil, helper.NewError("namespace validation", err)
	}
	return &MemoryGraph{
		data:      &memoryData{graphs: map[string]*namespaceData{}},
		namespace: namespace,
	}, nil
}

// Namespace returns the active namespace.
func (g *MemoryGraph) Namespace() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.namespace
}

// UseNamespace switches the active namespace of this handle.
func (g *MemoryGraph) UseNamespace(namespace string) error {
	if err := model.ValidateName(namespace); err != nil {
		return helper.NewError("use namespace", err)
	}
	g.mu.Lock()
	g.namespace = namespace
	g.mu.Unlock()
	return nil
}

// WithNamespace returns a second handle bound to namespace on the same data.
func (g *MemoryGraph) WithNamespace(namespace string) (*MemoryGraph, error) {
	if err := model.ValidateName(namespace); err != nil {
		return nil, helper.NewError("with namespace", err)
	}
	return &MemoryGraph{data: g.data, namespace: namespace}, nil
}

// graph returns the namespace data, creating it when create is set. Callers hold data.mu.
func (g *MemoryGraph) graph(create bool) *namespaceData {
	namespace := g.Namespace()
	ns, ok := g.data.graphs[namespace]
	if !ok && create {
		ns = &namespaceData{
			entities:  map[string]*memoryEntity{},
			outgoing:  map[string][]*Edge{},
			relations: map[model.Relation]*Edge{},
		}
		g.data.graphs[namespace] = ns
	}
	return ns
}

// UpsertTriples merges every triple into the graph.
// All triples are validated before the first write.
func (g *MemoryGraph) UpsertTriples(ctx context.Context, triples []model.Triple) error {
	relations := make([]model.Relation, 0, len(triples))
	for i, t := range triples {
		rel, err := t.Normalize()
		if err != nil {
			return helper.NewError(fmt.Sprintf("triple %d", i), err)
		}
		relations = append(relations, rel)
	}

	g.data.mu.Lock()
	defer g.data.mu.Unlock()

	ns := g.graph(true)
	for _, rel := range relations {
		for _, name := range []string{rel.Head, rel.Tail} {
			if _, ok := ns.entities[name]; !ok {
				g.data.seq++
				ns.entities[name] = &memoryEntity{seq: g.data.seq}
			}
		}
		if _, ok := ns.relations[rel]; ok {
			continue
		}
		g.data.seq++
		edge := &Edge{Seq: g.data.seq, Relation: rel}
		ns.relations[rel] = edge
		ns.outgoing[rel.Head] = append(ns.outgoing[rel.Head], edge)
	}

	return nil
}

// OutgoingRelations returns the relations with entity as head in insertion order.
func (g *MemoryGraph) OutgoingRelations(ctx context.Context, entity string) ([]*Edge, error) {
	g.data.mu.RLock()
	defer g.data.mu.RUnlock()

	ns := g.graph(false)
	if ns == nil {
		return nil, nil
	}
	edges := make([]*Edge, len(ns.outgoing[entity]))
	copy(edges, ns.outgoing[entity])
	return edges, nil
}

// AttachVector overwrites the embedding of an existing entity.
func (g *MemoryGraph) AttachVector(ctx context.Context, entityName string, vector []float32) error {
	if len(vector) == 0 {
		return helper.NewError("attach vector", helper.Errorf(helper.ErrInvalidArgument, "empty vector for %q", entityName))
	}

	g.data.mu.Lock()
	defer g.data.mu.Unlock()

	ns := g.graph(false)
	if ns == nil || ns.entities[entityName] == nil {
		return helper.NewError("attach vector", helper.Errorf(helper.ErrNotFound, "entity %q not found in %s", entityName, g.Namespace()))
	}
	if ns.dimension > 0 && ns.dimension != len(vector) {
		return helper.NewError("attach vector", helper.Errorf(helper.ErrDimensionMismatch,
			"entity index has dimension %d, got %d", ns.dimension, len(vector)))
	}

	embedding := make([]float32, len(vector))
	copy(embedding, vector)
	ns.entities[entityName].embedding = embedding

	return nil
}

// EnsureVectorIndex marks the namespace as searchable with the given dimension.
func (g *MemoryGraph) EnsureVectorIndex(ctx context.Context, dimension int) error {
	if dimension < 1 {
		return helper.NewError("ensure vector index", helper.Errorf(helper.ErrInvalidArgument, "dimension %d out of range", dimension))
	}

	g.data.mu.Lock()
	defer g.data.mu.Unlock()

	ns := g.graph(true)
	if ns.dimension > 0 && ns.dimension != dimension {
		return helper.NewError("ensure vector index", helper.Errorf(helper.ErrDimensionMismatch,
			"entity index has dimension %d, requested %d", ns.dimension, dimension))
	}
	ns.dimension = dimension

	return nil
}

// VectorSearch returns the k entities most similar to vector, best first, ties by name.
func (g *MemoryGraph) VectorSearch(ctx context.Context, vector []float32, k int) ([]*model.EntityHit, error) {
	if k < 1 {
		return nil, helper.NewError("vector search", helper.Errorf(helper.ErrInvalidArgument, "k %d must be positive", k))
	}

	g.data.mu.RLock()
	defer g.data.mu.RUnlock()

	ns := g.graph(false)
	if ns == nil || ns.dimension == 0 {
		return nil, helper.NewError("vector search", helper.Errorf(helper.ErrIndexNotReady, "%s has no entity vector index", g.Namespace()))
	}
	if len(vector) != ns.dimension {
		return nil, helper.NewError("vector search", helper.Errorf(helper.ErrSchemaMismatch,
			"query has dimension %d, entity index has %d", len(vector), ns.dimension))
	}

	hits := make([]*model.EntityHit, 0, len(ns.entities))
	for name, e := range ns.entities {
		if e.embedding == nil {
			continue
		}
		hits = append(hits, &model.EntityHit{Name: name, Score: helper.CosineSimilarity(vector, e.embedding)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Name < hits[j].Name
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	return hits, nil
}

// Expand returns every walk of 1..hops relations starting at seed in which no relation repeats.
func (g *MemoryGraph) Expand(ctx context.Context, seed string, hops int) ([]*model.Path, error) {
	paths, err := Walks(ctx, g, seed, hops)
	if err != nil {
		return nil, helper.NewError("expand", err)
	}
	return paths, nil
}

// SampleTriples returns up to limit relations in insertion order.
func (g *MemoryGraph) SampleTriples(ctx context.Context, limit int) ([]model.Relation, error) {
	return g.selectTriples("", limit)
}

// TriplesByRelationType returns up to limit relations of the given type in insertion order.
func (g *MemoryGraph) TriplesByRelationType(ctx context.Context, relType string, limit int) ([]model.Relation, error) {
	normalized, err := model.NormalizeRelationType(relType)
	if err != nil {
		return nil, helper.NewError("relation type", err)
	}
	return g.selectTriples(normalized, limit)
}

func (g *MemoryGraph) selectTriples(relType string, limit int) ([]model.Relation, error) {
	if limit < 1 {
		return nil, helper.NewError("select triples", helper.Errorf(helper.ErrInvalidArgument, "limit %d must be positive", limit))
	}

	g.data.mu.RLock()
	defer g.data.mu.RUnlock()

	ns := g.graph(false)
	if ns == nil {
		return []model.Relation{}, nil
	}

	edges := make([]*Edge, 0, len(ns.relations))
	for _, e := range ns.relations {
		if relType == "" || e.Relation.Type == relType {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Seq < edges[j].Seq })
	if len(edges) > limit {
		edges = edges[:limit]
	}

	relations := make([]model.Relation, len(edges))
	for i, e := range edges {
		relations[i] = e.Relation
	}
	return relations, nil
}

// DeleteEntity deletes an entity and every relation touching it.
func (g *MemoryGraph) DeleteEntity(ctx context.Context, name string) error {
	g.data.mu.Lock()
	defer g.data.mu.Unlock()

	ns := g.graph(false)
	if ns == nil || ns.entities[name] == nil {
		return helper.NewError("delete entity", helper.Errorf(helper.ErrNotFound, "entity %q not found in %s", name, g.Namespace()))
	}

	delete(ns.entities, name)
	delete(ns.outgoing, name)
	for rel := range ns.relations {
		if rel.Head == name || rel.Tail == name {
			delete(ns.relations, rel)
		}
	}
	for head, edges := range ns.outgoing {
		kept := edges[:0]
		for _, e := range edges {
			if e.Relation.Tail != name {
				kept = append(kept, e)
			}
		}
		ns.outgoing[head] = kept
	}

	return nil
}

// DeleteAll deletes every entity and relation of the namespace.
// confirm has to be model.ConfirmDeleteAll. The vector index is kept.
func (g *MemoryGraph) DeleteAll(ctx context.Context, confirm model.DeleteAllConfirmation) error {
	if confirm != model.ConfirmDeleteAll {
		return helper.NewError("delete all", helper.Errorf(helper.ErrInvalidArgument, "missing confirmation"))
	}

	g.data.mu.Lock()
	defer g.data.mu.Unlock()

	if ns := g.graph(false); ns != nil {
		ns.entities = map[string]*memoryEntity{}
		ns.outgoing = map[string][]*Edge{}
		ns.relations = map[model.Relation]*Edge{}
	}
	return nil
}

// Describe returns counts of the namespace.
func (g *MemoryGraph) Describe(ctx context.Context) (*model.GraphInfo, error) {
	g.data.mu.RLock()
	defer g.data.mu.RUnlock()

	info := &model.GraphInfo{
		Namespace:     g.Namespace(),
		RelationTypes: []string{},
		Labels:        []string{},
		State:         helper.StateOpen.String(),
	}

	ns := g.graph(false)
	if ns == nil {
		return info, nil
	}

	info.EntityCount = int64(len(ns.entities))
	info.RelationCount = int64(len(ns.relations))
	info.VectorDimension = ns.dimension
	if info.EntityCount > 0 {
		info.Labels = []string{"Entity"}
	}

	types := map[string]bool{}
	for rel := range ns.relations {
		if !types[rel.Type] {
			types[rel.Type] = true
			info.RelationTypes = append(info.RelationTypes, rel.Type)
		}
	}
	sort.Strings(info.RelationTypes)

	return info, nil
}
