package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
	"github.com/siherrmann/grounder/sql"
)

// GraphDBHandlerFunctions defines the interface for graph database operations.
type GraphDBHandlerFunctions interface {
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

// GraphDBHandler stores entities and relations of one graph namespace in postgres.
// Entity embeddings live on the entity rows and are searched with pgvector.
type GraphDBHandler struct {
	db *helper.Database

	mu        sync.RWMutex
	namespace string
}

// NewGraphDBHandler creates a new graph database handler bound to namespace.
// It loads the graph SQL functions and creates the tables.
// If force is true, it will reload the SQL functions even if they already exist.
func NewGraphDBHandler(ctx context.Context, db *helper.Database, namespace string, force bool) (*GraphDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if err := model.ValidateName(namespace); err != nil {
		return nil, helper.NewError("namespace validation", err)
	}

	graphDbHandler := &GraphDBHandler{
		db:        db,
		namespace: namespace,
	}

	instance, err := db.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("connect", err)
	}

	err = sql.LoadGraphSql(instance, force)
	if err != nil {
		return nil, helper.NewError("load graph sql", err)
	}

	err = graphDbHandler.CreateTable(ctx)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized GraphDBHandler", slog.String("namespace", namespace))

	return graphDbHandler, nil
}

// CreateTable creates the entity, relation and vector index tables.
// Existing tables are kept.
func (h *GraphDBHandler) CreateTable(ctx context.Context) error {
	instance, err := h.db.Conn(ctx)
	if err != nil {
		return helper.NewError("connect", err)
	}

	_, err = instance.ExecContext(ctx, `SELECT init_graph();`)
	if err != nil {
		return h.db.HandleError(ctx, "init graph", err)
	}

	h.db.Logger.Info("Checked/created graph tables")

	return nil
}

// Namespace returns the active namespace.
func (h *GraphDBHandler) Namespace() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.namespace
}

// UseNamespace switches the active namespace of this handle.
// Calls already running keep the namespace they started with.
func (h *GraphDBHandler) UseNamespace(namespace string) error {
	if err := model.ValidateName(namespace); err != nil {
		return helper.NewError("use namespace", err)
	}

	h.mu.Lock()
	previous := h.namespace
	h.namespace = namespace
	h.mu.Unlock()

	h.db.Logger.Info("Switched graph namespace", slog.String("from", previous), slog.String("to", namespace))
	return nil
}

// WithNamespace returns a second handle bound to namespace that shares the connection.
func (h *GraphDBHandler) WithNamespace(namespace string) (*GraphDBHandler, error) {
	if err := model.ValidateName(namespace); err != nil {
		return nil, helper.NewError("with namespace", err)
	}
	return &GraphDBHandler{db: h.db, namespace: namespace}, nil
}

// UpsertTriples merges every triple into the graph.
// All triples are validated before the first write; each triple is written atomically.
func (h *GraphDBHandler) UpsertTriples(ctx context.Context, triples []model.Triple) error {
	relations := make([]model.Relation, 0, len(triples))
	for i, t := range triples {
		rel, err := t.Normalize()
		if err != nil {
			return helper.NewError(fmt.Sprintf("triple %d", i), err)
		}
		relations = append(relations, rel)
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return helper.NewError("connect", err)
	}

	namespace := h.Namespace()
	for i, rel := range relations {
		_, err := instance.ExecContext(
			ctx,
			`SELECT upsert_triple($1, $2, $3, $4)`,
			namespace,
			rel.Head,
			rel.Type,
			rel.Tail,
		)
		if err != nil {
			return h.db.HandleError(ctx, fmt.Sprintf("upsert triple %d %s", i, rel), err)
		}
	}

	return nil
}

// AttachVector overwrites the embedding of an existing entity.
func (h *GraphDBHandler) AttachVector(ctx context.Context, entityName string, vector []float32) error {
	if len(vector) == 0 {
		return helper.NewError("attach vector", helper.Errorf(helper.ErrInvalidArgument, "empty vector for %q", entityName))
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return helper.NewError("connect", err)
	}

	_, err = instance.ExecContext(
		ctx,
		`SELECT attach_entity_vector($1, $2, $3)`,
		h.Namespace(),
		entityName,
		pgvector.NewVector(vector),
	)
	if err != nil {
		return h.db.HandleError(ctx, "attach vector", err)
	}

	return nil
}

// EnsureVectorIndex creates the cosine index over entity embeddings of the namespace.
// It fails with ErrDimensionMismatch if the index exists with another dimension.
func (h *GraphDBHandler) EnsureVectorIndex(ctx context.Context, dimension int) error {
	instance, err := h.db.Conn(ctx)
	if err != nil {
		return helper.NewError("connect", err)
	}

	var state string
	err = instance.QueryRowContext(
		ctx,
		`SELECT ensure_entity_vector_index($1, $2)`,
		h.Namespace(),
		dimension,
	).Scan(&state)
	if err != nil {
		return h.db.HandleError(ctx, "ensure vector index", err)
	}

	if state == "created" {
		h.db.Logger.Info("Created entity vector index", slog.String("namespace", h.Namespace()), slog.Int("dimension", dimension))
	}

	return nil
}

// VectorSearch returns the k entities most similar to vector, best first.
func (h *GraphDBHandler) VectorSearch(ctx context.Context, vector []float32, k int) ([]*model.EntityHit, error) {
	if k < 1 {
		return nil, helper.NewError("vector search", helper.Errorf(helper.ErrInvalidArgument, "k %d must be positive", k))
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("connect", err)
	}

	rows, err := instance.QueryContext(
		ctx,
		`SELECT * FROM select_entities_by_similarity($1, $2, $3)`,
		h.Namespace(),
		pgvector.NewVector(vector),
		k,
	)
	if err != nil {
		return nil, h.db.HandleError(ctx, "query", err)
	}
	defer rows.Close()

	hits := []*model.EntityHit{}
	for rows.Next() {
		hit := &model.EntityHit{}
		err := rows.Scan(
			&hit.Name,
			&hit.Score,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		hits = append(hits, hit)
	}

	err = rows.Err()
	if err != nil {
		return nil, h.db.HandleError(ctx, "rows error", err)
	}

	return hits, nil
}

// Expand returns every walk of 1..hops relations starting at seed in which no relation repeats.
// Walks are ordered by length, then by relation insertion order. An unknown seed gives no walks.
func (h *GraphDBHandler) Expand(ctx context.Context, seed string, hops int) ([]*model.Path, error) {
	if err := model.ValidateHops(hops); err != nil {
		return nil, helper.NewError("expand", err)
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("connect", err)
	}

	rows, err := instance.QueryContext(
		ctx,
		`SELECT * FROM expand_entity($1, $2, $3)`,
		h.Namespace(),
		seed,
		hops,
	)
	if err != nil {
		return nil, h.db.HandleError(ctx, "query", err)
	}
	defer rows.Close()

	paths := []*model.Path{}
	for rows.Next() {
		var depth int
		var heads, types, tails []string
		err := rows.Scan(
			&depth,
			pq.Array(&heads),
			pq.Array(&types),
			pq.Array(&tails),
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		if len(heads) != depth || len(types) != depth || len(tails) != depth {
			return nil, helper.NewError("scan", fmt.Errorf("walk of depth %d has %d/%d/%d parts", depth, len(heads), len(types), len(tails)))
		}

		path := &model.Path{Edges: make([]model.Relation, depth)}
		for i := 0; i < depth; i++ {
			path.Edges[i] = model.Relation{Head: heads[i], Type: types[i], Tail: tails[i]}
		}
		paths = append(paths, path)
	}

	err = rows.Err()
	if err != nil {
		return nil, h.db.HandleError(ctx, "rows error", err)
	}

	return paths, nil
}

// SampleTriples returns up to limit relations in insertion order.
func (h *GraphDBHandler) SampleTriples(ctx context.Context, limit int) ([]model.Relation, error) {
	return h.selectTriples(ctx, nil, limit)
}

// TriplesByRelationType returns up to limit relations of the given type in insertion order.
func (h *GraphDBHandler) TriplesByRelationType(ctx context.Context, relType string, limit int) ([]model.Relation, error) {
	normalized, err := model.NormalizeRelationType(relType)
	if err != nil {
		return nil, helper.NewError("relation type", err)
	}
	return h.selectTriples(ctx, &normalized, limit)
}

func (h *GraphDBHandler) selectTriples(ctx context.Context, relType *string, limit int) ([]model.Relation, error) {
	if limit < 1 {
		return nil, helper.NewError("select triples", helper.Errorf(helper.ErrInvalidArgument, "limit %d must be positive", limit))
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("connect", err)
	}

	rows, err := instance.QueryContext(
		ctx,
		`SELECT * FROM select_triples($1, $2, $3)`,
		h.Namespace(),
		relType,
		limit,
	)
	if err != nil {
		return nil, h.db.HandleError(ctx, "query", err)
	}
	defer rows.Close()

	relations := []model.Relation{}
	for rows.Next() {
		var rel model.Relation
		err := rows.Scan(
			&rel.Head,
			&rel.Type,
			&rel.Tail,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		relations = append(relations, rel)
	}

	err = rows.Err()
	if err != nil {
		return nil, h.db.HandleError(ctx, "rows error", err)
	}

	return relations, nil
}

// DeleteEntity deletes an entity and every relation touching it.
func (h *GraphDBHandler) DeleteEntity(ctx context.Context, name string) error {
	instance, err := h.db.Conn(ctx)
	if err != nil {
		return helper.NewError("connect", err)
	}

	_, err = instance.ExecContext(
		ctx,
		`SELECT delete_entity($1, $2)`,
		h.Namespace(),
		name,
	)
	if err != nil {
		return h.db.HandleError(ctx, "delete entity", err)
	}
	return nil
}

// DeleteAll deletes every entity and relation of the namespace.
// confirm has to be model.ConfirmDeleteAll.
func (h *GraphDBHandler) DeleteAll(ctx context.Context, confirm model.DeleteAllConfirmation) error {
	if confirm != model.ConfirmDeleteAll {
		return helper.NewError("delete all", helper.Errorf(helper.ErrInvalidArgument, "missing confirmation"))
	}

	instance, err := h.db.Conn(ctx)
	if err != nil {
		return helper.NewError("connect", err)
	}

	var deleted int64
	err = instance.QueryRowContext(
		ctx,
		`SELECT delete_all_entities($1)`,
		h.Namespace(),
	).Scan(&deleted)
	if err != nil {
		return h.db.HandleError(ctx, "delete all", err)
	}

	h.db.Logger.Warn("Deleted all entities", slog.String("namespace", h.Namespace()), slog.Int64("entities", deleted))
	return nil
}

// Describe returns counts and the connection state of the namespace.
func (h *GraphDBHandler) Describe(ctx context.Context) (*model.GraphInfo, error) {
	instance, err := h.db.Conn(ctx)
	if err != nil {
		return nil, helper.NewError("connect", err)
	}

	info := &model.GraphInfo{
		Namespace: h.Namespace(),
		Labels:    []string{},
	}
	err = instance.QueryRowContext(
		ctx,
		`SELECT * FROM describe_graph($1)`,
		info.Namespace,
	).Scan(
		&info.EntityCount,
		&info.RelationCount,
		pq.Array(&info.RelationTypes),
		&info.VectorDimension,
	)
	if err != nil {
		return nil, h.db.HandleError(ctx, "describe", err)
	}

	if info.RelationTypes == nil {
		info.RelationTypes = []string{}
	}
	if info.EntityCount > 0 {
		info.Labels = []string{"Entity"}
	}
	info.State = h.db.State().String()

	return info, nil
}

var _ GraphDBHandlerFunctions = (*GraphDBHandler)(nil)
