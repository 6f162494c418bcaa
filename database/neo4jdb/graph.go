package neo4jdb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
)

// UpsertTriples merges every triple, one write transaction per triple.
// All triples are validated before the first write.
func (s *Store) UpsertTriples(ctx context.Context, triples []model.Triple) error {
	relations := make([]model.Relation, 0, len(triples))
	for i, t := range triples {
		rel, err := t.Normalize()
		if err != nil {
			return helper.NewError(fmt.Sprintf("triple %d", i), err)
		}
		relations = append(relations, rel)
	}

	driver, err := s.driver(ctx)
	if err != nil {
		return err
	}

	namespace := s.Namespace()
	query := fmt.Sprintf(`
		MERGE (h:Entity:%[1]s {name: $h})
		MERGE (t:Entity:%[1]s {name: $t})
		MERGE (h)-[:RELATION {type: $r}]->(t)
	`, label(namespace))

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.database})
	defer session.Close(ctx)

	for i, rel := range relations {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, query, map[string]any{
				"h": rel.Head,
				"r": rel.Type,
				"t": rel.Tail,
			})
			if err != nil {
				return nil, err
			}
			return result.Consume(ctx)
		})
		if err != nil {
			return s.handleError(ctx, fmt.Sprintf("upsert triple %d %s", i, rel), err)
		}
	}

	return nil
}

// AttachVector overwrites the embedding of an existing entity.
func (s *Store) AttachVector(ctx context.Context, entityName string, vector []float32) error {
	if len(vector) == 0 {
		return helper.NewError("attach vector", helper.Errorf(helper.ErrInvalidArgument, "empty vector for %q", entityName))
	}

	driver, err := s.driver(ctx)
	if err != nil {
		return err
	}

	namespace := s.Namespace()
	dimension, err := s.indexDimension(ctx, driver, namespace)
	if err != nil {
		return err
	}
	if dimension > 0 && dimension != len(vector) {
		return helper.NewError("attach vector", helper.Errorf(helper.ErrDimensionMismatch,
			"entity index of %s has dimension %d, got %d", namespace, dimension, len(vector)))
	}

	query := fmt.Sprintf(`
		MATCH (e:%s {name: $name})
		CALL db.create.setNodeVectorProperty(e, 'embedding', $embedding)
		RETURN count(e) AS updated
	`, label(namespace))
	result, err := neo4j.ExecuteQuery(ctx, driver, query, map[string]any{
		"name":      entityName,
		"embedding": toFloat64s(vector),
	}, neo4j.EagerResultTransformer, s.queryOptions()...)
	if err != nil {
		return s.handleError(ctx, "attach vector", err)
	}

	updated, err := singleInt(result, "updated")
	if err != nil {
		return helper.NewError("attach vector", err)
	}
	if updated == 0 {
		return helper.NewError("attach vector", helper.Errorf(helper.ErrNotFound, "entity %q not found in %s", entityName, namespace))
	}

	return nil
}

// EnsureVectorIndex creates the cosine vector index of the namespace and waits until it is online.
func (s *Store) EnsureVectorIndex(ctx context.Context, dimension int) error {
	if dimension < 1 || dimension > 4096 {
		return helper.NewError("ensure vector index", helper.Errorf(helper.ErrInvalidArgument, "dimension %d out of range", dimension))
	}

	driver, err := s.driver(ctx)
	if err != nil {
		return err
	}

	namespace := s.Namespace()
	existing, err := s.indexDimension(ctx, driver, namespace)
	if err != nil {
		return err
	}
	if existing > 0 {
		if existing != dimension {
			return helper.NewError("ensure vector index", helper.Errorf(helper.ErrDimensionMismatch,
				"entity index of %s has dimension %d, requested %d", namespace, existing, dimension))
		}
		return nil
	}

	query := fmt.Sprintf(`
		CREATE VECTOR INDEX %s IF NOT EXISTS
		FOR (e:%s) ON (e.embedding)
		OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}
	`, quote(indexName(namespace)), label(namespace), dimension)
	_, err = neo4j.ExecuteQuery(ctx, driver, query, nil, neo4j.EagerResultTransformer, s.queryOptions()...)
	if err != nil {
		return s.handleError(ctx, "create vector index", err)
	}

	_, err = neo4j.ExecuteQuery(ctx, driver, `CALL db.awaitIndex($name, 300)`, map[string]any{
		"name": indexName(namespace),
	}, neo4j.EagerResultTransformer, s.queryOptions()...)
	if err != nil {
		return s.handleError(ctx, "await vector index", err)
	}

	s.schema.mu.Lock()
	s.schema.dimensions[namespace] = dimension
	s.schema.mu.Unlock()

	s.logger.Info("Created entity vector index", slog.String("namespace", namespace), slog.Int("dimension", dimension))
	return nil
}

// VectorSearch returns the k entities most similar to vector, best first, ties by name.
// The index score (1 + cos) / 2 is mapped back to the cosine similarity.
func (s *Store) VectorSearch(ctx context.Context, vector []float32, k int) ([]*model.EntityHit, error) {
	if k < 1 {
		return nil, helper.NewError("vector search", helper.Errorf(helper.ErrInvalidArgument, "k %d must be positive", k))
	}

	driver, err := s.driver(ctx)
	if err != nil {
		return nil, err
	}

	namespace := s.Namespace()
	dimension, err := s.indexDimension(ctx, driver, namespace)
	if err != nil {
		return nil, err
	}
	if dimension == 0 {
		return nil, helper.NewError("vector search", helper.Errorf(helper.ErrIndexNotReady, "%s has no entity vector index", namespace))
	}
	if dimension != len(vector) {
		return nil, helper.NewError("vector search", helper.Errorf(helper.ErrSchemaMismatch,
			"query has dimension %d, entity index has %d", len(vector), dimension))
	}

	result, err := neo4j.ExecuteQuery(ctx, driver, `
		CALL db.index.vector.queryNodes($index, $k, $embedding)
		YIELD node, score
		RETURN node.name AS name, score
		ORDER BY score DESC, name ASC
	`, map[string]any{
		"index":     indexName(namespace),
		"k":         int64(k),
		"embedding": toFloat64s(vector),
	}, neo4j.EagerResultTransformer, s.queryOptions()...)
	if err != nil {
		return nil, s.handleError(ctx, "vector search", err)
	}

	hits := make([]*model.EntityHit, 0, len(result.Records))
	for _, record := range result.Records {
		name, _, err := neo4j.GetRecordValue[string](record, "name")
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		score, _, err := neo4j.GetRecordValue[float64](record, "score")
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		hits = append(hits, &model.EntityHit{Name: name, Score: 2*score - 1})
	}

	return hits, nil
}

// Expand returns every walk of 1..hops relations starting at seed.
// Variable length patterns never repeat a relation within one walk.
// Walks are ordered by length, then by relation ids along the walk.
func (s *Store) Expand(ctx context.Context, seed string, hops int) ([]*model.Path, error) {
	if err := model.ValidateHops(hops); err != nil {
		return nil, helper.NewError("expand", err)
	}

	driver, err := s.driver(ctx)
	if err != nil {
		return nil, err
	}

	// hops is a validated integer, the only interpolated value besides the label
	query := fmt.Sprintf(`
		MATCH p = (s:%[1]s {name: $seed})-[:RELATION*1..%[2]d]->(:%[1]s)
		RETURN [r IN relationships(p) | [startNode(r).name, r.type, endNode(r).name]] AS edges
		ORDER BY length(p), [r IN relationships(p) | id(r)]
	`, label(s.Namespace()), hops)
	result, err := neo4j.ExecuteQuery(ctx, driver, query, map[string]any{
		"seed": seed,
	}, neo4j.EagerResultTransformer, s.queryOptions()...)
	if err != nil {
		return nil, s.handleError(ctx, "expand", err)
	}

	paths := make([]*model.Path, 0, len(result.Records))
	for _, record := range result.Records {
		edges, _, err := neo4j.GetRecordValue[[]any](record, "edges")
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		path := &model.Path{Edges: make([]model.Relation, 0, len(edges))}
		for _, e := range edges {
			rel, err := toRelation(e)
			if err != nil {
				return nil, helper.NewError("scan", err)
			}
			path.Edges = append(path.Edges, rel)
		}
		paths = append(paths, path)
	}

	return paths, nil
}

// SampleTriples returns up to limit relations in creation order.
func (s *Store) SampleTriples(ctx context.Context, limit int) ([]model.Relation, error) {
	return s.selectTriples(ctx, nil, limit)
}

// TriplesByRelationType returns up to limit relations of the given type in creation order.
func (s *Store) TriplesByRelationType(ctx context.Context, relType string, limit int) ([]model.Relation, error) {
	normalized, err := model.NormalizeRelationType(relType)
	if err != nil {
		return nil, helper.NewError("relation type", err)
	}
	return s.selectTriples(ctx, normalized, limit)
}

func (s *Store) selectTriples(ctx context.Context, relType any, limit int) ([]model.Relation, error) {
	if limit < 1 {
		return nil, helper.NewError("select triples", helper.Errorf(helper.ErrInvalidArgument, "limit %d must be positive", limit))
	}

	driver, err := s.driver(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		MATCH (h:%[1]s)-[r:RELATION]->(t:%[1]s)
		WHERE $type IS NULL OR r.type = $type
		RETURN [h.name, r.type, t.name] AS edge
		ORDER BY id(r)
		LIMIT $limit
	`, label(s.Namespace()))
	result, err := neo4j.ExecuteQuery(ctx, driver, query, map[string]any{
		"type":  relType,
		"limit": int64(limit),
	}, neo4j.EagerResultTransformer, s.queryOptions()...)
	if err != nil {
		return nil, s.handleError(ctx, "select triples", err)
	}

	relations := make([]model.Relation, 0, len(result.Records))
	for _, record := range result.Records {
		edge, _, err := neo4j.GetRecordValue[[]any](record, "edge")
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		rel, err := toRelation(edge)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		relations = append(relations, rel)
	}

	return relations, nil
}

// DeleteEntity detaches and deletes one entity.
func (s *Store) DeleteEntity(ctx context.Context, name string) error {
	driver, err := s.driver(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`MATCH (e:%s {name: $name}) DETACH DELETE e`, label(s.Namespace()))
	result, err := neo4j.ExecuteQuery(ctx, driver, query, map[string]any{
		"name": name,
	}, neo4j.EagerResultTransformer, s.queryOptions()...)
	if err != nil {
		return s.handleError(ctx, "delete entity", err)
	}

	if result.Summary.Counters().NodesDeleted() == 0 {
		return helper.NewError("delete entity", helper.Errorf(helper.ErrNotFound, "entity %q not found in %s", name, s.Namespace()))
	}
	return nil
}

// DeleteAll deletes every entity and relation of the namespace.
// confirm has to be model.ConfirmDeleteAll. The vector index is kept.
func (s *Store) DeleteAll(ctx context.Context, confirm model.DeleteAllConfirmation) error {
	if confirm != model.ConfirmDeleteAll {
		return helper.NewError("delete all", helper.Errorf(helper.ErrInvalidArgument, "missing confirmation"))
	}

	driver, err := s.driver(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`MATCH (e:%s) DETACH DELETE e`, label(s.Namespace()))
	result, err := neo4j.ExecuteQuery(ctx, driver, query, nil, neo4j.EagerResultTransformer, s.queryOptions()...)
	if err != nil {
		return s.handleError(ctx, "delete all", err)
	}

	s.logger.Warn("Deleted all entities", slog.String("namespace", s.Namespace()), slog.Int("entities", result.Summary.Counters().NodesDeleted()))
	return nil
}

// Describe returns counts, labels and the connection state of the namespace.
func (s *Store) Describe(ctx context.Context) (*model.GraphInfo, error) {
	driver, err := s.driver(ctx)
	if err != nil {
		return nil, err
	}

	namespace := s.Namespace()
	query := fmt.Sprintf(`
		OPTIONAL MATCH (e:%[1]s)
		WITH count(e) AS entities, collect(DISTINCT labels(e)) AS labelSets
		OPTIONAL MATCH (:%[1]s)-[r:RELATION]->(:%[1]s)
		RETURN entities, labelSets, count(r) AS relations, collect(DISTINCT r.type) AS types
	`, label(namespace))
	result, err := neo4j.ExecuteQuery(ctx, driver, query, nil, neo4j.EagerResultTransformer, s.queryOptions()...)
	if err != nil {
		return nil, s.handleError(ctx, "describe", err)
	}
	if len(result.Records) != 1 {
		return nil, helper.NewError("describe", fmt.Errorf("expected one record, got %d", len(result.Records)))
	}
	record := result.Records[0]

	info := &model.GraphInfo{
		Namespace:     namespace,
		RelationTypes: []string{},
		Labels:        []string{},
	}
	if info.EntityCount, _, err = neo4j.GetRecordValue[int64](record, "entities"); err != nil {
		return nil, helper.NewError("scan", err)
	}
	if info.RelationCount, _, err = neo4j.GetRecordValue[int64](record, "relations"); err != nil {
		return nil, helper.NewError("scan", err)
	}

	types, _, err := neo4j.GetRecordValue[[]any](record, "types")
	if err != nil {
		return nil, helper.NewError("scan", err)
	}
	for _, t := range types {
		if str, ok := t.(string); ok {
			info.RelationTypes = append(info.RelationTypes, str)
		}
	}
	sort.Strings(info.RelationTypes)

	labelSets, _, err := neo4j.GetRecordValue[[]any](record, "labelSets")
	if err != nil {
		return nil, helper.NewError("scan", err)
	}
	seen := map[string]bool{}
	for _, set := range labelSets {
		labels, _ := set.([]any)
		for _, l := range labels {
			if str, ok := l.(string); ok && !seen[str] {
				seen[str] = true
				info.Labels = append(info.Labels, str)
			}
		}
	}
	sort.Strings(info.Labels)

	if info.VectorDimension, err = s.indexDimension(ctx, driver, namespace); err != nil {
		return nil, err
	}
	info.State = s.State().String()

	return info, nil
}

// indexDimension returns the dimension of the namespace vector index, 0 if there is none.
func (s *Store) indexDimension(ctx context.Context, driver neo4j.DriverWithContext, namespace string) (int, error) {
	s.schema.mu.Lock()
	dimension, ok := s.schema.dimensions[namespace]
	s.schema.mu.Unlock()
	if ok {
		return dimension, nil
	}

	result, err := neo4j.ExecuteQuery(ctx, driver, `
		SHOW VECTOR INDEXES YIELD name, options
		WHERE name = $name
		RETURN options
	`, map[string]any{
		"name": indexName(namespace),
	}, neo4j.EagerResultTransformer, s.queryOptions()...)
	if err != nil {
		return 0, s.handleError(ctx, "show vector indexes", err)
	}
	if len(result.Records) == 0 {
		return 0, nil
	}

	options, _, err := neo4j.GetRecordValue[map[string]any](result.Records[0], "options")
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	indexConfig, _ := options["indexConfig"].(map[string]any)
	dims, ok := indexConfig["vector.dimensions"].(int64)
	if !ok {
		return 0, helper.NewError("scan", fmt.Errorf("vector index %s has no dimension", indexName(namespace)))
	}

	s.schema.mu.Lock()
	s.schema.dimensions[namespace] = int(dims)
	s.schema.mu.Unlock()

	return int(dims), nil
}

func singleInt(result *neo4j.EagerResult, key string) (int64, error) {
	if len(result.Records) != 1 {
		return 0, fmt.Errorf("expected one record, got %d", len(result.Records))
	}
	value, _, err := neo4j.GetRecordValue[int64](result.Records[0], key)
	return value, err
}

func toRelation(value any) (model.Relation, error) {
	parts, ok := value.([]any)
	if !ok || len(parts) != 3 {
		return model.Relation{}, fmt.Errorf("unexpected edge %v", value)
	}
	head, okHead := parts[0].(string)
	relType, okType := parts[1].(string)
	tail, okTail := parts[2].(string)
	if !okHead || !okType || !okTail {
		return model.Relation{}, fmt.Errorf("unexpected edge %v", value)
	}
	return model.Relation{Head: head, Type: relType, Tail: tail}, nil
}
