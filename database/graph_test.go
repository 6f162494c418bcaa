package database

import (
	"context"
	"testing"

	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGraph(t *testing.T, namespace string) *GraphDBHandler {
	database := initDB(t)

	graphDbHandler, err := NewGraphDBHandler(context.Background(), database, namespace, true)
	require.NoError(t, err, "Expected NewGraphDBHandler to not return an error")

	return graphDbHandler
}

func TestGraphNewGraphDBHandler(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	t.Run("Valid call NewGraphDBHandler", func(t *testing.T) {
		graphDbHandler, err := NewGraphDBHandler(ctx, database, "handler_test", true)
		assert.NoError(t, err, "Expected NewGraphDBHandler to not return an error")
		require.NotNil(t, graphDbHandler, "Expected NewGraphDBHandler to return a non-nil instance")
		require.NotNil(t, graphDbHandler.db, "Expected NewGraphDBHandler to have a non-nil database instance")
		assert.Equal(t, "handler_test", graphDbHandler.Namespace())
	})

	t.Run("Invalid call NewGraphDBHandler with nil database", func(t *testing.T) {
		_, err := NewGraphDBHandler(ctx, nil, "handler_test", false)
		assert.Error(t, err, "Expected error when creating GraphDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})

	t.Run("Invalid call NewGraphDBHandler with invalid namespace", func(t *testing.T) {
		_, err := NewGraphDBHandler(ctx, database, "bad-name", false)
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)
	})
}

func TestGraphUpsertTriples(t *testing.T) {
	graph := newGraph(t, "upsert_test")
	ctx := context.Background()

	triples := []model.Triple{
		{H: "Alice", R: "knows", T: "Bob"},
		{H: "Bob", R: "knows", T: "Carol"},
	}

	t.Run("Upsert triples", func(t *testing.T) {
		err := graph.UpsertTriples(ctx, triples)
		require.NoError(t, err, "Expected UpsertTriples to not return an error")

		info, err := graph.Describe(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), info.EntityCount)
		assert.Equal(t, int64(2), info.RelationCount)
		assert.Equal(t, []string{"knows"}, info.RelationTypes)
		assert.Equal(t, []string{"Entity"}, info.Labels)
		assert.Equal(t, "open", info.State)
	})

	t.Run("Upsert is idempotent", func(t *testing.T) {
		err := graph.UpsertTriples(ctx, triples)
		require.NoError(t, err)

		info, err := graph.Describe(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), info.EntityCount, "Expected entities to be merged")
		assert.Equal(t, int64(2), info.RelationCount, "Expected relations to be merged")
	})

	t.Run("Different relation types between the same entities coexist", func(t *testing.T) {
		err := graph.UpsertTriples(ctx, []model.Triple{{H: "Alice", R: "works with", T: "Bob"}})
		require.NoError(t, err)

		relations, err := graph.TriplesByRelationType(ctx, "works with", 10)
		require.NoError(t, err)
		assert.Equal(t, []model.Relation{{Head: "Alice", Type: "works_with", Tail: "Bob"}}, relations)

		all, err := graph.SampleTriples(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, model.Relation{Head: "Alice", Type: "knows", Tail: "Bob"}, all[0], "Expected insertion order")
	})

	t.Run("Invalid triple is rejected before any write", func(t *testing.T) {
		err := graph.UpsertTriples(ctx, []model.Triple{
			{H: "Dave", R: "knows", T: "Erin"},
			{H: "Erin", R: "knows') DELETE", T: "Frank"},
		})
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)

		info, err := graph.Describe(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), info.EntityCount, "Expected no entity from the rejected batch")
	})
}

func TestGraphExpand(t *testing.T) {
	graph := newGraph(t, "expand_test")
	ctx := context.Background()

	err := graph.UpsertTriples(ctx, []model.Triple{
		{H: "A", R: "knows", T: "B"},
		{H: "B", R: "knows", T: "C"},
		{H: "C", R: "knows", T: "A"},
	})
	require.NoError(t, err)

	t.Run("Expand one hop", func(t *testing.T) {
		paths, err := graph.Expand(ctx, "A", 1)
		require.NoError(t, err)
		require.Len(t, paths, 1)
		assert.Equal(t, []model.Relation{{Head: "A", Type: "knows", Tail: "B"}}, paths[0].Edges)
	})

	t.Run("Expand two hops orders by length", func(t *testing.T) {
		paths, err := graph.Expand(ctx, "A", 2)
		require.NoError(t, err)
		require.Len(t, paths, 2)
		assert.Equal(t, 1, paths[0].Len())
		assert.Equal(t, 2, paths[1].Len())
		assert.Equal(t, model.Relation{Head: "B", Type: "knows", Tail: "C"}, paths[1].Edges[1])
	})

	t.Run("Cycles terminate without repeating a relation", func(t *testing.T) {
		paths, err := graph.Expand(ctx, "A", model.MaxHops)
		require.NoError(t, err)
		assert.Len(t, paths, 3, "Expected walks of length 1, 2 and 3 only")
		for _, p := range paths {
			assert.LessOrEqual(t, p.Len(), model.MaxHops)
			assert.Equal(t, "A", p.Seed())
		}
	})

	t.Run("Unknown seed gives no paths", func(t *testing.T) {
		paths, err := graph.Expand(ctx, "Nobody", 2)
		require.NoError(t, err)
		assert.Empty(t, paths)
	})

	t.Run("Hops out of range", func(t *testing.T) {
		_, err := graph.Expand(ctx, "A", 0)
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)

		_, err = graph.Expand(ctx, "A", model.MaxHops+1)
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)
	})
}

func TestGraphVectorSearch(t *testing.T) {
	graph := newGraph(t, "vector_test")
	ctx := context.Background()

	err := graph.UpsertTriples(ctx, []model.Triple{
		{H: "Paris", R: "capital_of", T: "France"},
		{H: "Berlin", R: "capital_of", T: "Germany"},
	})
	require.NoError(t, err)

	t.Run("Search without index is not ready", func(t *testing.T) {
		_, err := graph.VectorSearch(ctx, []float32{1, 0, 0}, 3)
		assert.ErrorIs(t, err, helper.ErrIndexNotReady)
	})

	t.Run("Ensure vector index", func(t *testing.T) {
		err := graph.EnsureVectorIndex(ctx, 3)
		require.NoError(t, err)

		err = graph.EnsureVectorIndex(ctx, 3)
		assert.NoError(t, err, "Expected same dimension to be a no-op")

		err = graph.EnsureVectorIndex(ctx, 4)
		assert.ErrorIs(t, err, helper.ErrDimensionMismatch)
	})

	t.Run("Attach vectors and search", func(t *testing.T) {
		require.NoError(t, graph.AttachVector(ctx, "Paris", []float32{1, 0, 0}))
		require.NoError(t, graph.AttachVector(ctx, "France", []float32{0.8, 0.6, 0}))
		require.NoError(t, graph.AttachVector(ctx, "Berlin", []float32{0, 1, 0}))
		require.NoError(t, graph.AttachVector(ctx, "Germany", []float32{0, 1, 0}))

		hits, err := graph.VectorSearch(ctx, []float32{1, 0, 0}, 3)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "Paris", hits[0].Name)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
		assert.Equal(t, "France", hits[1].Name)
		assert.InDelta(t, 0.8, hits[1].Score, 1e-6)
	})

	t.Run("Ties are broken by name", func(t *testing.T) {
		hits, err := graph.VectorSearch(ctx, []float32{0, 1, 0}, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "Berlin", hits[0].Name)
		assert.Equal(t, "Germany", hits[1].Name)
	})

	t.Run("Query with wrong dimension", func(t *testing.T) {
		_, err := graph.VectorSearch(ctx, []float32{1, 0}, 3)
		assert.ErrorIs(t, err, helper.ErrSchemaMismatch)
	})

	t.Run("Attach vector with wrong dimension", func(t *testing.T) {
		err := graph.AttachVector(ctx, "Paris", []float32{1, 0, 0, 0})
		assert.ErrorIs(t, err, helper.ErrDimensionMismatch)
	})

	t.Run("Attach vector to unknown entity", func(t *testing.T) {
		err := graph.AttachVector(ctx, "Rome", []float32{1, 0, 0})
		assert.ErrorIs(t, err, helper.ErrNotFound)
	})

	t.Run("Describe reports the index dimension", func(t *testing.T) {
		info, err := graph.Describe(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, info.VectorDimension)
	})
}

func TestGraphDelete(t *testing.T) {
	graph := newGraph(t, "delete_test")
	ctx := context.Background()

	err := graph.UpsertTriples(ctx, []model.Triple{
		{H: "A", R: "knows", T: "B"},
		{H: "B", R: "knows", T: "C"},
	})
	require.NoError(t, err)

	t.Run("Delete entity removes its relations", func(t *testing.T) {
		err := graph.DeleteEntity(ctx, "B")
		require.NoError(t, err)

		paths, err := graph.Expand(ctx, "A", 2)
		require.NoError(t, err)
		assert.Empty(t, paths)

		info, err := graph.Describe(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), info.EntityCount)
		assert.Equal(t, int64(0), info.RelationCount)
	})

	t.Run("Delete unknown entity", func(t *testing.T) {
		err := graph.DeleteEntity(ctx, "B")
		assert.ErrorIs(t, err, helper.ErrNotFound)
	})

	t.Run("Delete all requires confirmation", func(t *testing.T) {
		err := graph.DeleteAll(ctx, "yes")
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)

		info, err := graph.Describe(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), info.EntityCount)
	})

	t.Run("Delete all", func(t *testing.T) {
		err := graph.DeleteAll(ctx, model.ConfirmDeleteAll)
		require.NoError(t, err)

		info, err := graph.Describe(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.EntityCount)
		assert.Empty(t, info.Labels)
		assert.Empty(t, info.RelationTypes)
	})
}

func TestGraphNamespaces(t *testing.T) {
	graph := newGraph(t, "namespace_one")
	ctx := context.Background()

	err := graph.UpsertTriples(ctx, []model.Triple{{H: "A", R: "knows", T: "B"}})
	require.NoError(t, err)

	t.Run("WithNamespace is isolated", func(t *testing.T) {
		other, err := graph.WithNamespace("namespace_two")
		require.NoError(t, err)

		paths, err := other.Expand(ctx, "A", 1)
		require.NoError(t, err)
		assert.Empty(t, paths)
		assert.Equal(t, "namespace_one", graph.Namespace(), "Expected original handle to keep its namespace")
	})

	t.Run("UseNamespace switches the handle", func(t *testing.T) {
		require.NoError(t, graph.UseNamespace("namespace_two"))
		paths, err := graph.Expand(ctx, "A", 1)
		require.NoError(t, err)
		assert.Empty(t, paths)

		require.NoError(t, graph.UseNamespace("namespace_one"))
		paths, err = graph.Expand(ctx, "A", 1)
		require.NoError(t, err)
		assert.Len(t, paths, 1)
	})

	t.Run("Invalid namespace is rejected", func(t *testing.T) {
		err := graph.UseNamespace("x; DROP TABLE graph_entities")
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)
		assert.Equal(t, "namespace_one", graph.Namespace())
	})
}
