package graph

import (
	"context"
	"testing"

	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockGraphDB is a mock implementation of GraphDB for testing
type MockGraphDB struct {
	edges map[string][]*Edge
	calls map[string]int
	seq   int64
}

func NewMockGraphDB() *MockGraphDB {
	return &MockGraphDB{
		edges: make(map[string][]*Edge),
		calls: make(map[string]int),
	}
}

func (m *MockGraphDB) add(head, relType, tail string) {
	m.seq++
	m.edges[head] = append(m.edges[head], &Edge{Seq: m.seq, Relation: model.Relation{Head: head, Type: relType, Tail: tail}})
}

func (m *MockGraphDB) OutgoingRelations(ctx context.Context, entity string) ([]*Edge, error) {
	m.calls[entity]++
	if entity == "Broken" {
		return nil, assert.AnError
	}
	return m.edges[entity], nil
}

func TestWalks(t *testing.T) {
	// Create test graph: A -> B -> C
	//                     A -> D
	mockDB := NewMockGraphDB()
	mockDB.add("A", "knows", "B")
	mockDB.add("A", "knows", "D")
	mockDB.add("B", "knows", "C")

	t.Run("Walks with max hops 1", func(t *testing.T) {
		paths, err := Walks(context.Background(), mockDB, "A", 1)
		require.NoError(t, err, "Expected Walks to not return an error")
		require.Len(t, paths, 2, "Expected the two outgoing relations of A")
		assert.Equal(t, "B", paths[0].Edges[0].Tail, "Expected insertion order")
		assert.Equal(t, "D", paths[1].Edges[0].Tail, "Expected insertion order")
	})

	t.Run("Walks with max hops 2", func(t *testing.T) {
		paths, err := Walks(context.Background(), mockDB, "A", 2)
		require.NoError(t, err)
		require.Len(t, paths, 3)
		assert.Equal(t, 1, paths[0].Len())
		assert.Equal(t, 1, paths[1].Len())
		assert.Equal(t, []model.Relation{
			{Head: "A", Type: "knows", Tail: "B"},
			{Head: "B", Type: "knows", Tail: "C"},
		}, paths[2].Edges)
	})

	t.Run("Walks from a leaf", func(t *testing.T) {
		paths, err := Walks(context.Background(), mockDB, "C", 3)
		require.NoError(t, err)
		assert.NotNil(t, paths)
		assert.Empty(t, paths)
	})

	t.Run("Walks with invalid hops", func(t *testing.T) {
		_, err := Walks(context.Background(), mockDB, "A", 0)
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)

		_, err = Walks(context.Background(), mockDB, "A", model.MaxHops+1)
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)
	})

	t.Run("Walks with cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Walks(ctx, mockDB, "A", 2)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Walks propagates store errors", func(t *testing.T) {
		_, err := Walks(context.Background(), mockDB, "Broken", 2)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestWalksOnCycles(t *testing.T) {
	mockDB := NewMockGraphDB()
	mockDB.add("A", "knows", "B")
	mockDB.add("B", "knows", "A")

	t.Run("No relation repeats within a walk", func(t *testing.T) {
		paths, err := Walks(context.Background(), mockDB, "A", model.MaxHops)
		require.NoError(t, err)
		require.Len(t, paths, 2, "Expected A->B and A->B->A only")
		assert.Equal(t, "A", paths[1].Edges[1].Tail, "Expected the walk to return to its seed")
	})

	t.Run("Entities may be revisited through different relations", func(t *testing.T) {
		mockDB.add("A", "likes", "B")
		paths, err := Walks(context.Background(), mockDB, "A", 3)
		require.NoError(t, err)

		for _, p := range paths {
			seen := map[model.Relation]bool{}
			for _, e := range p.Edges {
				assert.False(t, seen[e], "Expected relation %s to appear once in %v", e, p.Edges)
				seen[e] = true
			}
			assert.LessOrEqual(t, p.Len(), 3)
		}
		// A-knows->B, A-likes->B, A-knows->B-knows->A, A-likes->B-knows->A,
		// A-knows->B-knows->A-likes->B, A-likes->B-knows->A-knows->B
		assert.Len(t, paths, 6)
	})
}
