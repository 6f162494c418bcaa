package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/siherrmann/grounder/core/graph"
	"github.com/siherrmann/grounder/core/vector"
	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIngestor(t *testing.T) (*Ingestor, *graph.MemoryGraph, *vector.MemoryStore) {
	g, err := graph.NewMemoryGraph("test")
	require.NoError(t, err)
	v := vector.NewMemoryStore(nil)
	embedder := NewFuncEmbedder(func(ctx context.Context, text string) ([]float32, error) {
		return vectorFor(text), nil
	}, 3)
	return NewIngestor(g, v, embedder, SentenceChunker(1), 2, nil), g, v
}

func TestIngestTriples(t *testing.T) {
	ctx := context.Background()

	t.Run("Entities are stored with their name embedding", func(t *testing.T) {
		ingestor, g, _ := newTestIngestor(t)

		result, err := ingestor.IngestTriples(ctx, []model.Triple{
			{H: "Alice", R: "knows", T: "Bob"},
			{H: "Bob", R: "works at", T: "Acme"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Triples)
		assert.Equal(t, 3, result.Entities)

		hits, err := g.VectorSearch(ctx, vectorFor("Alice"), 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)

		relations, err := g.SampleTriples(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, "works_at", relations[1].Type)
	})

	t.Run("Re-ingesting is idempotent", func(t *testing.T) {
		ingestor, g, _ := newTestIngestor(t)
		triples := []model.Triple{{H: "A", R: "knows", T: "B"}}

		_, err := ingestor.IngestTriples(ctx, triples)
		require.NoError(t, err)
		_, err = ingestor.IngestTriples(ctx, triples)
		require.NoError(t, err)

		info, err := g.Describe(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), info.EntityCount)
		assert.Equal(t, int64(1), info.RelationCount)
		assert.Equal(t, 3, info.VectorDimension)
	})

	t.Run("Invalid triple writes nothing", func(t *testing.T) {
		ingestor, g, _ := newTestIngestor(t)

		_, err := ingestor.IngestTriples(ctx, []model.Triple{{H: "A", R: "knows", T: "B"}, {H: "A", R: "bad!", T: "C"}})
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)

		info, err := g.Describe(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.EntityCount)
	})

	t.Run("Dimension conflict fails before the upsert", func(t *testing.T) {
		ingestor, g, _ := newTestIngestor(t)
		require.NoError(t, g.EnsureVectorIndex(ctx, 5))

		_, err := ingestor.IngestTriples(ctx, []model.Triple{{H: "A", R: "knows", T: "B"}})
		assert.ErrorIs(t, err, helper.ErrDimensionMismatch)

		info, err := g.Describe(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.EntityCount)
	})

	t.Run("No graph store", func(t *testing.T) {
		ingestor := NewIngestor(nil, nil, NewFuncEmbedder(nil, 3), nil, 1, nil)
		_, err := ingestor.IngestTriples(ctx, []model.Triple{{H: "A", R: "knows", T: "B"}})
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)
	})
}

func TestIngestPassages(t *testing.T) {
	ctx := context.Background()

	t.Run("Passages are searchable", func(t *testing.T) {
		ingestor, _, v := newTestIngestor(t)

		result, err := ingestor.IngestPassages(ctx, "docs", []string{"alpha", "beta"}, "src")
		require.NoError(t, err)
		assert.Equal(t, 2, result.Passages)

		hits, err := v.Search(ctx, "docs", vectorFor("alpha"), 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "alpha", hits[0].Text)
		assert.Equal(t, "src", hits[0].SourceID)
		assert.Equal(t, model.HashText("alpha"), hits[0].Hash)
	})

	t.Run("Same text keeps one passage", func(t *testing.T) {
		ingestor, _, v := newTestIngestor(t)

		_, err := ingestor.IngestPassages(ctx, "docs", []string{"alpha"}, "one")
		require.NoError(t, err)
		_, err = ingestor.IngestPassages(ctx, "docs", []string{"alpha"}, "two")
		require.NoError(t, err)

		infos, err := v.Collections(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), infos[0].Count)
	})

	t.Run("Dimension conflict keeps the stored passages", func(t *testing.T) {
		ingestor, _, v := newTestIngestor(t)

		_, err := ingestor.IngestPassages(ctx, "docs", []string{"alpha", "beta"}, "src")
		require.NoError(t, err)

		wider := NewFuncEmbedder(func(ctx context.Context, text string) ([]float32, error) {
			return append(vectorFor(text), 0), nil
		}, 4)
		_, err = NewIngestor(nil, v, wider, nil, 2, nil).IngestPassages(ctx, "docs", []string{"gamma"}, "src")
		assert.ErrorIs(t, err, helper.ErrDimensionMismatch)

		infos, err := v.Collections(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, 3, infos[0].Dimension)
		assert.Equal(t, int64(2), infos[0].Count)
	})

	t.Run("Embedding failure is returned", func(t *testing.T) {
		v := vector.NewMemoryStore(nil)
		failing := NewFuncEmbedder(func(ctx context.Context, text string) ([]float32, error) {
			return nil, assert.AnError
		}, 3)
		ingestor := NewIngestor(nil, v, failing, nil, 2, nil)

		_, err := ingestor.IngestPassages(ctx, "docs", []string{"alpha"}, "")
		assert.ErrorIs(t, err, helper.ErrEmbeddingFailed)
	})
}

func TestIngestDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("Chunks become passages with their path", func(t *testing.T) {
		ingestor, _, v := newTestIngestor(t)

		result, err := ingestor.IngestDocument(ctx, "docs", "Alice knows Bob. Bob works at Acme.", "notes")
		require.NoError(t, err)
		assert.Equal(t, 2, result.Passages)
		assert.Equal(t, 0, result.Triples)

		sample, err := v.SamplePassages(ctx, "docs", 10)
		require.NoError(t, err)
		require.Len(t, sample, 2)
		assert.Equal(t, "Alice knows Bob.", sample[0].Text)
		assert.Equal(t, "notes.chunk0", sample[0].Metadata["path"])
		assert.Equal(t, 1, sample[1].Metadata["chunk_index"])
	})

	t.Run("Extracted triples go to the graph", func(t *testing.T) {
		ingestor, g, _ := newTestIngestor(t)
		ingestor.SetTripleExtractor(func(ctx context.Context, text string) ([]model.Triple, error) {
			words := strings.Fields(strings.TrimSuffix(text, "."))
			if len(words) != 3 {
				return nil, nil
			}
			return []model.Triple{{H: words[0], R: words[1], T: words[2]}}, nil
		})

		result, err := ingestor.IngestDocument(ctx, "docs", "Alice knows Bob. Bob likes Carol.", "notes")
		require.NoError(t, err)
		assert.Equal(t, 2, result.Triples)
		assert.Equal(t, 3, result.Entities)

		paths, err := g.Expand(ctx, "Alice", 2)
		require.NoError(t, err)
		assert.Len(t, paths, 2)
	})
}
