package database

import (
	"context"
	"testing"
	"time"

	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeIndexType(t *testing.T) {
	passagesDbHandler := newPassages(t)
	ctx := context.Background()

	err := passagesDbHandler.EnsureCollection(ctx, "index_test", 384)
	require.NoError(t, err, "Expected EnsureCollection to not return an error")

	t.Run("Change index to HNSW with default params", func(t *testing.T) {
		params := map[string]interface{}{}
		err := passagesDbHandler.ChangeIndexType(ctx, "index_test", "hnsw", params)
		assert.NoError(t, err, "Expected ChangeIndexType to hnsw to not return an error")
	})

	t.Run("Change index to HNSW with custom params", func(t *testing.T) {
		params := map[string]interface{}{
			"m":               32,
			"ef_construction": 128,
		}
		err := passagesDbHandler.ChangeIndexType(ctx, "index_test", "hnsw", params)
		assert.NoError(t, err, "Expected ChangeIndexType to hnsw with custom params to not return an error")
	})

	t.Run("Change index to IVFFlat with default params", func(t *testing.T) {
		params := map[string]interface{}{}
		err := passagesDbHandler.ChangeIndexType(ctx, "index_test", "ivfflat", params)
		assert.NoError(t, err, "Expected ChangeIndexType to ivfflat to not return an error")
	})

	t.Run("Change index to IVFFlat with custom params", func(t *testing.T) {
		params := map[string]interface{}{
			"lists": 200,
		}
		err := passagesDbHandler.ChangeIndexType(ctx, "index_test", "ivfflat", params)
		assert.NoError(t, err, "Expected ChangeIndexType to ivfflat with custom params to not return an error")
	})

	t.Run("Change index with unsupported index type", func(t *testing.T) {
		params := map[string]interface{}{}
		err := passagesDbHandler.ChangeIndexType(ctx, "index_test", "invalid", params)
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)
		assert.Contains(t, err.Error(), "unsupported index type", "Expected error message to mention unsupported index type")
	})

	t.Run("Change index of unknown collection", func(t *testing.T) {
		err := passagesDbHandler.ChangeIndexType(ctx, "index_missing", "hnsw", nil)
		assert.ErrorIs(t, err, helper.ErrNotFound)
	})

	t.Run("Change index with timeout context", func(t *testing.T) {
		shortCtx, cancel := context.WithTimeout(ctx, 1*time.Nanosecond)
		defer cancel()

		time.Sleep(10 * time.Millisecond)

		params := map[string]interface{}{}
		err := passagesDbHandler.ChangeIndexType(shortCtx, "index_test", "hnsw", params)
		assert.Error(t, err, "Expected an expired context to fail")
	})

	t.Run("Change index back to HNSW and search", func(t *testing.T) {
		params := map[string]interface{}{
			"m":               16,
			"ef_construction": 64,
		}
		err := passagesDbHandler.ChangeIndexType(ctx, "index_test", "hnsw", params)
		assert.NoError(t, err, "Expected ChangeIndexType back to hnsw to not return an error")

		vector := make([]float32, 384)
		vector[0] = 1
		err = passagesDbHandler.Upsert(ctx, "index_test", []*model.PassageRecord{model.NewPassageRecord("indexed", vector, "")})
		require.NoError(t, err)

		hits, err := passagesDbHandler.Search(ctx, "index_test", vector, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "indexed", hits[0].Text)
	})
}
