package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/grounder/helper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedJob(t *testing.T) {
	ctx := context.Background()

	t.Run("Embeds all texts in order", func(t *testing.T) {
		embedder := NewFuncEmbedder(func(ctx context.Context, text string) ([]float32, error) {
			return vectorFor(text), nil
		}, 3)
		texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}

		job := StartEmbedJob(ctx, embedder, texts, 2, nil)
		assert.NotEqual(t, uuid.Nil, job.ID)

		vectors, err := job.Wait(ctx)
		require.NoError(t, err)
		require.Len(t, vectors, len(texts))
		for i, text := range texts {
			assert.Equal(t, vectorFor(text), vectors[i])
		}

		assert.Equal(t, JobDone, job.Status())
		done, total := job.Progress()
		assert.Equal(t, 5, done)
		assert.Equal(t, 5, total)
	})

	t.Run("Empty input", func(t *testing.T) {
		embedder := NewFuncEmbedder(func(ctx context.Context, text string) ([]float32, error) {
			return vectorFor(text), nil
		}, 3)

		vectors, err := StartEmbedJob(ctx, embedder, nil, 2, nil).Wait(ctx)
		require.NoError(t, err)
		assert.Empty(t, vectors)
	})

	t.Run("Failing batch stops the job", func(t *testing.T) {
		embedder := NewFuncEmbedder(func(ctx context.Context, text string) ([]float32, error) {
			if text == "ccc" {
				return nil, assert.AnError
			}
			return vectorFor(text), nil
		}, 3)

		job := StartEmbedJob(ctx, embedder, []string{"a", "bb", "ccc", "dddd"}, 2, nil)
		_, err := job.Wait(ctx)
		assert.ErrorIs(t, err, helper.ErrEmbeddingFailed)
		assert.Equal(t, JobFailed, job.Status())

		done, total := job.Progress()
		assert.Equal(t, 2, done, "Expected the first batch to be counted")
		assert.Equal(t, 4, total)
	})

	t.Run("Cancel stops the job", func(t *testing.T) {
		started := make(chan struct{})
		embedder := NewFuncEmbedder(func(ctx context.Context, text string) ([]float32, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, 3)

		job := StartEmbedJob(ctx, embedder, []string{"a", "b"}, 1, nil)
		<-started
		job.Cancel()

		_, err := job.Wait(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, JobCancelled, job.Status())
	})

	t.Run("Wait honours its own context", func(t *testing.T) {
		release := make(chan struct{})
		embedder := NewFuncEmbedder(func(ctx context.Context, text string) ([]float32, error) {
			<-release
			return vectorFor(text), nil
		}, 3)

		job := StartEmbedJob(ctx, embedder, []string{"a"}, 1, nil)
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		_, err := job.Wait(waitCtx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, JobRunning, job.Status())

		close(release)
		_, err = job.Wait(ctx)
		assert.NoError(t, err)
	})
}
