package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/grounder/helper"
)

// JobStatus is the lifecycle state of an EmbedJob.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// EmbedJob embeds a list of texts in batches in the background.
// A job belongs to the request that started it.
type EmbedJob struct {
	ID      uuid.UUID
	Started time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	status   JobStatus
	total    int
	embedded int
	vectors  [][]float32
	err      error
}

// StartEmbedJob starts embedding texts with batches of batchSize.
// The job stops at the first failing batch.
func StartEmbedJob(ctx context.Context, embedder Embedder, texts []string, batchSize int, logger *slog.Logger) *EmbedJob {
	if logger == nil {
		logger = slog.Default()
	}
	batchSize = max(batchSize, 1)

	jobCtx, cancel := context.WithCancel(ctx)
	job := &EmbedJob{
		ID:      uuid.New(),
		Started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  JobRunning,
		total:   len(texts),
		vectors: make([][]float32, len(texts)),
	}

	go func() {
		defer close(job.done)
		defer cancel()

		for start := 0; start < len(texts); start += batchSize {
			if err := jobCtx.Err(); err != nil {
				job.finish(err)
				return
			}

			end := min(start+batchSize, len(texts))
			vectors, err := embedder.EmbedBatch(jobCtx, texts[start:end])
			if err == nil && len(vectors) != end-start {
				err = helper.Errorf(helper.ErrEmbeddingFailed, "got %d embeddings for %d texts", len(vectors), end-start)
			}
			if err != nil {
				job.finish(err)
				logger.Warn("Embed job failed", slog.String("job", job.ID.String()),
					slog.Int("embedded", start), slog.Int("total", len(texts)), slog.String("error", err.Error()))
				return
			}

			job.mu.Lock()
			copy(job.vectors[start:end], vectors)
			job.embedded = end
			job.mu.Unlock()
		}

		job.finish(nil)
		logger.Debug("Embed job done", slog.String("job", job.ID.String()),
			slog.Int("total", len(texts)), slog.Duration("duration", time.Since(job.Started)))
	}()

	return job
}

func (j *EmbedJob) finish(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch {
	case err == nil:
		j.status = JobDone
	case helper.IsKind(err, context.Canceled):
		j.status = JobCancelled
		j.err = err
	default:
		j.status = JobFailed
		j.err = err
	}
}

// Status returns the current state.
func (j *EmbedJob) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Progress returns the number of embedded texts and the total.
func (j *EmbedJob) Progress() (int, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.embedded, j.total
}

// Cancel stops the job after the running batch.
func (j *EmbedJob) Cancel() {
	j.cancel()
}

// Wait blocks until the job has finished or ctx is done and returns the vectors in input order.
func (j *EmbedJob) Wait(ctx context.Context) ([][]float32, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return nil, helper.NewError("embed job "+j.ID.String(), j.err)
	}
	return j.vectors, nil
}
