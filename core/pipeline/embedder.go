package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/siherrmann/grounder/config"
	"github.com/siherrmann/grounder/helper"
)

// Embedder turns text into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// EmbedFunc is a function that generates embeddings for text
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// NewEmbedder creates the embedder registered for cfg.Provider.
// Unknown providers are rejected with ErrInvalidArgument.
func NewEmbedder(cfg config.EmbeddingConfig, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var embedder Embedder
	var err error
	switch cfg.Provider {
	case config.ProviderHugot:
		embedder, err = NewHugotEmbedder(cfg.Model, cfg.Dimension)
	case config.ProviderOpenAI:
		embedder, err = NewOpenAIEmbedder(cfg)
	case config.ProviderOllama:
		embedder, err = NewOllamaEmbedder(cfg)
	default:
		err = helper.Errorf(helper.ErrInvalidArgument, "unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, helper.NewError("new embedder", err)
	}

	if cfg.CacheSize > 0 || cfg.RedisAddr != "" {
		embedder = NewCachedEmbedder(embedder, newCache(cfg), string(cfg.Provider)+":"+cfg.Model, logger)
	}

	logger.Info("Initialized embedder", slog.String("provider", string(cfg.Provider)),
		slog.String("model", cfg.Model), slog.Int("dimension", embedder.Dimension()))

	return embedder, nil
}

// FuncEmbedder adapts an EmbedFunc of known dimension to Embedder.
type FuncEmbedder struct {
	fn        EmbedFunc
	dimension int
}

// NewFuncEmbedder wraps fn. Every vector fn returns has to have the given dimension.
func NewFuncEmbedder(fn EmbedFunc, dimension int) *FuncEmbedder {
	return &FuncEmbedder{fn: fn, dimension: dimension}
}

func (e *FuncEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.fn(ctx, text)
	if err != nil {
		return nil, helper.NewError("embed", fmt.Errorf("%w: %w", helper.ErrEmbeddingFailed, err))
	}
	if err := checkDimension(vector, e.dimension); err != nil {
		return nil, helper.NewError("embed", err)
	}
	return vector, nil
}

func (e *FuncEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (e *FuncEmbedder) Dimension() int {
	return e.dimension
}

// HugotEmbedder runs a sentence transformer locally.
// The default all-MiniLM-L6-v2 model produces 384-dimensional embeddings.
type HugotEmbedder struct {
	mu        sync.Mutex
	session   *hugot.Session
	pipeline  *pipelines.FeatureExtractionPipeline
	dimension int
}

// NewHugotEmbedder downloads the model if needed and starts a pure go session.
func NewHugotEmbedder(modelName string, dimension int) (*HugotEmbedder, error) {
	if modelName == "" {
		modelName = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if dimension == 0 {
		dimension = 384
	}

	modelPath, err := helper.PrepareModel(modelName, "")
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-pipeline",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create sentence pipeline: %w", err)
	}

	return &HugotEmbedder{
		session:   session,
		pipeline:  sentencePipeline,
		dimension: dimension,
	}, nil
}

func (e *HugotEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *HugotEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	result, err := e.pipeline.RunPipeline(texts)
	e.mu.Unlock()
	if err != nil {
		return nil, helper.NewError("hugot embed", fmt.Errorf("%w: %w", helper.ErrEmbeddingFailed, err))
	}
	if len(result.Embeddings) != len(texts) {
		return nil, helper.NewError("hugot embed", helper.Errorf(helper.ErrEmbeddingFailed,
			"got %d embeddings for %d texts", len(result.Embeddings), len(texts)))
	}

	for _, vector := range result.Embeddings {
		if err := checkDimension(vector, e.dimension); err != nil {
			return nil, helper.NewError("hugot embed", err)
		}
	}
	return result.Embeddings, nil
}

func (e *HugotEmbedder) Dimension() int {
	return e.dimension
}

// Close destroys the hugot session.
func (e *HugotEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Destroy()
}

func checkDimension(vector []float32, dimension int) error {
	if len(vector) != dimension {
		return helper.Errorf(helper.ErrEmbeddingFailed, "embedding has dimension %d, expected %d", len(vector), dimension)
	}
	return nil
}
