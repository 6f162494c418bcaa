package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/siherrmann/grounder/config"
	"github.com/siherrmann/grounder/helper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// OpenAIEmbedder calls an OpenAI compatible embeddings endpoint.
// Batches are split into requests of at most batchSize inputs and at most
// concurrency requests are in flight per embedder.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
	batchSize int
	timeout   time.Duration
	reqLock   *semaphore.Weighted
}

// NewOpenAIEmbedder creates an embedder from the model, dimension, base url and api key of cfg.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.Dimension < 1 {
		return nil, helper.Errorf(helper.ErrInvalidArgument, "dimension must be set for openai embeddings")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(options...),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: max(cfg.BatchSize, 1),
		timeout:   timeout(cfg),
		reqLock:   semaphore.NewWeighted(max(cfg.Concurrency, 1)),
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per text in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, e.batchSize, e.dimension, e.embedStrings)
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) embedStrings(ctx context.Context, inputs []string) ([][]float32, error) {
	rCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer e.reqLock.Release(1)

	body := openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: openai.Int(int64(e.dimension)),
	}
	response, err := e.client.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, helper.NewError("openai embed", fmt.Errorf("%w: %w", helper.ErrEmbeddingFailed, err))
	}
	if len(response.Data) != len(inputs) {
		return nil, helper.NewError("openai embed", helper.Errorf(helper.ErrEmbeddingFailed,
			"got %d embeddings for %d inputs", len(response.Data), len(inputs)))
	}

	out := make([][]float32, len(inputs))
	for _, embedding := range response.Data {
		idx := int(embedding.Index)
		if idx < 0 || idx >= len(inputs) {
			return nil, helper.NewError("openai embed", helper.Errorf(helper.ErrEmbeddingFailed, "embedding index out of range: %d", embedding.Index))
		}
		vector := make([]float32, len(embedding.Embedding))
		for i, v := range embedding.Embedding {
			vector[i] = float32(v)
		}
		if err := checkDimension(vector, e.dimension); err != nil {
			return nil, helper.NewError("openai embed", err)
		}
		out[idx] = vector
	}
	for i := range out {
		if out[i] == nil {
			return nil, helper.NewError("openai embed", helper.Errorf(helper.ErrEmbeddingFailed, "missing embedding for index %d", i))
		}
	}
	return out, nil
}

// OllamaEmbedder calls the embed endpoint of an ollama server.
type OllamaEmbedder struct {
	client    *api.Client
	model     string
	dimension int
	batchSize int
	timeout   time.Duration
	reqLock   *semaphore.Weighted
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewOllamaEmbedder creates an embedder for the server at cfg.BaseURL, or the ollama default when empty.
func NewOllamaEmbedder(cfg config.EmbeddingConfig) (*OllamaEmbedder, error) {
	if cfg.Dimension < 1 {
		return nil, helper.Errorf(helper.ErrInvalidArgument, "dimension must be set for ollama embeddings")
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}

	var u *url.URL
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, helper.Errorf(helper.ErrInvalidArgument, "base url %q: %v", cfg.BaseURL, err)
		}
		u = parsed
	} else {
		u = &url.URL{Scheme: "http", Host: "localhost:11434"}
	}

	httpClient := http.DefaultClient
	if cfg.APIKey != "" {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{"Authorization": "Bearer " + cfg.APIKey},
				rt:      http.DefaultTransport,
			},
		}
	}

	return &OllamaEmbedder{
		client:    api.NewClient(u, httpClient),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: max(cfg.BatchSize, 1),
		timeout:   timeout(cfg),
		reqLock:   semaphore.NewWeighted(max(cfg.Concurrency, 1)),
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per text in input order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, e.batchSize, e.dimension, e.embedStrings)
}

func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

func (e *OllamaEmbedder) embedStrings(ctx context.Context, inputs []string) ([][]float32, error) {
	rCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer e.reqLock.Release(1)

	res, err := e.client.Embed(rCtx, &api.EmbedRequest{
		Model: e.model,
		Input: inputs,
	})
	if err != nil {
		return nil, helper.NewError("ollama embed", fmt.Errorf("%w: %w", helper.ErrEmbeddingFailed, err))
	}
	if len(res.Embeddings) != len(inputs) {
		return nil, helper.NewError("ollama embed", helper.Errorf(helper.ErrEmbeddingFailed,
			"got %d embeddings for %d inputs", len(res.Embeddings), len(inputs)))
	}

	out := make([][]float32, len(inputs))
	for i, embedding := range res.Embeddings {
		if err := checkDimension(embedding, e.dimension); err != nil {
			return nil, helper.NewError("ollama embed", err)
		}
		out[i] = embedding
	}
	return out, nil
}

// embedInBatches splits texts into batches of size and embeds them concurrently.
// Blank texts are not sent and get a zero vector of the given dimension.
func embedInBatches(ctx context.Context, texts []string, size int, dimension int, embed func(ctx context.Context, inputs []string) ([][]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	idxMap := make([]int, 0, len(texts))
	inputs := make([]string, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		idxMap = append(idxMap, i)
		inputs = append(inputs, text)
	}

	eg, ectx := errgroup.WithContext(ctx)
	for start := 0; start < len(inputs); start += size {
		end := min(start+size, len(inputs))
		eg.Go(func() error {
			vectors, err := embed(ectx, inputs[start:end])
			if err != nil {
				return err
			}
			for i, vector := range vectors {
				out[idxMap[start+i]] = vector
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i] == nil {
			out[i] = make([]float32, dimension)
		}
	}
	return out, nil
}

func timeout(cfg config.EmbeddingConfig) time.Duration {
	if cfg.TimeoutSec <= 0 {
		return time.Minute
	}
	return time.Duration(cfg.TimeoutSec) * time.Second
}
