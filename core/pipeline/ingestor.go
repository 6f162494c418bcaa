package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
)

// GraphWriter is the part of a graph store the ingestor writes to.
type GraphWriter interface {
	EnsureVectorIndex(ctx context.Context, dimension int) error
	UpsertTriples(ctx context.Context, triples []model.Triple) error
	AttachVector(ctx context.Context, entityName string, vector []float32) error
}

// PassageWriter is the part of a vector store the ingestor writes to.
type PassageWriter interface {
	Collections(ctx context.Context) ([]*model.CollectionInfo, error)
	EnsureCollection(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, collection string, records []*model.PassageRecord) error
}

// IngestResult summarizes one ingestion call.
type IngestResult struct {
	JobID    uuid.UUID     `json:"job_id"`
	Triples  int           `json:"triples,omitempty"`
	Entities int           `json:"entities,omitempty"`
	Passages int           `json:"passages,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Ingestor embeds triples and passages and writes them to the stores.
// Either store may be nil, calls that need a missing store fail with ErrInvalidArgument.
type Ingestor struct {
	graph     GraphWriter
	passages  PassageWriter
	embedder  Embedder
	chunker   ChunkFunc
	extractor TripleExtractFunc
	batchSize int
	logger    *slog.Logger
}

// NewIngestor creates an ingestor. A nil chunker defaults to three sentences per chunk.
func NewIngestor(graph GraphWriter, passages PassageWriter, embedder Embedder, chunker ChunkFunc, batchSize int, logger *slog.Logger) *Ingestor {
	if chunker == nil {
		chunker = SentenceChunker(3)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		graph:     graph,
		passages:  passages,
		embedder:  embedder,
		chunker:   chunker,
		batchSize: max(batchSize, 1),
		logger:    logger,
	}
}

// SetTripleExtractor sets the function IngestDocument uses to extract triples from every chunk.
// Without an extractor documents only become passages.
func (i *Ingestor) SetTripleExtractor(extractor TripleExtractFunc) {
	i.extractor = extractor
}

// IngestTriples upserts the triples and attaches an embedding of its name to every entity.
// The vector index is ensured first, so a dimension conflict fails before anything is written.
func (i *Ingestor) IngestTriples(ctx context.Context, triples []model.Triple) (*IngestResult, error) {
	if i.graph == nil {
		return nil, helper.NewError("ingest triples", helper.Errorf(helper.ErrInvalidArgument, "no graph store configured"))
	}
	start := time.Now()

	names := make([]string, 0, len(triples)*2)
	seen := map[string]bool{}
	for idx, t := range triples {
		rel, err := t.Normalize()
		if err != nil {
			return nil, helper.NewError(fmt.Sprintf("triple %d", idx), err)
		}
		for _, name := range []string{rel.Head, rel.Tail} {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	if err := i.graph.EnsureVectorIndex(ctx, i.embedder.Dimension()); err != nil {
		return nil, helper.NewError("ensure vector index", err)
	}
	if err := i.graph.UpsertTriples(ctx, triples); err != nil {
		return nil, helper.NewError("upsert triples", err)
	}

	job := StartEmbedJob(ctx, i.embedder, names, i.batchSize, i.logger)
	vectors, err := job.Wait(ctx)
	if err != nil {
		return nil, helper.NewError("embed entities", err)
	}

	for idx, name := range names {
		if err := i.graph.AttachVector(ctx, name, vectors[idx]); err != nil {
			return nil, helper.NewError(fmt.Sprintf("attach vector %q", name), err)
		}
	}

	result := &IngestResult{
		JobID:    job.ID,
		Triples:  len(triples),
		Entities: len(names),
		Duration: time.Since(start),
	}
	i.logger.Info("Ingested triples", slog.String("job", job.ID.String()),
		slog.Int("triples", result.Triples), slog.Int("entities", result.Entities), slog.Duration("duration", result.Duration))

	return result, nil
}

// IngestPassages embeds texts and upserts them into collection.
// The collection is created with the embedder dimension if needed.
func (i *Ingestor) IngestPassages(ctx context.Context, collection string, texts []string, sourceID string) (*IngestResult, error) {
	return i.ingestPassages(ctx, collection, texts, sourceID, nil)
}

// IngestDocument chunks text and ingests the chunks as passages.
// Each passage keeps its chunk path and offsets as metadata.
func (i *Ingestor) IngestDocument(ctx context.Context, collection string, text string, sourceID string) (*IngestResult, error) {
	basePath := sourceID
	if basePath == "" {
		basePath = "doc"
	}
	chunks, err := i.chunker(text, basePath)
	if err != nil {
		return nil, helper.NewError("chunk document", err)
	}

	texts := make([]string, len(chunks))
	metadata := make([]model.Metadata, len(chunks))
	for idx, c := range chunks {
		texts[idx] = c.Content
		metadata[idx] = model.Metadata{
			"path":        c.Path,
			"chunk_index": c.ChunkIndex,
			"start_pos":   c.StartPos,
			"end_pos":     c.EndPos,
		}
		for k, v := range c.Metadata {
			metadata[idx][k] = v
		}
	}

	result, err := i.ingestPassages(ctx, collection, texts, sourceID, metadata)
	if err != nil || i.extractor == nil {
		return result, err
	}

	var triples []model.Triple
	for idx, text := range texts {
		extracted, err := i.extractor(ctx, text)
		if err != nil {
			return nil, helper.NewError(fmt.Sprintf("extract triples from chunk %d", idx), err)
		}
		triples = append(triples, extracted...)
	}
	if len(triples) == 0 {
		return result, nil
	}

	graphResult, err := i.IngestTriples(ctx, triples)
	if err != nil {
		return nil, err
	}
	result.Triples = graphResult.Triples
	result.Entities = graphResult.Entities
	return result, nil
}

func (i *Ingestor) ingestPassages(ctx context.Context, collection string, texts []string, sourceID string, metadata []model.Metadata) (*IngestResult, error) {
	if i.passages == nil {
		return nil, helper.NewError("ingest passages", helper.Errorf(helper.ErrInvalidArgument, "no vector store configured"))
	}
	start := time.Now()

	if err := i.checkCollection(ctx, collection); err != nil {
		return nil, err
	}
	if err := i.passages.EnsureCollection(ctx, collection, i.embedder.Dimension()); err != nil {
		return nil, helper.NewError("ensure collection", err)
	}

	job := StartEmbedJob(ctx, i.embedder, texts, i.batchSize, i.logger)
	vectors, err := job.Wait(ctx)
	if err != nil {
		return nil, helper.NewError("embed passages", err)
	}

	records := make([]*model.PassageRecord, len(texts))
	for idx, text := range texts {
		records[idx] = model.NewPassageRecord(text, vectors[idx], sourceID)
		if metadata != nil {
			records[idx].Metadata = metadata[idx]
		}
	}
	if err := i.passages.Upsert(ctx, collection, records); err != nil {
		return nil, helper.NewError("upsert passages", err)
	}

	result := &IngestResult{
		JobID:    job.ID,
		Passages: len(records),
		Duration: time.Since(start),
	}
	i.logger.Info("Ingested passages", slog.String("job", job.ID.String()), slog.String("collection", collection),
		slog.Int("passages", result.Passages), slog.Duration("duration", result.Duration))

	return result, nil
}

// checkCollection fails if collection exists with another dimension than the embedder's.
// EnsureCollection would recreate it and drop the stored passages.
func (i *Ingestor) checkCollection(ctx context.Context, collection string) error {
	infos, err := i.passages.Collections(ctx)
	if err != nil {
		return helper.NewError("list collections", err)
	}
	for _, info := range infos {
		if info.Name == collection && info.Dimension != i.embedder.Dimension() {
			return helper.NewError("ensure collection", helper.Errorf(helper.ErrDimensionMismatch,
				"collection %s has dimension %d, embedder produces %d", collection, info.Dimension, i.embedder.Dimension()))
		}
	}
	return nil
}
