package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/siherrmann/grounder/model"
)

// TripleExtractFunc extracts triples from free text.
type TripleExtractFunc func(ctx context.Context, text string) ([]model.Triple, error)

// REBELExtractor extracts triples with a REBEL text generation model.
type REBELExtractor struct {
	mu       sync.Mutex
	session  *hugot.Session
	pipeline *pipelines.TextGenerationPipeline
}

// NewREBELExtractor loads the REBEL onnx model at modelPath.
func NewREBELExtractor(modelPath string) (*REBELExtractor, error) {
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.TextGenerationConfig{
		ModelPath: modelPath,
		Name:      "rebel-pipeline",
	}
	generationPipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create REBEL pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create REBEL pipeline: %w", err)
	}

	return &REBELExtractor{session: session, pipeline: generationPipeline}, nil
}

// Extract runs the model on text and returns the generated triples.
func (e *REBELExtractor) Extract(ctx context.Context, text string) ([]model.Triple, error) {
	e.mu.Lock()
	output, err := e.pipeline.RunPipeline(ctx, []string{text})
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to generate with REBEL: %w", err)
	}

	if len(output.Responses) == 0 {
		return []model.Triple{}, nil
	}
	return parseREBELOutput(output.Responses[0]), nil
}

// Close destroys the hugot session.
func (e *REBELExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Destroy()
}

var tripletPattern = regexp.MustCompile(`<triplet>([^<]+)<subj>([^<]+)<obj>([^<]+)`)

// parseREBELOutput parses "<triplet> head <subj> relation <obj> tail <triplet> ...".
// Triplets with an empty part are dropped.
func parseREBELOutput(generated string) []model.Triple {
	triples := []model.Triple{}
	for _, match := range tripletPattern.FindAllStringSubmatch(generated, -1) {
		triple := model.Triple{
			H: strings.TrimSpace(match[1]),
			R: strings.TrimSpace(match[2]),
			T: strings.TrimSpace(match[3]),
		}
		if _, err := triple.Normalize(); err != nil {
			continue
		}
		triples = append(triples, triple)
	}
	return triples
}
