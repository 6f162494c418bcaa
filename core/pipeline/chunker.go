package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/siherrmann/grounder/helper"
)

// ChunkFunc is a function that splits text into chunks with their hierarchical paths
// The path is dot separated (e.g., "doc.chunk3")
type ChunkFunc func(text string, basePath string) ([]ChunkWithPath, error)

// ChunkWithPath represents a chunk with its hierarchical path
type ChunkWithPath struct {
	Content    string
	Path       string
	StartPos   int // byte offset in the source text
	EndPos     int
	ChunkIndex int
	Metadata   map[string]interface{}
}

type span struct {
	text       string
	start, end int
}

// splitSentences splits at ". ", "! " and "? " and keeps the byte offsets of every sentence.
func splitSentences(text string) []span {
	var spans []span
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && i+1 < len(text) && isSpace(text[i+1]) {
			spans = appendSpan(spans, text, start, i+1)
			start = i + 1
		}
	}
	return appendSpan(spans, text, start, len(text))
}

func appendSpan(spans []span, text string, start, end int) []span {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	if start == end {
		return spans
	}
	return append(spans, span{text: text[start:end], start: start, end: end})
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

func newChunk(sentences []span, basePath string, kind string, idx int, metadata map[string]interface{}) ChunkWithPath {
	parts := make([]string, len(sentences))
	for i, s := range sentences {
		parts[i] = s.text
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return ChunkWithPath{
		Content:    strings.Join(parts, " "),
		Path:       fmt.Sprintf("%s.%s%d", basePath, kind, idx),
		StartPos:   sentences[0].start,
		EndPos:     sentences[len(sentences)-1].end,
		ChunkIndex: idx,
		Metadata:   metadata,
	}
}

// SentenceChunker creates a chunker that splits by sentences
func SentenceChunker(maxSentencesPerChunk int) ChunkFunc {
	return func(text string, basePath string) ([]ChunkWithPath, error) {
		if maxSentencesPerChunk <= 0 {
			return nil, helper.Errorf(helper.ErrInvalidArgument, "max sentences per chunk must be positive")
		}

		sentences := splitSentences(text)
		chunks := []ChunkWithPath{}
		for start := 0; start < len(sentences); start += maxSentencesPerChunk {
			end := min(start+maxSentencesPerChunk, len(sentences))
			chunks = append(chunks, newChunk(sentences[start:end], basePath, "chunk", len(chunks), nil))
		}

		return chunks, nil
	}
}

// ParagraphChunker creates a chunker that splits by paragraphs
func ParagraphChunker() ChunkFunc {
	return func(text string, basePath string) ([]ChunkWithPath, error) {
		chunks := []ChunkWithPath{}
		pos := 0
		for _, para := range strings.Split(text, "\n\n") {
			start := pos
			pos += len(para) + 2

			spans := appendSpan(nil, text, start, start+len(para))
			if len(spans) == 0 {
				continue
			}
			chunks = append(chunks, newChunk(spans, basePath, "para", len(chunks), nil))
		}

		return chunks, nil
	}
}

// SemanticChunker creates a chunker that uses embeddings to identify natural boundaries.
// A chunk ends where the similarity of the next sentence to the chunk average drops
// below similarityThreshold or the chunk would exceed maxChunkSize bytes.
func SemanticChunker(embedder Embedder, maxChunkSize int, similarityThreshold float64) ChunkFunc {
	return func(text string, basePath string) ([]ChunkWithPath, error) {
		if maxChunkSize <= 0 {
			return nil, helper.Errorf(helper.ErrInvalidArgument, "max chunk size must be positive")
		}

		sentences := splitSentences(text)
		if len(sentences) == 0 {
			return []ChunkWithPath{}, nil
		}

		texts := make([]string, len(sentences))
		for i, s := range sentences {
			texts[i] = s.text
		}
		embeddings, err := embedder.EmbedBatch(context.Background(), texts)
		if err != nil {
			return nil, helper.NewError("semantic chunker", err)
		}
		if len(embeddings) != len(sentences) {
			return nil, helper.Errorf(helper.ErrEmbeddingFailed, "got %d embeddings for %d sentences", len(embeddings), len(sentences))
		}

		chunks := []ChunkWithPath{}
		var current []span
		var currentEmbeddings [][]float32
		currentLength := 0

		flush := func() {
			chunks = append(chunks, newChunk(current, basePath, "chunk", len(chunks), map[string]interface{}{
				"num_sentences":   len(current),
				"chunking_method": "semantic",
			}))
			current = nil
			currentEmbeddings = nil
			currentLength = 0
		}

		for i, sentence := range sentences {
			if len(current) > 0 {
				similarity := helper.CosineSimilarity(average(currentEmbeddings), embeddings[i])
				if similarity < similarityThreshold || currentLength+len(sentence.text) > maxChunkSize {
					flush()
				}
			}

			current = append(current, sentence)
			currentEmbeddings = append(currentEmbeddings, embeddings[i])
			currentLength += len(sentence.text)
		}
		flush()

		return chunks, nil
	}
}

func average(vectors [][]float32) []float32 {
	avg := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for j := range v {
			avg[j] += v[j]
		}
	}
	for j := range avg {
		avg[j] /= float32(len(vectors))
	}
	return avg
}
