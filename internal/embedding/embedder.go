// Package embedding turns text into fixed-dimension vectors and caches the results.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Embedder produces vector embeddings for text. Implementations are safe for concurrent use
// once constructed, and return vectors of exactly Dimensions() elements.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model returns the model identifier the vectors were produced with.
	Model() string
	Close() error
}

// ErrEmptyText is returned for text that is empty after whitespace normalisation.
var ErrEmptyText = errors.New("text is empty after normalization")

// DefaultModel is the sentence-transformers model the stored corpus is embedded with.
const DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"

var knownDimensions = map[string]int{
	"sentence-transformers/all-MiniLM-L6-v2":  384,
	"sentence-transformers/all-MiniLM-L12-v2": 384,
	"sentence-transformers/all-mpnet-base-v2": 768,
	"BAAI/bge-small-en-v1.5":                  384,
	"BAAI/bge-base-en-v1.5":                   768,
	"text-embedding-3-small":                  1536,
	"text-embedding-3-large":                  3072,
	"text-embedding-ada-002":                  1536,
}

// ResolveDimensions returns the vector size for model. An explicit size wins; otherwise the
// model must be one we know, so that a typo fails at startup instead of at the first query.
func ResolveDimensions(model string, configured int) (int, error) {
	if configured > 0 {
		return configured, nil
	}
	if model == "" {
		return 0, errors.New("embedding model is not set")
	}
	if d, ok := knownDimensions[model]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown embedding model %q: set embedding.dimensions explicitly", model)
}

// normalizeText collapses runs of whitespace and trims the result.
func normalizeText(text string) (string, error) {
	s := strings.Join(strings.Fields(text), " ")
	if s == "" {
		return "", ErrEmptyText
	}
	return s, nil
}

func checkDimensions(got []float32, want int) error {
	if len(got) != want {
		return fmt.Errorf("model returned %d dimensions, expected %d", len(got), want)
	}
	return nil
}
