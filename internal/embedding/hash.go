package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/recall/internal/vector"
)

// HashEmbedder is a deterministic embedder for tests and offline development. Each word
// contributes a hash-seeded direction, so texts sharing words land near each other.
type HashEmbedder struct {
	model      string
	dimensions int
}

// NewHashEmbedder returns an embedder producing deterministic unit vectors of the given size.
func NewHashEmbedder(model string, dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	if model == "" {
		model = "hash"
	}
	return &HashEmbedder{model: model, dimensions: dimensions}
}

// Embed returns a deterministic embedding built from the text's words.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	norm, err := normalizeText(text)
	if err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, word := range SplitWords(norm) {
		h := HashString(word)
		for i := 0; i < e.dimensions; i++ {
			emb[i] += float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
		}
	}
	vector.Normalize(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the configured model name.
func (e *HashEmbedder) Model() string {
	return e.model
}

// Close is a no-op for HashEmbedder.
func (e *HashEmbedder) Close() error {
	return nil
}
