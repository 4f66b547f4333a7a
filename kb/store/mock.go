package store

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/factoryos/factoryos/kb"
)

// MockEmbedder produces deterministic embeddings derived from the text's
// hash. Identical text always embeds to the same vector, which makes
// similarity assertions in tests stable without a real model.
type MockEmbedder struct {
	Dimension int
}

var _ kb.Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder with the given dimension.
func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 8
	}
	return &MockEmbedder{Dimension: dimension}
}

// EmbedText embeds a single text deterministically.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := float64(h.Sum64() % 10000)

	vec := make([]float32, m.Dimension)
	for i := range vec {
		vec[i] = float32(math.Sin(seed + float64(i)))
	}
	return vec, nil
}

// EmbedTexts embeds a batch of texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
