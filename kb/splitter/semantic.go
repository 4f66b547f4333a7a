package splitter

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/factoryos/factoryos/kb"
)

// SemanticSplitter cuts text at sentence boundaries where the embedding
// distance between consecutive sentences exceeds Threshold, keeping
// topically coherent chunks together regardless of their length.
type SemanticSplitter struct {
	Embedder  kb.Embedder
	Threshold float64
	// MaxChunkSize bounds a chunk even when no semantic break is found.
	MaxChunkSize int
}

var _ Splitter = (*SemanticSplitter)(nil)

// NewSemanticSplitter creates a semantic splitter. Threshold is the
// cosine distance (1 - similarity) above which a break is made.
func NewSemanticSplitter(embedder kb.Embedder, threshold float64) *SemanticSplitter {
	if threshold <= 0 {
		threshold = 0.5
	}
	return &SemanticSplitter{
		Embedder:     embedder,
		Threshold:    threshold,
		MaxChunkSize: 2000,
	}
}

// Split splits text at semantic discontinuities.
func (s *SemanticSplitter) Split(ctx context.Context, text string) ([]string, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return sentences, nil
	}

	embeddings, err := s.Embedder.EmbedTexts(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("semantic split embedding failed: %w", err)
	}

	var chunks []string
	current := sentences[0]

	for i := 1; i < len(sentences); i++ {
		distance := 1 - cosine(embeddings[i-1], embeddings[i])
		tooLong := s.MaxChunkSize > 0 && len(current)+len(sentences[i])+1 > s.MaxChunkSize

		if distance > s.Threshold || tooLong {
			chunks = append(chunks, current)
			current = sentences[i]
			continue
		}
		current += " " + sentences[i]
	}
	chunks = append(chunks, current)

	return chunks, nil
}

// splitSentences breaks text on sentence-ending punctuation.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}

	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			flush()
		}
	}
	flush()

	return sentences
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i] * b[i])
		na += float64(a[i] * a[i])
		nb += float64(b[i] * b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
