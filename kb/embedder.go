package kb

import (
	"context"

	"github.com/tmc/langchaingo/embeddings"
)

// LangChainEmbedder adapts a langchaingo embeddings.Embedder to the
// Embedder interface.
type LangChainEmbedder struct {
	embedder embeddings.Embedder
}

// NewLangChainEmbedder creates a new adapter for langchaingo embedders.
func NewLangChainEmbedder(embedder embeddings.Embedder) *LangChainEmbedder {
	return &LangChainEmbedder{embedder: embedder}
}

// EmbedText embeds a single text.
func (l *LangChainEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return l.embedder.EmbedQuery(ctx, text)
}

// EmbedTexts embeds a batch of texts.
func (l *LangChainEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return l.embedder.EmbedDocuments(ctx, texts)
}
