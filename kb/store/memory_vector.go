package store

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/factoryos/factoryos/kb"
)

// MemoryVectorStore is an in-memory kb.VectorStore with filtered cosine
// similarity search.
type MemoryVectorStore struct {
	mu     sync.RWMutex
	chunks []kb.Chunk
}

var _ kb.VectorStore = (*MemoryVectorStore)(nil)

// NewMemoryVectorStore creates an empty in-memory vector store.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{}
}

// Upsert adds chunks, replacing any existing entry with the same ID.
func (s *MemoryVectorStore) Upsert(ctx context.Context, chunks []kb.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", chunk.ID)
		}
		replaced := false
		for i, existing := range s.chunks {
			if existing.ID == chunk.ID {
				s.chunks[i] = chunk
				replaced = true
				break
			}
		}
		if !replaced {
			s.chunks = append(s.chunks, chunk)
		}
	}
	return nil
}

// Search returns the top-k chunks matching the filter, ordered by cosine
// similarity. A nil filter matches everything.
func (s *MemoryVectorStore) Search(ctx context.Context, embedding []float32, k int, filter kb.Filter) ([]kb.Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]kb.Match, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		if filter != nil && !filter.Matches(chunk.Metadata()) {
			continue
		}
		matches = append(matches, kb.Match{
			Chunk: chunk,
			Score: cosineSimilarity32(embedding, chunk.Embedding),
		})
	}

	// Sort by similarity score (descending).
	for i := range matches {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].Score > matches[i].Score {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

// Close clears the store.
func (s *MemoryVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	return nil
}

// Len reports the number of stored chunks.
func (s *MemoryVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// cosineSimilarity32 calculates cosine similarity between two float32 vectors.
func cosineSimilarity32(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
