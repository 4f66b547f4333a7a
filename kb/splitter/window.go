// Package splitter turns document text into chunks for embedding. Two
// strategies are available: a fixed window with overlap, and a semantic
// splitter that cuts where the embedding distance between consecutive
// sentences jumps.
package splitter

import (
	"context"
	"strings"
)

// Splitter is the chunking strategy contract. The semantic splitter
// embeds text, so Split takes a context.
type Splitter interface {
	Split(ctx context.Context, text string) ([]string, error)
}

// Defaults for the window strategy.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// WindowSplitter splits text into fixed-size windows with overlap,
// preferring to break at a separator when one falls inside the window.
type WindowSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separator    string
}

var _ Splitter = (*WindowSplitter)(nil)

// NewWindowSplitter creates a window splitter. Non-positive sizes fall
// back to the defaults.
func NewWindowSplitter(chunkSize, chunkOverlap int) *WindowSplitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
		if chunkOverlap >= chunkSize {
			chunkOverlap = chunkSize / 5
		}
	}
	return &WindowSplitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Separator:    "\n\n",
	}
}

// Split splits text into chunks.
func (s *WindowSplitter) Split(ctx context.Context, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if len(text) <= s.ChunkSize {
		return []string{text}, nil
	}

	var chunks []string
	start := 0

	for start < len(text) {
		end := start + s.ChunkSize
		if end > len(text) {
			end = len(text)
		}

		// Back up to a separator when one falls inside the window.
		if end < len(text) && s.Separator != "" {
			lastSep := strings.LastIndex(text[start:end], s.Separator)
			if lastSep > 0 {
				end = start + lastSep + len(s.Separator)
			}
		}

		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		nextStart := end - s.ChunkOverlap
		if nextStart <= start {
			nextStart = end
		}
		start = nextStart
	}

	return chunks, nil
}
