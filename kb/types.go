// Package kb defines the domain types and capability contracts of the
// maintenance knowledge base: documents and chunks, graph entities and
// relationships, metadata filters, and the store interfaces the
// ingestion and retrieval layers are built on.
package kb

import "context"

// Metadata keys stamped on documents, chunks and extracted entities.
const (
	MetaMachinery  = "machinery"
	MetaManualType = "manual_type"
	MetaSource     = "source"
)

// Defaults used when a document carries no metadata header.
const (
	UnknownMachinery  = "Unknown"
	GeneralManualType = "General"
)

// Document is a parsed source document ready for ingestion. ID is derived
// from the document's metadata and a content hash, so re-ingesting the
// same text yields the same ID.
type Document struct {
	ID         string
	Text       string
	Machinery  string
	ManualType string
	Source     string
}

// Chunk is a slice of a document carrying the parent document's metadata
// and, once embedded, its vector.
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
	Machinery  string
	ManualType string
	Source     string
	Embedding  []float32
}

// Metadata returns the chunk's filterable metadata map.
func (c Chunk) Metadata() map[string]any {
	return map[string]any{
		MetaMachinery:  c.Machinery,
		MetaManualType: c.ManualType,
		MetaSource:     c.Source,
	}
}

// Entity is a node in the knowledge graph. Key is the domain identity the
// graph store merges on; for most labels that is the entity name.
type Entity struct {
	Key        string
	Label      string
	Name       string
	Properties map[string]any
}

// Relationship connects two entities by their keys.
type Relationship struct {
	Type       string
	SourceKey  string
	TargetKey  string
	Properties map[string]any
}

// Schema is a point-in-time snapshot of the graph's shape. It is fetched
// fresh before every structured query and never cached.
type Schema struct {
	Labels            []string
	RelationshipTypes []string
	MachineNames      []string
}

// Row is a single result row from a structured graph query.
type Row = map[string]any

// Match is a scored vector search hit.
type Match struct {
	Chunk Chunk
	Score float64
}

// Embedder produces vector embeddings for text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// GraphStore is the property-graph side of the knowledge base. Upserts
// are idempotent on the entity's domain key: re-upserting an existing key
// fills in a missing label and missing properties but never overwrites
// values already present, so a bare endpoint created by a relationship
// merge converges with a later labeled upsert of the same key. SetEntity
// overwrites properties unconditionally and is meant for externally owned
// records such as the technician roster.
type GraphStore interface {
	UpsertEntity(ctx context.Context, entity Entity) error
	SetEntity(ctx context.Context, entity Entity) error
	UpsertRelationship(ctx context.Context, rel Relationship) error
	UpsertChunk(ctx context.Context, chunk Chunk) error
	LinkChunksToMachinery(ctx context.Context, machinery string, chunkIDs []string) error
	Query(ctx context.Context, query string) ([]Row, error)
	Snapshot(ctx context.Context) (*Schema, error)
	Close() error
}

// VectorStore is the standalone similarity-search side of the knowledge
// base. Upsert replaces entries by chunk ID.
type VectorStore interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	Search(ctx context.Context, embedding []float32, k int, filter Filter) ([]Match, error)
	Close() error
}
