package store

import (
	"context"
	"sort"
	"sync"

	"github.com/factoryos/factoryos/kb"
)

// MemoryGraph is an in-memory kb.GraphStore. It honors the same
// upsert-by-key semantics as FalkorGraph and is used by pipeline tests
// and single-process deployments. Structured queries are delegated to an
// optional QueryHandler since there is no query language to interpret.
type MemoryGraph struct {
	mu            sync.RWMutex
	entities      map[string]kb.Entity
	relationships []kb.Relationship
	chunks        map[string]kb.Chunk
	links         map[string]map[string]bool

	// QueryHandler, when set, answers Query calls. Nil means every query
	// returns no rows.
	QueryHandler func(query string) ([]kb.Row, error)
}

var _ kb.GraphStore = (*MemoryGraph)(nil)

// NewMemoryGraph creates an empty in-memory graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		entities: make(map[string]kb.Entity),
		chunks:   make(map[string]kb.Chunk),
		links:    make(map[string]map[string]bool),
	}
}

// UpsertEntity merges by key. A placeholder endpoint left behind by a
// relationship merge is promoted to the upserted label, and properties
// are filled only where absent; existing values are never overwritten.
func (m *MemoryGraph) UpsertEntity(ctx context.Context, entity kb.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.entities[entity.Key]
	if !exists {
		m.entities[entity.Key] = entity
		return nil
	}

	if (existing.Label == "" || existing.Label == "Entity") && entity.Label != "" {
		existing.Label = entity.Label
	}
	if existing.Name == "" {
		existing.Name = entity.Name
	}
	if existing.Properties == nil && len(entity.Properties) > 0 {
		existing.Properties = make(map[string]any, len(entity.Properties))
	}
	for k, v := range entity.Properties {
		if _, present := existing.Properties[k]; !present {
			existing.Properties[k] = v
		}
	}
	m.entities[entity.Key] = existing
	return nil
}

// SetEntity merges by key and overwrites properties unconditionally.
func (m *MemoryGraph) SetEntity(ctx context.Context, entity kb.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[entity.Key] = entity
	return nil
}

// UpsertRelationship creates endpoint entities when missing and merges
// the relationship.
func (m *MemoryGraph) UpsertRelationship(ctx context.Context, rel kb.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range []string{rel.SourceKey, rel.TargetKey} {
		if _, exists := m.entities[key]; !exists {
			m.entities[key] = kb.Entity{Key: key, Label: "Entity", Name: key}
		}
	}

	for _, existing := range m.relationships {
		if existing.Type == rel.Type && existing.SourceKey == rel.SourceKey && existing.TargetKey == rel.TargetKey {
			return nil
		}
	}
	m.relationships = append(m.relationships, rel)
	return nil
}

// UpsertChunk merges a chunk node by ID.
func (m *MemoryGraph) UpsertChunk(ctx context.Context, chunk kb.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.chunks[chunk.ID]; exists {
		return nil
	}
	m.chunks[chunk.ID] = chunk
	return nil
}

// LinkChunksToMachinery records machinery-to-chunk edges.
func (m *MemoryGraph) LinkChunksToMachinery(ctx context.Context, machinery string, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.links[machinery]
	if !ok {
		set = make(map[string]bool)
		m.links[machinery] = set
	}
	for _, id := range chunkIDs {
		set[id] = true
	}
	return nil
}

// Query delegates to QueryHandler when one is configured.
func (m *MemoryGraph) Query(ctx context.Context, query string) ([]kb.Row, error) {
	if m.QueryHandler != nil {
		return m.QueryHandler(query)
	}
	return nil, nil
}

// Snapshot derives the schema from stored entities and relationships.
func (m *MemoryGraph) Snapshot(ctx context.Context) (*kb.Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	labelSet := make(map[string]bool)
	machineSet := make(map[string]bool)
	for _, e := range m.entities {
		labelSet[e.Label] = true
		if e.Label == "Machinery" {
			machineSet[e.Name] = true
		}
	}
	if len(m.chunks) > 0 {
		labelSet["Chunk"] = true
	}

	relSet := make(map[string]bool)
	for _, r := range m.relationships {
		relSet[r.Type] = true
	}
	if len(m.links) > 0 {
		relSet["HAS_CHUNK"] = true
	}

	return &kb.Schema{
		Labels:            sortedKeys(labelSet),
		RelationshipTypes: sortedKeys(relSet),
		MachineNames:      sortedKeys(machineSet),
	}, nil
}

// Close is a no-op.
func (m *MemoryGraph) Close() error { return nil }

// Entity returns a stored entity and whether it exists.
func (m *MemoryGraph) Entity(key string) (kb.Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[key]
	return e, ok
}

// EntityCount reports the number of stored entities.
func (m *MemoryGraph) EntityCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

// ChunkCount reports the number of stored chunk nodes.
func (m *MemoryGraph) ChunkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// LinkedChunks returns the chunk IDs linked to a machinery node.
func (m *MemoryGraph) LinkedChunks(machinery string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.links[machinery])
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
