// Package store provides the knowledge base storage backends: a FalkorDB
// property graph, a pgvector similarity store, and in-memory versions of
// both for tests and small deployments.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/factoryos/factoryos/kb"
)

// FalkorGraph implements kb.GraphStore on a FalkorDB graph reached over
// the Redis protocol.
type FalkorGraph struct {
	client    redis.UniversalClient
	graphName string
}

var _ kb.GraphStore = (*FalkorGraph)(nil)

// NewFalkorGraph wraps an existing redis client.
func NewFalkorGraph(client redis.UniversalClient, graphName string) *FalkorGraph {
	if graphName == "" {
		graphName = "maintenance"
	}
	return &FalkorGraph{client: client, graphName: graphName}
}

// DialFalkorGraph connects using a falkordb://host:port/graph_name URL.
func DialFalkorGraph(connectionString string) (*FalkorGraph, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid connection string: missing host")
	}
	graphName := strings.TrimPrefix(u.Path, "/")

	client := redis.NewClient(&redis.Options{Addr: u.Host})
	return NewFalkorGraph(client, graphName), nil
}

// UpsertEntity merges an entity by its domain key. The node is matched
// by key alone, so a bare endpoint created earlier by a relationship
// merge converges on the same node instead of spawning a labeled twin.
// The label is added on every upsert; properties are filled only where
// absent, so re-ingesting never clobbers values written by earlier runs.
func (f *FalkorGraph) UpsertEntity(ctx context.Context, entity kb.Entity) error {
	label := sanitizeLabel(entity.Label)

	props := make(map[string]any, len(entity.Properties)+1)
	for k, v := range entity.Properties {
		props[sanitizeLabel(k)] = v
	}
	props["name"] = entity.Name

	query := fmt.Sprintf("MERGE (n {name: %s}) SET n:%s", quoteString(entity.Key), label)
	if clause := setOnMissing("n", props); clause != "" {
		query += ", " + clause
	}

	_, err := f.query(ctx, query)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", entity.Key, err)
	}
	return nil
}

// SetEntity merges an entity by its domain key and overwrites its
// properties unconditionally. Used for records owned by an external
// system of record, where the graph copy must track the source.
func (f *FalkorGraph) SetEntity(ctx context.Context, entity kb.Entity) error {
	label := sanitizeLabel(entity.Label)

	props := make(map[string]any, len(entity.Properties)+1)
	for k, v := range entity.Properties {
		props[sanitizeLabel(k)] = v
	}
	props["name"] = entity.Name

	query := fmt.Sprintf("MERGE (n {name: %s}) SET n:%s, n += %s",
		quoteString(entity.Key), label, propsToString(props))

	_, err := f.query(ctx, query)
	if err != nil {
		return fmt.Errorf("set entity %s: %w", entity.Key, err)
	}
	return nil
}

// UpsertRelationship merges both endpoints by key, then the relationship
// between them.
func (f *FalkorGraph) UpsertRelationship(ctx context.Context, rel kb.Relationship) error {
	relType := sanitizeLabel(rel.Type)

	query := fmt.Sprintf(
		"MERGE (a {name: %s}) MERGE (b {name: %s}) MERGE (a)-[r:%s]->(b)",
		quoteString(rel.SourceKey), quoteString(rel.TargetKey), relType)
	if len(rel.Properties) > 0 {
		query += fmt.Sprintf(" ON CREATE SET r += %s", propsToString(rel.Properties))
	}

	_, err := f.query(ctx, query)
	if err != nil {
		return fmt.Errorf("upsert relationship %s-[%s]->%s: %w", rel.SourceKey, rel.Type, rel.TargetKey, err)
	}
	return nil
}

// UpsertChunk writes a graph-native chunk node keyed by chunk ID, with
// the embedding stored as a vector property.
func (f *FalkorGraph) UpsertChunk(ctx context.Context, chunk kb.Chunk) error {
	props := map[string]any{
		"document_id":     chunk.DocumentID,
		"text":            chunk.Text,
		kb.MetaMachinery:  chunk.Machinery,
		kb.MetaManualType: chunk.ManualType,
		kb.MetaSource:     chunk.Source,
	}
	if len(chunk.Embedding) > 0 {
		props["embedding"] = chunk.Embedding
	}

	query := fmt.Sprintf("MERGE (c:Chunk {id: %s}) ON CREATE SET c += %s",
		quoteString(chunk.ID), propsToString(props))

	_, err := f.query(ctx, query)
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", chunk.ID, err)
	}
	return nil
}

// LinkChunksToMachinery attaches chunk nodes to their machinery node.
func (f *FalkorGraph) LinkChunksToMachinery(ctx context.Context, machinery string, chunkIDs []string) error {
	for _, id := range chunkIDs {
		query := fmt.Sprintf(
			"MATCH (m:Machinery {name: %s}), (c:Chunk {id: %s}) MERGE (m)-[:HAS_CHUNK]->(c)",
			quoteString(machinery), quoteString(id))
		if _, err := f.query(ctx, query); err != nil {
			return fmt.Errorf("link chunk %s to %s: %w", id, machinery, err)
		}
	}
	return nil
}

// Query runs a read query and returns rows keyed by the result header.
func (f *FalkorGraph) Query(ctx context.Context, query string) ([]kb.Row, error) {
	qr, err := f.query(ctx, query)
	if err != nil {
		return nil, err
	}

	rows := make([]kb.Row, 0, len(qr.Results))
	for _, raw := range qr.Results {
		row := make(kb.Row, len(raw))
		for i, cell := range raw {
			key := fmt.Sprintf("col%d", i)
			if i < len(qr.Header) {
				key = qr.Header[i]
			}
			row[key] = parseValue(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Snapshot fetches the graph's current shape. It always queries the live
// graph; the schema of an active maintenance graph changes with every
// ingest, so a cached snapshot would mislead query generation.
func (f *FalkorGraph) Snapshot(ctx context.Context) (*kb.Schema, error) {
	schema := &kb.Schema{}

	labels, err := f.singleColumn(ctx, "CALL db.labels()")
	if err != nil {
		return nil, fmt.Errorf("snapshot labels: %w", err)
	}
	schema.Labels = labels

	relTypes, err := f.singleColumn(ctx, "CALL db.relationshipTypes()")
	if err != nil {
		return nil, fmt.Errorf("snapshot relationship types: %w", err)
	}
	schema.RelationshipTypes = relTypes

	machines, err := f.singleColumn(ctx, "MATCH (m:Machinery) RETURN DISTINCT m.name")
	if err != nil {
		return nil, fmt.Errorf("snapshot machinery names: %w", err)
	}
	schema.MachineNames = machines

	return schema, nil
}

// Close closes the underlying redis client.
func (f *FalkorGraph) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FalkorGraph) singleColumn(ctx context.Context, query string) ([]string, error) {
	qr, err := f.query(ctx, query)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(qr.Results))
	for _, row := range qr.Results {
		if len(row) == 0 {
			continue
		}
		v := parseValue(row[0])
		if v == nil {
			continue
		}
		values = append(values, fmt.Sprint(v))
	}
	return values, nil
}
