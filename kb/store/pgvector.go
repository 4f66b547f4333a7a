package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/factoryos/factoryos/kb"
)

// pgxPool is the subset of pgxpool.Pool the store needs. pgxmock
// implements it in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PGVectorConfig configures the Postgres-backed vector store.
type PGVectorConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// PGVectorStore implements kb.VectorStore on Postgres with the pgvector
// extension.
type PGVectorStore struct {
	pool   pgxPool
	config PGVectorConfig
}

var _ kb.VectorStore = (*PGVectorStore)(nil)

// filterColumns maps metadata keys to table columns. Filters over other
// keys are rejected rather than silently ignored.
var filterColumns = map[string]string{
	kb.MetaMachinery:  "machinery",
	kb.MetaManualType: "manual_type",
	kb.MetaSource:     "source",
}

// NewPGVectorStore wraps an existing pool.
func NewPGVectorStore(pool pgxPool, config PGVectorConfig) *PGVectorStore {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1536
	}
	return &PGVectorStore{pool: pool, config: config}
}

// DialPGVector connects to Postgres and ensures the schema exists.
func DialPGVector(ctx context.Context, config PGVectorConfig) (*PGVectorStore, error) {
	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := NewPGVectorStore(pool, config)
	if err := vs.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return vs, nil
}

// EnsureSchema creates the extension, table and vector index.
func (vs *PGVectorStore) EnsureSchema(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			content TEXT,
			machinery TEXT,
			manual_type TEXT,
			source TEXT,
			embedding vector(%d)
		)`, vs.config.TableName, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Upsert writes chunks in one transaction, replacing rows by ID.
func (vs *PGVectorStore) Upsert(ctx context.Context, chunks []kb.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, content, machinery, manual_type, source, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			machinery = EXCLUDED.machinery,
			manual_type = EXCLUDED.manual_type,
			source = EXCLUDED.source,
			embedding = EXCLUDED.embedding`,
		vs.config.TableName)

	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", chunk.ID)
		}
		_, err = tx.Exec(ctx, stmt,
			chunk.ID,
			chunk.DocumentID,
			chunk.Text,
			chunk.Machinery,
			chunk.ManualType,
			chunk.Source,
			pgvector.NewVector(chunk.Embedding),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Search returns the top-k filtered chunks ordered by cosine distance.
func (vs *PGVectorStore) Search(ctx context.Context, embedding []float32, k int, filter kb.Filter) ([]kb.Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	args := []any{pgvector.NewVector(embedding)}
	where := ""
	if filter != nil {
		clause, err := compileFilter(filter, &args)
		if err != nil {
			return nil, err
		}
		where = " WHERE " + clause
	}

	args = append(args, k)
	query := fmt.Sprintf(`
		SELECT id, document_id, content, machinery, manual_type, source,
		       1 - (embedding <=> $1) AS score
		FROM %s%s
		ORDER BY embedding <=> $1
		LIMIT $%d`,
		vs.config.TableName, where, len(args))

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var matches []kb.Match
	for rows.Next() {
		var m kb.Match
		err := rows.Scan(
			&m.Chunk.ID,
			&m.Chunk.DocumentID,
			&m.Chunk.Text,
			&m.Chunk.Machinery,
			&m.Chunk.ManualType,
			&m.Chunk.Source,
			&m.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Close closes the pool.
func (vs *PGVectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}

// compileFilter renders a kb.Filter as a SQL predicate, appending bind
// values to args.
func compileFilter(f kb.Filter, args *[]any) (string, error) {
	switch v := f.(type) {
	case kb.Eq:
		col, ok := filterColumns[v.Key]
		if !ok {
			return "", fmt.Errorf("unsupported filter key: %s", v.Key)
		}
		*args = append(*args, v.Value)
		return fmt.Sprintf("%s = $%d", col, len(*args)), nil
	case kb.OrFilter:
		return compileChildren(v.Children, " OR ", args)
	case kb.AndFilter:
		return compileChildren(v.Children, " AND ", args)
	default:
		return "", fmt.Errorf("unsupported filter type: %T", f)
	}
}

func compileChildren(children []kb.Filter, sep string, args *[]any) (string, error) {
	if len(children) == 0 {
		return "", fmt.Errorf("empty composite filter")
	}
	parts := make([]string, 0, len(children))
	for _, c := range children {
		clause, err := compileFilter(c, args)
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}
