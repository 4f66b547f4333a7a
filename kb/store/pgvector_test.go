package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factoryos/factoryos/kb"
)

func newMockedPGVector(t *testing.T) (*PGVectorStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	vs := NewPGVectorStore(mock, PGVectorConfig{TableName: "chunks", VectorDim: 8})
	return vs, mock
}

func TestPGVectorEnsureSchema(t *testing.T) {
	vs, mock := newMockedPGVector(t)

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chunks").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS chunks_embedding_idx").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, vs.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorUpsert(t *testing.T) {
	vs, mock := newMockedPGVector(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs("doc_0", "doc", "spindle care", "Lathe01", "manual", "upload", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	chunk := kb.Chunk{
		ID: "doc_0", DocumentID: "doc", Text: "spindle care",
		Machinery: "Lathe01", ManualType: "manual", Source: "upload",
		Embedding: []float32{1, 0, 0, 0, 0, 0, 0, 0},
	}
	require.NoError(t, vs.Upsert(context.Background(), []kb.Chunk{chunk}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorUpsertRejectsMissingEmbedding(t *testing.T) {
	vs, mock := newMockedPGVector(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := vs.Upsert(context.Background(), []kb.Chunk{{ID: "doc_0"}})
	assert.Error(t, err)
}

func TestPGVectorSearch(t *testing.T) {
	vs, mock := newMockedPGVector(t)

	rows := pgxmock.NewRows([]string{"id", "document_id", "content", "machinery", "manual_type", "source", "score"}).
		AddRow("doc_0", "doc", "spindle care", "Lathe01", "manual", "upload", 0.91)

	// Bind order: embedding first, then filter values, then the limit.
	mock.ExpectQuery("SELECT id, document_id, content, machinery, manual_type, source").
		WithArgs(pgxmock.AnyArg(), "manual", "incident", "Lathe01", 4).
		WillReturnRows(rows)

	filter := kb.And(
		kb.Or(
			kb.Eq{Key: kb.MetaSource, Value: "manual"},
			kb.Eq{Key: kb.MetaSource, Value: "incident"},
		),
		kb.Eq{Key: kb.MetaMachinery, Value: "Lathe01"},
	)

	matches, err := vs.Search(context.Background(), []float32{1, 0, 0, 0, 0, 0, 0, 0}, 4, filter)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "doc_0", matches[0].Chunk.ID)
	assert.Equal(t, "Lathe01", matches[0].Chunk.Machinery)
	assert.InDelta(t, 0.91, matches[0].Score, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompileFilter(t *testing.T) {
	t.Run("equality", func(t *testing.T) {
		args := []any{"embedding"}
		clause, err := compileFilter(kb.Eq{Key: kb.MetaSource, Value: "manual"}, &args)
		require.NoError(t, err)
		assert.Equal(t, "source = $2", clause)
		assert.Equal(t, []any{"embedding", "manual"}, args)
	})

	t.Run("disjunction and conjunction", func(t *testing.T) {
		args := []any{"embedding"}
		filter := kb.And(
			kb.Or(
				kb.Eq{Key: kb.MetaSource, Value: "manual"},
				kb.Eq{Key: kb.MetaSource, Value: "incident"},
			),
			kb.Eq{Key: kb.MetaMachinery, Value: "Lathe01"},
		)
		clause, err := compileFilter(filter, &args)
		require.NoError(t, err)
		assert.Equal(t, "((source = $2 OR source = $3) AND machinery = $4)", clause)
		assert.Len(t, args, 4)
	})

	t.Run("unsupported key", func(t *testing.T) {
		args := []any{}
		_, err := compileFilter(kb.Eq{Key: "priority", Value: "high"}, &args)
		assert.Error(t, err)
	})
}
