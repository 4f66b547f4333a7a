package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialFalkorGraph(t *testing.T) {
	t.Run("invalid URL", func(t *testing.T) {
		g, err := DialFalkorGraph("://bad")
		assert.Error(t, err)
		assert.Nil(t, g)
	})

	t.Run("missing host", func(t *testing.T) {
		g, err := DialFalkorGraph("falkordb:///graph")
		assert.Error(t, err)
		assert.Nil(t, g)
	})

	t.Run("valid URL", func(t *testing.T) {
		g, err := DialFalkorGraph("falkordb://localhost:6379/maintenance")
		require.NoError(t, err)
		assert.Equal(t, "maintenance", g.graphName)
		assert.NoError(t, g.Close())
	})
}

func TestFalkorGraphQueryErrorPropagation(t *testing.T) {
	// miniredis speaks the redis protocol but not the graph module, so
	// GRAPH.QUERY must surface as an error rather than a panic.
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	g := NewFalkorGraph(client, "maintenance")
	defer g.Close()

	_, err := g.Query(context.Background(), "MATCH (n) RETURN n")
	assert.Error(t, err)
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "Machinery", sanitizeLabel("Machinery"))
	assert.Equal(t, "Safety_Rule", sanitizeLabel("Safety Rule"))
	assert.Equal(t, "Entity", sanitizeLabel(""))
	assert.Equal(t, "HAS_COMPONENT", sanitizeLabel("HAS-COMPONENT"))
}

func TestQuoteString(t *testing.T) {
	assert.Equal(t, `"Lathe01"`, quoteString("Lathe01"))
	assert.Equal(t, `"say \"hi\""`, quoteString(`say "hi"`))
	assert.Equal(t, 123, quoteString(123))
}

func TestPropsToString(t *testing.T) {
	s := propsToString(map[string]any{"name": "Lathe01", "count": 3})
	assert.Contains(t, s, `name: "Lathe01"`)
	assert.Contains(t, s, "count: 3")

	s = propsToString(map[string]any{"embedding": []float32{0.5, 1.0}})
	assert.Contains(t, s, "embedding: [0.500000,1.000000]")
}

func TestSetOnMissing(t *testing.T) {
	assert.Equal(t, `n.status = coalesce(n.status, "Online")`,
		setOnMissing("n", map[string]any{"status": "Online"}))
	assert.Equal(t, "", setOnMissing("n", nil))
}

func TestParseValue(t *testing.T) {
	t.Run("bytes become string", func(t *testing.T) {
		assert.Equal(t, "Lathe01", parseValue([]byte("Lathe01")))
	})

	t.Run("scalar pair unwraps", func(t *testing.T) {
		assert.Equal(t, "Lathe01", parseValue([]any{int64(2), []byte("Lathe01")}))
	})

	t.Run("node flattens to properties", func(t *testing.T) {
		node := []any{
			int64(0),
			[]any{[]byte("Machinery")},
			[]any{
				[]any{[]byte("name"), []byte("Lathe01")},
				[]any{[]byte("status"), []byte("Online")},
			},
		}
		props, ok := parseValue(node).(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Lathe01", props["name"])
		assert.Equal(t, "Online", props["status"])
	})
}

func TestHeaderName(t *testing.T) {
	assert.Equal(t, "m.name", headerName([]any{int64(1), []byte("m.name")}))
	assert.Equal(t, "n", headerName("n"))
}
