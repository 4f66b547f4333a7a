package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/factoryos/factoryos/ingest"
	"github.com/factoryos/factoryos/kb"
	"github.com/factoryos/factoryos/kb/store"
	"github.com/factoryos/factoryos/retrieval"
)

// scriptedLLM replays responses in order, one per generation call.
type scriptedLLM struct {
	responses []string
	calls     int
}

func (m *scriptedLLM) next() (string, error) {
	i := m.calls
	m.calls++
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func (m *scriptedLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	resp, err := m.next()
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: resp}}}, nil
}

func (m *scriptedLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.next()
}

const pressManual = `Machinery: Press03. Document Type: Maintenance. Content: ` +
	`Check the hydraulic fluid level every shift. Replace the main seal annually.`

func TestAssistantIngestThenChat(t *testing.T) {
	model := &scriptedLLM{responses: []string{
		// Ingest: one extraction call.
		`{"entities": [{"label": "Machinery", "name": "Press03"}], "relationships": []}`,
		// Chat: graph query generation, then synthesis.
		"MATCH (m:Machinery {name: \"Press03\"}) RETURN m.name",
		"Check hydraulic fluid each shift and replace the main seal once a year.",
	}}

	g := store.NewMemoryGraph()
	v := store.NewMemoryVectorStore()
	a, err := New(Options{
		Graph:    g,
		Vector:   v,
		Embedder: store.NewMockEmbedder(8),
		Model:    model,
	})
	require.NoError(t, err)

	res, err := a.Ingest(context.Background(), []ingest.RawDocument{{Text: pressManual}})
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusCompleted, res.Status)
	assert.False(t, res.Partial)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "Press03", res.Documents[0].Machinery)
	assert.Positive(t, res.ChunkCount)

	resp, err := a.Chat(context.Background(), retrieval.Request{
		Query:   "How often should I check the hydraulic fluid?",
		Sources: []string{"upload"},
		Machine: "Press03",
	})
	require.NoError(t, err)
	assert.Equal(t, "Check hydraulic fluid each shift and replace the main seal once a year.", resp.Answer)
	assert.NotEmpty(t, resp.Citations)
}

func TestAssistantRequiresCoreDependencies(t *testing.T) {
	_, err := New(Options{Graph: store.NewMemoryGraph()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestAssistantFilters(t *testing.T) {
	model := &scriptedLLM{}
	g := store.NewMemoryGraph()
	g.QueryHandler = func(query string) ([]kb.Row, error) {
		return []kb.Row{{"machinery": "Press03", "source": "upload"}}, nil
	}

	a, err := New(Options{
		Graph:    g,
		Vector:   store.NewMemoryVectorStore(),
		Embedder: store.NewMockEmbedder(8),
		Model:    model,
	})
	require.NoError(t, err)

	opts, err := a.Filters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Press03"}, opts.Machines)
	assert.Equal(t, []string{"upload"}, opts.Sources)
}
