package workorder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/factoryos/factoryos/kb"
	"github.com/factoryos/factoryos/kb/store"
)

// scriptedLLM replays responses in order and records every prompt.
type scriptedLLM struct {
	responses []string
	errs      []error
	prompts   []string
	calls     int
}

func (m *scriptedLLM) next(prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func (m *scriptedLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var prompt string
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt += text.Text
			}
		}
	}
	resp, err := m.next(prompt)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: resp}}}, nil
}

func (m *scriptedLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.next(prompt)
}

func TestQueryEngineRun(t *testing.T) {
	g := store.NewMemoryGraph()
	var executed string
	g.QueryHandler = func(query string) ([]kb.Row, error) {
		executed = query
		return []kb.Row{{"wo.id": "WO-100"}}, nil
	}

	model := &scriptedLLM{responses: []string{"```cypher\nMATCH (wo:WorkOrder) RETURN wo.id\n```"}}
	q := NewQueryEngine(g, model, nil)

	rows, err := q.Run(context.Background(), "find work orders")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	// Code fences are stripped before execution.
	assert.Equal(t, "MATCH (wo:WorkOrder) RETURN wo.id", executed)
}

func TestQueryEngineRunGenerationFailure(t *testing.T) {
	g := store.NewMemoryGraph()
	model := &scriptedLLM{errs: []error{errors.New("model overloaded")}}
	q := NewQueryEngine(g, model, nil)

	_, err := q.Run(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query generation")
}

func TestWorkOrderContextNotFound(t *testing.T) {
	g := store.NewMemoryGraph()
	model := &scriptedLLM{responses: []string{"MATCH (wo:WorkOrder {id: \"WO-404\"}) RETURN wo"}}
	q := NewQueryEngine(g, model, nil)

	_, err := q.WorkOrderContext(context.Background(), "WO-404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestQualifiedTechniciansMapping(t *testing.T) {
	g := store.NewMemoryGraph()
	g.QueryHandler = func(query string) ([]kb.Row, error) {
		return []kb.Row{
			{"t.id": "T-1", "t.name": "Mara Okonkwo", "t.role": "Electrician", "t.certification_level": "Advanced", "t.status": "Active"},
			{"name": "Luis Ferreira", "role": "Mechanic", "certification": "Basic", "status": "Active"},
			{"irrelevant": "row"},
		}, nil
	}
	model := &scriptedLLM{responses: []string{"MATCH (t:Technician) RETURN t"}}
	q := NewQueryEngine(g, model, nil)

	techs, err := q.QualifiedTechnicians(context.Background(), "WO-100")
	require.NoError(t, err)
	require.Len(t, techs, 2)
	assert.Equal(t, "Mara Okonkwo", techs[0].Name)
	assert.Equal(t, "Advanced", techs[0].CertificationLevel)
	assert.Equal(t, "Luis Ferreira", techs[1].Name)
	assert.Equal(t, "Basic", techs[1].CertificationLevel)
}

func TestQueryEngineSnapshotInPrompt(t *testing.T) {
	g := store.NewMemoryGraph()
	require.NoError(t, g.UpsertEntity(context.Background(), kb.Entity{Key: "Lathe01", Label: "Machinery", Name: "Lathe01"}))

	model := &scriptedLLM{responses: []string{"MATCH (m:Machinery) RETURN m.name"}}
	q := NewQueryEngine(g, model, nil)

	_, err := q.Run(context.Background(), "list machinery")
	require.NoError(t, err)
	require.Len(t, model.prompts, 1)
	// The live schema snapshot is part of the generation prompt.
	assert.True(t, strings.Contains(model.prompts[0], "Machinery"))
	assert.True(t, strings.Contains(model.prompts[0], "Lathe01"))
}

func TestRowString(t *testing.T) {
	row := kb.Row{"t.name": "Mara", "status": ""}
	assert.Equal(t, "Mara", rowString(row, "name", "t.name"))
	assert.Equal(t, "", rowString(row, "status"))
	assert.Equal(t, "", rowString(row, "missing"))
}
