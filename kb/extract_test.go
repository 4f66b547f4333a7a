package kb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// mockLLM returns a canned response for every generation call.
type mockLLM struct {
	response string
	err      error
	prompts  []string
}

func (m *mockLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, text.Text)
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.response}},
	}, nil
}

func (m *mockLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func TestExtractorStampsMetadata(t *testing.T) {
	model := &mockLLM{response: `{
		"entities": [
			{"label": "Machinery", "name": "Lathe01"},
			{"label": "Component", "name": "Spindle", "properties": {"material": "steel"}}
		],
		"relationships": [
			{"type": "HAS_COMPONENT", "source": "Lathe01", "target": "Spindle"}
		]
	}`}

	ex := NewExtractor(model)
	doc := Document{
		ID:         "lathe01_manual_abc123de",
		Text:       "spindle maintenance",
		Machinery:  "Lathe01",
		ManualType: "manual",
		Source:     "upload",
	}

	result, err := ex.Extract(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)
	require.Len(t, result.Relationships, 1)

	for _, ent := range result.Entities {
		assert.Equal(t, "Lathe01", ent.Properties[MetaMachinery])
		assert.Equal(t, "manual", ent.Properties[MetaManualType])
		assert.Equal(t, "upload", ent.Properties[MetaSource])
		assert.Equal(t, ent.Name, ent.Key)
	}

	assert.Equal(t, "steel", result.Entities[1].Properties["material"])
	assert.Equal(t, "HAS_COMPONENT", result.Relationships[0].Type)
	assert.Equal(t, "Lathe01", result.Relationships[0].SourceKey)
}

func TestExtractorToleratesCodeFences(t *testing.T) {
	model := &mockLLM{response: "```json\n{\"entities\": [{\"label\": \"Fault\", \"name\": \"Overheat\"}], \"relationships\": []}\n```"}

	ex := NewExtractor(model)
	result, err := ex.Extract(context.Background(), Document{Text: "x", Machinery: "CNC02"})
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Overheat", result.Entities[0].Name)
}

func TestExtractorDropsIncompleteRecords(t *testing.T) {
	model := &mockLLM{response: `{
		"entities": [{"label": "Machinery", "name": ""}],
		"relationships": [{"type": "HAS_COMPONENT", "source": "Lathe01", "target": ""}]
	}`}

	ex := NewExtractor(model)
	result, err := ex.Extract(context.Background(), Document{Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, result.Entities)
	assert.Empty(t, result.Relationships)
}

func TestExtractorGenerationError(t *testing.T) {
	model := &mockLLM{err: errors.New("rate limit")}

	ex := NewExtractor(model)
	_, err := ex.Extract(context.Background(), Document{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity extraction failed")
}

func TestExtractorUnparseableOutput(t *testing.T) {
	model := &mockLLM{response: "I could not find any entities."}

	ex := NewExtractor(model)
	_, err := ex.Extract(context.Background(), Document{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable")
}
