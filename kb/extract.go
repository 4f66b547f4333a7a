package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

const extractionPromptTemplate = `You are an industrial maintenance knowledge engineer.
Extract entities and relationships from the document below.

Use labels such as Machinery, Component, Procedure, Fault, Part, SafetyRule.
Use relationship types such as HAS_COMPONENT, REQUIRES, CAUSES, FIXED_BY, PART_OF.

Respond with JSON only, in this shape:
{
  "entities": [{"label": "Machinery", "name": "Lathe01", "properties": {}}],
  "relationships": [{"type": "HAS_COMPONENT", "source": "Lathe01", "target": "Spindle"}]
}

Document:
%s`

// Extraction is the parsed output of one entity extraction call.
type Extraction struct {
	Entities      []Entity
	Relationships []Relationship
}

// Extractor pulls graph entities and relationships out of document text
// using a generation model. Every extracted entity is stamped with the
// source document's metadata so graph results stay attributable.
type Extractor struct {
	model llms.Model
}

// NewExtractor creates an Extractor backed by the given model.
func NewExtractor(model llms.Model) *Extractor {
	return &Extractor{model: model}
}

// Extract runs one extraction call for the document.
func (e *Extractor) Extract(ctx context.Context, doc Document) (*Extraction, error) {
	prompt := fmt.Sprintf(extractionPromptTemplate, doc.Text)
	raw, err := llms.GenerateFromSinglePrompt(ctx, e.model, prompt)
	if err != nil {
		return nil, fmt.Errorf("entity extraction failed: %w", err)
	}

	parsed, err := parseExtraction(raw)
	if err != nil {
		return nil, fmt.Errorf("entity extraction returned unparseable output: %w", err)
	}

	for i := range parsed.Entities {
		ent := &parsed.Entities[i]
		if ent.Key == "" {
			ent.Key = ent.Name
		}
		if ent.Properties == nil {
			ent.Properties = make(map[string]any)
		}
		ent.Properties[MetaMachinery] = doc.Machinery
		ent.Properties[MetaManualType] = doc.ManualType
		ent.Properties[MetaSource] = doc.Source
	}

	return parsed, nil
}

// rawExtraction mirrors the JSON the model is asked to produce.
type rawExtraction struct {
	Entities []struct {
		Label      string         `json:"label"`
		Name       string         `json:"name"`
		Properties map[string]any `json:"properties"`
	} `json:"entities"`
	Relationships []struct {
		Type   string `json:"type"`
		Source string `json:"source"`
		Target string `json:"target"`
	} `json:"relationships"`
}

// parseExtraction decodes model output, tolerating code fences and prose
// around the JSON object.
func parseExtraction(raw string) (*Extraction, error) {
	payload := stripToJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in output")
	}

	var decoded rawExtraction
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, err
	}

	out := &Extraction{}
	for _, e := range decoded.Entities {
		if e.Name == "" {
			continue
		}
		label := e.Label
		if label == "" {
			label = "Entity"
		}
		out.Entities = append(out.Entities, Entity{
			Key:        e.Name,
			Label:      label,
			Name:       e.Name,
			Properties: e.Properties,
		})
	}
	for _, r := range decoded.Relationships {
		if r.Type == "" || r.Source == "" || r.Target == "" {
			continue
		}
		out.Relationships = append(out.Relationships, Relationship{
			Type:      r.Type,
			SourceKey: r.Source,
			TargetKey: r.Target,
		})
	}
	return out, nil
}

// stripToJSON cuts the text down to the outermost JSON object.
func stripToJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
