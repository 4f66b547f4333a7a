// Package retrieval implements hybrid question answering over the
// knowledge base: a filtered vector search leg and a schema-grounded
// structured graph leg, synthesized into one cited answer.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"

	"github.com/factoryos/factoryos/kb"
	"github.com/factoryos/factoryos/log"
	"github.com/factoryos/factoryos/prompts"
)

// DefaultTopK is the vector leg's result count.
const DefaultTopK = 4

// AllMachines is the machine selector value that disables machine
// scoping.
const AllMachines = "All"

// Request is one chat question with its active filters.
type Request struct {
	Query   string
	Sources []string
	Machine string
}

// Citation attributes part of the answer to a retrieved chunk.
type Citation struct {
	ChunkID    string
	Source     string
	Machinery  string
	Excerpt    string
	Confidence float64
}

// Response carries the answer with its provenance.
type Response struct {
	Answer    string
	Trace     []string
	Citations []Citation
	GraphRows []kb.Row
}

// Engine runs hybrid retrieval.
type Engine struct {
	vector   kb.VectorStore
	graph    kb.GraphStore
	embedder kb.Embedder
	model    llms.Model
	topK     int
	logger   log.Logger
}

// EngineOptions wires the engine's collaborators.
type EngineOptions struct {
	Vector   kb.VectorStore
	Graph    kb.GraphStore
	Embedder kb.Embedder
	Model    llms.Model
	TopK     int
	Logger   log.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Vector == nil || opts.Graph == nil || opts.Embedder == nil || opts.Model == nil {
		return nil, fmt.Errorf("vector store, graph store, embedder and model are required")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	return &Engine{
		vector:   opts.Vector,
		graph:    opts.Graph,
		embedder: opts.Embedder,
		model:    opts.Model,
		topK:     opts.TopK,
		logger:   opts.Logger,
	}, nil
}

// BuildFilter turns the request's source and machine selections into a
// metadata filter. One source becomes an equality test, several become a
// disjunction, and a selected machine conjoins an equality clause. Nil
// is returned when no sources are selected.
func BuildFilter(sources []string, machine string) kb.Filter {
	if len(sources) == 0 {
		return nil
	}

	var sourceFilter kb.Filter
	if len(sources) == 1 {
		sourceFilter = kb.Eq{Key: kb.MetaSource, Value: sources[0]}
	} else {
		children := make([]kb.Filter, len(sources))
		for i, s := range sources {
			children[i] = kb.Eq{Key: kb.MetaSource, Value: s}
		}
		sourceFilter = kb.Or(children...)
	}

	if machine != "" && machine != AllMachines {
		return kb.And(sourceFilter, kb.Eq{Key: kb.MetaMachinery, Value: machine})
	}
	return sourceFilter
}

// Ask answers a question. With no sources selected it returns guidance
// without touching either store. When both retrieval legs come back
// empty it apologizes instead of synthesizing an unsupported answer.
func (e *Engine) Ask(ctx context.Context, req Request) (*Response, error) {
	resp := &Response{}

	if len(req.Sources) == 0 {
		resp.Trace = append(resp.Trace, "blocked: no knowledge sources selected")
		resp.Answer = "Please select at least one knowledge source (for example manuals or incident reports) before asking a question."
		return resp, nil
	}

	filter := BuildFilter(req.Sources, req.Machine)
	resp.Trace = append(resp.Trace, "filter: "+filter.String())

	matches := e.vectorLeg(ctx, req, filter, resp)
	rows := e.graphLeg(ctx, req, resp)

	if len(matches) == 0 && len(rows) == 0 {
		resp.Trace = append(resp.Trace, "fallback: no results from either leg, skipping synthesis")
		resp.Answer = fmt.Sprintf(
			"I could not find anything about %q in the selected sources (%s). Try widening the source selection or rephrasing the question.",
			req.Query, strings.Join(req.Sources, ", "))
		return resp, nil
	}

	resp.GraphRows = rows
	e.synthesize(ctx, req, matches, rows, resp)
	return resp, nil
}

// vectorLeg runs filtered similarity search. Failures degrade to an
// empty leg.
func (e *Engine) vectorLeg(ctx context.Context, req Request, filter kb.Filter, resp *Response) []kb.Match {
	embedding, err := e.embedder.EmbedText(ctx, req.Query)
	if err != nil {
		e.logger.Warn("query embedding failed: %v", err)
		resp.Trace = append(resp.Trace, "vector: embedding failed")
		return nil
	}

	matches, err := e.vector.Search(ctx, embedding, e.topK, filter)
	if err != nil {
		e.logger.Warn("vector search failed: %v", err)
		resp.Trace = append(resp.Trace, "vector: search failed")
		return nil
	}

	resp.Trace = append(resp.Trace, fmt.Sprintf("vector: %d chunks", len(matches)))
	for _, m := range matches {
		resp.Citations = append(resp.Citations, Citation{
			ChunkID:    m.Chunk.ID,
			Source:     m.Chunk.Source,
			Machinery:  m.Chunk.Machinery,
			Excerpt:    excerpt(m.Chunk.Text),
			Confidence: m.Score,
		})
	}
	return matches
}

// graphLeg snapshots the schema, generates a structured query and runs
// it. Any failure or empty result degrades to "no structured match".
func (e *Engine) graphLeg(ctx context.Context, req Request, resp *Response) []kb.Row {
	schema, err := e.graph.Snapshot(ctx)
	if err != nil {
		e.logger.Warn("schema snapshot failed: %v", err)
		resp.Trace = append(resp.Trace, "graph: schema snapshot failed")
		return nil
	}

	scope := ""
	if req.Machine != "" && req.Machine != AllMachines {
		scope = fmt.Sprintf(prompts.GraphQueryScope, req.Machine)
	}
	prompt := fmt.Sprintf(prompts.GraphQuery,
		strings.Join(schema.Labels, ", "),
		strings.Join(schema.RelationshipTypes, ", "),
		strings.Join(schema.MachineNames, ", "),
		scope,
		req.Query)

	generated, err := llms.GenerateFromSinglePrompt(ctx, e.model, prompt)
	if err != nil {
		e.logger.Warn("graph query generation failed: %v", err)
		resp.Trace = append(resp.Trace, "graph: query generation failed")
		return nil
	}
	query := cleanGeneratedQuery(generated)
	if query == "" {
		resp.Trace = append(resp.Trace, "graph: no query generated")
		return nil
	}

	rows, err := e.graph.Query(ctx, query)
	if err != nil {
		e.logger.Warn("graph query failed: %v", err)
		resp.Trace = append(resp.Trace, "graph: no structured match")
		return nil
	}
	if len(rows) == 0 {
		resp.Trace = append(resp.Trace, "graph: no structured match")
		return nil
	}

	resp.Trace = append(resp.Trace, fmt.Sprintf("graph: %d rows", len(rows)))
	return rows
}

// synthesize produces the final answer, giving structured facts priority
// over chunk text. A generation failure degrades to the raw context.
func (e *Engine) synthesize(ctx context.Context, req Request, matches []kb.Match, rows []kb.Row, resp *Response) {
	facts := renderRows(rows)
	excerpts := renderMatches(matches)

	prompt := fmt.Sprintf(prompts.Synthesis, req.Query, facts, excerpts)
	answer, err := llms.GenerateFromSinglePrompt(ctx, e.model, prompt)
	if err != nil {
		e.logger.Warn("answer synthesis failed: %v", err)
		resp.Trace = append(resp.Trace, "synthesis: generation failed, returning raw context")
		resp.Answer = strings.TrimSpace("Retrieved context:\n" + facts + "\n" + excerpts)
		return
	}

	resp.Trace = append(resp.Trace, "synthesis: done")
	resp.Answer = strings.TrimSpace(answer)
}

// FilterOptions lists the distinct filter values present in the indexed
// knowledge base.
type FilterOptions struct {
	Machines []string
	Sources  []string
}

// Filters reports the machine and source values available for the chat
// filter dropdowns, excluding the parser defaults.
func (e *Engine) Filters(ctx context.Context) (*FilterOptions, error) {
	rows, err := e.graph.Query(ctx, "MATCH (c:Chunk) RETURN DISTINCT c.machinery AS machinery, c.source AS source")
	if err != nil {
		return nil, fmt.Errorf("filter options query: %w", err)
	}

	machines := make(map[string]bool)
	sources := make(map[string]bool)
	for _, row := range rows {
		if m, ok := row["machinery"]; ok && m != nil {
			name := fmt.Sprint(m)
			if name != "" && name != kb.UnknownMachinery {
				machines[name] = true
			}
		}
		if s, ok := row["source"]; ok && s != nil {
			name := fmt.Sprint(s)
			if name != "" {
				sources[name] = true
			}
		}
	}

	opts := &FilterOptions{
		Machines: sortedSet(machines),
		Sources:  sortedSet(sources),
	}
	return opts, nil
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// cleanGeneratedQuery strips code fences and whitespace off generated
// query text.
func cleanGeneratedQuery(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```cypher")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// renderRows formats graph rows as fact lines for the synthesis prompt.
func renderRows(rows []kb.Row) string {
	if len(rows) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, row[k]))
		}
		b.WriteString("- " + strings.Join(parts, ", ") + "\n")
	}
	return strings.TrimSpace(b.String())
}

// renderMatches formats vector matches as excerpt blocks.
func renderMatches(matches []kb.Match) string {
	if len(matches) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "[%s | %s] %s\n", m.Chunk.Source, m.Chunk.Machinery, m.Chunk.Text)
	}
	return strings.TrimSpace(b.String())
}

// excerpt trims chunk text for citation display, cutting back to a rune
// boundary so multi-byte characters are never split.
func excerpt(text string) string {
	const limit = 200
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
