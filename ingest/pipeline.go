package ingest

import (
	"context"
	"fmt"

	"github.com/factoryos/factoryos/graph"
	"github.com/factoryos/factoryos/kb"
	"github.com/factoryos/factoryos/kb/splitter"
	"github.com/factoryos/factoryos/log"
)

// Pipeline status values.
const (
	StatusCompleted   = "completed"
	StatusNoDocuments = "no valid documents"
)

// State flows through the ingestion graph. Fields accumulate; nodes
// never remove earlier results.
type State struct {
	Raw           []RawDocument
	Documents     []kb.Document
	Entities      []kb.Entity
	Relationships []kb.Relationship
	Chunks        []kb.Chunk

	Status       string
	PathTaken    []string
	FailedPhases []string
	Errors       []string

	GraphIndexed  bool
	VectorIndexed bool
}

// fail records a phase failure without aborting the pipeline.
func (s *State) fail(phase string, err error) {
	s.FailedPhases = append(s.FailedPhases, phase)
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", phase, err))
}

// Result summarizes one ingestion run.
type Result struct {
	Status       string
	PathTaken    []string
	Documents    []kb.Document
	ChunkCount   int
	Partial      bool
	FailedPhases []string
	Errors       []string
}

// Options wires the pipeline's collaborators.
type Options struct {
	Graph     kb.GraphStore
	Vector    kb.VectorStore
	Embedder  kb.Embedder
	Extractor *kb.Extractor
	Splitter  splitter.Splitter
	Captioner *Captioner
	Logger    log.Logger
}

// Pipeline ingests raw documents into both halves of the knowledge base.
// Phase failures degrade: they are logged and recorded on the result,
// and the remaining phases still run.
type Pipeline struct {
	opts Options
	app  *graph.StateRunnable[State]
}

// NewPipeline builds and compiles the ingestion graph.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Graph == nil || opts.Vector == nil || opts.Embedder == nil {
		return nil, fmt.Errorf("graph store, vector store and embedder are required")
	}
	if opts.Splitter == nil {
		opts.Splitter = splitter.NewWindowSplitter(splitter.DefaultChunkSize, splitter.DefaultChunkOverlap)
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}

	p := &Pipeline{opts: opts}

	g := graph.NewStateGraph[State]()
	g.AddNode("parse", p.parseNode)
	g.AddNode("extract", p.extractNode)
	g.AddNode("upsert_graph", p.upsertGraphNode)
	g.AddNode("chunk", p.chunkNode)
	g.AddNode("index_graph", p.indexGraphNode)
	g.AddNode("index_vector", p.indexVectorNode)
	g.AddNode("link", p.linkNode)

	g.SetEntryPoint("parse")
	g.AddConditionalEdge("parse", func(ctx context.Context, s State) string {
		if len(s.Documents) == 0 {
			return graph.END
		}
		return "extract"
	})
	g.AddEdge("extract", "upsert_graph")
	g.AddEdge("upsert_graph", "chunk")
	g.AddEdge("chunk", "index_graph")
	g.AddEdge("index_graph", "index_vector")
	g.AddEdge("index_vector", "link")
	g.AddEdge("link", graph.END)

	app, err := g.Compile()
	if err != nil {
		return nil, err
	}
	p.app = app
	return p, nil
}

// Run ingests the given documents. Phase failures surface on the Result,
// not as a returned error; only engine misconfiguration returns one.
func (p *Pipeline) Run(ctx context.Context, docs []RawDocument) (*Result, error) {
	final, err := p.app.Invoke(ctx, State{Raw: docs})
	if err != nil {
		return nil, err
	}

	return &Result{
		Status:       final.Status,
		PathTaken:    final.PathTaken,
		Documents:    final.Documents,
		ChunkCount:   len(final.Chunks),
		Partial:      len(final.Chunks) > 0 && final.GraphIndexed != final.VectorIndexed,
		FailedPhases: final.FailedPhases,
		Errors:       final.Errors,
	}, nil
}

func (p *Pipeline) parseNode(ctx context.Context, s State) (State, error) {
	s.PathTaken = append(s.PathTaken, "parse")

	for _, raw := range s.Raw {
		if p.opts.Captioner != nil && len(raw.Images) > 0 {
			for _, caption := range p.opts.Captioner.Describe(ctx, raw.Images) {
				if caption != "" {
					raw.Text += "\n\nImage: " + caption
				}
			}
		}
		doc, ok := parseRaw(raw)
		if !ok {
			p.opts.Logger.Warn("skipping document with no content")
			continue
		}
		s.Documents = append(s.Documents, doc)
	}

	if len(s.Documents) == 0 {
		s.Status = StatusNoDocuments
		return s, nil
	}

	p.opts.Logger.Info("parsed %d of %d documents", len(s.Documents), len(s.Raw))
	return s, nil
}

func (p *Pipeline) extractNode(ctx context.Context, s State) (State, error) {
	s.PathTaken = append(s.PathTaken, "extract")

	if p.opts.Extractor == nil {
		return s, nil
	}

	for _, doc := range s.Documents {
		extraction, err := p.opts.Extractor.Extract(ctx, doc)
		if err != nil {
			p.opts.Logger.Warn("extraction failed for %s: %v", doc.ID, err)
			s.fail("extract", err)
			continue
		}
		s.Entities = append(s.Entities, extraction.Entities...)
		s.Relationships = append(s.Relationships, extraction.Relationships...)
	}
	return s, nil
}

func (p *Pipeline) upsertGraphNode(ctx context.Context, s State) (State, error) {
	s.PathTaken = append(s.PathTaken, "upsert_graph")

	for _, ent := range s.Entities {
		if err := p.opts.Graph.UpsertEntity(ctx, ent); err != nil {
			s.fail("upsert_graph", err)
			return s, nil
		}
	}
	for _, rel := range s.Relationships {
		if err := p.opts.Graph.UpsertRelationship(ctx, rel); err != nil {
			s.fail("upsert_graph", err)
			return s, nil
		}
	}
	return s, nil
}

func (p *Pipeline) chunkNode(ctx context.Context, s State) (State, error) {
	s.PathTaken = append(s.PathTaken, "chunk")

	for _, doc := range s.Documents {
		pieces, err := p.opts.Splitter.Split(ctx, doc.Text)
		if err != nil {
			s.fail("chunk", err)
			continue
		}
		if len(pieces) == 0 {
			continue
		}

		embeddings, err := p.opts.Embedder.EmbedTexts(ctx, pieces)
		if err != nil {
			s.fail("chunk", fmt.Errorf("embedding failed for %s: %w", doc.ID, err))
			continue
		}

		for i, piece := range pieces {
			s.Chunks = append(s.Chunks, kb.Chunk{
				ID:         fmt.Sprintf("%s_%d", doc.ID, i),
				DocumentID: doc.ID,
				Text:       piece,
				Machinery:  doc.Machinery,
				ManualType: doc.ManualType,
				Source:     doc.Source,
				Embedding:  embeddings[i],
			})
		}
	}
	return s, nil
}

func (p *Pipeline) indexGraphNode(ctx context.Context, s State) (State, error) {
	s.PathTaken = append(s.PathTaken, "index_graph")

	for _, chunk := range s.Chunks {
		if err := p.opts.Graph.UpsertChunk(ctx, chunk); err != nil {
			p.opts.Logger.Warn("graph chunk write failed: %v", err)
			s.fail("index_graph", err)
			return s, nil
		}
	}
	s.GraphIndexed = len(s.Chunks) > 0
	return s, nil
}

func (p *Pipeline) indexVectorNode(ctx context.Context, s State) (State, error) {
	s.PathTaken = append(s.PathTaken, "index_vector")

	if len(s.Chunks) == 0 {
		return s, nil
	}
	if err := p.opts.Vector.Upsert(ctx, s.Chunks); err != nil {
		p.opts.Logger.Warn("vector write failed: %v", err)
		s.fail("index_vector", err)
		return s, nil
	}
	s.VectorIndexed = true
	return s, nil
}

func (p *Pipeline) linkNode(ctx context.Context, s State) (State, error) {
	s.PathTaken = append(s.PathTaken, "link")

	byMachine := make(map[string][]string)
	for _, chunk := range s.Chunks {
		if chunk.Machinery == kb.UnknownMachinery {
			continue
		}
		byMachine[chunk.Machinery] = append(byMachine[chunk.Machinery], chunk.ID)
	}

	for machinery, chunkIDs := range byMachine {
		ent := kb.Entity{
			Key:        machinery,
			Label:      "Machinery",
			Name:       machinery,
			Properties: map[string]any{"status": "Online"},
		}
		if err := p.opts.Graph.UpsertEntity(ctx, ent); err != nil {
			s.fail("link", err)
			continue
		}
		if err := p.opts.Graph.LinkChunksToMachinery(ctx, machinery, chunkIDs); err != nil {
			s.fail("link", err)
		}
	}

	s.Status = StatusCompleted
	return s, nil
}
