// Package assistant is the service facade: one value owning the wired
// ingestion pipeline, retrieval engine and assignment workflows. All
// collaborators are injected; the package holds no global state.
package assistant

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/factoryos/factoryos/ingest"
	"github.com/factoryos/factoryos/kb"
	"github.com/factoryos/factoryos/kb/splitter"
	"github.com/factoryos/factoryos/log"
	"github.com/factoryos/factoryos/retrieval"
	"github.com/factoryos/factoryos/workorder"
)

// Options wires the assistant's collaborators.
type Options struct {
	Graph     kb.GraphStore
	Vector    kb.VectorStore
	Embedder  kb.Embedder
	Model     llms.Model
	Splitter  splitter.Splitter
	Captioner *ingest.Captioner
	Inventory workorder.Inventory
	TopK      int
	Logger    log.Logger
}

// Assistant bundles the maintenance assistant's operations behind one
// dependency-injected value.
type Assistant struct {
	pipeline *ingest.Pipeline
	engine   *retrieval.Engine
	assign   *workorder.Agent
	agentic  *workorder.AgenticAgent
	logger   log.Logger
}

// New builds an assistant from its collaborators.
func New(opts Options) (*Assistant, error) {
	if opts.Graph == nil || opts.Vector == nil || opts.Embedder == nil || opts.Model == nil {
		return nil, fmt.Errorf("graph store, vector store, embedder and model are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}

	pipeline, err := ingest.NewPipeline(ingest.Options{
		Graph:     opts.Graph,
		Vector:    opts.Vector,
		Embedder:  opts.Embedder,
		Extractor: kb.NewExtractor(opts.Model),
		Splitter:  opts.Splitter,
		Captioner: opts.Captioner,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest pipeline: %w", err)
	}

	engine, err := retrieval.NewEngine(retrieval.EngineOptions{
		Vector:   opts.Vector,
		Graph:    opts.Graph,
		Embedder: opts.Embedder,
		Model:    opts.Model,
		TopK:     opts.TopK,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval engine: %w", err)
	}

	queries := workorder.NewQueryEngine(opts.Graph, opts.Model, opts.Logger)
	assign, err := workorder.NewAgent(workorder.AgentOptions{
		Engine:    queries,
		Model:     opts.Model,
		Inventory: opts.Inventory,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("assignment workflow: %w", err)
	}

	agentic, err := workorder.NewAgenticAgent(workorder.AgenticOptions{
		Vector:   opts.Vector,
		Embedder: opts.Embedder,
		Model:    opts.Model,
		TopK:     opts.TopK,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("agentic workflow: %w", err)
	}

	return &Assistant{
		pipeline: pipeline,
		engine:   engine,
		assign:   assign,
		agentic:  agentic,
		logger:   opts.Logger,
	}, nil
}

// Ingest runs the ingestion pipeline over raw documents.
func (a *Assistant) Ingest(ctx context.Context, docs []ingest.RawDocument) (*ingest.Result, error) {
	return a.pipeline.Run(ctx, docs)
}

// Chat answers a question against the knowledge base.
func (a *Assistant) Chat(ctx context.Context, req retrieval.Request) (*retrieval.Response, error) {
	return a.engine.Ask(ctx, req)
}

// Filters lists the machinery and source values available for scoping a
// chat request.
func (a *Assistant) Filters(ctx context.Context) (*retrieval.FilterOptions, error) {
	return a.engine.Filters(ctx)
}

// Assign runs the assignment workflow for a work order.
func (a *Assistant) Assign(ctx context.Context, workOrderID string) (*workorder.Recommendation, error) {
	return a.assign.Assign(ctx, workOrderID)
}

// AssignAgentic runs the critique-driven context loop for a work order.
func (a *Assistant) AssignAgentic(ctx context.Context, workOrderID string) (*workorder.AgenticResult, error) {
	return a.agentic.Run(ctx, workOrderID)
}
