// Command factoryos is the maintenance assistant CLI. It wires the
// configured model and stores into the assistant facade and exposes the
// ingest, chat, assign and roster-sync verbs.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/factoryos/factoryos/assistant"
	"github.com/factoryos/factoryos/config"
	"github.com/factoryos/factoryos/ingest"
	"github.com/factoryos/factoryos/kb"
	"github.com/factoryos/factoryos/kb/splitter"
	"github.com/factoryos/factoryos/kb/store"
	"github.com/factoryos/factoryos/log"
	"github.com/factoryos/factoryos/retrieval"
	"github.com/factoryos/factoryos/roster"
)

const usage = `Usage: factoryos [-config path] <command> [arguments]

Commands:
  ingest <file>...              ingest documents into the knowledge base
  chat -q <question> [options]  ask a question
  assign [-agentic] <id>        recommend a technician for a work order
  roster-sync                   push the technician roster into the graph
`

func main() {
	configPath := flag.String("config", "", "path to the config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "factoryos: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewGolog(logLevel(cfg.LogLevel))
	log.SetDefaultLogger(logger)

	ctx := context.Background()
	if err := run(ctx, cfg, logger, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger log.Logger, command string, args []string) error {
	switch command {
	case "ingest":
		return runIngest(ctx, cfg, logger, args)
	case "chat":
		return runChat(ctx, cfg, logger, args)
	case "assign":
		return runAssign(ctx, cfg, logger, args)
	case "roster-sync":
		return runRosterSync(ctx, cfg, logger)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// buildAssistant constructs the full dependency chain from the config.
func buildAssistant(ctx context.Context, cfg *config.Config, logger log.Logger) (*assistant.Assistant, func(), error) {
	opts := []openai.Option{openai.WithModel(cfg.LLM.Model)}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
	}
	if key := cfg.APIKey(); key != "" {
		opts = append(opts, openai.WithToken(key))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("llm client: %w", err)
	}

	openaiEmbedder, err := embeddings.NewEmbedder(model)
	if err != nil {
		return nil, nil, fmt.Errorf("embedder: %w", err)
	}
	embedder := kb.NewLangChainEmbedder(openaiEmbedder)

	graphStore, err := store.DialFalkorGraph(
		fmt.Sprintf("falkordb://%s/%s", cfg.Graph.Addr, cfg.Graph.GraphName))
	if err != nil {
		return nil, nil, fmt.Errorf("graph store: %w", err)
	}

	var vectorStore kb.VectorStore
	switch cfg.Vector.Driver {
	case "pgvector":
		vectorStore, err = store.DialPGVector(ctx, store.PGVectorConfig{
			ConnString: cfg.Vector.ConnURL,
			TableName:  cfg.Vector.Table,
			VectorDim:  cfg.Vector.Dimension,
		})
		if err != nil {
			graphStore.Close()
			return nil, nil, fmt.Errorf("vector store: %w", err)
		}
	case "memory":
		vectorStore = store.NewMemoryVectorStore()
	default:
		graphStore.Close()
		return nil, nil, fmt.Errorf("unknown vector driver %q", cfg.Vector.Driver)
	}

	var split splitter.Splitter
	switch cfg.Ingest.Splitter {
	case "semantic":
		split = splitter.NewSemanticSplitter(embedder, 0)
	default:
		split = splitter.NewWindowSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}

	captioner, err := ingest.NewCaptioner(model, cfg.Ingest.CaptionWorkers, logger)
	if err != nil {
		graphStore.Close()
		vectorStore.Close()
		return nil, nil, err
	}

	a, err := assistant.New(assistant.Options{
		Graph:     graphStore,
		Vector:    vectorStore,
		Embedder:  embedder,
		Model:     model,
		Splitter:  split,
		Captioner: captioner,
		TopK:      cfg.Agent.TopK,
		Logger:    logger,
	})
	if err != nil {
		captioner.Close()
		graphStore.Close()
		vectorStore.Close()
		return nil, nil, err
	}

	cleanup := func() {
		captioner.Close()
		vectorStore.Close()
		graphStore.Close()
	}
	return a, cleanup, nil
}

func runIngest(ctx context.Context, cfg *config.Config, logger log.Logger, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("ingest: at least one file is required")
	}

	docs := make([]ingest.RawDocument, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		docs = append(docs, ingest.RawDocument{Text: string(data), Source: path})
	}

	a, cleanup, err := buildAssistant(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := a.Ingest(ctx, docs)
	if err != nil {
		return err
	}

	fmt.Printf("status: %s\n", res.Status)
	fmt.Printf("documents: %d, chunks: %d\n", len(res.Documents), res.ChunkCount)
	if res.Partial {
		fmt.Println("warning: partial index, one store rejected the chunks")
	}
	for _, e := range res.Errors {
		fmt.Printf("error: %s\n", e)
	}
	return nil
}

func runChat(ctx context.Context, cfg *config.Config, logger log.Logger, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	question := fs.String("q", "", "the question to ask")
	sources := fs.String("sources", "upload", "comma-separated knowledge sources")
	machine := fs.String("machine", retrieval.AllMachines, "restrict to one machine")
	verbose := fs.Bool("v", false, "print the retrieval trace")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *question == "" {
		return fmt.Errorf("chat: -q is required")
	}

	a, cleanup, err := buildAssistant(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := a.Chat(ctx, retrieval.Request{
		Query:   *question,
		Sources: strings.Split(*sources, ","),
		Machine: *machine,
	})
	if err != nil {
		return err
	}

	fmt.Println(resp.Answer)
	if len(resp.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range resp.Citations {
			fmt.Printf("  [%s] %s: %s\n", c.Source, c.Machinery, c.Excerpt)
		}
	}
	if *verbose {
		fmt.Println("\nTrace:")
		for _, line := range resp.Trace {
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}

func runAssign(ctx context.Context, cfg *config.Config, logger log.Logger, args []string) error {
	fs := flag.NewFlagSet("assign", flag.ExitOnError)
	agentic := fs.Bool("agentic", false, "run the critique-driven context loop instead")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("assign: exactly one work order id is required")
	}
	workOrderID := fs.Arg(0)

	a, cleanup, err := buildAssistant(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if *agentic {
		res, err := a.AssignAgentic(ctx, workOrderID)
		if err != nil {
			return err
		}
		fmt.Println(res.FinalOutput)
		fmt.Printf("\niterations: %d, sufficient: %v\n", res.Iterations, res.Sufficient)
		return nil
	}

	rec, err := a.Assign(ctx, workOrderID)
	if err != nil {
		return err
	}

	if rec.Technician == nil {
		fmt.Println(rec.Justification)
		if rec.PurchaseOrder != nil {
			fmt.Printf("purchase order %s: %s\n", rec.PurchaseOrder.ID, rec.PurchaseOrder.Note)
		}
		return nil
	}

	fmt.Printf("Recommended: %s (%s, %s)\n",
		rec.Technician.Name, rec.Technician.Role, rec.Technician.CertificationLevel)
	for _, alt := range rec.Alternatives {
		fmt.Printf("Alternative: %s (%s, %s)\n", alt.Name, alt.Role, alt.CertificationLevel)
	}
	fmt.Printf("\n%s\n", rec.Justification)
	for _, r := range rec.Risks {
		fmt.Printf("risk: %s\n", r)
	}
	return nil
}

func runRosterSync(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	db, err := sql.Open("sqlite3", cfg.Roster.Path)
	if err != nil {
		return fmt.Errorf("roster database: %w", err)
	}
	defer db.Close()

	graphStore, err := store.DialFalkorGraph(
		fmt.Sprintf("falkordb://%s/%s", cfg.Graph.Addr, cfg.Graph.GraphName))
	if err != nil {
		return fmt.Errorf("graph store: %w", err)
	}
	defer graphStore.Close()

	sync := roster.NewSync(db, graphStore, logger)
	if err := sync.SeedSchema(ctx); err != nil {
		return err
	}
	count, err := sync.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("synced %d technicians\n", count)
	return nil
}

func logLevel(level string) log.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return log.LogLevelDebug
	case "warn":
		return log.LogLevelWarn
	case "error":
		return log.LogLevelError
	default:
		return log.LogLevelInfo
	}
}
