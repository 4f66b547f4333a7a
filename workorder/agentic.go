package workorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/factoryos/factoryos/graph"
	"github.com/factoryos/factoryos/kb"
	"github.com/factoryos/factoryos/log"
	"github.com/factoryos/factoryos/prompts"
	"github.com/factoryos/factoryos/retrieval"
)

// MaxRetries bounds the agentic loop's internal retry counter.
const MaxRetries = 3

// maxLoopSteps is the hard ceiling on executed nodes: four nodes per
// retry round plus slack for the final answer path. The engine enforces
// it even if the loop's own counter misbehaves.
const maxLoopSteps = MaxRetries*4 + 5

// AgenticResult is the loop's terminal output. FinalOutput is always
// non-empty, even when the budget ran out before the critique was
// satisfied.
type AgenticResult struct {
	WorkOrderID string
	FinalOutput string
	Sufficient  bool
	Iterations  int
	PathTaken   []string
	Errors      []string
}

// agenticState flows through the retry loop.
type agenticState struct {
	WorkOrderID     string
	Query           string
	Sources         []string
	Machine         string
	Feedback        string
	Iteration       int
	Matches         []kb.Match
	CandidatePrompt string
	Sufficient      bool
	FinalOutput     string
	PathTaken       []string
	Errors          []string
}

// AgenticAgent retrieves work order context in a critique-driven loop:
// construct search parameters, retrieve, assemble a candidate prompt,
// and let the model judge sufficiency. Insufficient context feeds the
// critique back into the next parameter construction.
type AgenticAgent struct {
	vector   kb.VectorStore
	embedder kb.Embedder
	model    llms.Model
	topK     int
	logger   log.Logger
	app      *graph.StateRunnable[agenticState]
}

// AgenticOptions wires the loop's collaborators.
type AgenticOptions struct {
	Vector   kb.VectorStore
	Embedder kb.Embedder
	Model    llms.Model
	TopK     int
	Logger   log.Logger
}

// NewAgenticAgent builds and compiles the retry loop.
func NewAgenticAgent(opts AgenticOptions) (*AgenticAgent, error) {
	if opts.Vector == nil || opts.Embedder == nil || opts.Model == nil {
		return nil, fmt.Errorf("vector store, embedder and model are required")
	}
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultTopK
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}

	a := &AgenticAgent{
		vector:   opts.Vector,
		embedder: opts.Embedder,
		model:    opts.Model,
		topK:     opts.TopK,
		logger:   opts.Logger,
	}

	g := graph.NewStateGraph[agenticState]()
	g.AddNode("construct_query", a.constructQueryNode)
	g.AddNode("retrieve", a.retrieveNode)
	g.AddNode("generate_prompt", a.generatePromptNode)
	g.AddNode("critique", a.critiqueNode)
	g.AddNode("final_answer", a.finalAnswerNode)

	g.SetEntryPoint("construct_query")
	g.AddEdge("construct_query", "retrieve")
	g.AddEdge("retrieve", "generate_prompt")
	g.AddEdge("generate_prompt", "critique")
	g.AddConditionalEdge("critique", func(ctx context.Context, s agenticState) string {
		if s.Sufficient || s.Iteration >= MaxRetries {
			return "final_answer"
		}
		return "construct_query"
	})
	g.AddEdge("final_answer", graph.END)

	app, err := g.Compile()
	if err != nil {
		return nil, err
	}
	a.app = app
	return a, nil
}

// Run executes the loop for a work order under the step ceiling. Budget
// exhaustion is a forced terminal path, not a failure: whatever context
// was assembled becomes the final output.
func (a *AgenticAgent) Run(ctx context.Context, workOrderID string) (*AgenticResult, error) {
	final, err := a.app.InvokeWithConfig(ctx, agenticState{WorkOrderID: workOrderID}, &graph.Config{
		MaxSteps: maxLoopSteps,
	})
	if err != nil {
		if !errors.Is(err, graph.ErrMaxStepsExceeded) {
			return nil, err
		}
		a.logger.Warn("agentic loop hit step ceiling for %s", workOrderID)
		final.Errors = append(final.Errors, "step budget exhausted before critique was satisfied")
	}

	if final.FinalOutput == "" {
		if final.CandidatePrompt != "" {
			final.FinalOutput = final.CandidatePrompt
		} else {
			final.FinalOutput = fmt.Sprintf(
				"No reliable context could be retrieved for work order %s. Manual review required.",
				workOrderID)
		}
	}

	return &AgenticResult{
		WorkOrderID: final.WorkOrderID,
		FinalOutput: final.FinalOutput,
		Sufficient:  final.Sufficient,
		Iterations:  final.Iteration,
		PathTaken:   final.PathTaken,
		Errors:      final.Errors,
	}, nil
}

// searchParams mirrors the JSON the construct step asks for.
type searchParams struct {
	Query   string   `json:"query"`
	Sources []string `json:"sources"`
	Machine string   `json:"machine"`
}

func (a *AgenticAgent) constructQueryNode(ctx context.Context, s agenticState) (agenticState, error) {
	s.PathTaken = append(s.PathTaken, "construct_query")

	feedback := s.Feedback
	if feedback == "" {
		feedback = "(first attempt)"
	}

	prompt := fmt.Sprintf(prompts.SearchParams, s.WorkOrderID, feedback)
	raw, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt)
	if err == nil {
		var params searchParams
		if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &params); jsonErr == nil && params.Query != "" {
			s.Query = params.Query
			s.Sources = params.Sources
			s.Machine = params.Machine
			return s, nil
		}
		err = fmt.Errorf("unparseable search parameters")
	}

	// Defaults keep the loop moving when parameter construction fails.
	a.logger.Warn("search parameter construction failed for %s: %v", s.WorkOrderID, err)
	s.Errors = append(s.Errors, fmt.Sprintf("construct_query: %v", err))
	s.Query = fmt.Sprintf("work order %s machinery compliance context", s.WorkOrderID)
	s.Sources = []string{"manual", "incident"}
	s.Machine = ""
	return s, nil
}

func (a *AgenticAgent) retrieveNode(ctx context.Context, s agenticState) (agenticState, error) {
	s.PathTaken = append(s.PathTaken, "retrieve")
	s.Matches = nil

	embedding, err := a.embedder.EmbedText(ctx, s.Query)
	if err != nil {
		s.Errors = append(s.Errors, fmt.Sprintf("retrieve: %v", err))
		return s, nil
	}

	filter := retrieval.BuildFilter(s.Sources, s.Machine)
	matches, err := a.vector.Search(ctx, embedding, a.topK, filter)
	if err != nil {
		s.Errors = append(s.Errors, fmt.Sprintf("retrieve: %v", err))
		return s, nil
	}
	s.Matches = matches
	return s, nil
}

func (a *AgenticAgent) generatePromptNode(ctx context.Context, s agenticState) (agenticState, error) {
	s.PathTaken = append(s.PathTaken, "generate_prompt")

	var b strings.Builder
	if len(s.Matches) == 0 {
		b.WriteString("(no context retrieved)")
	}
	for _, m := range s.Matches {
		fmt.Fprintf(&b, "[%s | %s] %s\n", m.Chunk.Source, m.Chunk.Machinery, m.Chunk.Text)
	}

	s.CandidatePrompt = fmt.Sprintf(prompts.CandidatePrompt, s.WorkOrderID, strings.TrimSpace(b.String()))
	return s, nil
}

func (a *AgenticAgent) critiqueNode(ctx context.Context, s agenticState) (agenticState, error) {
	s.PathTaken = append(s.PathTaken, "critique")
	s.Iteration++

	context := "(no context retrieved)"
	if len(s.Matches) > 0 {
		var b strings.Builder
		for _, m := range s.Matches {
			b.WriteString(m.Chunk.Text + "\n")
		}
		context = strings.TrimSpace(b.String())
	}

	prompt := fmt.Sprintf(prompts.Critique, s.WorkOrderID, context)
	verdict, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt)
	if err != nil {
		// A failed critique counts as insufficient; the iteration counter
		// still bounds the loop.
		a.logger.Warn("critique failed for %s: %v", s.WorkOrderID, err)
		s.Errors = append(s.Errors, fmt.Sprintf("critique: %v", err))
		s.Sufficient = false
		s.Feedback = ""
		return s, nil
	}

	sufficient, feedback := parseVerdict(verdict)
	s.Sufficient = sufficient
	s.Feedback = feedback
	return s, nil
}

func (a *AgenticAgent) finalAnswerNode(ctx context.Context, s agenticState) (agenticState, error) {
	s.PathTaken = append(s.PathTaken, "final_answer")

	answer, err := llms.GenerateFromSinglePrompt(ctx, a.model, s.CandidatePrompt)
	if err != nil {
		// The assembled prompt itself is the fallback output.
		a.logger.Warn("final answer generation failed for %s: %v", s.WorkOrderID, err)
		s.Errors = append(s.Errors, fmt.Sprintf("final_answer: %v", err))
		s.FinalOutput = s.CandidatePrompt
		return s, nil
	}
	s.FinalOutput = strings.TrimSpace(answer)
	return s, nil
}

// parseVerdict splits a "SUFFICIENT: ..." / "INSUFFICIENT: ..." line.
func parseVerdict(verdict string) (bool, string) {
	line := strings.TrimSpace(verdict)
	upper := strings.ToUpper(line)

	feedback := ""
	if idx := strings.Index(line, ":"); idx >= 0 {
		feedback = strings.TrimSpace(line[idx+1:])
	}

	if strings.HasPrefix(upper, "INSUFFICIENT") {
		return false, feedback
	}
	if strings.HasPrefix(upper, "SUFFICIENT") {
		return true, feedback
	}
	// An unparseable verdict counts as sufficient to avoid burning the
	// retry budget on a confused critic.
	return true, feedback
}

// extractJSON cuts generated text down to the outermost JSON object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "{}"
	}
	return raw[start : end+1]
}
