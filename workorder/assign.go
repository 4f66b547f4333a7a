package workorder

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/factoryos/factoryos/graph"
	"github.com/factoryos/factoryos/kb"
	"github.com/factoryos/factoryos/log"
	"github.com/factoryos/factoryos/prompts"
)

// Inventory answers stock checks for required parts. When nil, the
// assignment workflow skips the inventory branch entirely.
type Inventory interface {
	InStock(ctx context.Context, part string) (bool, error)
}

// PurchaseOrder is generated when a required part is out of stock.
type PurchaseOrder struct {
	ID          string
	WorkOrderID string
	Part        string
	Note        string
}

// Recommendation is the assignment workflow's terminal output. Errors
// carries every failure the workflow hit: blocking ones leave Technician
// nil, advisory ones degrade a step but still let the assignment
// proceed.
type Recommendation struct {
	WorkOrderID   string
	Technician    *Technician
	Alternatives  []Technician
	Justification string
	Risks         []string
	RiskNarrative string
	PurchaseOrder *PurchaseOrder
	Compliance    map[string]bool
	PathTaken     []string
	Errors        []string
}

// assignState accumulates through the workflow; nodes only append.
type assignState struct {
	WorkOrderID   string
	Context       kb.Row
	RequiredPart  string
	PartInStock   bool
	PurchaseOrder *PurchaseOrder
	Candidates    []Technician
	Qualified     []Technician
	Compliance    map[string]bool
	Justification string
	Risks         []string
	RiskNarrative string
	PathTaken     []string
	Errors        []string
	Advisories    []string
}

// fail records a blocking failure that prevents an assignment.
func (s *assignState) fail(msg string, err error) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	s.Errors = append(s.Errors, msg)
}

// advise records a degradation that does not block the assignment.
func (s *assignState) advise(msg string, err error) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	s.Advisories = append(s.Advisories, msg)
}

// Agent runs the work order assignment workflow.
type Agent struct {
	engine    *QueryEngine
	model     llms.Model
	inventory Inventory
	logger    log.Logger
	app       *graph.StateRunnable[assignState]
}

// AgentOptions wires the assignment workflow's collaborators.
type AgentOptions struct {
	Engine    *QueryEngine
	Model     llms.Model
	Inventory Inventory
	Logger    log.Logger
}

// NewAgent builds and compiles the assignment workflow.
func NewAgent(opts AgentOptions) (*Agent, error) {
	if opts.Engine == nil || opts.Model == nil {
		return nil, fmt.Errorf("query engine and model are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}

	a := &Agent{
		engine:    opts.Engine,
		model:     opts.Model,
		inventory: opts.Inventory,
		logger:    opts.Logger,
	}

	g := graph.NewStateGraph[assignState]()
	g.AddNode("retrieve_context", a.retrieveContextNode)
	g.AddNode("check_inventory", a.checkInventoryNode)
	g.AddNode("create_purchase_order", a.createPurchaseOrderNode)
	g.AddNode("find_technicians", a.findTechniciansNode)
	g.AddNode("validate", a.validateNode)
	g.AddNode("rank_technicians", a.rankTechniciansNode)
	g.AddNode("analyze_risks", a.analyzeRisksNode)
	g.AddNode("format", a.formatNode)

	g.SetEntryPoint("retrieve_context")

	// Context failure short-circuits straight to formatting; a required
	// part routes through the inventory check first.
	g.AddConditionalEdge("retrieve_context", func(ctx context.Context, s assignState) string {
		if len(s.Errors) > 0 {
			return "format"
		}
		if a.inventory != nil && s.RequiredPart != "" {
			return "check_inventory"
		}
		return "find_technicians"
	})
	g.AddConditionalEdge("check_inventory", func(ctx context.Context, s assignState) string {
		if !s.PartInStock {
			return "create_purchase_order"
		}
		return "find_technicians"
	})
	g.AddEdge("create_purchase_order", "analyze_risks")
	g.AddEdge("find_technicians", "validate")
	// No qualified technicians skips ranking but still analyzes risks.
	g.AddConditionalEdge("validate", func(ctx context.Context, s assignState) string {
		if len(s.Qualified) == 0 {
			return "analyze_risks"
		}
		return "rank_technicians"
	})
	g.AddEdge("rank_technicians", "analyze_risks")
	g.AddEdge("analyze_risks", "format")
	g.AddEdge("format", graph.END)

	app, err := g.Compile()
	if err != nil {
		return nil, err
	}
	a.app = app
	return a, nil
}

// Assign runs the workflow for a work order. Workflow failures land in
// Recommendation.Errors, not in the returned error.
func (a *Agent) Assign(ctx context.Context, workOrderID string) (*Recommendation, error) {
	final, err := a.app.Invoke(ctx, assignState{WorkOrderID: workOrderID})
	if err != nil {
		return nil, err
	}

	errs := make([]string, 0, len(final.Errors)+len(final.Advisories))
	errs = append(errs, final.Errors...)
	errs = append(errs, final.Advisories...)
	if len(errs) == 0 {
		errs = nil
	}

	rec := &Recommendation{
		WorkOrderID:   final.WorkOrderID,
		Justification: final.Justification,
		Risks:         final.Risks,
		RiskNarrative: final.RiskNarrative,
		PurchaseOrder: final.PurchaseOrder,
		Compliance:    final.Compliance,
		PathTaken:     final.PathTaken,
		Errors:        errs,
	}
	if len(final.Errors) == 0 && len(final.Qualified) > 0 {
		rec.Technician = &final.Qualified[0]
		if len(final.Qualified) > 1 {
			end := min(len(final.Qualified), 3)
			rec.Alternatives = final.Qualified[1:end]
		}
	}
	return rec, nil
}

func (a *Agent) retrieveContextNode(ctx context.Context, s assignState) (assignState, error) {
	s.PathTaken = append(s.PathTaken, "retrieve_context")

	s.Compliance = map[string]bool{"context_exists": false}

	row, err := a.engine.WorkOrderContext(ctx, s.WorkOrderID)
	if err != nil {
		a.logger.Warn("context retrieval failed for %s: %v", s.WorkOrderID, err)
		s.fail("context retrieval failed", err)
		return s, nil
	}
	s.Context = row
	s.RequiredPart = rowString(row, "required_part", "part", "wo.required_part")
	s.Compliance["context_exists"] = true
	s.Compliance["equipment_identified"] = rowString(row, "machinery", "equipment", "wo.machinery") != ""
	return s, nil
}

func (a *Agent) checkInventoryNode(ctx context.Context, s assignState) (assignState, error) {
	s.PathTaken = append(s.PathTaken, "check_inventory")

	inStock, err := a.inventory.InStock(ctx, s.RequiredPart)
	if err != nil {
		// Unknown stock is treated as in stock so assignment proceeds.
		a.logger.Warn("inventory check failed for %s: %v", s.RequiredPart, err)
		s.advise(fmt.Sprintf("inventory check failed for %s, assuming in stock", s.RequiredPart), err)
		s.PartInStock = true
		return s, nil
	}
	s.PartInStock = inStock
	return s, nil
}

func (a *Agent) createPurchaseOrderNode(ctx context.Context, s assignState) (assignState, error) {
	s.PathTaken = append(s.PathTaken, "create_purchase_order")

	po := &PurchaseOrder{
		ID:          uuid.NewString(),
		WorkOrderID: s.WorkOrderID,
		Part:        s.RequiredPart,
	}

	prompt := fmt.Sprintf(prompts.PurchaseOrder, s.RequiredPart, renderContext(s.Context))
	note, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt)
	if err != nil {
		a.logger.Warn("purchase order note generation failed: %v", err)
		note = fmt.Sprintf("Order part %s for work order %s; required part is out of stock.", s.RequiredPart, s.WorkOrderID)
	}
	po.Note = strings.TrimSpace(note)

	s.PurchaseOrder = po
	s.fail(fmt.Sprintf("required part %s is out of stock, purchase order %s created", s.RequiredPart, po.ID), nil)
	return s, nil
}

func (a *Agent) findTechniciansNode(ctx context.Context, s assignState) (assignState, error) {
	s.PathTaken = append(s.PathTaken, "find_technicians")

	techs, err := a.engine.QualifiedTechnicians(ctx, s.WorkOrderID)
	if err != nil {
		a.logger.Warn("technician lookup failed for %s: %v", s.WorkOrderID, err)
		s.fail("technician lookup failed", err)
		return s, nil
	}
	s.Candidates = techs
	return s, nil
}

// certRank orders certification levels for compliance checks.
var certRank = map[string]int{
	"basic":        1,
	"intermediate": 2,
	"advanced":     3,
	"expert":       4,
}

func (a *Agent) validateNode(ctx context.Context, s assignState) (assignState, error) {
	s.PathTaken = append(s.PathTaken, "validate")

	required := strings.ToLower(rowString(s.Context, "required_certification", "certification", "wo.required_certification"))
	requiredRank := certRank[required]

	for _, tech := range s.Candidates {
		if !strings.EqualFold(tech.Status, "active") && tech.Status != "" {
			continue
		}
		if requiredRank > 0 && certRank[strings.ToLower(tech.CertificationLevel)] < requiredRank {
			continue
		}
		s.Qualified = append(s.Qualified, tech)
	}

	s.Compliance["technicians_available"] = len(s.Qualified) > 0
	if len(s.Qualified) == 0 {
		s.fail(fmt.Sprintf("no qualified technicians available for work order %s", s.WorkOrderID), nil)
	}
	return s, nil
}

func (a *Agent) rankTechniciansNode(ctx context.Context, s assignState) (assignState, error) {
	s.PathTaken = append(s.PathTaken, "rank_technicians")

	names := make([]string, len(s.Qualified))
	for i, t := range s.Qualified {
		names[i] = fmt.Sprintf("%d. %s (%s, %s)", i+1, t.Name, t.Role, t.CertificationLevel)
	}

	prompt := fmt.Sprintf(prompts.Ranking, renderContext(s.Context), strings.Join(names, "\n"))
	justification, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt)
	if err != nil {
		// Selection is list order; the generated prose is advisory, so a
		// failure downgrades the justification text but must still be
		// visible on the recommendation.
		a.logger.Warn("ranking justification failed: %v", err)
		s.advise("ranking justification failed", err)
		s.Justification = fmt.Sprintf(
			"Fallback selection: %s is the first qualified candidate by certification level and availability.",
			s.Qualified[0].Name)
		return s, nil
	}
	s.Justification = strings.TrimSpace(justification)
	return s, nil
}

func (a *Agent) analyzeRisksNode(ctx context.Context, s assignState) (assignState, error) {
	s.PathTaken = append(s.PathTaken, "analyze_risks")

	priority := strings.ToLower(rowString(s.Context, "priority", "wo.priority"))
	if priority == "high" || priority == "critical" {
		s.Risks = append(s.Risks, fmt.Sprintf("%s priority work order", priority))
	}
	critical := strings.ToLower(rowString(s.Context, "equipment_critical", "critical"))
	if critical == "true" || critical == "yes" {
		s.Risks = append(s.Risks, "critical equipment involved")
	}
	if len(s.Qualified) > 0 && len(s.Qualified) <= 2 {
		s.Risks = append(s.Risks, "small qualified technician pool")
	}

	if len(s.Risks) == 0 {
		return s, nil
	}

	prompt := fmt.Sprintf(prompts.RiskNarrative, renderContext(s.Context), strings.Join(s.Risks, "; "))
	narrative, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt)
	if err != nil {
		a.logger.Warn("risk narrative generation failed: %v", err)
		s.advise("risk narrative generation failed", err)
		return s, nil
	}
	s.RiskNarrative = strings.TrimSpace(narrative)
	return s, nil
}

func (a *Agent) formatNode(ctx context.Context, s assignState) (assignState, error) {
	s.PathTaken = append(s.PathTaken, "format")

	if len(s.Errors) > 0 {
		s.Justification = "Assignment blocked: " + strings.Join(s.Errors, "; ")
		s.Qualified = nil
		return s, nil
	}

	if s.RiskNarrative != "" {
		s.Justification = strings.TrimSpace(s.Justification + "\n\n" + s.RiskNarrative)
	}
	return s, nil
}
