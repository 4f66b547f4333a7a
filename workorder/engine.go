// Package workorder implements work order assignment: a structured
// query engine over the knowledge graph, a compliance-aware assignment
// workflow, and an agentic retrieve-critique loop for briefings.
package workorder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/factoryos/factoryos/kb"
	"github.com/factoryos/factoryos/log"
	"github.com/factoryos/factoryos/prompts"
)

// Technician is a maintenance worker candidate for assignment.
type Technician struct {
	ID                 string
	Name               string
	Role               string
	CertificationLevel string
	Status             string
}

// QueryEngine answers natural language questions against the graph by
// generating a structured query from a fresh schema snapshot.
type QueryEngine struct {
	graph  kb.GraphStore
	model  llms.Model
	logger log.Logger
}

// NewQueryEngine creates a query engine.
func NewQueryEngine(graph kb.GraphStore, model llms.Model, logger log.Logger) *QueryEngine {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &QueryEngine{graph: graph, model: model, logger: logger}
}

// Run snapshots the schema, generates a query for the question and
// executes it. An empty result is not an error.
func (q *QueryEngine) Run(ctx context.Context, question string) ([]kb.Row, error) {
	schema, err := q.graph.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("schema snapshot: %w", err)
	}

	prompt := fmt.Sprintf(prompts.GraphQuery,
		strings.Join(schema.Labels, ", "),
		strings.Join(schema.RelationshipTypes, ", "),
		strings.Join(schema.MachineNames, ", "),
		"",
		question)

	generated, err := llms.GenerateFromSinglePrompt(ctx, q.model, prompt)
	if err != nil {
		return nil, fmt.Errorf("query generation: %w", err)
	}
	query := cleanQuery(generated)
	if query == "" {
		return nil, fmt.Errorf("query generation produced no query")
	}

	rows, err := q.graph.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return rows, nil
}

// WorkOrderContext retrieves the work order's context row.
func (q *QueryEngine) WorkOrderContext(ctx context.Context, workOrderID string) (kb.Row, error) {
	question := fmt.Sprintf(
		"Find work order %s with its machinery, priority, required certification level, required part and description.",
		workOrderID)
	rows, err := q.Run(ctx, question)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("work order %s not found", workOrderID)
	}
	return rows[0], nil
}

// QualifiedTechnicians retrieves the technicians linked to the work
// order's machinery, in the order the graph returns them.
func (q *QueryEngine) QualifiedTechnicians(ctx context.Context, workOrderID string) ([]Technician, error) {
	question := fmt.Sprintf(
		"List the technicians qualified for work order %s with their id, name, role, certification level and status.",
		workOrderID)
	rows, err := q.Run(ctx, question)
	if err != nil {
		return nil, err
	}

	techs := make([]Technician, 0, len(rows))
	for _, row := range rows {
		tech := Technician{
			ID:                 rowString(row, "id", "technician_id", "t.id"),
			Name:               rowString(row, "name", "technician", "t.name"),
			Role:               rowString(row, "role", "t.role"),
			CertificationLevel: rowString(row, "certification_level", "certification", "t.certification_level"),
			Status:             rowString(row, "status", "t.status"),
		}
		if tech.Name == "" && tech.ID == "" {
			continue
		}
		techs = append(techs, tech)
	}
	return techs, nil
}

// MaintenanceHistory retrieves recent maintenance records for a piece of
// equipment.
func (q *QueryEngine) MaintenanceHistory(ctx context.Context, equipment string, limit int) ([]kb.Row, error) {
	if limit <= 0 {
		limit = 5
	}
	question := fmt.Sprintf(
		"Show the %d most recent maintenance records for %s with date, technician and description.",
		limit, equipment)
	return q.Run(ctx, question)
}

// rowString finds the first non-empty value under any of the candidate
// keys. Generated queries do not guarantee column naming, so lookups
// are tolerant.
func rowString(row kb.Row, candidates ...string) string {
	for _, key := range candidates {
		if v, ok := row[key]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// cleanQuery strips code fences off generated query text.
func cleanQuery(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```cypher")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// renderContext formats a work order context row for prompts.
func renderContext(row kb.Row) string {
	if len(row) == 0 {
		return "(no context)"
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, row[k]))
	}
	return strings.Join(parts, "\n")
}
