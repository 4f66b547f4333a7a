package workorder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factoryos/factoryos/kb"
	"github.com/factoryos/factoryos/kb/store"
)

type stubInventory struct {
	inStock bool
	err     error
	parts   []string
}

func (s *stubInventory) InStock(ctx context.Context, part string) (bool, error) {
	s.parts = append(s.parts, part)
	return s.inStock, s.err
}

// assignFixture wires an agent over a memory graph whose query handler
// dispatches on the generated query text.
func assignFixture(t *testing.T, model *scriptedLLM, inventory Inventory, contextRow kb.Row, techRows []kb.Row) *Agent {
	t.Helper()

	g := store.NewMemoryGraph()
	g.QueryHandler = func(query string) ([]kb.Row, error) {
		switch {
		case strings.Contains(query, "WorkOrder"):
			if contextRow == nil {
				return nil, errors.New("graph unavailable")
			}
			return []kb.Row{contextRow}, nil
		case strings.Contains(query, "Technician"):
			return techRows, nil
		}
		return nil, nil
	}

	agent, err := NewAgent(AgentOptions{
		Engine:    NewQueryEngine(g, model, nil),
		Model:     model,
		Inventory: inventory,
	})
	require.NoError(t, err)
	return agent
}

func TestAssignHappyPath(t *testing.T) {
	model := &scriptedLLM{responses: []string{
		"MATCH (wo:WorkOrder {id: \"WO-100\"}) RETURN wo",
		"MATCH (t:Technician) RETURN t",
		"Mara Okonkwo has the highest certification and matches the electrical fault profile.",
		"High priority work on a thin bench of qualified staff; schedule promptly.",
	}}
	contextRow := kb.Row{
		"wo.id":                  "WO-100",
		"priority":               "high",
		"required_certification": "advanced",
		"machinery":              "Lathe01",
	}
	techRows := []kb.Row{
		{"name": "Mara Okonkwo", "role": "Electrician", "certification_level": "Advanced", "status": "Active"},
		{"name": "Luis Ferreira", "role": "Mechanic", "certification_level": "Basic", "status": "Active"},
		{"name": "Ana Silva", "role": "Electrician", "certification_level": "Expert", "status": "Active"},
	}
	agent := assignFixture(t, model, nil, contextRow, techRows)

	rec, err := agent.Assign(context.Background(), "WO-100")
	require.NoError(t, err)

	require.NotNil(t, rec.Technician)
	assert.Equal(t, "Mara Okonkwo", rec.Technician.Name)
	require.Len(t, rec.Alternatives, 1)
	assert.Equal(t, "Ana Silva", rec.Alternatives[0].Name)

	assert.Contains(t, rec.Justification, "highest certification")
	assert.Contains(t, rec.Justification, "thin bench")
	assert.Equal(t, map[string]bool{
		"context_exists":        true,
		"equipment_identified":  true,
		"technicians_available": true,
	}, rec.Compliance)
	assert.Equal(t, []string{"high priority work order", "small qualified technician pool"}, rec.Risks)
	assert.Equal(t, []string{
		"retrieve_context", "find_technicians", "validate",
		"rank_technicians", "analyze_risks", "format",
	}, rec.PathTaken)
	assert.Empty(t, rec.Errors)
}

func TestAssignContextFailureBlocksAssignment(t *testing.T) {
	model := &scriptedLLM{responses: []string{
		"MATCH (wo:WorkOrder {id: \"WO-404\"}) RETURN wo",
	}}
	agent := assignFixture(t, model, nil, nil, nil)

	rec, err := agent.Assign(context.Background(), "WO-404")
	require.NoError(t, err)

	assert.Nil(t, rec.Technician)
	assert.Equal(t, []string{"retrieve_context", "format"}, rec.PathTaken)
	require.Len(t, rec.Errors, 1)
	assert.Contains(t, rec.Errors[0], "context retrieval failed")
	assert.Contains(t, rec.Justification, "Assignment blocked:")
	assert.False(t, rec.Compliance["context_exists"])
	// Only the context query generation call happens.
	assert.Equal(t, 1, model.calls)
}

func TestAssignNoQualifiedTechnicians(t *testing.T) {
	model := &scriptedLLM{responses: []string{
		"MATCH (wo:WorkOrder {id: \"WO-200\"}) RETURN wo",
		"MATCH (t:Technician) RETURN t",
	}}
	contextRow := kb.Row{
		"wo.id":                  "WO-200",
		"priority":               "low",
		"required_certification": "expert",
	}
	techRows := []kb.Row{
		{"name": "Luis Ferreira", "certification_level": "Basic", "status": "Active"},
		{"name": "Mara Okonkwo", "certification_level": "Advanced", "status": "Inactive"},
	}
	agent := assignFixture(t, model, nil, contextRow, techRows)

	rec, err := agent.Assign(context.Background(), "WO-200")
	require.NoError(t, err)

	assert.Nil(t, rec.Technician)
	assert.Contains(t, rec.Errors, "no qualified technicians available for work order WO-200")
	assert.Contains(t, rec.Justification, "Assignment blocked:")
	assert.True(t, rec.Compliance["context_exists"])
	assert.False(t, rec.Compliance["technicians_available"])
	// Ranking is skipped; risk analysis still runs.
	assert.Equal(t, []string{
		"retrieve_context", "find_technicians", "validate", "analyze_risks", "format",
	}, rec.PathTaken)
	assert.Equal(t, 2, model.calls)
}

func TestAssignRankingFailureFallsBackToFirstCandidate(t *testing.T) {
	model := &scriptedLLM{
		responses: []string{
			"MATCH (wo:WorkOrder {id: \"WO-300\"}) RETURN wo",
			"MATCH (t:Technician) RETURN t",
		},
		errs: []error{nil, nil, errors.New("model overloaded")},
	}
	contextRow := kb.Row{"wo.id": "WO-300", "priority": "low"}
	techRows := []kb.Row{
		{"name": "Mara Okonkwo", "certification_level": "Advanced", "status": "Active"},
		{"name": "Luis Ferreira", "certification_level": "Basic", "status": "Active"},
		{"name": "Ana Silva", "certification_level": "Expert", "status": "Active"},
	}
	agent := assignFixture(t, model, nil, contextRow, techRows)

	rec, err := agent.Assign(context.Background(), "WO-300")
	require.NoError(t, err)

	// Selection is list order, so the failure does not block the
	// assignment, but it must surface on the recommendation.
	require.NotNil(t, rec.Technician)
	assert.Equal(t, "Mara Okonkwo", rec.Technician.Name)
	assert.Contains(t, rec.Justification, "Fallback selection")
	assert.Contains(t, rec.Justification, "Mara Okonkwo is the first qualified candidate")
	assert.NotContains(t, rec.Justification, "Assignment blocked")
	require.Len(t, rec.Errors, 1)
	assert.Contains(t, rec.Errors[0], "ranking justification failed")
	assert.Contains(t, rec.Errors[0], "model overloaded")
}

func TestAssignOutOfStockPartCreatesPurchaseOrder(t *testing.T) {
	model := &scriptedLLM{responses: []string{
		"MATCH (wo:WorkOrder {id: \"WO-500\"}) RETURN wo",
		"Please order bearing-6204 for the lathe spindle rebuild.",
	}}
	contextRow := kb.Row{
		"wo.id":         "WO-500",
		"priority":      "low",
		"required_part": "bearing-6204",
	}
	inventory := &stubInventory{inStock: false}
	agent := assignFixture(t, model, inventory, contextRow, nil)

	rec, err := agent.Assign(context.Background(), "WO-500")
	require.NoError(t, err)

	require.NotNil(t, rec.PurchaseOrder)
	assert.NotEmpty(t, rec.PurchaseOrder.ID)
	assert.Equal(t, "WO-500", rec.PurchaseOrder.WorkOrderID)
	assert.Equal(t, "bearing-6204", rec.PurchaseOrder.Part)
	assert.Equal(t, "Please order bearing-6204 for the lathe spindle rebuild.", rec.PurchaseOrder.Note)

	assert.Nil(t, rec.Technician)
	assert.Contains(t, rec.Justification, "Assignment blocked:")
	assert.Contains(t, rec.Justification, "out of stock")
	assert.Contains(t, rec.Justification, rec.PurchaseOrder.ID)

	// Technician search never runs on this branch.
	assert.Equal(t, []string{
		"retrieve_context", "check_inventory", "create_purchase_order", "analyze_risks", "format",
	}, rec.PathTaken)
	assert.Equal(t, []string{"bearing-6204"}, inventory.parts)
}

func TestAssignInStockPartProceedsToAssignment(t *testing.T) {
	model := &scriptedLLM{responses: []string{
		"MATCH (wo:WorkOrder {id: \"WO-600\"}) RETURN wo",
		"MATCH (t:Technician) RETURN t",
		"Ana Silva is available and certified.",
	}}
	contextRow := kb.Row{
		"wo.id":         "WO-600",
		"priority":      "low",
		"required_part": "v-belt-a42",
	}
	techRows := []kb.Row{
		{"name": "Ana Silva", "certification_level": "Expert", "status": "Active"},
		{"name": "Luis Ferreira", "certification_level": "Basic", "status": "Active"},
		{"name": "Mara Okonkwo", "certification_level": "Advanced", "status": "Active"},
	}
	inventory := &stubInventory{inStock: true}
	agent := assignFixture(t, model, inventory, contextRow, techRows)

	rec, err := agent.Assign(context.Background(), "WO-600")
	require.NoError(t, err)

	assert.Nil(t, rec.PurchaseOrder)
	require.NotNil(t, rec.Technician)
	assert.Equal(t, "Ana Silva", rec.Technician.Name)
	assert.Equal(t, []string{
		"retrieve_context", "check_inventory", "find_technicians",
		"validate", "rank_technicians", "analyze_risks", "format",
	}, rec.PathTaken)
}

func TestAssignInventoryErrorTreatedAsInStock(t *testing.T) {
	model := &scriptedLLM{responses: []string{
		"MATCH (wo:WorkOrder {id: \"WO-700\"}) RETURN wo",
		"MATCH (t:Technician) RETURN t",
		"Mara Okonkwo is the strongest match.",
	}}
	contextRow := kb.Row{
		"wo.id":         "WO-700",
		"priority":      "low",
		"required_part": "seal-kit-9",
	}
	techRows := []kb.Row{
		{"name": "Mara Okonkwo", "certification_level": "Advanced", "status": "Active"},
		{"name": "Ana Silva", "certification_level": "Expert", "status": "Active"},
		{"name": "Luis Ferreira", "certification_level": "Basic", "status": "Active"},
	}
	inventory := &stubInventory{err: errors.New("inventory service down")}
	agent := assignFixture(t, model, inventory, contextRow, techRows)

	rec, err := agent.Assign(context.Background(), "WO-700")
	require.NoError(t, err)

	assert.Nil(t, rec.PurchaseOrder)
	require.NotNil(t, rec.Technician)
	assert.Equal(t, "Mara Okonkwo", rec.Technician.Name)
	assert.NotContains(t, rec.PathTaken, "create_purchase_order")
	// The assumption is advisory, not blocking.
	require.Len(t, rec.Errors, 1)
	assert.Contains(t, rec.Errors[0], "assuming in stock")
}
