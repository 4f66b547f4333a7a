package graph

import (
	"context"
	"fmt"
)

// StateGraph is a state machine over a typed state value S. Nodes receive
// the current state and return the next one. Execution is sequential: one
// node runs at a time, and the next node is chosen by a conditional edge
// when one exists, otherwise by the static edge.
//
// Example:
//
//	type countState struct{ Count int }
//
//	g := graph.NewStateGraph[countState]()
//	g.AddNode("increment", func(ctx context.Context, s countState) (countState, error) {
//	    s.Count++
//	    return s, nil
//	})
//	g.AddEdge("increment", graph.END)
//	g.SetEntryPoint("increment")
type StateGraph[S any] struct {
	nodes            map[string]Node[S]
	edges            []Edge
	conditionalEdges map[string]func(ctx context.Context, state S) string
	entryPoint       string
}

// Node is a named step in the graph.
type Node[S any] struct {
	Name     string
	Function func(ctx context.Context, state S) (S, error)
}

// NewStateGraph creates an empty state graph for state type S.
func NewStateGraph[S any]() *StateGraph[S] {
	return &StateGraph[S]{
		nodes:            make(map[string]Node[S]),
		conditionalEdges: make(map[string]func(ctx context.Context, state S) string),
	}
}

// AddNode registers a node under the given name.
func (g *StateGraph[S]) AddNode(name string, fn func(ctx context.Context, state S) (S, error)) {
	g.nodes[name] = Node[S]{Name: name, Function: fn}
}

// AddEdge adds a static edge from one node to another (or to END).
func (g *StateGraph[S]) AddEdge(from, to string) {
	g.edges = append(g.edges, Edge{From: from, To: to})
}

// AddConditionalEdge routes out of a node at runtime. The condition
// function returns the name of the next node (or END). A conditional edge
// takes precedence over any static edge from the same node.
func (g *StateGraph[S]) AddConditionalEdge(from string, condition func(ctx context.Context, state S) string) {
	g.conditionalEdges[from] = condition
}

// SetEntryPoint sets the node execution starts from.
func (g *StateGraph[S]) SetEntryPoint(name string) {
	g.entryPoint = name
}

// Compile validates the graph and returns a runnable.
func (g *StateGraph[S]) Compile() (*StateRunnable[S], error) {
	if g.entryPoint == "" {
		return nil, ErrEntryPointNotSet
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, g.entryPoint)
	}
	return &StateRunnable[S]{graph: g}, nil
}

// StateRunnable is a compiled state graph ready for execution.
type StateRunnable[S any] struct {
	graph *StateGraph[S]
}

// Invoke executes the graph with the given initial state and no config.
func (r *StateRunnable[S]) Invoke(ctx context.Context, initialState S) (S, error) {
	return r.InvokeWithConfig(ctx, initialState, nil)
}

// InvokeWithConfig executes the graph from the entry point until END is
// reached. If config.MaxSteps is set and execution would run past it, the
// state produced so far is returned together with ErrMaxStepsExceeded.
func (r *StateRunnable[S]) InvokeWithConfig(ctx context.Context, initialState S, config *Config) (S, error) {
	state := initialState
	current := r.graph.entryPoint
	steps := 0

	for current != END {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		if config != nil && config.MaxSteps > 0 && steps >= config.MaxSteps {
			return state, fmt.Errorf("%w: %d", ErrMaxStepsExceeded, config.MaxSteps)
		}

		node, ok := r.graph.nodes[current]
		if !ok {
			return state, fmt.Errorf("%w: %s", ErrNodeNotFound, current)
		}

		next, err := r.executeNode(ctx, node, state)
		if err != nil {
			var zero S
			return zero, fmt.Errorf("error in node %s: %w", current, err)
		}
		state = next
		steps++

		current, err = r.nextNode(ctx, current, state)
		if err != nil {
			return state, err
		}
	}

	return state, nil
}

// executeNode runs a single node, converting panics into errors.
func (r *StateRunnable[S]) executeNode(ctx context.Context, node Node[S], state S) (result S, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in node %s: %v", node.Name, p)
		}
	}()
	return node.Function(ctx, state)
}

// nextNode resolves the successor of a node. Conditional edges win over
// static edges.
func (r *StateRunnable[S]) nextNode(ctx context.Context, current string, state S) (string, error) {
	if condition, ok := r.graph.conditionalEdges[current]; ok {
		next := condition(ctx, state)
		if next == "" {
			return "", fmt.Errorf("conditional edge returned empty next node from %s", current)
		}
		return next, nil
	}

	for _, edge := range r.graph.edges {
		if edge.From == current {
			return edge.To, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNoOutgoingEdge, current)
}
