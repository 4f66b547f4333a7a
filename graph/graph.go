// Package graph provides a small state machine engine for building
// multi-step workflows. Nodes transform a typed state value, edges wire
// nodes together, and conditional edges pick the next node at runtime.
package graph

import "errors"

// END is the sentinel node name that terminates graph execution.
const END = "END"

// Edge represents a static transition between two nodes.
type Edge struct {
	From string
	To   string
}

var (
	// ErrEntryPointNotSet is returned by Compile when no entry point was set.
	ErrEntryPointNotSet = errors.New("entry point not set")

	// ErrNodeNotFound is returned when execution reaches a node name that
	// was never added to the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoOutgoingEdge is returned when a node has neither a static nor a
	// conditional edge leading out of it.
	ErrNoOutgoingEdge = errors.New("no outgoing edge")

	// ErrMaxStepsExceeded is returned when execution runs past the step
	// ceiling configured via Config.MaxSteps. The state accumulated so far
	// is returned alongside it so callers can salvage partial results.
	ErrMaxStepsExceeded = errors.New("max steps exceeded")
)

// Config controls a single invocation of a compiled graph.
type Config struct {
	// MaxSteps caps the number of node executions. Zero means unlimited.
	MaxSteps int
}
