package kb

import (
	"fmt"
	"strings"
)

// Filter restricts which chunks a vector search may return. Filters form
// a small expression tree of equality tests joined by Or and And, which
// stores evaluate either in memory or by compiling to their own query
// language.
type Filter interface {
	// Matches evaluates the filter against a chunk metadata map.
	Matches(meta map[string]any) bool
	// String renders the filter for trace output.
	String() string
}

// Eq matches when the metadata value under Key equals Value.
type Eq struct {
	Key   string
	Value string
}

func (e Eq) Matches(meta map[string]any) bool {
	v, ok := meta[e.Key]
	return ok && fmt.Sprint(v) == e.Value
}

func (e Eq) String() string {
	return fmt.Sprintf("%s=%q", e.Key, e.Value)
}

// OrFilter matches when any child matches.
type OrFilter struct {
	Children []Filter
}

// Or combines filters into a disjunction.
func Or(children ...Filter) OrFilter {
	return OrFilter{Children: children}
}

func (o OrFilter) Matches(meta map[string]any) bool {
	for _, c := range o.Children {
		if c.Matches(meta) {
			return true
		}
	}
	return false
}

func (o OrFilter) String() string {
	parts := make([]string, len(o.Children))
	for i, c := range o.Children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// AndFilter matches when every child matches.
type AndFilter struct {
	Children []Filter
}

// And combines filters into a conjunction.
func And(children ...Filter) AndFilter {
	return AndFilter{Children: children}
}

func (a AndFilter) Matches(meta map[string]any) bool {
	for _, c := range a.Children {
		if !c.Matches(meta) {
			return false
		}
	}
	return true
}

func (a AndFilter) String() string {
	parts := make([]string, len(a.Children))
	for i, c := range a.Children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}
