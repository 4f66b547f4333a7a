package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var labelRegex = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// sanitizeLabel keeps generated labels and relationship types within the
// identifier charset FalkorDB accepts.
func sanitizeLabel(l string) string {
	clean := labelRegex.ReplaceAllString(l, "_")
	if clean == "" {
		return "Entity"
	}
	return clean
}

func quoteString(i any) any {
	switch x := i.(type) {
	case string:
		escaped := strings.ReplaceAll(x, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		return `"` + escaped + `"`
	default:
		return i
	}
}

// renderValue renders a property value as a Cypher literal. Float32
// slices become vector list literals.
func renderValue(v any) any {
	switch v := v.(type) {
	case []float32:
		s := make([]string, len(v))
		for i, f := range v {
			s[i] = fmt.Sprintf("%f", f)
		}
		return "[" + strings.Join(s, ",") + "]"
	default:
		return quoteString(v)
	}
}

// propsToString renders a property map as a Cypher map literal.
func propsToString(m map[string]any) string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s: %v", k, renderValue(v)))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// setOnMissing renders SET assignments that fill properties only when
// the node does not already carry a value for them.
func setOnMissing(alias string, m map[string]any) string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s.%s = coalesce(%s.%s, %v)", alias, k, alias, k, renderValue(v)))
	}
	return strings.Join(parts, ", ")
}

// queryResult holds a raw GRAPH.QUERY reply.
type queryResult struct {
	Header     []string
	Results    [][]any
	Statistics []string
}

// query executes a query against the named graph over the redis wire.
func (f *FalkorGraph) query(ctx context.Context, q string) (queryResult, error) {
	qr := queryResult{}

	res, err := f.client.Do(ctx, "GRAPH.QUERY", f.graphName, q, "--compact").Result()
	if err != nil {
		return qr, err
	}

	r, ok := res.([]any)
	if !ok {
		return qr, fmt.Errorf("unexpected response type: %T", res)
	}

	switch len(r) {
	case 3:
		if header, ok := r[0].([]any); ok {
			qr.Header = make([]string, len(header))
			for i, h := range header {
				qr.Header[i] = headerName(h)
			}
		}
		qr.Results = parseRows(r[1])
		qr.Statistics = parseStats(r[2])
	case 2:
		qr.Results = parseRows(r[0])
		qr.Statistics = parseStats(r[1])
	default:
		return qr, fmt.Errorf("unexpected response length: %d", len(r))
	}

	return qr, nil
}

// headerName extracts a column name from a header cell, which in compact
// mode is a [type, name] pair with the name as raw bytes.
func headerName(h any) string {
	if pair, ok := h.([]any); ok && len(pair) == 2 {
		h = pair[1]
	}
	if b, ok := h.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(h)
}

func parseRows(v any) [][]any {
	rows, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([][]any, len(rows))
	for i, row := range rows {
		if cells, ok := row.([]any); ok {
			out[i] = cells
		}
	}
	return out
}

func parseStats(v any) []string {
	stats, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, len(stats))
	for i, s := range stats {
		out[i] = fmt.Sprint(s)
	}
	return out
}

// parseValue converts a reply cell to a plain Go value. Scalar cells in
// compact mode arrive as [type, value] pairs; node and edge cells arrive
// as nested arrays and are flattened to their property maps.
func parseValue(cell any) any {
	switch v := cell.(type) {
	case []byte:
		return string(v)
	case []any:
		if len(v) == 2 {
			// Scalar [type, value] pair.
			if _, isNested := v[1].([]any); !isNested {
				return parseValue(v[1])
			}
		}
		return parseProperties(v)
	default:
		return v
	}
}

// parseProperties pulls the property map out of a node or edge cell.
// Nodes are [id, labels, properties]; edges are [id, type, src, dst,
// properties]; each property is a [key, value] or [key, type, value]
// triple.
func parseProperties(vals []any) any {
	var rawProps []any
	switch len(vals) {
	case 3:
		rawProps, _ = vals[2].([]any)
	case 5:
		rawProps, _ = vals[4].([]any)
	default:
		out := make([]any, len(vals))
		for i, v := range vals {
			out[i] = parseValue(v)
		}
		return out
	}

	props := make(map[string]any, len(rawProps))
	for _, p := range rawProps {
		pair, ok := p.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		key := fmt.Sprint(parseValue(pair[0]))
		props[key] = parseValue(pair[len(pair)-1])
	}
	return props
}
