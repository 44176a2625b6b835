package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Vector is a float32 embedding serialized as a vecf32 literal so the engine
// can index it for distance queries.
type Vector []float32

// buildQuery prefixes query with a CYPHER parameter preamble. The engine
// binds $name references to the declared values, which keeps user text out
// of the query string itself.
func buildQuery(query string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return query, nil
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("CYPHER ")
	for _, name := range names {
		lit, err := serializeParam(params[name])
		if err != nil {
			return "", fmt.Errorf("%w: param %q: %v", ErrSerializationFailed, name, err)
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(lit)
		b.WriteByte(' ')
	}
	b.WriteString(query)
	return b.String(), nil
}

func serializeParam(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return quoteString(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case Vector:
		parts := make([]string, len(val))
		for i, f := range val {
			parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		return "vecf32([" + strings.Join(parts, ",") + "])", nil
	case []string:
		parts := make([]string, len(val))
		for i, s := range val {
			parts[i] = quoteString(s)
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case []float64:
		parts := make([]string, len(val))
		for i, f := range val {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case []int64:
		parts := make([]string, len(val))
		for i, n := range val {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			lit, err := serializeParam(item)
			if err != nil {
				return "", err
			}
			parts[i] = lit
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case map[string]any:
		names := make([]string, 0, len(val))
		for name := range val {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			lit, err := serializeParam(val[name])
			if err != nil {
				return "", err
			}
			parts = append(parts, name+": "+lit)
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}

// quoteString emits a double-quoted Cypher string literal.
func quoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
