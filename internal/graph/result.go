package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// ResultSet is a decoded engine reply. Queries in this package always
// project scalar columns (n.id, n.statement, counts), so cells are strings,
// integers, doubles, booleans, nulls, or flat arrays thereof; whole-node
// returns are not decoded.
type ResultSet struct {
	Columns []string
	Records []Record
	Stats   QueryStats
}

// Record is one row keyed by column name.
type Record map[string]any

// QueryStats carries the statistics footer of a write query.
type QueryStats struct {
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	PropertiesSet        int
	LabelsAdded          int
	ExecutionTimeMS      float64
}

// Empty reports whether the query returned no rows.
func (rs *ResultSet) Empty() bool {
	return rs == nil || len(rs.Records) == 0
}

// First returns the first record, or nil.
func (rs *ResultSet) First() Record {
	if rs.Empty() {
		return nil
	}
	return rs.Records[0]
}

// decodeResult translates the raw RESP reply of GRAPH.QUERY into a
// ResultSet. Replies carry either [stats] for pure writes or
// [header, rows, stats] when the query projects columns.
func decodeResult(raw any) (*ResultSet, error) {
	top, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected reply shape %T", ErrSerializationFailed, raw)
	}

	rs := &ResultSet{}

	switch len(top) {
	case 1:
		stats, err := decodeStats(top[0])
		if err != nil {
			return nil, err
		}
		rs.Stats = stats
		return rs, nil

	case 3:
		header, ok := top[0].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: bad header %T", ErrSerializationFailed, top[0])
		}
		rs.Columns = make([]string, len(header))
		for i, col := range header {
			rs.Columns[i] = asString(col)
		}

		rows, ok := top[1].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: bad row block %T", ErrSerializationFailed, top[1])
		}
		rs.Records = make([]Record, 0, len(rows))
		for _, r := range rows {
			cells, ok := r.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: bad row %T", ErrSerializationFailed, r)
			}
			rec := make(Record, len(rs.Columns))
			for i, cell := range cells {
				if i < len(rs.Columns) {
					rec[rs.Columns[i]] = cell
				}
			}
			rs.Records = append(rs.Records, rec)
		}

		stats, err := decodeStats(top[2])
		if err != nil {
			return nil, err
		}
		rs.Stats = stats
		return rs, nil

	default:
		return nil, fmt.Errorf("%w: reply with %d sections", ErrSerializationFailed, len(top))
	}
}

func decodeStats(raw any) (QueryStats, error) {
	var stats QueryStats
	lines, ok := raw.([]any)
	if !ok {
		return stats, fmt.Errorf("%w: bad stats block %T", ErrSerializationFailed, raw)
	}
	for _, l := range lines {
		line := asString(l)
		key, value, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		switch key {
		case "Nodes created":
			stats.NodesCreated, _ = strconv.Atoi(value)
		case "Nodes deleted":
			stats.NodesDeleted, _ = strconv.Atoi(value)
		case "Relationships created":
			stats.RelationshipsCreated, _ = strconv.Atoi(value)
		case "Relationships deleted":
			stats.RelationshipsDeleted, _ = strconv.Atoi(value)
		case "Properties set":
			stats.PropertiesSet, _ = strconv.Atoi(value)
		case "Labels added":
			stats.LabelsAdded, _ = strconv.Atoi(value)
		case "Query internal execution time":
			stats.ExecutionTimeMS, _ = strconv.ParseFloat(strings.TrimSuffix(value, " milliseconds"), 64)
		}
	}
	return stats, nil
}

// String returns the named cell as a string; nulls become "".
func (r Record) String(col string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	return asString(v)
}

// Int returns the named cell as int64. Doubles truncate; unparseable cells
// return 0.
func (r Record) Int(col string) int64 {
	v, ok := r[col]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
			return parsed
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int64(f)
		}
	}
	return 0
}

// Float returns the named cell as float64. The engine returns doubles as
// bulk strings, so string parsing is the common path.
func (r Record) Float(col string) float64 {
	v, ok := r[col]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return 0
}

// Bool returns the named cell as bool.
func (r Record) Bool(col string) bool {
	v, ok := r[col]
	if !ok || v == nil {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case string:
		return strings.EqualFold(b, "true")
	}
	return false
}

// StringSlice returns the named cell as a string slice; scalar cells become
// a one-element slice.
func (r Record) StringSlice(col string) []string {
	v, ok := r[col]
	if !ok || v == nil {
		return nil
	}
	switch arr := v.(type) {
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if item == nil {
				continue
			}
			out = append(out, asString(item))
		}
		return out
	default:
		return []string{asString(v)}
	}
}

// Has reports whether the cell exists and is non-null.
func (r Record) Has(col string) bool {
	v, ok := r[col]
	return ok && v != nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
