package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
)

// defaultLogLines is returned by logs_tail when no count is asked for.
const defaultLogLines = 100

func (h *handlers) registerOpsTools(c *Catalog) error {
	return c.registerAll([]toolSpec{
		{
			name:        "health",
			description: "Report engine health: graph connectivity, pending-queue depth, background jobs, federation.",
			input:       obj(map[string]any{}),
			output: obj(map[string]any{
				"status": strEnum("", "ok", "degraded"),
				"graph": obj(map[string]any{
					"connected": boolean(""),
					"breaker":   str(""),
					"error":     str(""),
				}, "connected", "breaker"),
				"queue": obj(map[string]any{
					"depth":      intAny(""),
					"backlogged": boolean(""),
				}, "depth", "backlogged"),
				"jobs": array("", obj(map[string]any{
					"name":       str(""),
					"schedule":   str(""),
					"last_run":   str(""),
					"last_error": str(""),
				}, "name", "schedule")),
				"federation": obj(map[string]any{
					"enabled": boolean(""),
					"tools":   intAny(""),
				}, "enabled", "tools"),
			}, "status", "graph"),
			handler: h.health,
		},
		{
			name:        "migrations_status",
			description: "Report which graph schema migrations are applied and which are pending.",
			input:       obj(map[string]any{}),
			output: obj(map[string]any{
				"current": intAny("schema version the graph is at"),
				"latest":  intAny("newest version the binary knows"),
				"applied": stringArray(""),
				"pending": stringArray(""),
			}, "current", "latest"),
			handler: h.migrationsStatus,
		},
		{
			name:        "logs_tail",
			description: "Return the most recent engine log lines.",
			input: obj(map[string]any{
				"lines": integer("how many lines, newest last", 1, maxLogLines),
			}),
			output: obj(map[string]any{
				"lines": stringArray(""),
				"count": intAny(""),
			}, "lines", "count"),
			handler: h.logsTail,
		},
	})
}

func (h *handlers) health(ctx context.Context, _ json.RawMessage) (any, error) {
	degraded := false

	graphStatus := map[string]any{"connected": false, "breaker": "unknown"}
	if hs := h.deps.GraphHealth; hs != nil {
		graphStatus["connected"] = hs.Connected()
		graphStatus["breaker"] = hs.BreakerState()
		if err := hs.Healthy(ctx); err != nil {
			degraded = true
			graphStatus["error"] = err.Error()
		}
	} else {
		degraded = true
	}

	out := map[string]any{"graph": graphStatus}
	if q := h.deps.Queue; q != nil {
		backlogged := q.Backlogged()
		out["queue"] = map[string]any{"depth": q.Len(), "backlogged": backlogged}
		if backlogged {
			degraded = true
		}
	}
	if jobs := h.deps.Jobs; jobs != nil {
		out["jobs"] = jobs.Snapshot()
	}
	if fed := h.deps.Federation; fed != nil {
		out["federation"] = map[string]any{"enabled": fed.Enabled(), "tools": len(fed.Tools())}
	}

	out["status"] = "ok"
	if degraded {
		out["status"] = "degraded"
	}
	return out, nil
}

func (h *handlers) migrationsStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	status, err := h.deps.Graph.Status(ctx)
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (h *handlers) logsTail(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Lines int `json:"lines"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if h.deps.Ring == nil {
		return nil, fmt.Errorf("log ring is not configured")
	}
	n := args.Lines
	if n <= 0 {
		n = defaultLogLines
	}
	lines := h.deps.Ring.Tail(n)
	if lines == nil {
		lines = []string{}
	}
	return map[string]any{"lines": lines, "count": len(lines)}, nil
}
