package toolserver

import (
	"context"
	"encoding/json"

	"membria/internal/graph"
	"membria/internal/model"
)

// memoryStoreConfidence is stamped on stored facts when no confidence is
// claimed. A deliberately stored memory is asserted, not guessed.
const memoryStoreConfidence = 0.8

// memoryKindLabel maps the tool-facing memory kind to its graph label.
func memoryKindLabel(kind string) string {
	if kind == "negative_knowledge" {
		return model.LabelNegativeKnowledge
	}
	return model.LabelDecision
}

func (h *handlers) registerMemoryTools(c *Catalog) error {
	memoryKindArg := strEnum("which memory family to address", "decision", "negative_knowledge")

	return c.registerAll([]toolSpec{
		{
			name:        "memory_store",
			description: "Store a typed memory: a semantic fact on a decision node, or a learned-not-to-do entry.",
			input: obj(map[string]any{
				"kind":           memoryKindArg,
				"statement":      strNonEmpty("the fact to remember, or the hypothesis learned to avoid"),
				"subject":        str("subject tag for later retrieval"),
				"domain":         str("domain tag"),
				"confidence":     confidenceArg(),
				"severity":       severityArg(),
				"recommendation": str("what to do instead, negative_knowledge only"),
				"ttl_days":       ttlDaysArg(),
			}, "kind", "statement"),
			output: obj(map[string]any{
				"kind":               str(""),
				"id":                 str(""),
				"decision":           decisionResult(),
				"negative_knowledge": negativeKnowledgeResult(),
			}, "kind", "id"),
			handler: h.memoryStore,
		},
		{
			name:        "memory_retrieve",
			description: "Retrieve memories by subject, type or keyword overlap.",
			input: obj(map[string]any{
				"kind":        memoryKindArg,
				"subject":     str("subject tag filter, decision memories"),
				"memory_type": strEnum("memory family filter, decision memories", "semantic", "episodic"),
				"domain":      str("domain filter, negative knowledge"),
				"keywords":    stringArray("hypothesis keywords, negative knowledge"),
				"limit":       limitArg(),
			}, "kind"),
			output: obj(map[string]any{
				"decisions":          array("", decisionResult()),
				"negative_knowledge": array("", negativeKnowledgeResult()),
				"count":              intAny(""),
			}, "count"),
			handler: h.memoryRetrieve,
		},
		{
			name:        "memory_list",
			description: "List live memories of both families.",
			input: obj(map[string]any{
				"kind":  memoryKindArg,
				"limit": limitArg(),
			}),
			output: obj(map[string]any{
				"decisions":          array("", decisionResult()),
				"negative_knowledge": array("", negativeKnowledgeResult()),
				"count":              intAny(""),
			}, "count"),
			handler: h.memoryList,
		},
		{
			name:        "memory_update",
			description: "Patch a memory's fields; a bare update re-verifies it by bumping last_verified_at.",
			input: obj(map[string]any{
				"kind":           memoryKindArg,
				"id":             strNonEmpty("memory node id"),
				"statement":      str("replacement statement or hypothesis"),
				"confidence":     confidenceArg(),
				"subject":        str("replacement subject tag, decision memories"),
				"recommendation": str("replacement recommendation, negative_knowledge"),
				"ttl_days":       ttlDaysArg(),
			}, "kind", "id"),
			output: obj(map[string]any{
				"kind":    str(""),
				"id":      str(""),
				"updated": boolean(""),
			}, "kind", "id", "updated"),
			handler: h.memoryUpdate,
		},
		{
			name:        "memory_delete",
			description: "Soft-delete a memory with a reason.",
			input: obj(map[string]any{
				"kind":   memoryKindArg,
				"id":     strNonEmpty("memory node id"),
				"reason": str("why the memory is retired"),
			}, "kind", "id"),
			output: obj(map[string]any{
				"kind":    str(""),
				"id":      str(""),
				"deleted": boolean(""),
			}, "kind", "id", "deleted"),
			handler: h.memoryDelete,
		},
	})
}

func (h *handlers) registerSessionTools(c *Catalog) error {
	return c.registerAll([]toolSpec{
		{
			name:        "session_context_store",
			description: "Create or refresh the short-lived working memory for a session.",
			input: obj(map[string]any{
				"session_id":   strNonEmpty("session the context belongs to"),
				"task":         str("what the session is doing"),
				"focus":        str("current focus area"),
				"current_plan": str("plan summary"),
				"constraints":  stringArray("constraints the session works under"),
				"doc_shot_id":  str("docshot pinned for the session"),
				"ttl_days":     ttlDaysArg(),
			}, "session_id"),
			output:  sessionContextResult(),
			handler: h.sessionContextStore,
		},
		{
			name:        "session_context_retrieve",
			description: "Load the live working memory for a session.",
			input: obj(map[string]any{
				"session_id": strNonEmpty("session to load"),
			}, "session_id"),
			output:  sessionContextResult(),
			handler: h.sessionContextRetrieve,
		},
		{
			name:        "session_context_delete",
			description: "Retire a session's working memory.",
			input: obj(map[string]any{
				"session_id": strNonEmpty("session to retire"),
				"reason":     str("why the context is retired"),
			}, "session_id"),
			output: obj(map[string]any{
				"session_id": str(""),
				"deleted":    boolean(""),
			}, "session_id", "deleted"),
			handler: h.sessionContextDelete,
		},
	})
}

func (h *handlers) memoryStore(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Kind           string   `json:"kind"`
		Statement      string   `json:"statement"`
		Subject        string   `json:"subject"`
		Domain         string   `json:"domain"`
		Confidence     *float64 `json:"confidence"`
		Severity       string   `json:"severity"`
		Recommendation string   `json:"recommendation"`
		TTLDays        int      `json:"ttl_days"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	if args.Kind == "negative_knowledge" {
		nk, err := h.deps.Graph.AddNegativeKnowledge(ctx, model.NegativeKnowledge{
			Hypothesis:     args.Statement,
			Domain:         args.Domain,
			Severity:       model.Severity(args.Severity),
			Recommendation: args.Recommendation,
			MemoryType:     "semantic",
			MemorySubject:  args.Subject,
			TTLDays:        args.TTLDays,
			Source:         "memory_store",
		}, "")
		if err != nil {
			return nil, err
		}
		return map[string]any{"kind": args.Kind, "id": nk.ID, "negative_knowledge": nk}, nil
	}

	confidence := memoryStoreConfidence
	if args.Confidence != nil {
		confidence = *args.Confidence
	}
	d, err := h.deps.Graph.AddDecision(ctx, model.Decision{
		Statement:     args.Statement,
		Confidence:    confidence,
		Module:        args.Domain,
		MemoryType:    "semantic",
		MemorySubject: args.Subject,
		TTLDays:       args.TTLDays,
		Source:        "memory_store",
	}, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"kind": args.Kind, "id": d.ID, "decision": d}, nil
}

func (h *handlers) memoryRetrieve(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Kind       string   `json:"kind"`
		Subject    string   `json:"subject"`
		MemoryType string   `json:"memory_type"`
		Domain     string   `json:"domain"`
		Keywords   []string `json:"keywords"`
		Limit      int      `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	if args.Kind == "negative_knowledge" {
		var (
			entries []model.NegativeKnowledge
			err     error
		)
		if len(args.Keywords) > 0 {
			entries, err = h.deps.Graph.SearchNegativeKnowledge(ctx, args.Keywords, args.Limit)
		} else {
			entries, err = h.deps.Graph.ListNegativeKnowledge(ctx, args.Domain, args.Limit)
		}
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []model.NegativeKnowledge{}
		}
		return map[string]any{"negative_knowledge": entries, "count": len(entries)}, nil
	}

	decisions, err := h.deps.Graph.ListMemories(ctx, args.MemoryType, args.Subject, args.Limit)
	if err != nil {
		return nil, err
	}
	if decisions == nil {
		decisions = []model.Decision{}
	}
	return map[string]any{"decisions": decisions, "count": len(decisions)}, nil
}

func (h *handlers) memoryList(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Kind  string `json:"kind"`
		Limit int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	out := map[string]any{}
	count := 0
	if args.Kind == "" || args.Kind == "decision" {
		decisions, err := h.deps.Graph.ListMemories(ctx, "", "", args.Limit)
		if err != nil {
			return nil, err
		}
		if decisions == nil {
			decisions = []model.Decision{}
		}
		out["decisions"] = decisions
		count += len(decisions)
	}
	if args.Kind == "" || args.Kind == "negative_knowledge" {
		entries, err := h.deps.Graph.ListNegativeKnowledge(ctx, "", args.Limit)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []model.NegativeKnowledge{}
		}
		out["negative_knowledge"] = entries
		count += len(entries)
	}
	out["count"] = count
	return out, nil
}

func (h *handlers) memoryUpdate(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Kind           string   `json:"kind"`
		ID             string   `json:"id"`
		Statement      *string  `json:"statement"`
		Confidence     *float64 `json:"confidence"`
		Subject        *string  `json:"subject"`
		Recommendation *string  `json:"recommendation"`
		TTLDays        *int     `json:"ttl_days"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	var err error
	if args.Kind == "negative_knowledge" {
		err = h.deps.Graph.UpdateNegativeKnowledgeMemory(ctx, args.ID, args.Statement, args.Recommendation, args.TTLDays)
	} else {
		err = h.deps.Graph.UpdateDecisionMemory(ctx, args.ID, graph.MemoryPatch{
			Statement:  args.Statement,
			Confidence: args.Confidence,
			Subject:    args.Subject,
			TTLDays:    args.TTLDays,
		})
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"kind": args.Kind, "id": args.ID, "updated": true}, nil
}

func (h *handlers) memoryDelete(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Kind   string `json:"kind"`
		ID     string `json:"id"`
		Reason string `json:"reason"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := h.deps.Graph.DeactivateMemory(ctx, memoryKindLabel(args.Kind), args.ID, args.Reason); err != nil {
		return nil, err
	}
	return map[string]any{"kind": args.Kind, "id": args.ID, "deleted": true}, nil
}

func (h *handlers) sessionContextStore(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		SessionID   string   `json:"session_id"`
		Task        string   `json:"task"`
		Focus       string   `json:"focus"`
		CurrentPlan string   `json:"current_plan"`
		Constraints []string `json:"constraints"`
		DocShotID   string   `json:"doc_shot_id"`
		TTLDays     int      `json:"ttl_days"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	sc, err := h.deps.Graph.UpsertSessionContext(ctx, model.SessionContext{
		SessionID:   args.SessionID,
		Task:        args.Task,
		Focus:       args.Focus,
		CurrentPlan: args.CurrentPlan,
		Constraints: args.Constraints,
		DocShotID:   args.DocShotID,
		TTLDays:     args.TTLDays,
	})
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (h *handlers) sessionContextRetrieve(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	sc, err := h.deps.Graph.GetSessionContext(ctx, args.SessionID)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (h *handlers) sessionContextDelete(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		SessionID string `json:"session_id"`
		Reason    string `json:"reason"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := h.deps.Graph.DeactivateSessionContext(ctx, args.SessionID, args.Reason); err != nil {
		return nil, err
	}
	return map[string]any{"session_id": args.SessionID, "deleted": true}, nil
}
