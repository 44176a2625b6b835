package toolserver

import (
	"context"
	"encoding/json"

	"membria/internal/model"
)

func (h *handlers) registerKnowledgeTools(c *Catalog) error {
	return c.registerAll([]toolSpec{
		{
			name:        "skills_list",
			description: "List mined skills, best success rate first.",
			input: obj(map[string]any{
				"domain": str("restrict to one domain"),
				"limit":  limitArg(),
			}),
			output: obj(map[string]any{
				"skills": array("", skillResult()),
				"count":  intAny(""),
			}, "skills", "count"),
			handler: h.skillsList,
		},
		{
			name:        "skill_generate",
			description: "Mine completed outcomes into skills, for one domain or every eligible one.",
			input: obj(map[string]any{
				"domain": str("domain to mine; every calibrated domain when absent"),
			}),
			output: obj(map[string]any{
				"skills":    array("", skillResult()),
				"count":     intAny(""),
				"generated": boolean(""),
			}, "skills", "count", "generated"),
			handler: h.skillGenerate,
		},
		{
			name:        "antipatterns_list",
			description: "List the approaches that keep failing, worst first.",
			input: obj(map[string]any{
				"limit": limitArg(),
			}),
			output: obj(map[string]any{
				"anti_patterns": array("", antiPatternResult()),
				"count":         intAny(""),
			}, "anti_patterns", "count"),
			handler: h.antiPatternsList,
		},
		{
			name:        "negative_knowledge_add",
			description: "Record an approach that turned out not to work, so future plans avoid it.",
			input: obj(map[string]any{
				"hypothesis":        strNonEmpty("the approach that was tried"),
				"domain":            str("domain the lesson applies to"),
				"severity":          severityArg(),
				"conclusion":        str("what actually happened"),
				"evidence":          str("how it was established"),
				"recommendation":    str("what to do instead"),
				"blocks_pattern":    str("statement pattern this entry should block"),
				"caused_by_outcome": str("outcome id the lesson came from"),
				"ttl_days":          ttlDaysArg(),
			}, "hypothesis"),
			output:  negativeKnowledgeResult(),
			handler: h.negativeKnowledgeAdd,
		},
	})
}

func (h *handlers) skillsList(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Domain string `json:"domain"`
		Limit  int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	list, err := h.deps.Graph.ListSkills(ctx, args.Domain, args.Limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Skill{}
	}
	return map[string]any{"skills": list, "count": len(list)}, nil
}

func (h *handlers) skillGenerate(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Domain string `json:"domain"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	skills := []model.Skill{}
	if args.Domain != "" {
		skill, ok, err := h.deps.Skills.Generate(ctx, args.Domain)
		if err != nil {
			return nil, err
		}
		if ok {
			skills = append(skills, skill)
		}
	} else {
		generated, err := h.deps.Skills.GenerateAll(ctx)
		if err != nil {
			return nil, err
		}
		skills = append(skills, generated...)
	}
	return map[string]any{"skills": skills, "count": len(skills), "generated": len(skills) > 0}, nil
}

func (h *handlers) antiPatternsList(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Limit int `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	list, err := h.deps.Graph.TopAntiPatterns(ctx, args.Limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.AntiPattern{}
	}
	return map[string]any{"anti_patterns": list, "count": len(list)}, nil
}

func (h *handlers) negativeKnowledgeAdd(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Hypothesis      string `json:"hypothesis"`
		Domain          string `json:"domain"`
		Severity        string `json:"severity"`
		Conclusion      string `json:"conclusion"`
		Evidence        string `json:"evidence"`
		Recommendation  string `json:"recommendation"`
		BlocksPattern   string `json:"blocks_pattern"`
		CausedByOutcome string `json:"caused_by_outcome"`
		TTLDays         int    `json:"ttl_days"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	nk, err := h.deps.Graph.AddNegativeKnowledge(ctx, model.NegativeKnowledge{
		Hypothesis:     args.Hypothesis,
		Domain:         args.Domain,
		Severity:       model.Severity(args.Severity),
		Conclusion:     args.Conclusion,
		Evidence:       args.Evidence,
		Recommendation: args.Recommendation,
		BlocksPattern:  args.BlocksPattern,
		TTLDays:        args.TTLDays,
		Source:         "negative_knowledge_add",
	}, args.CausedByOutcome)
	if err != nil {
		return nil, err
	}
	return nk, nil
}
