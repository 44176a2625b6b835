package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"membria/internal/model"
)

// planStepConfidence is claimed for recorded plan steps when the caller does
// not state one. Slightly above neutral: a planned step is an intention, not
// a coin flip.
const planStepConfidence = 0.6

func (h *handlers) registerPlanTools(c *Catalog) error {
	return c.registerAll([]toolSpec{
		{
			name:        "get_plan_context",
			description: "Build a pre-plan briefing for a domain: past plans, failed approaches, calibration.",
			input: obj(map[string]any{
				"domain":      strNonEmpty("domain to brief on"),
				"scope":       str("free-text scope note"),
				"max_tokens":  maxTokensArg(),
				"doc_shot_id": str("docshot to pin under the briefing"),
			}, "domain"),
			output: obj(mergeProps(contextResultProps(), map[string]any{
				"plan_context": planContextResult(),
			}), "plan_context", "compact_context", "total_tokens", "truncated", "sections_included"),
			handler: h.getPlanContext,
		},
		{
			name:        "validate_plan",
			description: "Screen drafted plan steps against negative knowledge, anti-patterns and past failures.",
			input: obj(map[string]any{
				"steps":  arrayNonEmpty("ordered plan steps", strNonEmpty("")),
				"domain": str("domain whose evidence to screen against"),
			}, "steps"),
			output: obj(map[string]any{
				"total_steps":     intAny(""),
				"warnings_count":  intAny(""),
				"high_severity":   intAny(""),
				"medium_severity": intAny(""),
				"low_severity":    intAny(""),
				"warnings":        nullable(array("", warningResult())),
				"can_proceed":     boolean(""),
				"timestamp":       intAny(""),
			}, "total_steps", "warnings_count", "high_severity", "medium_severity", "low_severity", "warnings", "can_proceed", "timestamp"),
			handler: h.validatePlan,
		},
		{
			name:        "record_plan",
			description: "Persist an accepted plan as a session engram with one decision per step.",
			input: obj(map[string]any{
				"plan_steps":      arrayNonEmpty("ordered plan steps to record", strNonEmpty("")),
				"domain":          strNonEmpty("domain the plan belongs to"),
				"plan_confidence": confidenceArg(),
				"session_id":      str("session the plan belongs to, generated when omitted"),
				"agent_type":      str("agent kind that produced the plan"),
				"agent_model":     str("model identifier that produced the plan"),
			}, "plan_steps", "domain"),
			output: obj(map[string]any{
				"engram_id":    str(""),
				"session_id":   str(""),
				"decision_ids": stringArray(""),
				"count":        intAny(""),
			}, "engram_id", "session_id", "decision_ids", "count"),
			handler: h.recordPlan,
		},
	})
}

// mergeProps builds one property set from a base plus extras.
func mergeProps(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (h *handlers) getPlanContext(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Domain    string `json:"domain"`
		Scope     string `json:"scope"`
		MaxTokens int    `json:"max_tokens"`
		DocShotID string `json:"doc_shot_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	pc, err := h.deps.PlanBuilder.Build(ctx, args.Domain, args.Scope)
	if err != nil {
		return nil, err
	}
	maxTokens := args.MaxTokens
	if maxTokens == 0 {
		maxTokens = h.deps.DefaultMaxTokens
	}
	rendered := h.deps.Context.BuildPlanContext(ctx, pc, maxTokens, args.DocShotID)

	return map[string]any{
		"plan_context":      pc,
		"compact_context":   rendered.CompactContext,
		"total_tokens":      rendered.TotalTokens,
		"truncated":         rendered.Truncated,
		"sections_included": rendered.SectionsIncluded,
	}, nil
}

func (h *handlers) validatePlan(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Steps  []string `json:"steps"`
		Domain string   `json:"domain"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	report, err := h.deps.PlanValidator.Validate(ctx, args.Steps, args.Domain)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (h *handlers) recordPlan(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		PlanSteps      []string `json:"plan_steps"`
		Domain         string   `json:"domain"`
		PlanConfidence *float64 `json:"plan_confidence"`
		SessionID      string   `json:"session_id"`
		AgentType      string   `json:"agent_type"`
		AgentModel     string   `json:"agent_model"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	confidence := planStepConfidence
	if args.PlanConfidence != nil {
		confidence = *args.PlanConfidence
	}
	sessionID := args.SessionID
	if sessionID == "" {
		sessionID = model.NewSessionID()
	}

	engram, err := h.deps.Graph.AddEngram(ctx, model.Engram{
		SessionID:          sessionID,
		AgentType:          args.AgentType,
		AgentModel:         args.AgentModel,
		DecisionsExtracted: len(args.PlanSteps),
	})
	if err != nil {
		return nil, err
	}

	decisionIDs := make([]string, 0, len(args.PlanSteps))
	for i, step := range args.PlanSteps {
		stored, err := h.deps.Graph.AddDecision(ctx, model.Decision{
			Statement:    step,
			Alternatives: []string{"omit this step"},
			Confidence:   confidence,
			Module:       args.Domain,
			EngramID:     engram.ID,
			Source:       "record_plan",
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("plan step %d of %d: %w", i+1, len(args.PlanSteps), err)
		}
		decisionIDs = append(decisionIDs, stored.ID)
	}

	return map[string]any{
		"engram_id":    engram.ID,
		"session_id":   sessionID,
		"decision_ids": decisionIDs,
		"count":        len(decisionIDs),
	}, nil
}
