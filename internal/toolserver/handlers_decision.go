package toolserver

import (
	"context"
	"encoding/json"

	"membria/internal/contextmgr"
	"membria/internal/model"
	"membria/internal/outcome"
)

// defaultConfidence is assumed when a caller records a decision without
// claiming one. Neutral, matching the success-estimation baseline.
const defaultConfidence = 0.5

func (h *handlers) registerDecisionTools(c *Catalog) error {
	return c.registerAll([]toolSpec{
		{
			name:        "capture_decision",
			description: "Record a decision with its alternatives and claimed confidence.",
			input: obj(map[string]any{
				"statement":    strNonEmpty("what was decided"),
				"alternatives": arrayNonEmpty("options that were considered and rejected", strNonEmpty("")),
				"confidence":   confidenceArg(),
				"context": obj(map[string]any{
					"module":         str("domain tag, defaults to general"),
					"engram_id":      str("session engram to link the decision into"),
					"commit_sha":     str("commit the decision rode in on"),
					"created_by":     str("agent or user identifier"),
					"source":         str("capture surface"),
					"role_id":        str("role the deciding agent played"),
					"assignment_id":  str("assignment the decision belongs to"),
					"doc_shot_id":    str("docshot consulted while deciding"),
					"memory_subject": str("subject tag for memory retrieval"),
					"ttl_days":       ttlDaysArg(),
				}),
			}, "statement", "alternatives"),
			output: obj(map[string]any{
				"decision_id": str(""),
				"statement":   str(""),
				"confidence":  numberAny(""),
				"module":      str(""),
				"status":      str(""),
			}, "decision_id", "statement", "confidence", "module", "status"),
			handler: h.captureDecision,
		},
		{
			name:        "record_outcome",
			description: "Finalize a decision's outcome and fold it into calibration.",
			input: obj(map[string]any{
				"decision_id":     strNonEmpty("decision to finalize"),
				"final_status":    strEnum("verdict", "success", "failure", "partial"),
				"final_score":     number("success score in [0,1], defaults by verdict", 0, 1),
				"lessons_learned": str("free-text takeaway"),
				"decision_domain": str("calibration domain, omit to skip the calibration update"),
			}, "decision_id", "final_status"),
			output: obj(map[string]any{
				"outcome_id":         str(""),
				"decision_id":        str(""),
				"final_status":       str(""),
				"final_score":        numberAny(""),
				"calibration_impact": nullable(calibrationImpactResult()),
			}, "outcome_id", "decision_id", "final_status", "final_score", "calibration_impact"),
			handler: h.recordOutcome,
		},
		{
			name:        "update_outcome",
			description: "Append one observed signal to a decision's outcome.",
			input: obj(map[string]any{
				"decision_id":   strNonEmpty("decision whose outcome the signal belongs to"),
				"signal":        strEnum("signal kind", "pr_created", "pr_merged", "ci_result", "incident", "performance", "commit"),
				"pr_number":     integer("pull request number", 1, 1<<31-1),
				"pr_url":        str("pull request URL"),
				"branch_ref":    str("head branch"),
				"passed":        boolean("ci_result verdict"),
				"description":   str("human-readable signal detail"),
				"severity":      severityArg(),
				"metrics":       openObj("performance measurements, e.g. avg_latency_ms, throughput_rps"),
				"commit_sha":    str("commit identifier"),
				"message":       str("commit message"),
				"files_changed": stringArray("paths touched by the commit"),
			}, "decision_id", "signal"),
			output: obj(map[string]any{
				"outcome": outcomeResult(),
			}, "outcome"),
			handler: h.updateOutcome,
		},
		{
			name:        "check_success_criteria",
			description: "Estimate how a decision's outcome is trending from its signals.",
			input: obj(map[string]any{
				"decision_id": strNonEmpty("decision to inspect"),
			}, "decision_id"),
			output: obj(map[string]any{
				"outcome_id":        str(""),
				"decision_id":       str(""),
				"status":            str(""),
				"estimated_success": numberAny(""),
				"positive_signals":  intAny(""),
				"negative_signals":  intAny(""),
				"needs_attention":   boolean(""),
			}, "outcome_id", "decision_id", "status", "estimated_success", "positive_signals", "negative_signals", "needs_attention"),
			handler: h.checkSuccessCriteria,
		},
		{
			name:        "outcomes_list",
			description: "List tracked outcomes, optionally filtered by status.",
			input: obj(map[string]any{
				"status": strEnum("state machine position", "pending", "submitted", "merged", "completed"),
				"limit":  limitArg(),
			}),
			output: obj(map[string]any{
				"outcomes": array("", outcomeResult()),
				"count":    intAny(""),
			}, "outcomes", "count"),
			handler: h.outcomesList,
		},
		{
			name:        "get_calibration",
			description: "Score a claimed confidence against the domain's observed success rate.",
			input: obj(map[string]any{
				"domain":     str("calibration domain, defaults to general"),
				"confidence": confidenceArg(),
			}),
			output:  guidanceResult(),
			handler: h.getCalibration,
		},
		{
			name:        "get_decision_context",
			description: "Assemble a token-budgeted briefing for a decision about to be made.",
			input: obj(map[string]any{
				"statement":      strNonEmpty("the decision being considered"),
				"module":         str("domain tag"),
				"confidence":     confidenceArg(),
				"max_tokens":     maxTokensArg(),
				"include_chains": boolean("include causal chains under similar decisions"),
				"role_id":        str("pull the role's linked skills and warnings"),
				"session_id":     str("pull the session's working summary"),
				"doc_shot_id":    str("pin the docshot the agent is reading"),
			}, "statement"),
			output:  obj(contextResultProps(), "compact_context", "total_tokens", "truncated", "sections_included"),
			handler: h.getDecisionContext,
		},
	})
}

func calibrationImpactResult() map[string]any {
	return obj(map[string]any{
		"domain":            str(""),
		"alpha":             numberAny(""),
		"beta":              numberAny(""),
		"mean_success_rate": numberAny(""),
		"sample_size":       intAny(""),
		"trend":             str(""),
	}, "domain", "alpha", "beta", "mean_success_rate", "sample_size", "trend")
}

type captureContext struct {
	Module        string `json:"module"`
	EngramID      string `json:"engram_id"`
	CommitSHA     string `json:"commit_sha"`
	CreatedBy     string `json:"created_by"`
	Source        string `json:"source"`
	RoleID        string `json:"role_id"`
	AssignmentID  string `json:"assignment_id"`
	DocShotID     string `json:"doc_shot_id"`
	MemorySubject string `json:"memory_subject"`
	TTLDays       int    `json:"ttl_days"`
}

func (h *handlers) captureDecision(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Statement    string         `json:"statement"`
		Alternatives []string       `json:"alternatives"`
		Confidence   *float64       `json:"confidence"`
		Context      captureContext `json:"context"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	confidence := defaultConfidence
	if args.Confidence != nil {
		confidence = *args.Confidence
	}
	source := args.Context.Source
	if source == "" {
		source = "capture_decision"
	}

	stored, err := h.deps.Graph.AddDecision(ctx, model.Decision{
		Statement:     args.Statement,
		Alternatives:  args.Alternatives,
		Confidence:    confidence,
		Module:        args.Context.Module,
		CreatedBy:     args.Context.CreatedBy,
		EngramID:      args.Context.EngramID,
		CommitSHA:     args.Context.CommitSHA,
		MemorySubject: args.Context.MemorySubject,
		TTLDays:       args.Context.TTLDays,
		Source:        source,
		RoleID:        args.Context.RoleID,
		AssignmentID:  args.Context.AssignmentID,
	}, nil)
	if err != nil {
		return nil, err
	}

	if args.Context.DocShotID != "" {
		if _, err := h.deps.Docs.LinkDecision(ctx, stored.ID, args.Context.DocShotID); err != nil {
			h.logger.Warn("decision %s captured but docshot %s link failed: %v", stored.ID, args.Context.DocShotID, err)
		}
	}

	return map[string]any{
		"decision_id": stored.ID,
		"statement":   stored.Statement,
		"confidence":  stored.Confidence,
		"module":      stored.Module,
		"status":      stored.Outcome,
	}, nil
}

func (h *handlers) recordOutcome(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		DecisionID     string   `json:"decision_id"`
		FinalStatus    string   `json:"final_status"`
		FinalScore     *float64 `json:"final_score"`
		LessonsLearned string   `json:"lessons_learned"`
		DecisionDomain string   `json:"decision_domain"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	score := defaultFinalScore(args.FinalStatus)
	if args.FinalScore != nil {
		score = *args.FinalScore
	}

	// A decision finalized before any webhook signal arrived has no outcome
	// yet; converge on one the same way the signal recorders do.
	if _, _, err := h.deps.Tracker.EnsureOutcome(ctx, args.DecisionID); err != nil {
		return nil, err
	}
	o, impact, err := h.deps.Tracker.Finalize(ctx, args.DecisionID, args.FinalStatus, score, args.LessonsLearned, args.DecisionDomain)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"outcome_id":         o.ID,
		"decision_id":        o.DecisionID,
		"final_status":       o.FinalStatus,
		"final_score":        o.FinalScore,
		"calibration_impact": impact,
	}, nil
}

// defaultFinalScore maps a verdict to a score when the caller supplies none.
func defaultFinalScore(finalStatus string) float64 {
	switch finalStatus {
	case outcome.FinalSuccess:
		return 1
	case outcome.FinalPartial:
		return 0.5
	}
	return 0
}

func (h *handlers) updateOutcome(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		DecisionID   string         `json:"decision_id"`
		Signal       string         `json:"signal"`
		PRNumber     int            `json:"pr_number"`
		PRURL        string         `json:"pr_url"`
		BranchRef    string         `json:"branch_ref"`
		Passed       *bool          `json:"passed"`
		Description  string         `json:"description"`
		Severity     string         `json:"severity"`
		Metrics      map[string]any `json:"metrics"`
		CommitSHA    string         `json:"commit_sha"`
		Message      string         `json:"message"`
		FilesChanged []string       `json:"files_changed"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	var (
		o   model.Outcome
		err error
	)
	switch args.Signal {
	case "pr_created":
		if args.PRNumber == 0 {
			return nil, invalidArgs("pr_created needs pr_number")
		}
		o, err = h.deps.Tracker.RecordPRCreated(ctx, args.DecisionID, args.PRNumber, args.PRURL, args.BranchRef)
	case "pr_merged":
		if args.PRNumber == 0 {
			return nil, invalidArgs("pr_merged needs pr_number")
		}
		o, err = h.deps.Tracker.RecordPRMerged(ctx, args.DecisionID, args.PRNumber)
	case "ci_result":
		if args.Passed == nil {
			return nil, invalidArgs("ci_result needs passed")
		}
		o, err = h.deps.Tracker.RecordCIResult(ctx, args.DecisionID, *args.Passed, args.Description)
	case "incident":
		if args.Description == "" {
			return nil, invalidArgs("incident needs description")
		}
		o, err = h.deps.Tracker.RecordIncident(ctx, args.DecisionID, args.Description, args.Severity)
	case "performance":
		if len(args.Metrics) == 0 {
			return nil, invalidArgs("performance needs metrics")
		}
		o, err = h.deps.Tracker.RecordPerformance(ctx, args.DecisionID, args.Metrics)
	case "commit":
		if args.CommitSHA == "" {
			return nil, invalidArgs("commit needs commit_sha")
		}
		o, err = h.deps.Tracker.RecordCommit(ctx, args.DecisionID, args.CommitSHA, args.Message, args.FilesChanged)
	default:
		return nil, invalidArgs("unknown signal %q", args.Signal)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"outcome": o}, nil
}

func (h *handlers) checkSuccessCriteria(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		DecisionID string `json:"decision_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	report, err := h.deps.Tracker.CheckSuccessCriteria(ctx, args.DecisionID)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (h *handlers) outcomesList(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Status string `json:"status"`
		Limit  int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	outcomes, err := h.deps.Graph.ListOutcomes(ctx, args.Status, args.Limit)
	if err != nil {
		return nil, err
	}
	if outcomes == nil {
		outcomes = []model.Outcome{}
	}
	return map[string]any{"outcomes": outcomes, "count": len(outcomes)}, nil
}

func (h *handlers) getCalibration(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Domain     string   `json:"domain"`
		Confidence *float64 `json:"confidence"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	// Without a claimed confidence the guidance reports the posterior itself:
	// gap and adjustment read zero and the profile numbers carry the answer.
	confidence := defaultConfidence
	if args.Confidence != nil {
		confidence = *args.Confidence
	} else if p, ok, err := h.deps.Calibration.Profile(ctx, args.Domain); err == nil && ok {
		confidence = p.MeanSuccessRate
	}

	guidance, err := h.deps.Calibration.Guidance(ctx, args.Domain, confidence)
	if err != nil {
		return nil, err
	}
	return guidance, nil
}

func (h *handlers) getDecisionContext(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Statement     string   `json:"statement"`
		Module        string   `json:"module"`
		Confidence    *float64 `json:"confidence"`
		MaxTokens     int      `json:"max_tokens"`
		IncludeChains bool     `json:"include_chains"`
		RoleID        string   `json:"role_id"`
		SessionID     string   `json:"session_id"`
		DocShotID     string   `json:"doc_shot_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	confidence := defaultConfidence
	if args.Confidence != nil {
		confidence = *args.Confidence
	}
	maxTokens := args.MaxTokens
	if maxTokens == 0 {
		maxTokens = h.deps.DefaultMaxTokens
	}

	result := h.deps.Context.BuildDecisionContext(ctx, contextmgr.DecisionContextRequest{
		Statement:     args.Statement,
		Module:        args.Module,
		Confidence:    confidence,
		MaxTokens:     maxTokens,
		IncludeChains: args.IncludeChains,
		RoleID:        args.RoleID,
		SessionID:     args.SessionID,
		DocShotID:     args.DocShotID,
	})
	return result, nil
}
