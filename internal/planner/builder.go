// Package planner assembles pre-plan context from past plans and validates
// drafted plan steps against negative knowledge, anti-patterns, past
// failures, and calibration drift.
package planner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"membria/internal/calibration"
	"membria/internal/graph"
	"membria/internal/logging"
	"membria/internal/model"
)

// GraphReader is the slice of the graph layer planning reads.
type GraphReader interface {
	EngramPlanStats(ctx context.Context, domain string, limit int) ([]graph.PlanStats, error)
	RecentDecisionsByDomain(ctx context.Context, domain string, limit int) ([]model.Decision, error)
	ListNegativeKnowledge(ctx context.Context, domain string, limit int) ([]model.NegativeKnowledge, error)
	TopAntiPatterns(ctx context.Context, limit int) ([]model.AntiPattern, error)
	FailedDecisionsByKeyword(ctx context.Context, keyword string, limit int) ([]model.Decision, error)
}

// CalibrationReader answers domain posteriors.
type CalibrationReader interface {
	Profile(ctx context.Context, domain string) (calibration.Profile, bool, error)
}

// ApproachCount is a grouped decision statement with its occurrence count.
type ApproachCount struct {
	Statement   string   `json:"statement"`
	Count       int      `json:"count"`
	DecisionIDs []string `json:"decision_ids,omitempty"`
}

// CalibrationNote is the plan-facing calibration summary.
type CalibrationNote struct {
	Domain          string  `json:"domain"`
	MeanSuccessRate float64 `json:"mean_success_rate"`
	SampleSize      int     `json:"sample_size"`
	Trend           string  `json:"trend"`
	ConfidenceGap   float64 `json:"confidence_gap"`
	Note            string  `json:"note"`
}

// PlanContext is the pre-plan briefing for a domain.
type PlanContext struct {
	Domain             string            `json:"domain"`
	Scope              string            `json:"scope,omitempty"`
	PastPlans          []graph.PlanStats `json:"past_plans"`
	FailedApproaches   []ApproachCount   `json:"failed_approaches"`
	SuccessfulPatterns []ApproachCount   `json:"successful_patterns"`
	Calibration        *CalibrationNote  `json:"calibration,omitempty"`
	Constraints        []string          `json:"constraints,omitempty"`
	Recommendations    []string          `json:"recommendations"`
	GeneratedAt        int64             `json:"generated_at"`
}

// Builder assembles PlanContext values.
type Builder struct {
	graph       GraphReader
	cal         CalibrationReader
	constraints []string
	logger      logging.Logger

	now func() time.Time
}

// NewBuilder wires a plan context builder. constraints are stable
// project-level rules injected from configuration.
func NewBuilder(graphReader GraphReader, cal CalibrationReader, constraints []string, logger logging.Logger) *Builder {
	if logging.IsNil(logger) {
		logger = logging.Nop()
	}
	return &Builder{graph: graphReader, cal: cal, constraints: constraints, logger: logger, now: time.Now}
}

// Build assembles the briefing for one domain. Missing ingredients degrade to
// empty sections rather than failing the whole briefing.
func (b *Builder) Build(ctx context.Context, domain, scope string) (PlanContext, error) {
	pc := PlanContext{
		Domain:      domain,
		Scope:       scope,
		Constraints: b.constraints,
		GeneratedAt: b.now().Unix(),
	}

	plans, err := b.graph.EngramPlanStats(ctx, domain, 10)
	if err != nil {
		b.logger.Warn("plan stats for %s unavailable: %v", domain, err)
	} else {
		pc.PastPlans = plans
	}

	decisions, err := b.graph.RecentDecisionsByDomain(ctx, domain, 200)
	if err != nil {
		return PlanContext{}, fmt.Errorf("load domain decisions: %w", err)
	}
	pc.FailedApproaches = groupByStatement(decisions, "failure", 5)
	pc.SuccessfulPatterns = groupByStatement(decisions, "success", 5)

	note, err := b.calibrationNote(ctx, domain, decisions)
	if err != nil {
		b.logger.Warn("calibration note for %s unavailable: %v", domain, err)
	} else {
		pc.Calibration = note
	}

	pc.Recommendations = recommend(pc)
	return pc, nil
}

// calibrationNote compares the average claimed confidence of resolved domain
// decisions against the observed posterior mean.
func (b *Builder) calibrationNote(ctx context.Context, domain string, decisions []model.Decision) (*CalibrationNote, error) {
	profile, ok, err := b.cal.Profile(ctx, domain)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var claimed float64
	var n int
	for _, d := range decisions {
		switch d.Outcome {
		case "success", "failure", "partial":
			claimed += d.Confidence
			n++
		}
	}
	gap := 0.0
	if n > 0 {
		gap = claimed/float64(n) - profile.MeanSuccessRate
	}

	note := &CalibrationNote{
		Domain:          profile.Domain,
		MeanSuccessRate: profile.MeanSuccessRate,
		SampleSize:      profile.SampleSize,
		Trend:           profile.Trend,
		ConfidenceGap:   gap,
	}
	switch {
	case gap > 0.15:
		note.Note = fmt.Sprintf("Team estimates in %s run %.0f%% hot against observed outcomes.", domain, gap*100)
	case gap < -0.15:
		note.Note = fmt.Sprintf("Team estimates in %s run %.0f%% cold against observed outcomes.", domain, -gap*100)
	default:
		note.Note = fmt.Sprintf("Estimates in %s track observed outcomes.", domain)
	}
	return note, nil
}

func groupByStatement(decisions []model.Decision, outcome string, top int) []ApproachCount {
	groups := make(map[string]*ApproachCount)
	for _, d := range decisions {
		if d.Outcome != outcome {
			continue
		}
		key := normalize(d.Statement)
		if key == "" {
			continue
		}
		grp, ok := groups[key]
		if !ok {
			grp = &ApproachCount{Statement: key}
			groups[key] = grp
		}
		grp.Count++
		grp.DecisionIDs = append(grp.DecisionIDs, d.ID)
	}

	out := make([]ApproachCount, 0, len(groups))
	for _, grp := range groups {
		out = append(out, *grp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Statement < out[j].Statement
	})
	if len(out) > top {
		out = out[:top]
	}
	return out
}

func recommend(pc PlanContext) []string {
	var recs []string
	if pc.Calibration != nil && pc.Calibration.ConfidenceGap > 0.1 {
		recs = append(recs, fmt.Sprintf("Pad effort estimates by %.0f%%; stated confidence has been running ahead of results.", pc.Calibration.ConfidenceGap*100))
	}
	if pc.Calibration != nil && pc.Calibration.Trend == calibration.TrendDeclining {
		recs = append(recs, "Recent outcomes are declining; prefer smaller, reversible steps.")
	}
	if len(pc.FailedApproaches) > 0 {
		recs = append(recs, fmt.Sprintf("Avoid the repeat failure %q (%d occurrences).", pc.FailedApproaches[0].Statement, pc.FailedApproaches[0].Count))
	}
	if len(pc.SuccessfulPatterns) > 0 {
		recs = append(recs, fmt.Sprintf("Lean on the proven approach %q.", pc.SuccessfulPatterns[0].Statement))
	}
	return recs
}
