package graph

import (
	"context"
	"fmt"

	"membria/internal/model"
)

// TTL sweeps soft-delete expired records in one bounded write per label.
// Rows stay in the graph for audit; readers filter on is_active.

// sweepOriginTS names the property the TTL countdown starts from.
var sweepOriginTS = map[string]string{
	model.LabelDecision:          "created_at",
	model.LabelOutcome:           "created_at",
	model.LabelNegativeKnowledge: "discovered_at",
	model.LabelSkill:             "created_at",
	model.LabelSessionContext:    "created_at",
}

func (s *Store) deactivateExpired(ctx context.Context, label string, nowTS int64) (int, error) {
	origin, ok := sweepOriginTS[label]
	if !ok {
		return 0, fmt.Errorf("%w: label %q has no TTL sweep", ErrSerializationFailed, label)
	}
	p := s.params()
	p["now"] = nowTS

	query := fmt.Sprintf(`MATCH (n:%s) WHERE %s
		AND (n.is_active IS NULL OR n.is_active = true)
		AND n.ttl_days IS NOT NULL
		AND n.%s + n.ttl_days * 86400 < $now
		SET n.is_active = false, n.deprecated_reason = "ttl_expired"
		RETURN count(n) AS deactivated`, label, nsFilter("n"), origin)

	rs, err := s.client.Query(ctx, query, p)
	if err != nil {
		return 0, err
	}
	if rs.Empty() {
		return 0, nil
	}
	return int(rs.First().Int("deactivated")), nil
}

// DeactivateExpiredDecisions retires decisions past their TTL.
func (s *Store) DeactivateExpiredDecisions(ctx context.Context, nowTS int64) (int, error) {
	return s.deactivateExpired(ctx, model.LabelDecision, nowTS)
}

// DeactivateExpiredOutcomes retires outcomes past their TTL.
func (s *Store) DeactivateExpiredOutcomes(ctx context.Context, nowTS int64) (int, error) {
	return s.deactivateExpired(ctx, model.LabelOutcome, nowTS)
}

// DeactivateExpiredNegativeKnowledge retires NK entries past their TTL.
func (s *Store) DeactivateExpiredNegativeKnowledge(ctx context.Context, nowTS int64) (int, error) {
	return s.deactivateExpired(ctx, model.LabelNegativeKnowledge, nowTS)
}

// DeactivateExpiredSkills retires skills past their TTL.
func (s *Store) DeactivateExpiredSkills(ctx context.Context, nowTS int64) (int, error) {
	return s.deactivateExpired(ctx, model.LabelSkill, nowTS)
}

// DeactivateExpiredSessionContexts retires session working memory past its TTL.
func (s *Store) DeactivateExpiredSessionContexts(ctx context.Context, nowTS int64) (int, error) {
	return s.deactivateExpired(ctx, model.LabelSessionContext, nowTS)
}

// SweepCounts aggregates one full sweep pass.
type SweepCounts struct {
	Decisions         int `json:"decisions"`
	Outcomes          int `json:"outcomes"`
	NegativeKnowledge int `json:"negative_knowledge"`
	Skills            int `json:"skills"`
	SessionContexts   int `json:"session_contexts"`
}

// Total sums all deactivations in the pass.
func (c SweepCounts) Total() int {
	return c.Decisions + c.Outcomes + c.NegativeKnowledge + c.Skills + c.SessionContexts
}

// SweepAll runs every TTL sweep once. Sweeps are independent; one failing
// label does not stop the rest, and the first error is reported after all
// labels ran.
func (s *Store) SweepAll(ctx context.Context, nowTS int64) (SweepCounts, error) {
	var counts SweepCounts
	var firstErr error

	run := func(label string, dst *int) {
		n, err := s.deactivateExpired(ctx, label, nowTS)
		if err != nil {
			s.logger.Warn("ttl sweep for %s failed: %v", label, err)
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		*dst = n
		s.client.metrics.RecordSweep(ctx, label, int64(n))
	}

	run(model.LabelDecision, &counts.Decisions)
	run(model.LabelOutcome, &counts.Outcomes)
	run(model.LabelNegativeKnowledge, &counts.NegativeKnowledge)
	run(model.LabelSkill, &counts.Skills)
	run(model.LabelSessionContext, &counts.SessionContexts)

	return counts, firstErr
}
