package contextmgr

import (
	"context"

	"membria/internal/planner"
)

// BuildPlanContext renders a precomputed plan briefing within the token
// budget. The calibration warning leads, then failed approaches, successful
// patterns, recommendations, constraints, and an optional DocShot reference.
func (m *Manager) BuildPlanContext(ctx context.Context, pc planner.PlanContext, maxTokens int, docShotID string) Result {
	b := newBudget(maxTokens, m.metrics)

	b.add(SectionCalibration, renderPlanCalibration(pc.Calibration))
	b.add(SectionFailedApproaches, renderApproaches("Failed Approaches", pc.FailedApproaches))
	b.add(SectionSuccessPatterns, renderApproaches("Successful Patterns", pc.SuccessfulPatterns))
	b.add(SectionRecommendations, renderList("Recommendations", pc.Recommendations))
	b.add(SectionConstraints, renderList("Constraints", pc.Constraints))

	if docShotID != "" {
		b.add(SectionDocShot, m.renderDocShot(ctx, docShotID))
	}

	return b.result()
}
